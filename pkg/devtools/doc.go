// Package devtools serves an HTTP inspector for a running scheduler.
//
// Routes:
//
//	GET  /           surface HTML (optionally ?selector=css)
//	GET  /templates  registered template names and the parse count
//	GET  /tree       unit hierarchy (?format=json for structured output)
//	POST /state      replace a root unit's state and wait for the commit
//	GET  /metrics    Prometheus exposition
//	GET  /ws         websocket stream of surface mutations
//
// Handlers that read scheduler state run on the loop goroutine through
// Scheduler.Do, so the scheduler's Run loop must be running.
package devtools
