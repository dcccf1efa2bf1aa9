// Package vtest provides testing helpers for weft components.
//
// A Harness mounts one component on a fresh document with its own
// scheduler and template registry, and drives the scheduler until every
// requested render has committed.
//
// # Quick Start
//
//	func TestCounter(t *testing.T) {
//	    store := component.NewStore(map[string]any{"n": 1})
//	    h := vtest.Mount(t, counter, nil, vtest.WithStore(store))
//	    h.ExpectContains("<b>1</b>")
//
//	    store.Set("n", 2)
//	    h.Flush()
//	    h.ExpectContains("<b>2</b>")
//	}
//
// # Events
//
// Dispatch delivers an event to the first node matching a CSS selector
// and then flushes pending renders:
//
//	h.Dispatch("button.inc", "click", nil)
//	h.ExpectElement("li")
package vtest
