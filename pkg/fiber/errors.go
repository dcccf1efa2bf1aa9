package fiber

import "fmt"

// RenderError reports a failure inside a unit's setup or render routine,
// or while committing its root. It rejects the root's future; the surface
// is left as it was before the render was requested.
type RenderError struct {
	Unit  string  // unit name and id, e.g. "Counter#3"
	Fiber FiberID // fiber that captured the error
	Phase string  // "setup", "render" or "commit"
	Err   error
}

// Error implements the error interface.
func (e *RenderError) Error() string {
	return fmt.Sprintf("%s %s (fiber %d): %v", e.Phase, e.Unit, e.Fiber, e.Err)
}

// Unwrap returns the underlying failure.
func (e *RenderError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the registered error code.
func (e *RenderError) ErrorCode() string {
	return "W301"
}
