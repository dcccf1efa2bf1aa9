package vdom

import "fmt"

// ReconciliationError reports a tree the engine cannot mount or patch. It
// indicates an engine or template defect; the surface may need rebuilding.
type ReconciliationError struct {
	Op     string // "mount", "reconcile" or "remove"
	Reason string
	Node   *Node
}

// Error implements the error interface.
func (e *ReconciliationError) Error() string {
	if e.Node != nil {
		return fmt.Sprintf("vdom: %s %s: %s", e.Op, e.Node.Kind, e.Reason)
	}
	return fmt.Sprintf("vdom: %s: %s", e.Op, e.Reason)
}

// ErrorCode returns the registered error code.
func (e *ReconciliationError) ErrorCode() string {
	return "W201"
}

func mountErr(n *Node, format string, args ...any) error {
	return &ReconciliationError{Op: "mount", Node: n, Reason: fmt.Sprintf(format, args...)}
}

func patchErr(n *Node, format string, args ...any) error {
	return &ReconciliationError{Op: "reconcile", Node: n, Reason: fmt.Sprintf(format, args...)}
}
