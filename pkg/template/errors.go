package template

import "fmt"

// SyntaxError reports malformed markup or a misused directive. It is raised
// at compile time and is fatal to the template.
type SyntaxError struct {
	Template  string // template name, empty for anonymous sources
	Line      int
	Construct string // offending tag or directive
	Msg       string
	Err       error
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	name := e.Template
	if name == "" {
		name = "<anonymous>"
	}
	loc := ""
	if e.Line > 0 {
		loc = fmt.Sprintf(":%d", e.Line)
	}
	if e.Construct != "" {
		return fmt.Sprintf("template %s%s: %s: %s", name, loc, e.Construct, e.Msg)
	}
	return fmt.Sprintf("template %s%s: %s", name, loc, e.Msg)
}

// Unwrap returns the underlying parse error, if any.
func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the registered error code.
func (e *SyntaxError) ErrorCode() string {
	return "W101"
}

// NotFoundError reports a t-call to a template that is not registered.
type NotFoundError struct {
	Name string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}

// ErrorCode returns the registered error code.
func (e *NotFoundError) ErrorCode() string {
	return "W102"
}
