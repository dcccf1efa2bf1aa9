// Package errors provides structured, actionable error messages for the
// weft command-line tools.
//
// Every typed error in the engine exposes an ErrorCode method
// (template.SyntaxError is W101, fiber.RenderError is W301, and so on).
// FromError looks the code up in the registry and attaches the category,
// explanation and, for template errors, the source location:
//
//	err := errors.FromError(compileErr).WithLocation("templates/card.xml", 12, 0)
//	fmt.Fprint(os.Stderr, err.Format())
//	// Output:
//	// ERROR W101: Template syntax error
//	//
//	//   templates/card.xml:12
//	//
//	//       11 │ <div>
//	//   →   12 │   <t t-foreach="items">
//	//       13 │ </div>
//	//
//	//   template card:12: t-foreach: missing t-as
//	//
//	//   Hint: Check the directive on the highlighted line
//
// # Error Codes
//
//   - W1xx: template compilation and expression evaluation
//   - W2xx: reconciliation
//   - W3xx: rendering and scheduling
//   - W4xx: configuration
//   - W5xx: command line
package errors
