// Package template compiles XML markup templates into render routines that
// produce vdom trees.
//
// Compilation runs in three passes. The markup is read into a raw element
// tree, directives (t-if, t-foreach, t-set, t-esc, t-raw, t-call, t-att-*,
// t-attf-*, t-on-*, t-key) are interpreted into an AST, element subtrees
// without any dynamic part are hoisted into a fragment pool, and the
// remaining AST is turned into a list of closures. Rendering runs those
// closures against a Scope chain:
//
//	reg := template.NewRegistry()
//	render, err := reg.Compile(`<div>Hello <t-esc name/></div>`)
//	root, err := render(template.NewContext(map[string]any{"name": "Alex"}, nil))
//
// Tags starting with an upper-case letter are component placeholders and are
// resolved through the Context's Host.
package template

// Default is the process-wide registry used by Compile.
var Default = NewRegistry()

// Compile compiles source with the Default registry.
func Compile(source string) (Routine, error) {
	return Default.Compile(source)
}
