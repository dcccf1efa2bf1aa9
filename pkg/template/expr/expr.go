// Package expr compiles the small expression language used by template
// directives: literals, identifiers resolved against a scope, member and
// index access, arithmetic, comparison, logical and ternary operators.
package expr

import (
	"fmt"
	"sort"
)

// Resolver resolves free identifiers.
type Resolver interface {
	Lookup(name string) (any, bool)
}

// MapResolver resolves identifiers from a map.
type MapResolver map[string]any

// Lookup implements Resolver.
func (m MapResolver) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

// Expr is a compiled expression.
type Expr struct {
	src  string
	eval evalFn
	refs []string
}

// Compile parses src once into an evaluable expression.
func Compile(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks, refs: make(map[string]bool)}
	if p.peek().kind == tokEOF {
		return nil, &ParseError{Expr: src, Pos: 0, Msg: "empty expression"}
	}
	fn, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf("unexpected %s", t)
	}
	refs := make([]string, 0, len(p.refs))
	for name := range p.refs {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	return &Expr{src: src, eval: fn, refs: refs}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expr) String() string {
	return e.src
}

// Refs returns the free identifiers the expression reads, sorted.
func (e *Expr) Refs() []string {
	return e.refs
}

// Eval evaluates the expression. Failures are returned as *EvalError.
func (e *Expr) Eval(r Resolver) (any, error) {
	v, err := e.eval(r)
	if err != nil {
		return nil, &EvalError{Expr: e.src, Err: err}
	}
	return v, nil
}

// EvalError reports an expression that failed against a given scope.
type EvalError struct {
	Expr string
	Err  error
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expr, e.Err)
}

// Unwrap returns the underlying failure.
func (e *EvalError) Unwrap() error {
	return e.Err
}

// ErrorCode returns the registered error code.
func (e *EvalError) ErrorCode() string {
	return "W103"
}
