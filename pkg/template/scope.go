package template

import (
	"github.com/vango-dev/weft/pkg/template/expr"
)

// Scope is a layer of template variables. Names not bound in a layer are
// looked up in its parent; the outermost layer resolves against the render
// unit's state.
type Scope struct {
	parent *Scope
	vars   map[string]any
	state  any
}

// NewScope returns an outermost scope over state. State may be an
// expr.Resolver, a map[string]any or any struct (or pointer to one); struct
// fields and methods are visible by their own name or with a lower-case
// first letter.
func NewScope(state any) *Scope {
	return &Scope{state: state}
}

// Child returns a new layer delegating to s.
func (s *Scope) Child() *Scope {
	return &Scope{parent: s}
}

// Set binds name in this layer only.
func (s *Scope) Set(name string, v any) {
	if s.vars == nil {
		s.vars = make(map[string]any)
	}
	s.vars[name] = v
}

// Lookup implements expr.Resolver.
func (s *Scope) Lookup(name string) (any, bool) {
	for l := s; l != nil; l = l.parent {
		if v, ok := l.vars[name]; ok {
			return v, true
		}
		if l.state != nil {
			return lookupState(l.state, name)
		}
	}
	return nil, false
}

// State returns the state of the outermost layer.
func (s *Scope) State() any {
	for l := s; l != nil; l = l.parent {
		if l.state != nil {
			return l.state
		}
	}
	return nil
}

func lookupState(state any, name string) (any, bool) {
	switch st := state.(type) {
	case expr.Resolver:
		return st.Lookup(name)
	case map[string]any:
		v, ok := st[name]
		return v, ok
	}
	v, err := expr.Member(state, name)
	if err != nil || v == nil {
		return nil, false
	}
	return v, true
}
