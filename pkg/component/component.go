// Package component defines render units: the authoring contract
// (Definition) and the mounted instance the scheduler drives.
package component

import (
	"context"
	"fmt"
	"strings"

	"github.com/vango-dev/weft/pkg/template"
)

// Env is the environment shared by a unit and its descendants.
type Env map[string]any

// SetupFunc prepares a unit's state from its props and environment. The
// returned state is what the template reads; a state implementing
// Subscribable re-renders the unit whenever it changes.
type SetupFunc func(ctx context.Context, props map[string]any, env Env) (any, error)

// Hook is a lifecycle callback.
type Hook func(*Instance)

// Definition describes a component.
type Definition struct {
	// Name identifies the component in logs, errors and placeholders.
	Name string

	// Template is either a template name registered with the scheduler's
	// registry or inline markup (anything starting with "<").
	Template string

	// Setup runs once before the first render. Optional.
	Setup SetupFunc

	// Async runs Setup on its own goroutine; the unit's first render waits
	// for it without blocking the scheduler loop.
	Async bool

	// Components resolves placeholders in this component's template.
	Components map[string]*Definition

	Mounted   Hook
	WillPatch Hook
	Patched   Hook
	Destroyed Hook
}

// Routine returns the render routine for the definition's template.
func (d *Definition) Routine(reg *template.Registry) (template.Routine, error) {
	if d.Template == "" {
		return nil, fmt.Errorf("component %s: no template", d.Name)
	}
	if strings.HasPrefix(strings.TrimSpace(d.Template), "<") {
		return reg.Compile(d.Template)
	}
	return reg.Get(d.Template)
}

// Component returns the definition registered for a placeholder tag.
func (d *Definition) Component(name string) (*Definition, bool) {
	def, ok := d.Components[name]
	return def, ok
}

// Subscribable is an opaque source of change notifications. Subscribe
// registers fn to be called after each change and returns a function that
// unregisters it.
type Subscribable interface {
	Subscribe(fn func()) (cancel func())
}
