package component

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/vango-dev/weft/pkg/template"
	"github.com/vango-dev/weft/pkg/vdom"
)

// Status is the lifecycle stage of an instance.
type Status uint8

const (
	StatusNew       Status = iota // created, setup not started
	StatusSettingUp               // setup running
	StatusReady                   // state available, never committed
	StatusMounted                 // committed to the surface
	StatusDestroyed               // removed or failed
)

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusSettingUp:
		return "setting-up"
	case StatusReady:
		return "ready"
	case StatusMounted:
		return "mounted"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Instance is a mounted render unit: a definition, the data needed to
// re-run its template, and its place in the unit tree.
//
// An Instance is owned by the scheduler loop; only MarkDirty may be called
// from other goroutines.
type Instance struct {
	// ID is unique per process.
	ID uint64

	// Def is the component definition.
	Def *Definition

	// Key identifies the instance among its parent's children. It is also
	// the key of the Root nodes the instance renders.
	Key string

	// Parent is the parent instance (nil for a root).
	Parent *Instance

	// Children are the committed child instances by key.
	Children map[string]*Instance

	Props map[string]any
	Env   Env
	State any

	// Committed is the last Root node committed to the surface.
	Committed *vdom.Node

	// Fiber is the scheduler's in-flight fiber for this unit (0 if none).
	Fiber uint64

	// Err is the setup failure, if any.
	Err error

	status  Status
	routine template.Routine
	unsub   func()
	dirty   atomic.Bool
}

var instanceIDCounter atomic.Uint64

// New creates an instance in StatusNew.
func New(def *Definition, parent *Instance, key string, props map[string]any, env Env) *Instance {
	if props == nil {
		props = make(map[string]any)
	}
	if env == nil && parent != nil {
		env = parent.Env
	}
	return &Instance{
		ID:     instanceIDCounter.Add(1),
		Def:    def,
		Key:    key,
		Parent: parent,
		Props:  props,
		Env:    env,
	}
}

// Name returns the definition name.
func (i *Instance) Name() string {
	if i.Def == nil {
		return "<nil>"
	}
	return i.Def.Name
}

// String returns "Name#ID".
func (i *Instance) String() string {
	return fmt.Sprintf("%s#%d", i.Name(), i.ID)
}

// Status returns the lifecycle stage.
func (i *Instance) Status() Status {
	return i.status
}

// Transition moves the instance to status to. Stages only move forward;
// any stage may move to StatusDestroyed.
func (i *Instance) Transition(to Status) error {
	if i.status == StatusDestroyed {
		return fmt.Errorf("component %s: already destroyed", i)
	}
	if to != StatusDestroyed && to <= i.status {
		return fmt.Errorf("component %s: invalid transition %s -> %s", i, i.status, to)
	}
	i.status = to
	return nil
}

// Setup runs the definition's Setup, if any. It does not touch the
// instance and may be called from any goroutine; pass the result to Ready.
func (i *Instance) Setup(ctx context.Context) (any, error) {
	if i.Def.Setup == nil {
		return nil, nil
	}
	return i.Def.Setup(ctx, i.Props, i.Env)
}

// Ready stores the state returned by Setup, wires a Subscribable state to
// notify and moves the instance to StatusReady.
func (i *Instance) Ready(state any, notify func()) error {
	if err := i.Transition(StatusReady); err != nil {
		return err
	}
	i.State = state
	if sub, ok := state.(Subscribable); ok && notify != nil {
		i.unsub = sub.Subscribe(notify)
	}
	return nil
}

// Bind resolves the instance's render routine.
func (i *Instance) Bind(reg *template.Registry) error {
	if i.routine != nil {
		return nil
	}
	r, err := i.Def.Routine(reg)
	if err != nil {
		return err
	}
	i.routine = r
	return nil
}

// Render runs the template against the instance. Placeholders are resolved
// through host.
func (i *Instance) Render(host template.Host) (*vdom.Node, error) {
	if i.routine == nil {
		return nil, fmt.Errorf("component %s: not bound to a template", i)
	}
	if i.status != StatusReady && i.status != StatusMounted {
		return nil, fmt.Errorf("component %s: cannot render in status %s", i, i.status)
	}
	return i.routine(&template.Context{Scope: template.NewScope(i), Host: host})
}

// Lookup resolves template identifiers: "props" and "env" name the
// instance's props and environment; other names resolve against the state,
// then the props.
func (i *Instance) Lookup(name string) (any, bool) {
	switch name {
	case "props":
		return i.Props, true
	case "env":
		return i.Env, true
	}
	if i.State != nil {
		if v, ok := template.NewScope(i.State).Lookup(name); ok {
			return v, true
		}
	}
	v, ok := i.Props[name]
	return v, ok
}

// MarkDirty flags the instance for re-render. It reports whether the flag
// was newly set, so callers can coalesce notifications.
func (i *Instance) MarkDirty() bool {
	return i.dirty.CompareAndSwap(false, true)
}

// IsDirty returns whether the instance is flagged for re-render.
func (i *Instance) IsDirty() bool {
	return i.dirty.Load()
}

// ClearDirty clears the dirty flag.
func (i *Instance) ClearDirty() {
	i.dirty.Store(false)
}

// ChildKeys returns the keys of the committed children, sorted.
func (i *Instance) ChildKeys() []string {
	keys := make([]string, 0, len(i.Children))
	for k := range i.Children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Call invokes hook h with the instance if it is set.
func (i *Instance) Call(h Hook) {
	if h != nil {
		h(i)
	}
}

// Dispose unsubscribes from the state, drops the instance from its parent
// and marks it destroyed. Children are not visited; the scheduler destroys
// them first so their hooks run before the parent's.
func (i *Instance) Dispose() {
	if i.unsub != nil {
		i.unsub()
		i.unsub = nil
	}
	if i.Parent != nil && i.Parent.Children[i.Key] == i {
		delete(i.Parent.Children, i.Key)
	}
	i.status = StatusDestroyed
	i.Fiber = 0
	i.routine = nil
}
