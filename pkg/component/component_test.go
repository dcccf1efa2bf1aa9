package component

import (
	"context"
	"testing"

	"github.com/vango-dev/weft/pkg/surface"
	"github.com/vango-dev/weft/pkg/template"
	"github.com/vango-dev/weft/pkg/vdom"
)

func TestTransitions(t *testing.T) {
	inst := New(&Definition{Name: "A"}, nil, "", nil, nil)
	if inst.Status() != StatusNew {
		t.Fatalf("status = %s", inst.Status())
	}
	for _, to := range []Status{StatusSettingUp, StatusReady, StatusMounted} {
		if err := inst.Transition(to); err != nil {
			t.Fatalf("-> %s: %v", to, err)
		}
	}
	if err := inst.Transition(StatusReady); err == nil {
		t.Error("moving backwards succeeded")
	}
	if err := inst.Transition(StatusDestroyed); err != nil {
		t.Fatal(err)
	}
	if err := inst.Transition(StatusDestroyed); err == nil {
		t.Error("destroying twice succeeded")
	}
}

func TestRenderReadsStateThenProps(t *testing.T) {
	def := &Definition{
		Name:     "Greeting",
		Template: `<p><t-esc greeting/>, <t-esc name/> (<t-esc props.name/>)</p>`,
		Setup: func(_ context.Context, props map[string]any, _ Env) (any, error) {
			return map[string]any{"greeting": "Hello"}, nil
		},
	}
	inst := New(def, nil, "", map[string]any{"name": "Ada"}, nil)
	if _, err := inst.Render(nil); err == nil {
		t.Error("rendering an unbound instance succeeded")
	}
	if err := inst.Bind(template.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	state, err := inst.Setup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Ready(state, nil); err != nil {
		t.Fatal(err)
	}
	root, err := inst.Render(nil)
	if err != nil {
		t.Fatal(err)
	}
	doc := surface.New()
	if err := vdom.Mount(doc.Target(doc.Body()), root); err != nil {
		t.Fatal(err)
	}
	if got := doc.HTML(doc.Body()); got != "<p>Hello, Ada (Ada)</p>" {
		t.Errorf("HTML = %q", got)
	}
}

func TestNamedTemplate(t *testing.T) {
	reg := template.NewRegistry()
	if err := reg.Add("item", `<li><t-esc label/></li>`); err != nil {
		t.Fatal(err)
	}
	inst := New(&Definition{Name: "Item", Template: "item"}, nil, "", nil, nil)
	if err := inst.Bind(reg); err != nil {
		t.Fatal(err)
	}
	missing := New(&Definition{Name: "X", Template: "nope"}, nil, "", nil, nil)
	if err := missing.Bind(reg); err == nil {
		t.Error("binding an unknown template succeeded")
	}
}

func TestStoreNotifiesAndDisposeUnsubscribes(t *testing.T) {
	store := NewStore(map[string]any{"n": 1})
	inst := New(&Definition{Name: "A"}, nil, "", nil, nil)
	calls := 0
	if err := inst.Ready(store, func() { calls++ }); err != nil {
		t.Fatal(err)
	}
	store.Set("n", 2)
	store.Update(func(v map[string]any) { v["m"] = 3 })
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if v, _ := inst.Lookup("n"); v != 2 {
		t.Errorf("n = %v", v)
	}

	inst.Dispose()
	store.Set("n", 4)
	if calls != 2 {
		t.Errorf("calls after Dispose = %d, want 2", calls)
	}
	if inst.Status() != StatusDestroyed {
		t.Errorf("status = %s", inst.Status())
	}
}

func TestDisposeDetachesFromParent(t *testing.T) {
	parent := New(&Definition{Name: "P"}, nil, "", nil, Env{"theme": "dark"})
	child := New(&Definition{Name: "C"}, parent, "C#0", nil, nil)
	parent.Children = map[string]*Instance{child.Key: child}
	if child.Env["theme"] != "dark" {
		t.Error("env not inherited")
	}
	child.Dispose()
	if len(parent.Children) != 0 {
		t.Errorf("children = %v", parent.ChildKeys())
	}
}

func TestMarkDirtyCoalesces(t *testing.T) {
	inst := New(&Definition{Name: "A"}, nil, "", nil, nil)
	if !inst.MarkDirty() {
		t.Fatal("first MarkDirty = false")
	}
	if inst.MarkDirty() {
		t.Error("second MarkDirty = true")
	}
	inst.ClearDirty()
	if inst.IsDirty() {
		t.Error("still dirty")
	}
}
