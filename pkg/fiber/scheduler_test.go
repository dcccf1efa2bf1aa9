package fiber

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/surface"
	"github.com/vango-dev/weft/pkg/template"
)

func newScheduler(t *testing.T, opts ...Option) (*Scheduler, *surface.Document) {
	t.Helper()
	doc := surface.New()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(doc, template.NewRegistry(), opts...), doc
}

func await(t *testing.T, s *Scheduler, fut *Future) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Await(ctx, fut); err != nil {
		t.Fatalf("await: %v", err)
	}
}

func awaitErr(t *testing.T, s *Scheduler, fut *Future) *RenderError {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Await(ctx, fut)
	var rerr *RenderError
	if !errors.As(err, &rerr) {
		t.Fatalf("await error = %v, want *RenderError", err)
	}
	return rerr
}

func stateOf(state map[string]any) component.SetupFunc {
	return func(context.Context, map[string]any, component.Env) (any, error) {
		return state, nil
	}
}

// hookLog records lifecycle hooks as "event key", using the name for
// root units.
type hookLog struct {
	events []string
}

func (l *hookLog) hook(event string) component.Hook {
	return func(u *component.Instance) {
		id := u.Key
		if id == "" {
			id = u.Name()
		}
		l.events = append(l.events, event+" "+id)
	}
}

func (l *hookLog) take() []string {
	ev := l.events
	l.events = nil
	return ev
}

func (l *hookLog) attach(def *component.Definition) *component.Definition {
	def.Mounted = l.hook("mounted")
	def.WillPatch = l.hook("willPatch")
	def.Patched = l.hook("patched")
	def.Destroyed = l.hook("destroyed")
	return def
}

func listDefs(log *hookLog, items ...string) (*component.Definition, map[string]any) {
	state := map[string]any{"items": items}
	item := log.attach(&component.Definition{
		Name:     "Item",
		Template: `<li><t-esc props.label/></li>`,
	})
	list := log.attach(&component.Definition{
		Name:       "List",
		Template:   `<ul><Item t-foreach="items" t-as="i" t-key="i" label="i"/></ul>`,
		Setup:      stateOf(state),
		Components: map[string]*component.Definition{"Item": item},
	})
	return list, state
}

func TestMountAndUpdate(t *testing.T) {
	s, doc := newScheduler(t)
	state := map[string]any{"name": "Alex"}
	mounted := 0
	def := &component.Definition{
		Name:     "Hello",
		Template: `<p>Hello <t-esc name/></p>`,
		Setup:    stateOf(state),
		Mounted:  func(*component.Instance) { mounted++ },
	}

	u, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	await(t, s, fut)
	if got := doc.HTML(doc.Body()); got != "<p>Hello Alex</p>" {
		t.Fatalf("HTML = %q", got)
	}
	if mounted != 1 || u.Status() != component.StatusMounted {
		t.Fatalf("mounted = %d, status = %s", mounted, u.Status())
	}
	p := doc.Body().FirstChild

	state["name"] = "Lyra"
	await(t, s, s.RequestRender(u))
	if got := doc.HTML(doc.Body()); got != "<p>Hello Lyra</p>" {
		t.Errorf("HTML = %q", got)
	}
	if doc.Body().FirstChild != p {
		t.Error("<p> was recreated")
	}
	if mounted != 1 {
		t.Errorf("mounted fired %d times", mounted)
	}
	if s.Pending() != 0 {
		t.Errorf("pending = %d", s.Pending())
	}
}

func TestAtMostOnePendingRender(t *testing.T) {
	s, doc := newScheduler(t)
	state := map[string]any{"name": "A"}
	patched := 0
	def := &component.Definition{
		Name:     "Name",
		Template: `<b><t-esc name/></b>`,
		Setup:    stateOf(state),
		Patched:  func(*component.Instance) { patched++ },
	}
	u, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	await(t, s, fut)

	state["name"] = "B"
	f1 := s.RequestRender(u)
	state["name"] = "C"
	f2 := s.RequestRender(u)
	if f1 != f2 {
		t.Error("second request did not share the pending future")
	}
	if s.Pending() != 1 {
		t.Errorf("pending = %d, want 1", s.Pending())
	}
	await(t, s, f2)
	if patched != 1 {
		t.Errorf("patched = %d, want 1", patched)
	}
	if got := doc.HTML(doc.Body()); got != "<b>C</b>" {
		t.Errorf("HTML = %q", got)
	}
}

func TestHookOrder(t *testing.T) {
	s, doc := newScheduler(t)
	log := &hookLog{}
	list, state := listDefs(log, "a", "b")

	u, fut := s.Mount(list, doc.Target(doc.Body()), nil)
	await(t, s, fut)
	if got := doc.HTML(doc.Body()); got != "<ul><li>a</li><li>b</li></ul>" {
		t.Fatalf("HTML = %q", got)
	}
	want := []string{"mounted Item:b", "mounted Item:a", "mounted List"}
	if diff := cmp.Diff(want, log.take()); diff != "" {
		t.Errorf("mount hooks (-want +got):\n%s", diff)
	}

	state["items"] = []string{"b"}
	await(t, s, s.RequestRender(u))
	if got := doc.HTML(doc.Body()); got != "<ul><li>b</li></ul>" {
		t.Errorf("HTML = %q", got)
	}
	want = []string{
		"willPatch List",
		"willPatch Item:b",
		"destroyed Item:a",
		"patched Item:b",
		"patched List",
	}
	if diff := cmp.Diff(want, log.take()); diff != "" {
		t.Errorf("update hooks (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Item:b"}, u.ChildKeys()); diff != "" {
		t.Errorf("children (-want +got):\n%s", diff)
	}
}

func TestKeyedChildrenKeepIdentity(t *testing.T) {
	s, doc := newScheduler(t)
	list, state := listDefs(&hookLog{}, "a", "b")
	u, fut := s.Mount(list, doc.Target(doc.Body()), nil)
	await(t, s, fut)

	a := u.Children["Item:a"]
	li, _ := doc.Query("li")
	state["items"] = []string{"b", "a"}
	await(t, s, s.RequestRender(u))

	if got := doc.HTML(doc.Body()); got != "<ul><li>b</li><li>a</li></ul>" {
		t.Errorf("HTML = %q", got)
	}
	if u.Children["Item:a"] != a {
		t.Error("unit for key a was replaced")
	}
	moved, _ := doc.Query("li")
	if moved[1] != li[0] {
		t.Error("<li> for a was recreated")
	}
}

func TestAsyncSetup(t *testing.T) {
	s, doc := newScheduler(t)
	release := make(chan struct{})
	slow := &component.Definition{
		Name:     "Slow",
		Async:    true,
		Template: `<em><t-esc msg/></em>`,
		Setup: func(ctx context.Context, _ map[string]any, _ component.Env) (any, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]any{"msg": "ready"}, nil
		},
	}
	app := &component.Definition{
		Name:       "App",
		Template:   `<div><Slow/></div>`,
		Components: map[string]*component.Definition{"Slow": slow},
	}

	_, fut := s.Mount(app, doc.Target(doc.Body()), nil)
	s.Tick()
	if fut.Resolved() {
		t.Fatal("root committed before the child finished setup")
	}
	if got := doc.HTML(doc.Body()); got != "" {
		t.Fatalf("surface touched early: %q", got)
	}
	close(release)
	await(t, s, fut)
	if got := doc.HTML(doc.Body()); got != "<div><em>ready</em></div>" {
		t.Errorf("HTML = %q", got)
	}
}

func TestSetupError(t *testing.T) {
	s, doc := newScheduler(t)
	boom := errors.New("boom")
	def := &component.Definition{
		Name:     "Broken",
		Template: `<p/>`,
		Setup: func(context.Context, map[string]any, component.Env) (any, error) {
			return nil, boom
		},
	}
	u, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	rerr := awaitErr(t, s, fut)
	if rerr.Phase != "setup" || !errors.Is(rerr, boom) {
		t.Errorf("error = %v", rerr)
	}
	if doc.HTML(doc.Body()) != "" {
		t.Error("failed mount reached the surface")
	}
	if u.Status() != component.StatusDestroyed {
		t.Errorf("status = %s", u.Status())
	}
	if len(s.Units()) != 0 {
		t.Error("failed root still listed")
	}
}

func TestRenderErrorLeavesSurface(t *testing.T) {
	s, doc := newScheduler(t)
	state := map[string]any{"user": map[string]any{"name": "Ada"}}
	def := &component.Definition{
		Name:     "User",
		Template: `<p><t-esc user.name/></p>`,
		Setup:    stateOf(state),
	}
	u, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	await(t, s, fut)
	before := doc.Stats()

	state["user"] = nil
	rerr := awaitErr(t, s, s.RequestRender(u))
	if rerr.Phase != "render" {
		t.Errorf("phase = %q", rerr.Phase)
	}
	if got := doc.HTML(doc.Body()); got != "<p>Ada</p>" {
		t.Errorf("HTML = %q", got)
	}
	if doc.Stats() != before {
		t.Error("failed render mutated the surface")
	}

	state["user"] = map[string]any{"name": "Grace"}
	await(t, s, s.RequestRender(u))
	if got := doc.HTML(doc.Body()); got != "<p>Grace</p>" {
		t.Errorf("HTML after recovery = %q", got)
	}
}

func TestFailedRenderKeepsChildProps(t *testing.T) {
	s, doc := newScheduler(t)
	item := &component.Definition{Name: "Item", Template: `<li><t-esc props.label/></li>`}
	state := map[string]any{"label": "a", "boom": map[string]any{"x": 1}}
	def := &component.Definition{
		Name:       "App",
		Template:   `<ul><Item label="label"/><t-esc boom.x/></ul>`,
		Setup:      stateOf(state),
		Components: map[string]*component.Definition{"Item": item},
	}
	u, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	await(t, s, fut)
	child := u.Children["Item#0"]
	if child == nil {
		t.Fatalf("children = %v", u.ChildKeys())
	}

	state["label"], state["boom"] = "b", nil
	awaitErr(t, s, s.RequestRender(u))
	if got := child.Props["label"]; got != "a" {
		t.Errorf("child props after failed parent render: label = %v, want a", got)
	}

	await(t, s, s.RequestRender(child))
	if got := doc.HTML(doc.Body()); got != "<ul><li>a</li>1</ul>" {
		t.Errorf("HTML = %q", got)
	}
}

func TestInvalidCommitLeavesSurface(t *testing.T) {
	s, doc := newScheduler(t)
	state := map[string]any{"title": "old", "items": []any{"x"}}
	def := &component.Definition{
		Name:     "Page",
		Template: `<div><h1><t-esc title/></h1><ul><li t-foreach="items" t-as="i" t-key="i"><t-esc i/></li></ul></div>`,
		Setup:    stateOf(state),
	}
	u, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	await(t, s, fut)
	const before = "<div><h1>old</h1><ul><li>x</li></ul></div>"

	state["title"], state["items"] = "new", []any{"x", "x"}
	rerr := awaitErr(t, s, s.RequestRender(u))
	if rerr.Phase != "commit" {
		t.Errorf("phase = %q", rerr.Phase)
	}
	if got := doc.HTML(doc.Body()); got != before {
		t.Errorf("HTML = %q, want %q", got, before)
	}

	state["items"] = []any{"x", "y"}
	await(t, s, s.RequestRender(u))
	if got := doc.HTML(doc.Body()); got != "<div><h1>new</h1><ul><li>x</li><li>y</li></ul></div>" {
		t.Errorf("HTML after recovery = %q", got)
	}
}

func TestUnknownComponent(t *testing.T) {
	s, doc := newScheduler(t)
	def := &component.Definition{Name: "App", Template: `<div><Missing/></div>`}
	_, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	if rerr := awaitErr(t, s, fut); rerr.Phase != "render" {
		t.Errorf("phase = %q", rerr.Phase)
	}
}

func TestParentSupersedesChildRoot(t *testing.T) {
	s, doc := newScheduler(t)
	log := &hookLog{}
	list, _ := listDefs(log, "a", "b")
	u, fut := s.Mount(list, doc.Target(doc.Body()), nil)
	await(t, s, fut)
	log.take()

	b := u.Children["Item:b"]
	childFut := s.RequestRender(b)
	parentFut := s.RequestRender(u)
	if childFut == parentFut {
		t.Fatal("independent roots share a future")
	}
	if s.Pending() != 1 {
		t.Errorf("pending = %d, want 1", s.Pending())
	}
	await(t, s, parentFut)
	if !childFut.Resolved() || childFut.Err() != nil {
		t.Errorf("superseded future: resolved=%v err=%v", childFut.Resolved(), childFut.Err())
	}
	patched := 0
	for _, ev := range log.take() {
		if ev == "patched Item:b" {
			patched++
		}
	}
	if patched != 1 {
		t.Errorf("Item:b patched %d times", patched)
	}
}

func TestChildRequestJoinsParentRoot(t *testing.T) {
	s, doc := newScheduler(t)
	list, _ := listDefs(&hookLog{}, "a")
	u, fut := s.Mount(list, doc.Target(doc.Body()), nil)
	await(t, s, fut)

	parentFut := s.RequestRender(u)
	if got := s.RequestRender(u.Children["Item:a"]); got != parentFut {
		t.Error("request for a child in flight did not join the parent's root")
	}
	await(t, s, parentFut)
}

func TestMountedDeferredUntilConnected(t *testing.T) {
	s, doc := newScheduler(t)
	mounted := 0
	def := &component.Definition{
		Name:     "Panel",
		Template: `<aside>hi</aside>`,
		Mounted:  func(*component.Instance) { mounted++ },
	}
	section := doc.CreateElement("section")
	u, fut := s.Mount(def, doc.Target(section), nil)
	await(t, s, fut)
	if u.Status() != component.StatusMounted {
		t.Errorf("status = %s", u.Status())
	}
	if mounted != 0 {
		t.Fatal("mounted fired for a detached target")
	}
	doc.Append(doc.Body(), section)
	if mounted != 1 {
		t.Errorf("mounted = %d after connecting", mounted)
	}
	doc.Remove(section)
	doc.Append(doc.Body(), section)
	if mounted != 1 {
		t.Errorf("mounted fired again on reconnect")
	}
}

func TestDestroy(t *testing.T) {
	s, doc := newScheduler(t)
	log := &hookLog{}
	list, _ := listDefs(log, "a", "b")
	u, fut := s.Mount(list, doc.Target(doc.Body()), nil)
	await(t, s, fut)
	log.take()

	s.Destroy(u)
	if got := doc.HTML(doc.Body()); got != "" {
		t.Errorf("HTML = %q", got)
	}
	want := []string{"destroyed Item:a", "destroyed Item:b", "destroyed List"}
	if diff := cmp.Diff(want, log.take()); diff != "" {
		t.Errorf("hooks (-want +got):\n%s", diff)
	}
	if err := s.RequestRender(u).Err(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("render after destroy = %v", err)
	}
	if len(s.Units()) != 0 {
		t.Error("destroyed root still listed")
	}
}

func TestDestroyPendingMount(t *testing.T) {
	s, doc := newScheduler(t)
	release := make(chan struct{})
	def := &component.Definition{
		Name:     "Slow",
		Async:    true,
		Template: `<p/>`,
		Setup: func(context.Context, map[string]any, component.Env) (any, error) {
			<-release
			return nil, nil
		},
	}
	u, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	s.Destroy(u)
	if !errors.Is(fut.Err(), ErrDestroyed) {
		t.Errorf("future = %v", fut.Err())
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Await(ctx, newFuture())
	if doc.HTML(doc.Body()) != "" {
		t.Error("destroyed unit reached the surface")
	}
}

func TestStoreInvalidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	s, doc := newScheduler(t, WithMetrics(WithRegistry(reg)))
	store := component.NewStore(map[string]any{"n": 1})
	def := &component.Definition{
		Name:     "Count",
		Template: `<span><t-esc n/></span>`,
		Setup: func(context.Context, map[string]any, component.Env) (any, error) {
			return store, nil
		},
	}
	_, fut := s.Mount(def, doc.Target(doc.Body()), nil)
	await(t, s, fut)

	store.Set("n", 2)
	store.Set("n", 3)
	s.Tick()
	if got := doc.HTML(doc.Body()); got != "<span>3</span>" {
		t.Errorf("HTML = %q", got)
	}
	if got := testutil.ToFloat64(s.metrics.renders); got != 2 {
		t.Errorf("renders = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.metrics.commits.WithLabelValues("mount")); got != 1 {
		t.Errorf("mount commits = %v", got)
	}
	if got := testutil.ToFloat64(s.metrics.commits.WithLabelValues("patch")); got != 1 {
		t.Errorf("patch commits = %v", got)
	}
}

func TestRunLoop(t *testing.T) {
	s, doc := newScheduler(t, WithFrameInterval(time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	def := &component.Definition{Name: "Hi", Template: `<h1>hi</h1>`}
	var fut *Future
	if err := s.Do(ctx, func() {
		_, fut = s.Mount(def, doc.Target(doc.Body()), nil)
	}); err != nil {
		t.Fatal(err)
	}
	if err := fut.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if got := doc.HTML(doc.Body()); got != "<h1>hi</h1>" {
		t.Errorf("HTML = %q", got)
	}

	var tree string
	if err := s.Do(ctx, func() { tree = s.Tree() }); err != nil {
		t.Fatal(err)
	}
	if tree == "" {
		t.Error("empty tree dump")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v", err)
	}
}
