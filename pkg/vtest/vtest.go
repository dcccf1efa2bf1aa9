package vtest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/fiber"
	"github.com/vango-dev/weft/pkg/surface"
	"github.com/vango-dev/weft/pkg/template"
)

// DefaultTimeout bounds every wait performed by a Harness.
const DefaultTimeout = 5 * time.Second

// Harness is a mounted component under test.
type Harness struct {
	t       testing.TB
	Doc     *surface.Document
	Sched   *fiber.Scheduler
	Unit    *component.Instance
	timeout time.Duration
}

type config struct {
	reg       *template.Registry
	templates map[string]string
	defs      []*component.Definition
	store     *component.Store
	timeout   time.Duration
	opts      []fiber.Option
}

// Option configures a Harness.
type Option func(*config)

// WithTemplate registers a named template before mounting.
//
// Example:
//
//	h := vtest.Mount(t, def, nil, vtest.WithTemplate("Row", "<li><t-esc props.v/></li>"))
func WithTemplate(name, source string) Option {
	return func(c *config) {
		if c.templates == nil {
			c.templates = make(map[string]string)
		}
		c.templates[name] = source
	}
}

// WithRegistry mounts against an existing template registry.
func WithRegistry(reg *template.Registry) Option {
	return func(c *config) {
		c.reg = reg
	}
}

// WithComponents makes defs resolvable from any template.
func WithComponents(defs ...*component.Definition) Option {
	return func(c *config) {
		c.defs = append(c.defs, defs...)
	}
}

// WithStore gives the root unit a store as its state. The definition's
// own Setup, if any, is replaced.
func WithStore(store *component.Store) Option {
	return func(c *config) {
		c.store = store
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithSchedulerOptions passes extra options to the scheduler.
func WithSchedulerOptions(opts ...fiber.Option) Option {
	return func(c *config) {
		c.opts = append(c.opts, opts...)
	}
}

// Mount renders def into the body of a new document and fails the test if
// the first commit does not succeed.
func Mount(t testing.TB, def *component.Definition, props map[string]any, opts ...Option) *Harness {
	t.Helper()
	h, err := TryMount(t, def, props, opts...)
	if err != nil {
		t.Fatalf("mount %s: %v", def.Name, err)
	}
	return h
}

// TryMount is Mount that returns the commit error instead of failing.
// The harness is usable even when err is non-nil.
func TryMount(t testing.TB, def *component.Definition, props map[string]any, opts ...Option) (*Harness, error) {
	t.Helper()
	cfg := config{timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.reg == nil {
		cfg.reg = template.NewRegistry()
	}
	for name, src := range cfg.templates {
		if err := cfg.reg.Add(name, src); err != nil {
			t.Fatalf("template %s: %v", name, err)
		}
	}
	if cfg.store != nil {
		d := *def
		store := cfg.store
		d.Setup = func(context.Context, map[string]any, component.Env) (any, error) {
			return store, nil
		}
		d.Async = false
		def = &d
	}

	doc := surface.New()
	sopts := append([]fiber.Option{
		fiber.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		fiber.WithComponents(cfg.defs...),
	}, cfg.opts...)
	h := &Harness{
		t:       t,
		Doc:     doc,
		Sched:   fiber.New(doc, cfg.reg, sopts...),
		timeout: cfg.timeout,
	}
	u, fut := h.Sched.Mount(def, doc.Target(doc.Body()), props)
	h.Unit = u
	return h, h.await(fut)
}

func (h *Harness) await(fut *fiber.Future) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	return h.Sched.Await(ctx, fut)
}

// Flush requests a render of the root unit and waits for it. Renders
// already scheduled by store changes join the same root.
func (h *Harness) Flush() {
	h.t.Helper()
	if err := h.Update(); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

// Update is Flush that returns the commit error.
func (h *Harness) Update() error {
	return h.await(h.Sched.RequestRender(h.Unit))
}

// Dispatch sends event to the first node matching selector and flushes.
func (h *Harness) Dispatch(selector, event string, detail any) {
	h.t.Helper()
	nodes, err := h.Doc.Query(selector)
	if err != nil {
		h.t.Fatalf("query %q: %v", selector, err)
	}
	if len(nodes) == 0 {
		h.t.Fatalf("no node matches %q, got:\n%s", selector, truncate(h.HTML(), 500))
	}
	h.Doc.Dispatch(nodes[0], event, detail)
	h.Flush()
}

// HTML returns the serialized body.
func (h *Harness) HTML() string {
	return h.Doc.HTML(h.Doc.Body())
}

// Destroy tears the root unit down and runs pending work.
func (h *Harness) Destroy() {
	h.Sched.Destroy(h.Unit)
	h.Sched.Tick()
}

// ExpectContains asserts that the body contains expected.
//
// Example:
//
//	h.ExpectContains("Welcome Admin")
func (h *Harness) ExpectContains(expected string) {
	h.t.Helper()
	html := h.HTML()
	if !strings.Contains(html, expected) {
		h.t.Errorf("expected rendered output to contain %q, got:\n%s", expected, truncate(html, 500))
	}
}

// ExpectNotContains asserts that the body does not contain unexpected.
func (h *Harness) ExpectNotContains(unexpected string) {
	h.t.Helper()
	html := h.HTML()
	if strings.Contains(html, unexpected) {
		h.t.Errorf("expected rendered output to NOT contain %q, got:\n%s", unexpected, truncate(html, 500))
	}
}

// ExpectElement asserts that at least one node matches selector.
//
// Example:
//
//	h.ExpectElement("button.primary")
func (h *Harness) ExpectElement(selector string) {
	h.t.Helper()
	nodes, err := h.Doc.Query(selector)
	if err != nil {
		h.t.Fatalf("query %q: %v", selector, err)
	}
	if len(nodes) == 0 {
		h.t.Errorf("expected an element matching %q, got:\n%s", selector, truncate(h.HTML(), 500))
	}
}

// ExpectCount asserts how many nodes match selector.
func (h *Harness) ExpectCount(selector string, want int) {
	h.t.Helper()
	nodes, err := h.Doc.Query(selector)
	if err != nil {
		h.t.Fatalf("query %q: %v", selector, err)
	}
	if len(nodes) != want {
		h.t.Errorf("%q matched %d nodes, want %d", selector, len(nodes), want)
	}
}

// ExpectAttribute asserts that the first node matching selector carries
// attr=value.
func (h *Harness) ExpectAttribute(selector, attr, value string) {
	h.t.Helper()
	nodes, err := h.Doc.Query(selector)
	if err != nil {
		h.t.Fatalf("query %q: %v", selector, err)
	}
	if len(nodes) == 0 {
		h.t.Fatalf("no node matches %q", selector)
	}
	got, ok := surface.Attr(nodes[0], attr)
	if !ok || got != value {
		h.t.Errorf("%s[%s] = %q (present=%v), want %q", selector, attr, got, ok, value)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
