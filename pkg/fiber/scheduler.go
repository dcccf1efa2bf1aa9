package fiber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/surface"
	"github.com/vango-dev/weft/pkg/template"
	"github.com/vango-dev/weft/pkg/vdom"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

const tracerName = "github.com/vango-dev/weft/pkg/fiber"

// DefaultFrameInterval is the tick interval used by Run.
const DefaultFrameInterval = 16 * time.Millisecond

// FiberID addresses a fiber in the scheduler's arena.
type FiberID uint64

// fiber is one pending render of one unit. Root fibers (parent == 0) also
// carry the pending counter, the future and the hook queue for their whole
// subtree.
type fiber struct {
	id     FiberID
	unit   *component.Instance
	parent FiberID
	root   FiberID

	// node is handed out before the unit renders and filled in by each
	// render, so a parent can place it while the child is still pending.
	node     *vdom.Node
	children []FiberID
	staged   map[string]*component.Instance

	rendered  bool
	cancelled bool

	// oldProps are the unit's props before this fiber's parent passed new
	// ones; they are put back if the root never commits.
	oldProps map[string]any
	propsSet bool

	// Root only.
	counter int
	err     error
	future  *Future
	mount   bool
	target  surface.Target
	queue   []FiberID // every fiber of the subtree, in creation order
}

// Scheduler coordinates render requests into ordered commits on a
// surface. All methods except Post, Invalidate and Do must be called from
// the loop goroutine: the one calling Tick, Run or Await.
type Scheduler struct {
	doc        *surface.Document
	reg        *template.Registry
	components map[string]*component.Definition
	env        component.Env
	ctx        context.Context
	interval   time.Duration

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	fibers map[FiberID]*fiber
	roots  []FiberID
	nextID FiberID
	units  []*component.Instance

	mu    sync.Mutex
	inbox []func()
	wake  chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithTracerProvider sets the provider commit spans are started from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Scheduler) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(opts ...MetricsOption) Option {
	return func(s *Scheduler) {
		s.metrics = newMetrics(opts...)
	}
}

// WithFrameInterval sets the tick interval of Run.
func WithFrameInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEnv sets the environment handed to root units.
func WithEnv(env component.Env) Option {
	return func(s *Scheduler) {
		s.env = env
	}
}

// WithComponents registers definitions resolvable from any template by
// name, in addition to each definition's own Components.
func WithComponents(defs ...*component.Definition) Option {
	return func(s *Scheduler) {
		for _, d := range defs {
			s.components[d.Name] = d
		}
	}
}

// WithContext sets the context passed to Setup functions.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		s.ctx = ctx
	}
}

// New creates a scheduler committing to doc and compiling templates with
// reg.
func New(doc *surface.Document, reg *template.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		doc:        doc,
		reg:        reg,
		components: make(map[string]*component.Definition),
		ctx:        context.Background(),
		interval:   DefaultFrameInterval,
		fibers:     make(map[FiberID]*fiber),
		wake:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Document returns the surface the scheduler commits to.
func (s *Scheduler) Document() *surface.Document {
	return s.doc
}

// Registry returns the template registry.
func (s *Scheduler) Registry() *template.Registry {
	return s.reg
}

// Units returns the root units created by Mount that are not destroyed.
func (s *Scheduler) Units() []*component.Instance {
	return slices.Clone(s.units)
}

// Pending returns the number of root fibers waiting to commit.
func (s *Scheduler) Pending() int {
	return len(s.roots)
}

// Mount creates a root unit for def and schedules its first render into
// target. The future resolves once the unit and all its descendants are
// on the surface.
func (s *Scheduler) Mount(def *component.Definition, target surface.Target, props map[string]any) (*component.Instance, *Future) {
	u := component.New(def, nil, "", props, s.env)
	if !target.Valid() {
		return u, resolved(&RenderError{Unit: u.String(), Phase: "mount", Err: errors.New("invalid target")})
	}
	f := s.newFiber(u, nil)
	f.mount = true
	f.target = target
	s.units = append(s.units, u)
	s.logger.Debug("mount requested", "unit", u.String(), "fiber", f.id)
	s.start(f)
	return u, f.future
}

// RequestRender schedules a render of u. If u already has a render in
// flight, that fiber is taken over: its pending descendants are cancelled
// and the routine runs again, and the returned future is the one of the
// fiber's root.
func (s *Scheduler) RequestRender(u *component.Instance) *Future {
	if u == nil || u.Status() == component.StatusDestroyed {
		return resolved(ErrDestroyed)
	}
	if f := s.fibers[FiberID(u.Fiber)]; f != nil && !f.cancelled {
		root := s.fibers[f.root]
		if f.rendered {
			f.rendered = false
			root.counter++
		}
		s.cancelChildren(f)
		s.logger.Debug("render taken over", "unit", u.String(), "fiber", f.id, "root", root.id)
		s.start(f)
		return root.future
	}
	if u.Committed == nil {
		return resolved(&RenderError{Unit: u.String(), Phase: "render", Err: errors.New("unit is not mounted")})
	}
	f := s.newFiber(u, nil)
	s.start(f)
	return f.future
}

// Invalidate requests a render of u from any goroutine. Calls made before
// the loop picks up the request are coalesced.
func (s *Scheduler) Invalidate(u *component.Instance) {
	if !u.MarkDirty() {
		return
	}
	s.Post(func() {
		u.ClearDirty()
		s.RequestRender(u)
	})
}

// Destroy removes a unit's primitives from the surface and destroys it and
// its descendants, children first. In-flight renders of the unit resolve
// with ErrDestroyed.
func (s *Scheduler) Destroy(u *component.Instance) {
	if u == nil || u.Status() == component.StatusDestroyed {
		return
	}
	if u.Committed != nil {
		vdom.Remove(s.doc, u.Committed)
	}
	s.destroy(u)
	if i := slices.Index(s.units, u); i >= 0 {
		s.units = slices.Delete(s.units, i, i+1)
	}
}

func (s *Scheduler) destroy(u *component.Instance) {
	for _, k := range u.ChildKeys() {
		s.destroy(u.Children[k])
	}
	if f := s.fibers[FiberID(u.Fiber)]; f != nil && !f.cancelled {
		s.cancel(f)
		if f.id == f.root {
			s.dropRoot(f)
			f.future.resolve(ErrDestroyed)
		}
	}
	mounted := u.Status() == component.StatusMounted
	u.Dispose()
	if mounted {
		u.Call(u.Def.Destroyed)
	}
	s.logger.Debug("unit destroyed", "unit", u.String())
}

// Post queues fn to run on the loop goroutine. It is safe to call from any
// goroutine.
func (s *Scheduler) Post(fn func()) {
	s.mu.Lock()
	s.inbox = append(s.inbox, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop goroutine and waits for it to return. The loop
// must be running (Run or Await).
func (s *Scheduler) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	s.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		fns := s.inbox
		s.inbox = nil
		s.mu.Unlock()
		if len(fns) == 0 {
			return
		}
		for _, fn := range fns {
			fn()
		}
	}
}

// Tick runs posted functions, then fails every root that captured an
// error and commits every root whose subtree is complete, in the order the
// roots were created.
func (s *Scheduler) Tick() {
	s.drain()
	for _, id := range slices.Clone(s.roots) {
		root := s.fibers[id]
		if root == nil || root.cancelled {
			continue
		}
		switch {
		case root.err != nil:
			s.fail(root)
		case root.counter == 0:
			s.commit(root)
		}
	}
	if s.metrics != nil {
		s.metrics.pendingRoots.Set(float64(len(s.roots)))
	}
}

// Run drives the scheduler until ctx is done: posted functions run as they
// arrive and a tick fires every frame interval while roots are pending.
// The ticker is stopped when nothing is pending and restarted lazily.
func (s *Scheduler) Run(ctx context.Context) error {
	var ticker *time.Ticker
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	for {
		s.drain()
		var tick <-chan time.Time
		if len(s.roots) > 0 {
			if ticker == nil {
				ticker = time.NewTicker(s.interval)
			}
			tick = ticker.C
		} else if ticker != nil {
			ticker.Stop()
			ticker = nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		case <-tick:
			s.Tick()
		}
	}
}

// Await ticks until fut resolves or ctx is done. It is the loop for callers
// that do not use Run.
func (s *Scheduler) Await(ctx context.Context, fut *Future) error {
	for {
		s.Tick()
		if fut.Resolved() {
			return fut.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-fut.Done():
			return fut.Err()
		case <-s.wake:
		}
	}
}

func (s *Scheduler) newFiber(u *component.Instance, parent *fiber) *fiber {
	s.nextID++
	f := &fiber{
		id:   s.nextID,
		unit: u,
		node: &vdom.Node{Kind: vdom.KindRoot, Key: u.Key},
	}
	var root *fiber
	if parent == nil {
		f.root = f.id
		f.counter = 1
		f.future = newFuture()
		root = f
		s.roots = append(s.roots, f.id)
	} else {
		f.parent = parent.id
		f.root = parent.root
		root = s.fibers[f.root]
		root.counter++
		parent.children = append(parent.children, f.id)
	}
	root.queue = append(root.queue, f.id)
	s.fibers[f.id] = f
	u.Fiber = uint64(f.id)
	return f
}

// start renders f now, or after the unit's setup completes.
func (s *Scheduler) start(f *fiber) {
	u := f.unit
	switch u.Status() {
	case component.StatusNew:
		s.setup(f)
	case component.StatusSettingUp:
		// setupDone renders the unit's current fiber.
	case component.StatusReady, component.StatusMounted:
		s.render(f)
	default:
		s.capture(f, "render", fmt.Errorf("unit is %s", u.Status()))
	}
}

func (s *Scheduler) setup(f *fiber) {
	u := f.unit
	if err := u.Bind(s.reg); err != nil {
		s.capture(f, "setup", err)
		return
	}
	if err := u.Transition(component.StatusSettingUp); err != nil {
		s.capture(f, "setup", err)
		return
	}
	if !u.Def.Async || u.Def.Setup == nil {
		state, err := u.Setup(s.ctx)
		s.setupDone(u, state, err)
		return
	}
	setup, props, env := u.Def.Setup, u.Props, u.Env
	go func() {
		state, err := setup(s.ctx, props, env)
		s.Post(func() { s.setupDone(u, state, err) })
	}()
}

func (s *Scheduler) setupDone(u *component.Instance, state any, err error) {
	if u.Status() == component.StatusDestroyed {
		return
	}
	f := s.fibers[FiberID(u.Fiber)]
	if err != nil {
		u.Err = err
		if f != nil && !f.cancelled {
			s.capture(f, "setup", err)
		} else {
			u.Dispose()
		}
		return
	}
	if err := u.Ready(state, func() { s.Invalidate(u) }); err != nil {
		if f != nil {
			s.capture(f, "setup", err)
		}
		return
	}
	if f != nil && !f.cancelled && !f.rendered {
		s.render(f)
	}
}

func (s *Scheduler) render(f *fiber) {
	u := f.unit
	s.cancelChildren(f)
	f.staged = make(map[string]*component.Instance)
	h := &host{s: s, f: f, seen: make(map[string]int)}
	tree, err := u.Render(h)
	if s.metrics != nil {
		s.metrics.renders.Inc()
	}
	if err != nil {
		s.capture(f, "render", err)
		return
	}
	n := f.node
	n.Child, n.Statics = tree.Child, tree.Statics
	n.Hooks = &vdom.Hooks{Create: func(*html.Node) { u.Committed = n }}
	f.rendered = true
	s.fibers[f.root].counter--
}

// capture records err on f's root; the root fails on the next tick.
func (s *Scheduler) capture(f *fiber, phase string, err error) {
	root := s.fibers[f.root]
	if root == nil || root.err != nil {
		return
	}
	root.err = &RenderError{Unit: f.unit.String(), Fiber: f.id, Phase: phase, Err: err}
}

func (s *Scheduler) cancelChildren(f *fiber) {
	for _, id := range f.children {
		if c := s.fibers[id]; c != nil {
			s.cancel(c)
		}
	}
	f.children = nil
}

// cancel marks f and its descendants cancelled. Fibers that had not
// rendered yet are counted out of their root. Units created by a cancelled
// fiber that never committed are disposed.
func (s *Scheduler) cancel(f *fiber) {
	if f.cancelled {
		return
	}
	f.cancelled = true
	if s.metrics != nil {
		s.metrics.cancellations.Inc()
	}
	s.cancelChildren(f)
	if !f.rendered && f.id != f.root {
		if root := s.fibers[f.root]; root != nil {
			root.counter--
		}
	}
	u := f.unit
	if FiberID(u.Fiber) == f.id {
		u.Fiber = 0
	}
	if f.id != f.root && u.Committed == nil && u.Status() != component.StatusMounted {
		u.Dispose()
	}
}

// supersede cancels prev, an in-flight fiber of a unit that by is about to
// render again. A superseded root's future resolves with by's root.
func (s *Scheduler) supersede(prev, by *fiber) {
	s.cancel(prev)
	if prev.id != prev.root {
		return
	}
	s.restoreProps(prev)
	s.dropRoot(prev)
	s.fibers[by.root].future.absorb(prev.future)
	s.logger.Debug("root superseded", "unit", prev.unit.String(), "fiber", prev.id, "by", by.root)
}

func (s *Scheduler) dropRoot(root *fiber) {
	if i := slices.Index(s.roots, root.id); i >= 0 {
		s.roots = slices.Delete(s.roots, i, i+1)
	}
	for _, id := range root.queue {
		delete(s.fibers, id)
	}
}

// fail rejects a root's future. Nothing reaches the surface; units created
// for the failed render are disposed.
func (s *Scheduler) fail(root *fiber) {
	s.restoreProps(root)
	for _, id := range root.queue {
		f := s.fibers[id]
		if f == nil {
			continue
		}
		u := f.unit
		if FiberID(u.Fiber) == f.id {
			u.Fiber = 0
		}
		if u.Committed == nil && u.Status() != component.StatusMounted && u.Status() != component.StatusDestroyed {
			u.Dispose()
		}
	}
	if root.mount {
		if i := slices.Index(s.units, root.unit); i >= 0 {
			s.units = slices.Delete(s.units, i, i+1)
		}
	}
	s.dropRoot(root)
	if s.metrics != nil {
		s.metrics.failures.Inc()
	}
	s.logger.Warn("render failed", "unit", root.unit.String(), "error", root.err)
	root.future.resolve(root.err)
}

// restoreProps undoes, newest first, the props a root's fibers handed to
// units that were already committed.
func (s *Scheduler) restoreProps(root *fiber) {
	for i := len(root.queue) - 1; i >= 0; i-- {
		if f := s.fibers[root.queue[i]]; f != nil && f.propsSet {
			f.unit.Props = f.oldProps
		}
	}
}

func (s *Scheduler) lookupComponent(parent *component.Instance, name string) (*component.Definition, error) {
	if def, ok := parent.Def.Component(name); ok {
		return def, nil
	}
	if def, ok := s.components[name]; ok {
		return def, nil
	}
	return nil, fmt.Errorf("unknown component <%s> in %s", name, parent)
}

// observe records a commit in the metrics.
func (s *Scheduler) observe(mode string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.commits.With(prometheus.Labels{"mode": mode}).Inc()
	s.metrics.commitSeconds.Observe(d.Seconds())
}
