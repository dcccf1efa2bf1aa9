package template

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vango-dev/weft/pkg/template"

// Registry holds named template sources and caches compiled routines by
// name and by source text. The parser runs at most once per distinct
// source for the lifetime of the registry. A Registry is safe for
// concurrent use.
type Registry struct {
	mu       sync.Mutex
	sources  map[string]string
	byName   map[string]*program
	bySource map[string]*program

	parses atomic.Int64

	logger  *slog.Logger
	tracer  trace.Tracer
	counter prometheus.Counter
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTracerProvider sets the provider compile spans are started from.
// Default: the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) {
		r.tracer = tp.Tracer(tracerName)
	}
}

// WithMetrics registers a parse counter named <namespace>_template_parses_total
// with reg.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(r *Registry) {
		r.counter = promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "template",
			Name:      "parses_total",
			Help:      "Number of template sources parsed and compiled.",
		})
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sources:  make(map[string]string),
		byName:   make(map[string]*program),
		bySource: make(map[string]*program),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(tracerName)
	}
	return r
}

// Add registers source under name. Re-adding the same source is a no-op;
// replacing a different source under an existing name is an error, since
// compiled routines are cached for the registry's lifetime.
func (r *Registry) Add(name, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.sources[name]; ok {
		if prev == source {
			return nil
		}
		return fmt.Errorf("template %q already registered", name)
	}
	r.sources[name] = source
	return nil
}

// AddTemplates registers every <t t-name="..."> child of a templates
// document such as:
//
//	<templates>
//	    <t t-name="card"><div class="card"><t t-raw="__content__"/></div></t>
//	</templates>
func (r *Registry) AddTemplates(doc string) error {
	defs, err := splitTemplates(doc)
	if err != nil {
		return err
	}
	for _, d := range defs {
		if err := r.Add(d.name, d.source); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the registered template names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the source registered under name.
func (r *Registry) Source(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[name]
	return src, ok
}

// Get returns the routine for a registered template, compiling it on first
// use.
func (r *Registry) Get(name string) (Routine, error) {
	p, err := r.program(name)
	if err != nil {
		return nil, err
	}
	return p.render, nil
}

// Compile returns the routine for an anonymous source.
func (r *Registry) Compile(source string) (Routine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, err := r.compileLocked("", source)
	if err != nil {
		return nil, err
	}
	return p.render, nil
}

// CompileAll compiles every registered template and returns one error per
// failing template, in name order.
func (r *Registry) CompileAll() []error {
	var errs []error
	for _, name := range r.Names() {
		if _, err := r.program(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ParseCount returns how many times the parser has run.
func (r *Registry) ParseCount() int64 {
	return r.parses.Load()
}

func (r *Registry) program(name string) (*program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byName[name]; ok {
		return p, nil
	}
	src, ok := r.sources[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	p, err := r.compileLocked(name, src)
	if err != nil {
		return nil, err
	}
	r.byName[name] = p
	return p, nil
}

func (r *Registry) compileLocked(name, source string) (*program, error) {
	if p, ok := r.bySource[source]; ok {
		return p, nil
	}

	_, span := r.tracer.Start(context.Background(), "template.compile",
		trace.WithAttributes(attribute.String("weft.template", name)))
	defer span.End()

	r.parses.Add(1)
	if r.counter != nil {
		r.counter.Inc()
	}
	p, err := compileSource(r, name, source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Debug("template compile failed", "template", name, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("weft.template.statics", len(p.statics)))
	r.bySource[source] = p
	r.logger.Debug("template compiled", "template", name, "statics", len(p.statics))
	return p, nil
}

func compileSource(r *Registry, name, source string) (*program, error) {
	items, err := readMarkup(name, source)
	if err != nil {
		return nil, err
	}
	b := &builder{name: name}
	nodes, err := b.buildList(items)
	if err != nil {
		return nil, err
	}
	h := &hoister{}
	nodes = h.list(nodes)
	g := &codegen{reg: r, statics: h.pool}
	return &program{name: name, steps: g.list(nodes), statics: h.pool}, nil
}

type templateDef struct {
	name, source string
}

// splitTemplates extracts the t-name children of a templates document,
// re-serializing each body as a standalone source.
func splitTemplates(doc string) ([]templateDef, error) {
	items, err := readMarkup("", doc)
	if err != nil {
		return nil, err
	}
	var defs []templateDef
	var walk func(items []markup) error
	walk = func(items []markup) error {
		for _, item := range items {
			el, ok := item.(*element)
			if !ok {
				continue
			}
			name, named := el.attr("t-name")
			if !named {
				if err := walk(el.children); err != nil {
					return err
				}
				continue
			}
			if name == "" {
				return &SyntaxError{Line: el.line, Construct: "t-name", Msg: "empty template name"}
			}
			var src string
			if el.name == "t" && len(el.attrs) == 1 {
				src = serialize(el.children)
			} else {
				src = serialize([]markup{el.without("t-name")})
			}
			defs = append(defs, templateDef{name: name, source: src})
		}
		return nil
	}
	if err := walk(items); err != nil {
		return nil, err
	}
	return defs, nil
}
