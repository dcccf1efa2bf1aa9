package devtools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/fiber"
	"github.com/vango-dev/weft/pkg/surface"
)

// DefaultTimeout bounds how long a request waits for the scheduler loop.
const DefaultTimeout = 5 * time.Second

// Server is the devtools HTTP server for one scheduler.
type Server struct {
	sched    *fiber.Scheduler
	doc      *surface.Document
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	timeout  time.Duration

	router    chi.Router
	stream    *Stream
	unobserve func()
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the registry served on /metrics.
// Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithTimeout sets how long handlers wait for the scheduler loop.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates a devtools server for sched and starts observing its
// surface. Call Close to stop.
func New(sched *fiber.Scheduler, opts ...Option) *Server {
	s := &Server{
		sched:    sched,
		doc:      sched.Document(),
		gatherer: prometheus.DefaultGatherer,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.stream = NewStream(s.logger)
	s.unobserve = s.doc.Observe(func(m surface.Mutation) {
		s.stream.Publish(s.doc, m)
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Get("/", s.handleSurface)
	r.Get("/templates", s.handleTemplates)
	r.Get("/tree", s.handleTree)
	r.Post("/state", s.handleState)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws", s.stream.HandleWebSocket)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stream returns the mutation stream.
func (s *Server) Stream() *Stream {
	return s.stream
}

// Close stops observing the surface and disconnects stream clients.
func (s *Server) Close() {
	s.unobserve()
	s.stream.Close()
}

// ListenAndServe serves the devtools on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("devtools listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		s.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("devtools request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleSurface(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	sel := r.URL.Query().Get("selector")
	if sel == "" {
		io.WriteString(w, s.doc.HTML(s.doc.Body()))
		return
	}
	nodes, err := s.doc.Query(sel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for _, n := range nodes {
		io.WriteString(w, s.doc.OuterHTML(n))
	}
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	reg := s.sched.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"templates": reg.Names(),
		"parses":    reg.ParseCount(),
	})
}

func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if r.URL.Query().Get("format") == "json" {
		var units []fiber.UnitInfo
		if err := s.sched.Do(ctx, func() { units = s.sched.Inspect() }); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, units)
		return
	}
	var tree string
	if err := s.sched.Do(ctx, func() { tree = s.sched.Tree() }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, tree)
}

// handleState replaces the state of a root unit (the first one, or
// ?unit=<id>) with the posted JSON object and waits for the commit.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var values map[string]any
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("state must be a JSON object: %w", err))
		return
	}
	var unitID uint64
	if v := r.URL.Query().Get("unit"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("bad unit id %q", v))
			return
		}
		unitID = id
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var fut *fiber.Future
	var opErr error
	var name string
	err := s.sched.Do(ctx, func() {
		u := s.pick(unitID)
		if u == nil {
			opErr = errNoUnit
			return
		}
		name = u.String()
		switch st := u.State.(type) {
		case *component.Store:
			st.Replace(values)
		case map[string]any:
			clear(st)
			for k, v := range values {
				st[k] = v
			}
		case nil:
			u.State = values
		default:
			opErr = fmt.Errorf("state of %s is %T, not replaceable", u, st)
			return
		}
		fut = s.sched.RequestRender(u)
	})
	if err == nil {
		err = opErr
	}
	if err == nil {
		err = fut.Wait(ctx)
	}

	var rerr *fiber.RenderError
	switch {
	case errors.Is(err, errNoUnit):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &rerr):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err)
	case err != nil:
		writeError(w, http.StatusConflict, err)
	default:
		s.logger.Info("state replaced", "unit", name, "keys", len(values))
		writeJSON(w, http.StatusOK, map[string]any{
			"unit": name,
			"html": s.doc.HTML(s.doc.Body()),
		})
	}
}

var errNoUnit = errors.New("no such root unit")

func (s *Server) pick(id uint64) *component.Instance {
	for _, u := range s.sched.Units() {
		if id == 0 || u.ID == id {
			return u
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
