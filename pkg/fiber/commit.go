package fiber

import (
	"time"

	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/vdom"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/html"
)

// commit applies a complete root fiber. Order: willPatch (parents first),
// surface mutations, destroyed, mounted (deepest first), patched (deepest
// first).
func (s *Scheduler) commit(root *fiber) {
	start := time.Now()
	mode := "patch"
	if root.mount {
		mode = "mount"
	}
	_, span := s.tracer.Start(s.ctx, "fiber.commit", trace.WithAttributes(
		attribute.String("weft.unit", root.unit.String()),
		attribute.String("weft.mode", mode),
	))
	defer span.End()

	var live []*fiber
	updates := make(map[FiberID]bool)
	for _, id := range root.queue {
		f := s.fibers[id]
		if f == nil || f.cancelled {
			continue
		}
		live = append(live, f)
		updates[f.id] = f.unit.Status() == component.StatusMounted
	}

	for _, f := range live {
		if updates[f.id] {
			f.unit.Call(f.unit.Def.WillPatch)
		}
	}

	var err error
	if root.mount {
		err = vdom.Mount(root.target, root.node)
	} else {
		err = vdom.Reconcile(s.doc, root.unit.Committed, root.node)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		root.err = &RenderError{Unit: root.unit.String(), Fiber: root.id, Phase: "commit", Err: err}
		s.fail(root)
		return
	}

	var removed []*component.Instance
	for _, f := range live {
		u := f.unit
		for _, k := range u.ChildKeys() {
			if old := u.Children[k]; f.staged[k] != old {
				removed = append(removed, old)
			}
		}
		u.Children = f.staged
		if FiberID(u.Fiber) == f.id {
			u.Fiber = 0
		}
	}
	for _, u := range removed {
		s.destroy(u)
	}

	var fresh []*component.Instance
	for i := len(live) - 1; i >= 0; i-- {
		u := live[i].unit
		if updates[live[i].id] || u.Committed == nil {
			continue
		}
		if err := u.Transition(component.StatusMounted); err != nil {
			s.logger.Warn("mount transition failed", "unit", u.String(), "error", err)
			continue
		}
		fresh = append(fresh, u)
	}
	s.mounted(root, fresh)

	for i := len(live) - 1; i >= 0; i-- {
		if f := live[i]; updates[f.id] {
			f.unit.Call(f.unit.Def.Patched)
		}
	}

	s.dropRoot(root)
	root.future.resolve(nil)

	d := time.Since(start)
	s.observe(mode, d)
	s.logger.Debug("commit",
		"unit", root.unit.String(),
		"mode", mode,
		"fibers", len(live),
		"removed", len(removed),
		"duration", d,
	)
}

// mounted fires the mounted hooks of units, or defers them until the
// root's primitives are connected to the document.
func (s *Scheduler) mounted(root *fiber, units []*component.Instance) {
	if len(units) == 0 {
		return
	}
	fire := func() {
		for _, u := range units {
			if u.Status() == component.StatusMounted {
				u.Call(u.Def.Mounted)
			}
		}
	}
	if s.attached(root) {
		fire()
		return
	}
	s.logger.Debug("mounted hooks deferred", "unit", root.unit.String(), "units", len(units))
	var cancel func()
	cancel = s.doc.OnConnect(func(*html.Node) {
		if !s.attached(root) {
			return
		}
		cancel()
		fire()
	})
}

func (s *Scheduler) attached(root *fiber) bool {
	if root.mount {
		return root.target.Connected()
	}
	p := root.unit.Committed.Primitive()
	return p != nil && s.doc.IsConnected(p)
}
