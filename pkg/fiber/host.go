package fiber

import (
	"fmt"

	"github.com/vango-dev/weft/pkg/component"
	"github.com/vango-dev/weft/pkg/vdom"
)

// host resolves component placeholders met while rendering f. Every
// placeholder gets a child fiber; the child's unit is reused when the
// parent committed one under the same key.
type host struct {
	s    *Scheduler
	f    *fiber
	seen map[string]int
}

func (h *host) Component(name, key string, props map[string]any) (*vdom.Node, error) {
	s, f := h.s, h.f
	if f.cancelled {
		return nil, fmt.Errorf("render of %s was cancelled", f.unit)
	}
	def, err := s.lookupComponent(f.unit, name)
	if err != nil {
		return nil, err
	}

	ukey := name + ":" + key
	if key == "" {
		ukey = fmt.Sprintf("%s#%d", name, h.seen[name])
		h.seen[name]++
	}
	if _, dup := f.staged[ukey]; dup {
		return nil, fmt.Errorf("duplicate component key %q in %s", ukey, f.unit)
	}

	child := f.unit.Children[ukey]
	if child != nil && (child.Def != def || child.Status() == component.StatusDestroyed) {
		child = nil
	}
	reused := child != nil
	if !reused {
		child = component.New(def, f.unit, ukey, props, nil)
	}

	if prev := s.fibers[FiberID(child.Fiber)]; prev != nil && !prev.cancelled {
		s.supersede(prev, f)
	}
	cf := s.newFiber(child, f)
	if reused {
		cf.oldProps, cf.propsSet = child.Props, true
		child.Props = props
	}
	f.staged[ukey] = child
	s.start(cf)
	return cf.node, nil
}
