package fiber

import (
	"fmt"

	"github.com/vango-dev/weft/pkg/component"
	"github.com/xlab/treeprint"
)

// UnitInfo describes a unit for inspection.
type UnitInfo struct {
	ID       uint64     `json:"id"`
	Name     string     `json:"name"`
	Key      string     `json:"key,omitempty"`
	Status   string     `json:"status"`
	Pending  bool       `json:"pending"`
	Children []UnitInfo `json:"children,omitempty"`
}

// Inspect returns the unit hierarchy of every mounted root, children
// ordered by key. Call it on the loop goroutine (see Do).
func (s *Scheduler) Inspect() []UnitInfo {
	out := make([]UnitInfo, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, s.info(u))
	}
	return out
}

func (s *Scheduler) info(u *component.Instance) UnitInfo {
	in := UnitInfo{
		ID:      u.ID,
		Name:    u.Name(),
		Key:     u.Key,
		Status:  u.Status().String(),
		Pending: u.Fiber != 0,
	}
	for _, k := range u.ChildKeys() {
		in.Children = append(in.Children, s.info(u.Children[k]))
	}
	return in
}

// Tree renders the unit hierarchy as an indented outline.
func (s *Scheduler) Tree() string {
	t := treeprint.NewWithRoot(fmt.Sprintf("scheduler (pending=%d)", len(s.roots)))
	for _, in := range s.Inspect() {
		addUnit(t, in)
	}
	return t.String()
}

func addUnit(t treeprint.Tree, in UnitInfo) {
	label := fmt.Sprintf("%s#%d [%s]", in.Name, in.ID, in.Status)
	if in.Key != "" {
		label += fmt.Sprintf(" key=%q", in.Key)
	}
	if in.Pending {
		label += " *"
	}
	if len(in.Children) == 0 {
		t.AddNode(label)
		return
	}
	b := t.AddBranch(label)
	for _, c := range in.Children {
		addUnit(b, c)
	}
}
