package vdom

import (
	"sort"

	"github.com/vango-dev/weft/pkg/surface"
	"golang.org/x/net/html"
)

// Reconcile mutates the surface so that it matches next, reusing the
// primitives of old wherever identity is preserved. old is overwritten in
// place with next's structure and can serve as the old side of the next
// call; next must not be reused afterwards.
func Reconcile(doc *surface.Document, old, next *Node) error {
	if old == nil || next == nil {
		return &ReconciliationError{Op: "reconcile", Reason: "nil tree"}
	}
	if !old.Mounted() {
		return patchErr(old, "old tree was never mounted")
	}
	if err := validate(next, nil); err != nil {
		return err
	}
	e := newEngine(doc)
	return e.patch(old, next)
}

// validate rejects trees the patch pass would otherwise give up on halfway
// through: duplicate sibling keys, nil children, empty roots and static
// references missing from their pool. It runs before the surface is touched.
func validate(n *Node, pools [][]*html.Node) error {
	if n == nil {
		return &ReconciliationError{Op: "reconcile", Reason: "nil child node"}
	}
	switch n.Kind {
	case KindRoot:
		if n.Child == nil {
			return patchErr(n, "root has no child")
		}
		return validate(n.Child, append(pools, n.Statics))
	case KindStatic:
		if len(pools) == 0 || n.StaticID < 0 || n.StaticID >= len(pools[len(pools)-1]) {
			return patchErr(n, "static fragment %d not in pool", n.StaticID)
		}
	case KindElement, KindMulti:
		if err := checkKeys(n.Children); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := validate(c, pools); err != nil {
				return err
			}
		}
	}
	return nil
}

// same reports whether next can take over old's primitives.
func (e *engine) same(old, next *Node) bool {
	if old.Kind != next.Kind || old.Key != next.Key {
		return false
	}
	switch old.Kind {
	case KindElement:
		return old.Tag == next.Tag
	case KindStatic:
		return old.frag != nil && old.frag == e.fragment(next.StaticID)
	}
	return true
}

func (e *engine) patch(old, next *Node) error {
	if old == next {
		return nil
	}
	if next == nil {
		return patchErr(old, "nil replacement node")
	}
	if !e.same(old, next) {
		return e.replace(old, next)
	}

	switch old.Kind {
	case KindText, KindComment:
		if s := FormatValue(next.Value); s != old.handle.Data {
			e.doc.SetText(old.handle, s)
		}
		old.Value = next.Value

	case KindStatic:
		// Fragments are template-invariant.

	case KindElement:
		return e.patchElement(old, next)

	case KindMulti:
		anchor := old.handle
		if anchor == nil || anchor.Parent == nil {
			return patchErr(old, "multi anchor is not attached")
		}
		children, err := e.patchChildren(anchor.Parent, anchor, old.Children, next.Children)
		if err != nil {
			return err
		}
		old.Children = children

	case KindRoot:
		if next.Child == nil {
			return patchErr(next, "root has no child")
		}
		e.pushPool(next.Statics)
		err := e.patchSlot(&old.Child, next.Child)
		e.popPool()
		if err != nil {
			return err
		}
		old.Statics = next.Statics
		if next.Hooks != nil {
			old.Hooks = next.Hooks
		}
	}
	return nil
}

// patchSlot patches the node held in *slot. On an identity mismatch the
// slot is pointed at next instead of overwriting the old node, so nodes
// shared with other owners (component roots) are never aliased.
func (e *engine) patchSlot(slot **Node, next *Node) error {
	old := *slot
	if old == nil {
		return patchErr(next, "empty slot")
	}
	if e.same(old, next) {
		return e.patch(old, next)
	}
	first := old.firstPrimitive()
	if first == nil || first.Parent == nil {
		return patchErr(old, "cannot replace a detached node")
	}
	if err := e.mountBefore(next, first.Parent, first); err != nil {
		return err
	}
	e.removeNode(old)
	*slot = next
	return nil
}

// replace mounts next where old is and discards old's primitives.
func (e *engine) replace(old, next *Node) error {
	first := old.firstPrimitive()
	if first == nil || first.Parent == nil {
		return patchErr(old, "cannot replace a detached node")
	}
	if err := e.mountBefore(next, first.Parent, first); err != nil {
		return err
	}
	e.removeNode(old)
	*old = *next
	return nil
}

func (e *engine) patchElement(old, next *Node) error {
	el := old.handle

	keys := make(map[string]struct{}, len(old.Attrs)+len(next.Attrs))
	for k := range old.Attrs {
		keys[k] = struct{}{}
	}
	for k := range next.Attrs {
		keys[k] = struct{}{}
	}
	for _, k := range sortedKeys(keys) {
		ov, had := attrValue(old.Attrs[k])
		nv, has := attrValue(next.Attrs[k])
		switch {
		case had && !has:
			e.doc.RemoveAttr(el, k)
		case has && (!had || ov != nv):
			e.doc.SetAttr(el, k, nv)
		}
	}

	if oc, nc := old.ClassString(), next.ClassString(); oc != nc {
		if nc == "" {
			e.doc.RemoveAttr(el, "class")
		} else {
			e.doc.SetAttr(el, "class", nc)
		}
	}

	for _, ev := range sortedKeys(next.On) {
		e.doc.Listen(el, ev, next.On[ev])
	}
	for _, ev := range sortedKeys(old.On) {
		if _, ok := next.On[ev]; !ok {
			e.doc.Unlisten(el, ev)
		}
	}

	children, err := e.patchChildren(el, nil, old.Children, next.Children)
	if err != nil {
		return err
	}
	old.Attrs, old.Class, old.On = next.Attrs, next.Class, next.On
	old.Children = children
	return nil
}

// patchChildren reconciles a sibling list living under parent before end
// (nil end means the list runs to the last child). It first scans matching
// nodes from both ends; whatever remains is matched by identity and moved
// with the fewest insertions, keeping the longest increasing run of reused
// nodes in place.
func (e *engine) patchChildren(parent, end *html.Node, olds, news []*Node) ([]*Node, error) {
	if err := checkKeys(news); err != nil {
		return nil, err
	}
	result := make([]*Node, len(news))

	os, oe := 0, len(olds)-1
	ns, ne := 0, len(news)-1

	for os <= oe && ns <= ne && e.same(olds[os], news[ns]) {
		if err := e.patch(olds[os], news[ns]); err != nil {
			return nil, err
		}
		result[ns] = olds[os]
		os++
		ns++
	}
	for os <= oe && ns <= ne && e.same(olds[oe], news[ne]) {
		if err := e.patch(olds[oe], news[ne]); err != nil {
			return nil, err
		}
		result[ne] = olds[oe]
		oe--
		ne--
	}

	refAfter := func(i int) *html.Node {
		if i+1 < len(result) {
			return result[i+1].firstPrimitive()
		}
		return end
	}

	switch {
	case os > oe:
		ref := refAfter(ne)
		for i := ns; i <= ne; i++ {
			if err := e.mountBefore(news[i], parent, ref); err != nil {
				return nil, err
			}
			result[i] = news[i]
		}
		return result, nil

	case ns > ne:
		for i := os; i <= oe; i++ {
			e.removeNode(olds[i])
		}
		return result, nil
	}

	// Match the remaining middle section by identity.
	candidates := make(map[string][]int)
	for i := os; i <= oe; i++ {
		id := identity(olds[i])
		candidates[id] = append(candidates[id], i)
	}
	used := make([]bool, len(olds))
	sources := make([]int, ne-ns+1)
	for i := ns; i <= ne; i++ {
		sources[i-ns] = -1
		id := identity(news[i])
		queue := candidates[id]
		for qi, j := range queue {
			if !e.same(olds[j], news[i]) {
				continue
			}
			if err := e.patch(olds[j], news[i]); err != nil {
				return nil, err
			}
			used[j] = true
			sources[i-ns] = j
			result[i] = olds[j]
			candidates[id] = append(queue[:qi:qi], queue[qi+1:]...)
			break
		}
	}
	for i := os; i <= oe; i++ {
		if !used[i] {
			e.removeNode(olds[i])
		}
	}

	stable := longestIncreasing(sources)
	for i := ne; i >= ns; i-- {
		ref := refAfter(i)
		if sources[i-ns] < 0 {
			if err := e.mountBefore(news[i], parent, ref); err != nil {
				return nil, err
			}
			result[i] = news[i]
			continue
		}
		if stable[i-ns] {
			continue
		}
		for _, p := range result[i].Primitives() {
			e.doc.InsertBefore(parent, p, ref)
		}
	}
	return result, nil
}

// identity is the bucket key used to match nodes in the keyed pass.
func identity(n *Node) string {
	return n.Kind.String() + "\x00" + n.Tag + "\x00" + n.Key
}

func checkKeys(nodes []*Node) error {
	var seen map[string]bool
	for _, n := range nodes {
		if n == nil {
			return &ReconciliationError{Op: "reconcile", Reason: "nil child node"}
		}
		if n.Key == "" {
			continue
		}
		if seen == nil {
			seen = make(map[string]bool, len(nodes))
		}
		if seen[n.Key] {
			return patchErr(n, "duplicate sibling key %q", n.Key)
		}
		seen[n.Key] = true
	}
	return nil
}

// longestIncreasing marks the positions of seq (ignoring negative entries)
// that form one longest strictly increasing subsequence.
func longestIncreasing(seq []int) []bool {
	marks := make([]bool, len(seq))
	tails := []int{} // positions in seq
	prev := make([]int, len(seq))
	for i, v := range seq {
		prev[i] = -1
		if v < 0 {
			continue
		}
		k := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		if k > 0 {
			prev[i] = tails[k-1]
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}
	if len(tails) == 0 {
		return marks
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		marks[i] = true
	}
	return marks
}
