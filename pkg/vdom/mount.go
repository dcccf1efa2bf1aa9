package vdom

import (
	"github.com/vango-dev/weft/pkg/surface"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// engine carries the state of one Mount/Reconcile/Remove call.
type engine struct {
	doc     *surface.Document
	pools   [][]*html.Node
	created []*Node
}

func newEngine(doc *surface.Document) *engine {
	return &engine{doc: doc}
}

func (e *engine) pushPool(p []*html.Node) { e.pools = append(e.pools, p) }
func (e *engine) popPool()                { e.pools = e.pools[:len(e.pools)-1] }

func (e *engine) fragment(id int) *html.Node {
	if len(e.pools) == 0 {
		return nil
	}
	pool := e.pools[len(e.pools)-1]
	if id < 0 || id >= len(pool) {
		return nil
	}
	return pool[id]
}

// Mount materializes n for the first time and appends it under the target.
// Subtrees are built detached, so each top-level primitive costs exactly one
// insertion on the surface.
func Mount(target surface.Target, n *Node) error {
	if !target.Valid() {
		return &ReconciliationError{Op: "mount", Reason: "invalid target"}
	}
	if n == nil {
		return &ReconciliationError{Op: "mount", Reason: "nil node"}
	}
	if n.Mounted() {
		return mountErr(n, "node is already mounted")
	}
	e := newEngine(target.Document())
	return e.mountBefore(n, target.Parent(), nil)
}

// Remove detaches every primitive owned by n.
func Remove(doc *surface.Document, n *Node) {
	if n == nil {
		return
	}
	newEngine(doc).removeNode(n)
}

func (e *engine) mountBefore(n *Node, parent, ref *html.Node) error {
	prims, err := e.build(n)
	if err != nil {
		e.created = nil
		e.discard(n)
		return err
	}
	for _, p := range prims {
		e.doc.InsertBefore(parent, p, ref)
	}
	e.fireCreated()
	return nil
}

func (e *engine) fireCreated() {
	created := e.created
	e.created = nil
	for _, r := range created {
		if r.created {
			continue
		}
		r.created = true
		if r.Hooks != nil && r.Hooks.Create != nil {
			r.Hooks.Create(r.Child.firstPrimitive())
		}
	}
}

// build materializes n without touching the document tree and returns its
// top-level primitives.
func (e *engine) build(n *Node) ([]*html.Node, error) {
	if n == nil {
		return nil, &ReconciliationError{Op: "mount", Reason: "nil child node"}
	}
	switch n.Kind {
	case KindRoot:
		if n.Child == nil {
			return nil, mountErr(n, "root has no child")
		}
		e.pushPool(n.Statics)
		prims, err := e.build(n.Child)
		e.popPool()
		if err != nil {
			return nil, err
		}
		e.created = append(e.created, n)
		return prims, nil

	case KindElement:
		el := &html.Node{Type: html.ElementNode, Data: n.Tag, DataAtom: atom.Lookup([]byte(n.Tag))}
		for _, k := range sortedKeys(n.Attrs) {
			if v, ok := attrValue(n.Attrs[k]); ok {
				el.Attr = append(el.Attr, html.Attribute{Key: k, Val: v})
			}
		}
		if cls := n.ClassString(); cls != "" {
			el.Attr = append(el.Attr, html.Attribute{Key: "class", Val: cls})
		}
		n.handle = el
		for _, ev := range sortedKeys(n.On) {
			e.doc.Listen(el, ev, n.On[ev])
		}
		for _, c := range n.Children {
			prims, err := e.build(c)
			if err != nil {
				return nil, err
			}
			for _, p := range prims {
				el.AppendChild(p)
			}
		}
		return []*html.Node{el}, nil

	case KindText:
		n.handle = &html.Node{Type: html.TextNode, Data: FormatValue(n.Value)}
		return []*html.Node{n.handle}, nil

	case KindComment:
		n.handle = &html.Node{Type: html.CommentNode, Data: FormatValue(n.Value)}
		return []*html.Node{n.handle}, nil

	case KindMulti:
		var prims []*html.Node
		for _, c := range n.Children {
			p, err := e.build(c)
			if err != nil {
				return nil, err
			}
			prims = append(prims, p...)
		}
		n.handle = &html.Node{Type: html.TextNode}
		return append(prims, n.handle), nil

	case KindStatic:
		frag := e.fragment(n.StaticID)
		if frag == nil {
			return nil, mountErr(n, "static fragment %d not in pool", n.StaticID)
		}
		n.frag = frag
		n.handle = surface.Clone(frag)
		return []*html.Node{n.handle}, nil
	}
	return nil, mountErr(n, "unknown node kind %d", n.Kind)
}

// discard undoes a failed build of n: listeners bound on detached elements
// are dropped and detached handles cleared. Primitives already on the
// surface are left alone.
func (e *engine) discard(n *Node) {
	if n == nil {
		return
	}
	if n.Kind == KindRoot {
		e.discard(n.Child)
		return
	}
	if n.handle != nil && e.doc.IsConnected(n.handle) {
		return
	}
	if n.Kind == KindElement && n.handle != nil {
		for _, ev := range sortedKeys(n.On) {
			e.doc.Unlisten(n.handle, ev)
		}
	}
	for _, c := range n.Children {
		e.discard(c)
	}
	n.handle = nil
	n.frag = nil
}

func (e *engine) removeNode(n *Node) {
	for _, p := range n.Primitives() {
		e.doc.Remove(p)
	}
}
