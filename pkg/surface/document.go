package surface

import (
	"fmt"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Handler is an event handler bound to a primitive.
type Handler func(*Event)

// Event is delivered to handlers by Dispatch.
type Event struct {
	Type    string
	Target  *html.Node
	Current *html.Node
	Detail  any

	stopped bool
}

// StopPropagation prevents the event from bubbling further.
func (e *Event) StopPropagation() {
	e.stopped = true
}

// Document is the live surface: a tree of html primitives with event
// bindings, a mutation log and connection tracking.
//
// Mutating methods must be called from a single goroutine (the scheduler
// loop). Read methods (HTML, Query, Stats) are safe to call concurrently.
type Document struct {
	mu sync.RWMutex

	root *html.Node
	body *html.Node

	listeners map[*html.Node]map[string]Handler

	seq       uint64
	stats     Stats
	observers map[int]func(Mutation)
	connects  map[int]func(*html.Node)
	nextSub   int
}

// New creates a document with an empty <body>.
func New() *Document {
	root := &html.Node{Type: html.DocumentNode}
	htmlEl := newElement("html")
	body := newElement("body")
	root.AppendChild(htmlEl)
	htmlEl.AppendChild(body)
	return &Document{
		root:      root,
		body:      body,
		listeners: make(map[*html.Node]map[string]Handler),
		observers: make(map[int]func(Mutation)),
		connects:  make(map[int]func(*html.Node)),
	}
}

func newElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
}

// Body returns the <body> element.
func (d *Document) Body() *html.Node {
	return d.body
}

// Target returns an insertion point appending under parent.
func (d *Document) Target(parent *html.Node) Target {
	return Target{doc: d, parent: parent}
}

// CreateElement creates a detached element.
func (d *Document) CreateElement(tag string) *html.Node {
	return newElement(tag)
}

// CreateText creates a detached text primitive.
func (d *Document) CreateText(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}

// CreateComment creates a detached comment primitive.
func (d *Document) CreateComment(data string) *html.Node {
	return &html.Node{Type: html.CommentNode, Data: data}
}

// Clone deep-copies a detached or attached subtree. Listeners are not copied.
func Clone(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	c := &html.Node{
		Type:      n.Type,
		Data:      n.Data,
		DataAtom:  n.DataAtom,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		c.Attr = make([]html.Attribute, len(n.Attr))
		copy(c.Attr, n.Attr)
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(Clone(child))
	}
	return c
}

// IsConnected reports whether n is part of the document tree.
func (d *Document) IsConnected(n *html.Node) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected(n)
}

func (d *Document) connected(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// InsertBefore inserts child under parent before ref (nil appends). A child
// that already has a parent is moved.
func (d *Document) InsertBefore(parent, child, ref *html.Node) {
	if parent == nil || child == nil {
		panic("surface: InsertBefore with nil node")
	}
	if ref != nil && ref.Parent != parent {
		panic(fmt.Sprintf("surface: reference node is not a child of <%s>", parent.Data))
	}

	d.mu.Lock()
	wasConnected := d.connected(child)
	op := OpInsert
	if child.Parent != nil {
		op = OpMove
		child.Parent.RemoveChild(child)
	}
	parent.InsertBefore(child, ref)
	m := d.record(op, child, parent, "", "")
	becameConnected := !wasConnected && d.connected(child)
	observers, connects := d.subscribers()
	d.mu.Unlock()

	notify(observers, m)
	if becameConnected {
		for _, fn := range connects {
			fn(child)
		}
	}
}

// Append appends child as the last child of parent.
func (d *Document) Append(parent, child *html.Node) {
	d.InsertBefore(parent, child, nil)
}

// Remove detaches n from its parent and drops listeners in the subtree.
func (d *Document) Remove(n *html.Node) {
	if n == nil || n.Parent == nil {
		return
	}
	d.mu.Lock()
	parent := n.Parent
	parent.RemoveChild(n)
	d.dropListeners(n)
	m := d.record(OpRemove, n, parent, "", "")
	observers, _ := d.subscribers()
	d.mu.Unlock()
	notify(observers, m)
}

// SetText updates the data of a text or comment primitive.
func (d *Document) SetText(n *html.Node, data string) {
	d.mu.Lock()
	if n.Data == data {
		d.mu.Unlock()
		return
	}
	n.Data = data
	m := d.record(OpSetText, n, nil, "", data)
	observers, _ := d.subscribers()
	d.mu.Unlock()
	notify(observers, m)
}

// SetAttr sets an attribute value.
func (d *Document) SetAttr(n *html.Node, key, val string) {
	d.mu.Lock()
	found := false
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			if n.Attr[i].Val == val {
				d.mu.Unlock()
				return
			}
			n.Attr[i].Val = val
			found = true
			break
		}
	}
	if !found {
		n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
	}
	m := d.record(OpSetAttr, n, nil, key, val)
	observers, _ := d.subscribers()
	d.mu.Unlock()
	notify(observers, m)
}

// RemoveAttr removes an attribute if present.
func (d *Document) RemoveAttr(n *html.Node, key string) {
	d.mu.Lock()
	idx := -1
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return
	}
	n.Attr = append(n.Attr[:idx], n.Attr[idx+1:]...)
	m := d.record(OpRemoveAttr, n, nil, key, "")
	observers, _ := d.subscribers()
	d.mu.Unlock()
	notify(observers, m)
}

// Attr returns the value of an attribute.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Listen binds h to event on n, replacing any previous binding.
func (d *Document) Listen(n *html.Node, event string, h Handler) {
	d.mu.Lock()
	m := d.listeners[n]
	if m == nil {
		m = make(map[string]Handler)
		d.listeners[n] = m
	}
	m[event] = h
	mut := d.record(OpBind, n, nil, event, "")
	observers, _ := d.subscribers()
	d.mu.Unlock()
	notify(observers, mut)
}

// Unlisten drops the binding for event on n.
func (d *Document) Unlisten(n *html.Node, event string) {
	d.mu.Lock()
	m := d.listeners[n]
	if _, ok := m[event]; !ok {
		d.mu.Unlock()
		return
	}
	delete(m, event)
	if len(m) == 0 {
		delete(d.listeners, n)
	}
	mut := d.record(OpUnbind, n, nil, event, "")
	observers, _ := d.subscribers()
	d.mu.Unlock()
	notify(observers, mut)
}

// Listener returns the handler bound to event on n.
func (d *Document) Listener(n *html.Node, event string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.listeners[n][event]
	return h, ok
}

// Dispatch delivers an event to target and bubbles it through its ancestors.
// It returns true if at least one handler ran.
func (d *Document) Dispatch(target *html.Node, event string, detail any) bool {
	ev := &Event{Type: event, Target: target, Detail: detail}
	handled := false
	for n := target; n != nil; n = n.Parent {
		h, ok := d.Listener(n, event)
		if !ok {
			continue
		}
		ev.Current = n
		h(ev)
		handled = true
		if ev.stopped {
			break
		}
	}
	return handled
}

func (d *Document) dropListeners(n *html.Node) {
	delete(d.listeners, n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.dropListeners(c)
	}
}

// Observe registers fn to receive every mutation. The returned function
// unregisters it.
func (d *Document) Observe(fn func(Mutation)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.observers[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// OnConnect registers fn to be called with every subtree root that becomes
// part of the document.
func (d *Document) OnConnect(fn func(*html.Node)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.connects[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.connects, id)
		d.mu.Unlock()
	}
}

// Stats returns mutation counters.
func (d *Document) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stats
}

// HTML renders the children of n.
func (d *Document) HTML(n *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			fmt.Fprintf(&b, "<!-- render error: %v -->", err)
		}
	}
	return b.String()
}

// OuterHTML renders n itself.
func (d *Document) OuterHTML(n *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return fmt.Sprintf("<!-- render error: %v -->", err)
	}
	return b.String()
}

// Query returns the elements under the body matching a CSS selector.
func (d *Document) Query(selector string) ([]*html.Node, error) {
	return d.QueryFrom(d.body, selector)
}

// QueryFrom returns the elements under n matching a CSS selector.
func (d *Document) QueryFrom(n *html.Node, selector string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("surface: bad selector %q: %w", selector, err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sel.MatchAll(n), nil
}

func (d *Document) record(op MutationOp, n, parent *html.Node, key, val string) Mutation {
	d.seq++
	d.stats.record(op)
	return Mutation{Seq: d.seq, Op: op, Node: n, Parent: parent, Key: key, Value: val}
}

func (d *Document) subscribers() ([]func(Mutation), []func(*html.Node)) {
	var observers []func(Mutation)
	var connects []func(*html.Node)
	if len(d.observers) > 0 {
		observers = make([]func(Mutation), 0, len(d.observers))
		for _, fn := range d.observers {
			observers = append(observers, fn)
		}
	}
	if len(d.connects) > 0 {
		connects = make([]func(*html.Node), 0, len(d.connects))
		for _, fn := range d.connects {
			connects = append(connects, fn)
		}
	}
	return observers, connects
}

func notify(observers []func(Mutation), m Mutation) {
	for _, fn := range observers {
		fn(m)
	}
}

// Target is an insertion point on the surface.
type Target struct {
	doc    *Document
	parent *html.Node
}

// Document returns the owning document.
func (t Target) Document() *Document {
	return t.doc
}

// Parent returns the primitive that receives appended children.
func (t Target) Parent() *html.Node {
	return t.parent
}

// Append appends a materialized primitive.
func (t Target) Append(n *html.Node) {
	t.doc.Append(t.parent, n)
}

// Connected reports whether the insertion point is part of the document.
func (t Target) Connected() bool {
	return t.doc.IsConnected(t.parent)
}

// Valid reports whether the target was created by Document.Target.
func (t Target) Valid() bool {
	return t.doc != nil && t.parent != nil
}
