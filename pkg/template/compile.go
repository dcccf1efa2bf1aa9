package template

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/vango-dev/weft/pkg/surface"
	"github.com/vango-dev/weft/pkg/template/expr"
	"github.com/vango-dev/weft/pkg/vdom"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ContentVar is the variable a t-call body is bound to in the callee.
const ContentVar = "__content__"

// Host resolves component placeholders while a routine runs. The returned
// node is inserted where the placeholder stands; its Key identifies the
// component among its siblings.
type Host interface {
	Component(name, key string, props map[string]any) (*vdom.Node, error)
}

// Context is the input of a render routine.
type Context struct {
	Scope *Scope
	Host  Host

	placed map[*vdom.Node]bool
}

// NewContext returns a context whose outermost scope resolves against state.
func NewContext(state any, host Host) *Context {
	return &Context{Scope: NewScope(state), Host: host}
}

// derive returns a context for a nested routine call sharing c's host and
// placement bookkeeping.
func (c *Context) derive(scope *Scope) *Context {
	if c.placed == nil {
		c.placed = make(map[*vdom.Node]bool)
	}
	return &Context{Scope: scope, Host: c.Host, placed: c.placed}
}

// place returns n, or a copy if n was already inserted during this render.
func (c *Context) place(n *vdom.Node) *vdom.Node {
	if c.placed == nil {
		c.placed = make(map[*vdom.Node]bool)
	}
	if c.placed[n] {
		return n.Copy()
	}
	c.placed[n] = true
	return n
}

// Routine renders a compiled template. It always returns a KindRoot node
// carrying the template's static fragment pool.
type Routine func(*Context) (*vdom.Node, error)

// step appends the nodes it constructs to out.
type step func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error)

func run(steps []step, c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
	var err error
	for _, s := range steps {
		if out, err = s(c, sc, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// program is one compiled template.
type program struct {
	name    string
	steps   []step
	statics []*html.Node
}

func (p *program) render(c *Context) (*vdom.Node, error) {
	if c == nil {
		c = NewContext(nil, nil)
	}
	if c.Scope == nil {
		c.Scope = NewScope(nil)
	}
	nodes, err := run(p.steps, c, c.Scope.Child(), nil)
	if err != nil {
		return nil, err
	}
	return vdom.Root(single(nodes), p.statics, nil), nil
}

func single(nodes []*vdom.Node) *vdom.Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	return vdom.Multi(nodes...)
}

// codegen turns directive nodes into steps. statics is the pool of the
// program being compiled; bodies rendered here but placed by another
// template carry it in their own Root.
type codegen struct {
	reg     *Registry
	statics []*html.Node
}

func (g *codegen) list(nodes []node) []step {
	steps := make([]step, 0, len(nodes))
	for _, n := range nodes {
		if s := g.node(n); s != nil {
			steps = append(steps, s)
		}
	}
	return steps
}

func (g *codegen) node(n node) step {
	switch n := n.(type) {
	case *textNode:
		text := n.text
		return func(_ *Context, _ *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
			return append(out, vdom.Text(text)), nil
		}
	case *commentNode:
		text := n.text
		return func(_ *Context, _ *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
			return append(out, vdom.Comment(text)), nil
		}
	case *staticNode:
		id := n.id
		return func(_ *Context, _ *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
			return append(out, vdom.Static(id)), nil
		}
	case *elemNode:
		return g.element(n)
	case *ifNode:
		return g.conditional(n)
	case *foreachNode:
		return g.foreach(n)
	case *setNode:
		return g.set(n)
	case *outNode:
		return g.output(n)
	case *callNode:
		return g.call(n)
	case *componentNode:
		return g.component(n)
	}
	panic(fmt.Sprintf("template: unexpected node %T", n))
}

func (g *codegen) element(n *elemNode) step {
	children := g.list(n.children)
	return func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
		el := vdom.Element(n.tag)
		for k, v := range n.static {
			el.SetAttr(k, v)
		}
		el.AddClass(n.class)
		for _, a := range n.atts {
			v, err := a.value.Eval(sc)
			if err != nil {
				return nil, err
			}
			if a.name == "class" {
				addClass(el, v)
				continue
			}
			el.SetAttr(a.name, v)
		}
		for _, a := range n.attfs {
			s, err := interpolate(a.parts, sc)
			if err != nil {
				return nil, err
			}
			if a.name == "class" {
				el.AddClass(s)
				continue
			}
			el.SetAttr(a.name, s)
		}
		for _, h := range n.handlers {
			v, err := h.value.Eval(sc)
			if err != nil {
				return nil, err
			}
			fn, err := asHandler(v)
			if err != nil {
				return nil, &expr.EvalError{Expr: h.value.String(), Err: fmt.Errorf("t-on-%s: %w", h.event, err)}
			}
			el.Handle(h.event, fn)
		}
		if n.key != nil {
			k, err := n.key.Eval(sc)
			if err != nil {
				return nil, err
			}
			el.Key = vdom.FormatValue(k)
		}
		kids, err := run(children, c, sc, nil)
		if err != nil {
			return nil, err
		}
		el.Children = kids
		return append(out, el), nil
	}
}

func interpolate(parts []fmtPart, sc *Scope) (string, error) {
	var b strings.Builder
	for _, p := range parts {
		if p.expr == nil {
			b.WriteString(p.lit)
			continue
		}
		v, err := p.expr.Eval(sc)
		if err != nil {
			return "", err
		}
		b.WriteString(vdom.FormatValue(v))
	}
	return b.String(), nil
}

// addClass merges a t-att-class value: a string of names, a set of names
// with truthy values, or a list of names.
func addClass(el *vdom.Node, v any) {
	switch val := v.(type) {
	case nil:
	case string:
		el.AddClass(val)
	case map[string]bool:
		for name, on := range val {
			if on {
				el.AddClass(name)
			}
		}
	case map[string]any:
		for name, on := range val {
			if expr.Truthy(on) {
				el.AddClass(name)
			}
		}
	case []string:
		for _, name := range val {
			el.AddClass(name)
		}
	case []any:
		for _, name := range val {
			el.AddClass(vdom.FormatValue(name))
		}
	default:
		el.AddClass(vdom.FormatValue(v))
	}
}

func asHandler(v any) (surface.Handler, error) {
	switch fn := v.(type) {
	case surface.Handler:
		return fn, nil
	case func(*surface.Event):
		return fn, nil
	case func():
		return func(*surface.Event) { fn() }, nil
	case func() error:
		return func(*surface.Event) { _ = fn() }, nil
	case nil:
		return nil, fmt.Errorf("handler is null")
	}
	return nil, fmt.Errorf("%T is not a handler", v)
}

// conditional compiles an if/elif/else chain. When the chain has more than
// one alternative each branch's output carries a branch key, so switching
// branches replaces primitives instead of patching one branch into another.
func (g *codegen) conditional(n *ifNode) step {
	bodies := make([][]step, len(n.branches))
	for i, b := range n.branches {
		bodies[i] = g.list(b.body)
	}
	otherwise := g.list(n.otherwise)
	keyed := len(n.branches) > 1 || n.hasElse
	return func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
		chosen, steps := -1, otherwise
		for i, b := range n.branches {
			v, err := b.cond.Eval(sc)
			if err != nil {
				return nil, err
			}
			if expr.Truthy(v) {
				chosen, steps = i, bodies[i]
				break
			}
		}
		if !keyed {
			return run(steps, c, sc, out)
		}
		nodes, err := run(steps, c, sc, nil)
		if err != nil {
			return nil, err
		}
		return append(out, keyedGroup(nodes, fmt.Sprintf("@if%d.%d", n.id, chosen))), nil
	}
}

// keyedGroup applies key to a single unkeyed node, or wraps nodes in a keyed
// Multi.
func keyedGroup(nodes []*vdom.Node, key string) *vdom.Node {
	if len(nodes) == 1 && nodes[0].Key == "" {
		return nodes[0].WithKey(key)
	}
	return vdom.Multi(nodes...).WithKey(key)
}

func (g *codegen) foreach(n *foreachNode) step {
	body := g.list(n.body)
	_, chain := firstOf(n.body).(*ifNode)
	wrap := len(n.body) != 1 || chain
	return func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
		coll, err := n.coll.Eval(sc)
		if err != nil {
			return nil, err
		}
		items, err := iterate(coll)
		if err != nil {
			return nil, &expr.EvalError{Expr: n.coll.String(), Err: err}
		}
		group := make([]*vdom.Node, 0, len(items))
		for i, it := range items {
			layer := sc.Child()
			layer.Set(n.as, it.item)
			layer.Set(n.as+"_index", i)
			layer.Set(n.as+"_first", i == 0)
			layer.Set(n.as+"_last", i == len(items)-1)
			layer.Set(n.as+"_value", it.value)
			nodes, err := run(body, c, layer, nil)
			if err != nil {
				return nil, err
			}
			switch {
			case n.key != nil:
				k, err := n.key.Eval(layer)
				if err != nil {
					return nil, err
				}
				group = append(group, keyedGroup(nodes, vdom.FormatValue(k)))
			case len(nodes) == 1 && !wrap:
				group = append(group, nodes[0])
			default:
				group = append(group, vdom.Multi(nodes...))
			}
		}
		return append(out, vdom.Multi(group...)), nil
	}
}

func firstOf(nodes []node) node {
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

type iteration struct {
	item, value any
}

// iterate expands a t-foreach collection: slices and arrays yield their
// elements, maps their keys in sorted order (with values as _value), and an
// integer n yields 0..n-1.
func iterate(coll any) ([]iteration, error) {
	if coll == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(coll)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]iteration, rv.Len())
		for i := range items {
			v := rv.Index(i).Interface()
			items[i] = iteration{item: v, value: v}
		}
		return items, nil
	case reflect.Map:
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return vdom.FormatValue(keys[i].Interface()) < vdom.FormatValue(keys[j].Interface())
		})
		items := make([]iteration, len(keys))
		for i, k := range keys {
			items[i] = iteration{item: k.Interface(), value: rv.MapIndex(k).Interface()}
		}
		return items, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		items := make([]iteration, max(int(rv.Int()), 0))
		for i := range items {
			items[i] = iteration{item: i, value: i}
		}
		return items, nil
	}
	return nil, fmt.Errorf("cannot iterate over %T", coll)
}

func (g *codegen) set(n *setNode) step {
	body := g.list(n.body)
	statics := g.statics
	return func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
		if n.value != nil {
			v, err := n.value.Eval(sc)
			if err != nil {
				return nil, err
			}
			sc.Set(n.name, v)
			return out, nil
		}
		nodes, err := run(body, c, sc.Child(), nil)
		if err != nil {
			return nil, err
		}
		sc.Set(n.name, bodyValue(nodes, statics))
		return out, nil
	}
}

// bodyValue is the value of a rendered t-set body: its text when the body
// is only text, otherwise a Root over the body carrying statics.
func bodyValue(nodes []*vdom.Node, statics []*html.Node) any {
	var b strings.Builder
	for _, n := range nodes {
		if n.Kind != vdom.KindText {
			return vdom.Root(single(nodes), statics, nil)
		}
		b.WriteString(vdom.FormatValue(n.Value))
	}
	return b.String()
}

func (g *codegen) output(n *outNode) step {
	def := g.list(n.def)
	return func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
		v, err := n.value.Eval(sc)
		if err != nil {
			return nil, err
		}
		if v == nil && len(def) > 0 {
			nodes, err := run(def, c, sc, nil)
			if err != nil {
				return nil, err
			}
			return append(out, vdom.Multi(nodes...)), nil
		}
		if node, ok := v.(*vdom.Node); ok {
			return append(out, c.place(node)), nil
		}
		if !n.raw {
			switch v.(type) {
			case string, int, int64, float64:
				return append(out, vdom.Text(v)), nil
			}
			return append(out, vdom.Text(vdom.FormatValue(v))), nil
		}
		nodes, err := parseRaw(vdom.FormatValue(v))
		if err != nil {
			return nil, &expr.EvalError{Expr: n.value.String(), Err: err}
		}
		return append(out, vdom.Multi(nodes...)), nil
	}
}

// parseRaw parses markup as an HTML fragment in a <div> context.
func parseRaw(s string) ([]*vdom.Node, error) {
	if s == "" {
		return nil, nil
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	frags, err := html.ParseFragment(strings.NewReader(s), ctx)
	if err != nil {
		return nil, err
	}
	nodes := make([]*vdom.Node, 0, len(frags))
	for _, f := range frags {
		if n := fromHTML(f); n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes, nil
}

func fromHTML(h *html.Node) *vdom.Node {
	switch h.Type {
	case html.TextNode:
		return vdom.Text(h.Data)
	case html.CommentNode:
		return vdom.Comment(h.Data)
	case html.ElementNode:
		el := vdom.Element(h.Data)
		for _, a := range h.Attr {
			if a.Key == "class" {
				el.AddClass(a.Val)
				continue
			}
			el.SetAttr(a.Key, a.Val)
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			if n := fromHTML(c); n != nil {
				el.Children = append(el.Children, n)
			}
		}
		return el
	}
	return nil
}

func (g *codegen) call(n *callNode) step {
	body := g.list(n.body)
	reg, statics := g.reg, g.statics
	return func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
		callee, err := reg.program(n.target)
		if err != nil {
			return nil, err
		}
		layer := sc.Child()
		if len(body) > 0 {
			nodes, err := run(body, c, layer, nil)
			if err != nil {
				return nil, err
			}
			layer.Set(ContentVar, vdom.Root(single(nodes), statics, nil))
		}
		root, err := callee.render(c.derive(layer))
		if err != nil {
			return nil, err
		}
		return append(out, root), nil
	}
}

func (g *codegen) component(n *componentNode) step {
	return func(c *Context, sc *Scope, out []*vdom.Node) ([]*vdom.Node, error) {
		if c.Host == nil {
			return nil, fmt.Errorf("component <%s>: no component host", n.name)
		}
		props := make(map[string]any, len(n.props))
		for _, p := range n.props {
			v, err := p.value.Eval(sc)
			if err != nil {
				return nil, err
			}
			props[p.name] = v
		}
		key := ""
		if n.key != nil {
			k, err := n.key.Eval(sc)
			if err != nil {
				return nil, err
			}
			key = vdom.FormatValue(k)
		}
		node, err := c.Host.Component(n.name, key, props)
		if err != nil {
			return nil, err
		}
		return append(out, node), nil
	}
}
