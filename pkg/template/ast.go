package template

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vango-dev/weft/pkg/template/expr"
)

// AST node types. Bodies are flat node lists: a <t> wrapper without
// directives contributes its children directly to the enclosing list.
type node interface{}

type elemNode struct {
	tag      string
	static   map[string]string // static attributes other than class
	class    string
	atts     []dynAttr
	attfs    []fmtAttr
	handlers []handler
	key      *expr.Expr
	children []node
}

type dynAttr struct {
	name  string
	value *expr.Expr
}

type fmtAttr struct {
	name  string
	parts []fmtPart
}

// fmtPart is either a literal or an expression.
type fmtPart struct {
	lit  string
	expr *expr.Expr
}

type handler struct {
	event string
	value *expr.Expr
}

type textNode struct{ text string }

type commentNode struct{ text string }

// staticNode replaces a hoisted element subtree.
type staticNode struct{ id int }

type ifNode struct {
	id        int
	branches  []branch
	otherwise []node
	hasElse   bool
}

type branch struct {
	cond *expr.Expr
	body []node
}

type foreachNode struct {
	coll *expr.Expr
	as   string
	key  *expr.Expr
	body []node
}

type setNode struct {
	name  string
	value *expr.Expr
	body  []node
}

type outNode struct {
	value *expr.Expr
	raw   bool
	def   []node
}

type callNode struct {
	target string
	body   []node
}

type componentNode struct {
	name  string
	props []dynAttr
	key   *expr.Expr
}

// builder turns raw markup into directive nodes.
type builder struct {
	name string
	ifs  int
}

func (b *builder) errorf(el *element, construct, format string, args ...any) error {
	line := 0
	if el != nil {
		line = el.line
	}
	return &SyntaxError{Template: b.name, Line: line, Construct: construct, Msg: fmt.Sprintf(format, args...)}
}

func (b *builder) compileExpr(el *element, directive, src string) (*expr.Expr, error) {
	e, err := expr.Compile(src)
	if err != nil {
		return nil, &SyntaxError{Template: b.name, Line: el.line, Construct: directive, Msg: err.Error(), Err: err}
	}
	return e, nil
}

// buildList interprets a sibling list, folding t-elif/t-else elements into
// the chain opened by the preceding t-if.
func (b *builder) buildList(items []markup) ([]node, error) {
	var (
		out  []node
		open *ifNode
	)
	for _, item := range items {
		switch m := item.(type) {
		case *textRun:
			if strings.TrimSpace(m.text) == "" {
				if strings.Contains(m.text, "\n") {
					continue
				}
			} else {
				open = nil
			}
			out = append(out, &textNode{text: m.text})

		case *commentRun:
			out = append(out, &commentNode{text: m.text})

		case *element:
			elif, isElif := m.attr("t-elif")
			_, isElse := m.attr("t-else")
			switch {
			case isElif || isElse:
				if open == nil {
					d := "t-else"
					if isElif {
						d = "t-elif"
					}
					return nil, b.errorf(m, d, "must follow an element with t-if or t-elif")
				}
				body, err := b.build(m.without("t-elif", "t-else"))
				if err != nil {
					return nil, err
				}
				if isElif {
					cond, err := b.compileExpr(m, "t-elif", elif)
					if err != nil {
						return nil, err
					}
					open.branches = append(open.branches, branch{cond: cond, body: body})
				} else {
					open.otherwise = body
					open.hasElse = true
					open = nil
				}
				continue
			}

			cond, isIf := m.attr("t-if")
			if _, loop := m.attr("t-foreach"); isIf && !loop {
				c, err := b.compileExpr(m, "t-if", cond)
				if err != nil {
					return nil, err
				}
				body, err := b.build(m.without("t-if"))
				if err != nil {
					return nil, err
				}
				b.ifs++
				open = &ifNode{id: b.ifs, branches: []branch{{cond: c, body: body}}}
				out = append(out, open)
				continue
			}
			open = nil
			nodes, err := b.build(m)
			if err != nil {
				return nil, err
			}
			out = append(out, nodes...)
		}
	}
	return out, nil
}

// build interprets one element. Directive precedence: t-foreach, t-if,
// t-call, t-set, t-esc/t-raw, then the tag itself.
func (b *builder) build(el *element) ([]node, error) {
	if coll, ok := el.attr("t-foreach"); ok {
		as, ok := el.attr("t-as")
		if !ok || as == "" {
			return nil, b.errorf(el, "t-foreach", "requires t-as")
		}
		c, err := b.compileExpr(el, "t-foreach", coll)
		if err != nil {
			return nil, err
		}
		n := &foreachNode{coll: c, as: as}
		if isComponentName(el.name) {
			// Components take the key themselves; it names the unit.
			if n.body, err = b.build(el.without("t-foreach", "t-as")); err != nil {
				return nil, err
			}
			return []node{n}, nil
		}
		if key, ok := el.attr("t-key"); ok {
			if n.key, err = b.compileExpr(el, "t-key", key); err != nil {
				return nil, err
			}
		}
		if n.body, err = b.build(el.without("t-foreach", "t-as", "t-key")); err != nil {
			return nil, err
		}
		return []node{n}, nil
	}
	if _, ok := el.attr("t-as"); ok {
		return nil, b.errorf(el, "t-as", "requires t-foreach")
	}

	if cond, ok := el.attr("t-if"); ok {
		c, err := b.compileExpr(el, "t-if", cond)
		if err != nil {
			return nil, err
		}
		body, err := b.build(el.without("t-if"))
		if err != nil {
			return nil, err
		}
		b.ifs++
		return []node{&ifNode{id: b.ifs, branches: []branch{{cond: c, body: body}}}}, nil
	}

	if target, ok := el.attr("t-call"); ok {
		if el.name != "t" {
			return nil, b.errorf(el, "t-call", "only allowed on <t>, found <%s>", el.name)
		}
		if target == "" {
			return nil, b.errorf(el, "t-call", "empty template name")
		}
		body, err := b.buildList(el.children)
		if err != nil {
			return nil, err
		}
		return []node{&callNode{target: target, body: body}}, nil
	}

	if name, ok := el.attr("t-set"); ok {
		if el.name != "t" {
			return nil, b.errorf(el, "t-set", "only allowed on <t>, found <%s>", el.name)
		}
		if name == "" {
			return nil, b.errorf(el, "t-set", "empty variable name")
		}
		n := &setNode{name: name}
		if v, ok := el.attr("t-value"); ok {
			var err error
			if n.value, err = b.compileExpr(el, "t-value", v); err != nil {
				return nil, err
			}
			return []node{n}, nil
		}
		var err error
		if n.body, err = b.buildList(el.children); err != nil {
			return nil, err
		}
		return []node{n}, nil
	}
	if _, ok := el.attr("t-value"); ok {
		return nil, b.errorf(el, "t-value", "requires t-set")
	}

	for _, d := range []string{"t-esc", "t-raw"} {
		src, ok := el.attr(d)
		if !ok {
			continue
		}
		e, err := b.compileExpr(el, d, src)
		if err != nil {
			return nil, err
		}
		def, err := b.buildList(el.children)
		if err != nil {
			return nil, err
		}
		out := &outNode{value: e, raw: d == "t-raw", def: def}
		if el.name == "t" {
			return []node{out}, nil
		}
		host := el.without(d)
		host.children = nil
		n, err := b.element(host)
		if err != nil {
			return nil, err
		}
		n.children = []node{out}
		return []node{n}, nil
	}

	switch {
	case el.name == "t-esc" || el.name == "t-raw":
		return b.outTag(el)
	case el.name == "t":
		if len(el.attrs) > 0 {
			return nil, b.errorf(el, el.attrs[0].name, "unsupported on <t>")
		}
		return b.buildList(el.children)
	case isComponentName(el.name):
		n, err := b.component(el)
		if err != nil {
			return nil, err
		}
		return []node{n}, nil
	}
	n, err := b.element(el)
	if err != nil {
		return nil, err
	}
	return []node{n}, nil
}

// outTag handles the directive tags <t-esc expr/> and <t-raw value="expr"/>.
func (b *builder) outTag(el *element) ([]node, error) {
	src, ok := el.attr("value")
	if !ok {
		if len(el.attrs) != 1 {
			return nil, b.errorf(el, "<"+el.name+">", "expects exactly one expression")
		}
		src = el.attrs[0].name
		if v := el.attrs[0].value; v != "" && v != src {
			src = v
		}
	}
	e, err := b.compileExpr(el, el.name, src)
	if err != nil {
		return nil, err
	}
	def, err := b.buildList(el.children)
	if err != nil {
		return nil, err
	}
	return []node{&outNode{value: e, raw: el.name == "t-raw", def: def}}, nil
}

func (b *builder) component(el *element) (*componentNode, error) {
	n := &componentNode{name: el.name}
	for _, a := range el.attrs {
		if a.name == "t-key" {
			k, err := b.compileExpr(el, "t-key", a.value)
			if err != nil {
				return nil, err
			}
			n.key = k
			continue
		}
		if strings.HasPrefix(a.name, "t-") {
			return nil, b.errorf(el, a.name, "unsupported on component <%s>", el.name)
		}
		v, err := b.compileExpr(el, a.name, a.value)
		if err != nil {
			return nil, err
		}
		n.props = append(n.props, dynAttr{name: a.name, value: v})
	}
	if len(el.children) > 0 {
		kids, err := b.buildList(el.children)
		if err != nil {
			return nil, err
		}
		if len(kids) > 0 {
			return nil, b.errorf(el, "<"+el.name+">", "component placeholders take no body")
		}
	}
	return n, nil
}

func (b *builder) element(el *element) (*elemNode, error) {
	n := &elemNode{tag: el.name}
	for _, a := range el.attrs {
		var err error
		switch {
		case a.name == "class":
			n.class = a.value
		case a.name == "t-key":
			n.key, err = b.compileExpr(el, a.name, a.value)
		case strings.HasPrefix(a.name, "t-att-"):
			var v *expr.Expr
			if v, err = b.compileExpr(el, a.name, a.value); err == nil {
				n.atts = append(n.atts, dynAttr{name: strings.TrimPrefix(a.name, "t-att-"), value: v})
			}
		case strings.HasPrefix(a.name, "t-attf-"):
			var parts []fmtPart
			if parts, err = b.format(el, a.name, a.value); err == nil {
				n.attfs = append(n.attfs, fmtAttr{name: strings.TrimPrefix(a.name, "t-attf-"), parts: parts})
			}
		case strings.HasPrefix(a.name, "t-on-"):
			var v *expr.Expr
			if v, err = b.compileExpr(el, a.name, a.value); err == nil {
				n.handlers = append(n.handlers, handler{event: strings.TrimPrefix(a.name, "t-on-"), value: v})
			}
		case strings.HasPrefix(a.name, "t-"):
			err = b.errorf(el, a.name, "unknown directive")
		default:
			if n.static == nil {
				n.static = make(map[string]string)
			}
			n.static[a.name] = a.value
		}
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(n.handlers, func(i, j int) bool { return n.handlers[i].event < n.handlers[j].event })
	kids, err := b.buildList(el.children)
	if err != nil {
		return nil, err
	}
	n.children = kids
	return n, nil
}

// format splits "a {{x}} b" (or "#{x}") into literal and expression parts.
func (b *builder) format(el *element, directive, s string) ([]fmtPart, error) {
	var parts []fmtPart
	for s != "" {
		i, open, close := nextPlaceholder(s)
		if i < 0 {
			parts = append(parts, fmtPart{lit: s})
			break
		}
		if i > 0 {
			parts = append(parts, fmtPart{lit: s[:i]})
		}
		rest := s[i+len(open):]
		j := strings.Index(rest, close)
		if j < 0 {
			return nil, b.errorf(el, directive, "unterminated %s", open)
		}
		e, err := b.compileExpr(el, directive, rest[:j])
		if err != nil {
			return nil, err
		}
		parts = append(parts, fmtPart{expr: e})
		s = rest[j+len(close):]
	}
	return parts, nil
}

func nextPlaceholder(s string) (int, string, string) {
	i := strings.Index(s, "{{")
	k := strings.Index(s, "#{")
	switch {
	case i < 0 && k < 0:
		return -1, "", ""
	case k >= 0 && (i < 0 || k < i):
		return k, "#{", "}"
	default:
		return i, "{{", "}}"
	}
}

func isComponentName(tag string) bool {
	r, _ := utf8.DecodeRuneInString(tag)
	return unicode.IsUpper(r)
}
