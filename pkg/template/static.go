package template

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// hoister replaces static element subtrees with references into a fragment
// pool built once per template.
type hoister struct {
	pool []*html.Node
}

func (h *hoister) list(nodes []node) []node {
	for i, n := range nodes {
		nodes[i] = h.node(n)
	}
	return nodes
}

func (h *hoister) node(n node) node {
	switch n := n.(type) {
	case *elemNode:
		if isStatic(n) {
			h.pool = append(h.pool, fragment(n))
			return &staticNode{id: len(h.pool) - 1}
		}
		h.list(n.children)
	case *ifNode:
		for i := range n.branches {
			h.list(n.branches[i].body)
		}
		h.list(n.otherwise)
	case *foreachNode:
		h.list(n.body)
	case *setNode:
		h.list(n.body)
	case *outNode:
		h.list(n.def)
	case *callNode:
		h.list(n.body)
	}
	return n
}

// isStatic reports whether an element subtree carries no directive, dynamic
// attribute, handler or key.
func isStatic(n *elemNode) bool {
	if n.key != nil || len(n.atts) > 0 || len(n.attfs) > 0 || len(n.handlers) > 0 {
		return false
	}
	for _, c := range n.children {
		switch c := c.(type) {
		case *textNode, *commentNode:
		case *elemNode:
			if !isStatic(c) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// fragment builds the primitive for a static element. Attributes are laid
// out as the node model lays out mounted elements: sorted, class last.
func fragment(n *elemNode) *html.Node {
	el := &html.Node{Type: html.ElementNode, Data: n.tag, DataAtom: atom.Lookup([]byte(n.tag))}
	keys := make([]string, 0, len(n.static))
	for k := range n.static {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		el.Attr = append(el.Attr, html.Attribute{Key: k, Val: n.static[k]})
	}
	if cls := strings.Join(sortedFields(n.class), " "); cls != "" {
		el.Attr = append(el.Attr, html.Attribute{Key: "class", Val: cls})
	}
	for _, c := range n.children {
		switch c := c.(type) {
		case *textNode:
			el.AppendChild(&html.Node{Type: html.TextNode, Data: c.text})
		case *commentNode:
			el.AppendChild(&html.Node{Type: html.CommentNode, Data: c.text})
		case *elemNode:
			el.AppendChild(fragment(c))
		}
	}
	return el
}

func sortedFields(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.Fields(s) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}
