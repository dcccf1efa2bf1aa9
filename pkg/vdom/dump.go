package vdom

import (
	"fmt"
	"strings"

	"github.com/xlab/treeprint"
)

// Dump renders a node tree as an indented outline for debugging.
func Dump(n *Node) string {
	tree := treeprint.NewWithRoot(label(n))
	if n != nil {
		dumpChildren(tree, n)
	}
	return tree.String()
}

func dumpChildren(branch treeprint.Tree, n *Node) {
	var children []*Node
	switch n.Kind {
	case KindRoot:
		if n.Child != nil {
			children = []*Node{n.Child}
		}
	case KindElement, KindMulti:
		children = n.Children
	}
	for _, c := range children {
		if c == nil {
			branch.AddNode("<nil>")
			continue
		}
		switch c.Kind {
		case KindRoot, KindElement, KindMulti:
			dumpChildren(branch.AddBranch(label(c)), c)
		default:
			branch.AddNode(label(c))
		}
	}
}

func label(n *Node) string {
	if n == nil {
		return "<nil>"
	}
	var b strings.Builder
	switch n.Kind {
	case KindElement:
		b.WriteString("<" + n.Tag)
		for _, k := range sortedKeys(n.Attrs) {
			if v, ok := attrValue(n.Attrs[k]); ok {
				fmt.Fprintf(&b, " %s=%q", k, v)
			}
		}
		if cls := n.ClassString(); cls != "" {
			fmt.Fprintf(&b, " class=%q", cls)
		}
		for _, ev := range sortedKeys(n.On) {
			b.WriteString(" on:" + ev)
		}
		b.WriteString(">")
	case KindText:
		fmt.Fprintf(&b, "Text %q", FormatValue(n.Value))
	case KindComment:
		fmt.Fprintf(&b, "Comment %q", FormatValue(n.Value))
	case KindStatic:
		fmt.Fprintf(&b, "Static #%d", n.StaticID)
	case KindRoot:
		fmt.Fprintf(&b, "Root (statics=%d)", len(n.Statics))
	default:
		b.WriteString(n.Kind.String())
	}
	if n.Key != "" {
		fmt.Fprintf(&b, " key=%q", n.Key)
	}
	return b.String()
}
