package vdom

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/vango-dev/weft/pkg/surface"
	"golang.org/x/net/html"
)

// Kind is the node type discriminator.
type Kind uint8

const (
	KindRoot    Kind = iota // Child plus hooks and a static fragment pool
	KindElement             // <div>, <button>, etc.
	KindText                // Text run
	KindComment             // <!-- comment -->
	KindMulti               // Siblings without a wrapper
	KindStatic              // Clone of a pre-built fragment
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "Root"
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	case KindComment:
		return "Comment"
	case KindMulti:
		return "Multi"
	case KindStatic:
		return "Static"
	default:
		return "Unknown"
	}
}

// Hooks are the lifecycle callbacks carried by a Root.
type Hooks struct {
	// Create is called once, after the Root's child is first attached.
	// first is the first primitive of the child.
	Create func(first *html.Node)
}

// Node is the rendered tree node. Which fields are meaningful depends on
// Kind; see the constructors.
type Node struct {
	Kind Kind

	Tag   string                     // Element
	Key   string                     // identity among siblings
	Attrs map[string]any             // Element attributes (static and dynamic)
	Class map[string]bool            // Element class-name set
	On    map[string]surface.Handler // Element event handlers

	Children []*Node // Element, Multi
	Child    *Node   // Root

	Value any // Text and Comment payload

	StaticID int           // Static: index into the enclosing Root's pool
	Statics  []*html.Node  // Root: static fragment pool
	Hooks    *Hooks        // Root

	handle  *html.Node // materialized primitive, or the Multi anchor
	frag    *html.Node // Static: fragment the handle was cloned from
	created bool       // Root: Create hook already fired
}

// Root wraps child with a static pool and hooks.
func Root(child *Node, statics []*html.Node, hooks *Hooks) *Node {
	return &Node{Kind: KindRoot, Child: child, Statics: statics, Hooks: hooks}
}

// Element creates an element node.
func Element(tag string, children ...*Node) *Node {
	return &Node{Kind: KindElement, Tag: tag, Children: children}
}

// Text creates a text node from a string or number.
func Text(v any) *Node {
	return &Node{Kind: KindText, Value: v}
}

// Comment creates a comment node.
func Comment(s string) *Node {
	return &Node{Kind: KindComment, Value: s}
}

// Multi groups siblings without a wrapping element.
func Multi(children ...*Node) *Node {
	return &Node{Kind: KindMulti, Children: children}
}

// Static references fragment id of the enclosing Root's pool.
func Static(id int) *Node {
	return &Node{Kind: KindStatic, StaticID: id}
}

// WithKey sets the identity key and returns the node.
func (n *Node) WithKey(key string) *Node {
	n.Key = key
	return n
}

// SetAttr sets an attribute and returns the node.
func (n *Node) SetAttr(name string, v any) *Node {
	if n.Attrs == nil {
		n.Attrs = make(map[string]any)
	}
	n.Attrs[name] = v
	return n
}

// AddClass adds class names (space separated) to the class set.
func (n *Node) AddClass(names string) *Node {
	for _, c := range strings.Fields(names) {
		if n.Class == nil {
			n.Class = make(map[string]bool)
		}
		n.Class[c] = true
	}
	return n
}

// Handle binds an event handler and returns the node.
func (n *Node) Handle(event string, h surface.Handler) *Node {
	if n.On == nil {
		n.On = make(map[string]surface.Handler)
	}
	n.On[event] = h
	return n
}

// Copy returns an unmounted deep copy of n without lifecycle hooks.
// Attribute, class and handler maps are shared.
func (n *Node) Copy() *Node {
	if n == nil {
		return nil
	}
	cp := &Node{
		Kind:     n.Kind,
		Tag:      n.Tag,
		Key:      n.Key,
		Attrs:    n.Attrs,
		Class:    n.Class,
		On:       n.On,
		Value:    n.Value,
		StaticID: n.StaticID,
		Statics:  n.Statics,
		Child:    n.Child.Copy(),
	}
	if n.Children != nil {
		cp.Children = make([]*Node, len(n.Children))
		for i, c := range n.Children {
			cp.Children[i] = c.Copy()
		}
	}
	return cp
}

// Primitive returns the materialized primitive owned by the node: the
// element, text or comment for those kinds, the cloned fragment for Static
// and the trailing anchor for Multi. It is nil until the node is mounted.
func (n *Node) Primitive() *html.Node {
	if n == nil {
		return nil
	}
	if n.Kind == KindRoot {
		return n.Child.Primitive()
	}
	return n.handle
}

// Mounted reports whether the node currently owns materialized primitives.
func (n *Node) Mounted() bool {
	if n == nil {
		return false
	}
	if n.Kind == KindRoot {
		return n.Child.Mounted()
	}
	return n.handle != nil
}

// Primitives returns the top-level primitives occupied by the node in
// document order.
func (n *Node) Primitives() []*html.Node {
	return n.appendPrimitives(nil)
}

func (n *Node) appendPrimitives(dst []*html.Node) []*html.Node {
	if n == nil {
		return dst
	}
	switch n.Kind {
	case KindRoot:
		return n.Child.appendPrimitives(dst)
	case KindMulti:
		for _, c := range n.Children {
			dst = c.appendPrimitives(dst)
		}
		if n.handle != nil {
			dst = append(dst, n.handle)
		}
		return dst
	default:
		if n.handle != nil {
			dst = append(dst, n.handle)
		}
		return dst
	}
}

func (n *Node) firstPrimitive() *html.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindRoot:
		return n.Child.firstPrimitive()
	case KindMulti:
		for _, c := range n.Children {
			if p := c.firstPrimitive(); p != nil {
				return p
			}
		}
		return n.handle
	default:
		return n.handle
	}
}

// ClassString returns the class attribute value (sorted names).
func (n *Node) ClassString() string {
	if len(n.Class) == 0 {
		return ""
	}
	names := make([]string, 0, len(n.Class))
	for name, on := range n.Class {
		if on {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, " ")
}

// FormatValue converts a text payload or attribute value to a string.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// attrValue converts an attribute value to its surface form. The second
// result is false when the attribute should be absent.
func attrValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case bool:
		return "", val
	default:
		return FormatValue(v), true
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
