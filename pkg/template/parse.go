package template

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// element is the raw markup tree produced by the reader, before directives
// are interpreted.
type element struct {
	name     string
	attrs    []attr
	children []markup
	line     int
}

type attr struct {
	name, value string
}

type markup interface{}

type textRun struct {
	text string
	line int
}

type commentRun struct {
	text string
	line int
}

func (e *element) attr(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

// without returns a shallow copy of e minus the named attributes.
func (e *element) without(names ...string) *element {
	cp := *e
	cp.attrs = nil
	for _, a := range e.attrs {
		drop := false
		for _, n := range names {
			if a.name == n {
				drop = true
				break
			}
		}
		if !drop {
			cp.attrs = append(cp.attrs, a)
		}
	}
	return &cp
}

// readMarkup parses src into a list of top-level nodes. The decoder runs in
// non-strict mode so value-less attributes (<t-esc name/>) are accepted; tag
// balance is checked here since RawToken does not.
func readMarkup(name, src string) ([]markup, error) {
	d := xml.NewDecoder(strings.NewReader(src))
	d.Strict = false
	d.Entity = xml.HTMLEntity

	root := &element{}
	stack := []*element{root}
	for {
		tok, err := d.RawToken()
		line, _ := d.InputPos()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &SyntaxError{Template: name, Line: line, Msg: "malformed markup", Err: err}
		}
		top := stack[len(stack)-1]
		switch t := tok.(type) {
		case xml.StartElement:
			el := &element{name: qualified(t.Name), line: line}
			for _, a := range t.Attr {
				el.attrs = append(el.attrs, attr{name: qualified(a.Name), value: a.Value})
			}
			top.children = append(top.children, el)
			stack = append(stack, el)
		case xml.EndElement:
			closing := qualified(t.Name)
			if len(stack) == 1 {
				return nil, &SyntaxError{Template: name, Line: line, Construct: "</" + closing + ">", Msg: "unexpected closing tag"}
			}
			if top.name != closing {
				return nil, &SyntaxError{Template: name, Line: line, Construct: "</" + closing + ">",
					Msg: fmt.Sprintf("does not match <%s> opened on line %d", top.name, top.line)}
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			top.children = append(top.children, &textRun{text: string(t), line: line})
		case xml.Comment:
			top.children = append(top.children, &commentRun{text: string(t), line: line})
		}
	}
	if len(stack) > 1 {
		open := stack[len(stack)-1]
		return nil, &SyntaxError{Template: name, Line: open.line, Construct: "<" + open.name + ">", Msg: "element is never closed"}
	}
	return root.children, nil
}

func qualified(n xml.Name) string {
	if n.Space != "" {
		return n.Space + ":" + n.Local
	}
	return n.Local
}

// serialize writes raw markup back out as template source.
func serialize(items []markup) string {
	var b strings.Builder
	var write func(items []markup)
	write = func(items []markup) {
		for _, item := range items {
			switch m := item.(type) {
			case *textRun:
				_ = xml.EscapeText(&b, []byte(m.text))
			case *commentRun:
				b.WriteString("<!--")
				b.WriteString(m.text)
				b.WriteString("-->")
			case *element:
				b.WriteString("<")
				b.WriteString(m.name)
				for _, a := range m.attrs {
					b.WriteString(" ")
					b.WriteString(a.name)
					b.WriteString(`="`)
					_ = xml.EscapeText(&b, []byte(a.value))
					b.WriteString(`"`)
				}
				if len(m.children) == 0 {
					b.WriteString("/>")
					continue
				}
				b.WriteString(">")
				write(m.children)
				b.WriteString("</")
				b.WriteString(m.name)
				b.WriteString(">")
			}
		}
	}
	write(items)
	return b.String()
}
