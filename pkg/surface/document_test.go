package surface

import (
	"testing"

	"golang.org/x/net/html"
)

func TestDocumentAppendAndHTML(t *testing.T) {
	d := New()
	div := d.CreateElement("div")
	d.SetAttr(div, "class", "card")
	d.Append(div, d.CreateText("a < b"))
	d.Append(d.Body(), div)

	if got, want := d.HTML(d.Body()), `<div class="card">a &lt; b</div>`; got != want {
		t.Errorf("HTML = %q, want %q", got, want)
	}
	if !d.IsConnected(div) {
		t.Error("div should be connected")
	}
	st := d.Stats()
	if st.Insertions != 2 {
		t.Errorf("Insertions = %d, want 2", st.Insertions)
	}
}

func TestDocumentMoveIsNotInsert(t *testing.T) {
	d := New()
	a := d.CreateElement("a")
	b := d.CreateElement("b")
	d.Append(d.Body(), a)
	d.Append(d.Body(), b)
	d.InsertBefore(d.Body(), b, a)

	if got := d.HTML(d.Body()); got != "<b></b><a></a>" {
		t.Errorf("HTML = %q", got)
	}
	st := d.Stats()
	if st.Moves != 1 || st.Insertions != 2 {
		t.Errorf("stats = %+v, want 2 insertions and 1 move", st)
	}
}

func TestDocumentConnectHooks(t *testing.T) {
	d := New()
	var connected []string
	cancel := d.OnConnect(func(n *html.Node) { connected = append(connected, n.Data) })
	defer cancel()

	box := d.CreateElement("section")
	d.Append(box, d.CreateElement("p"))
	if len(connected) != 0 {
		t.Fatalf("detached insert reported connection: %v", connected)
	}

	d.Append(d.Body(), box)
	if len(connected) != 1 || connected[0] != "section" {
		t.Errorf("connected = %v, want [section]", connected)
	}

	// Moving inside the document is not a new connection.
	other := d.CreateElement("aside")
	d.Append(d.Body(), other)
	d.Append(other, box)
	if len(connected) != 2 {
		t.Errorf("connected = %v, want 2 entries", connected)
	}
}

func TestDocumentDispatchBubbles(t *testing.T) {
	d := New()
	outer := d.CreateElement("div")
	inner := d.CreateElement("button")
	d.Append(outer, inner)
	d.Append(d.Body(), outer)

	var order []string
	d.Listen(inner, "click", func(e *Event) { order = append(order, "inner") })
	d.Listen(outer, "click", func(e *Event) { order = append(order, "outer") })

	if !d.Dispatch(inner, "click", nil) {
		t.Fatal("Dispatch reported no handler")
	}
	if len(order) != 2 || order[0] != "inner" || order[1] != "outer" {
		t.Errorf("order = %v", order)
	}

	order = nil
	d.Listen(inner, "click", func(e *Event) {
		order = append(order, "replaced")
		e.StopPropagation()
	})
	d.Dispatch(inner, "click", nil)
	if len(order) != 1 || order[0] != "replaced" {
		t.Errorf("order after rebind = %v", order)
	}
}

func TestDocumentRemoveDropsListeners(t *testing.T) {
	d := New()
	btn := d.CreateElement("button")
	d.Append(d.Body(), btn)
	d.Listen(btn, "click", func(*Event) {})
	d.Remove(btn)

	if _, ok := d.Listener(btn, "click"); ok {
		t.Error("listener survived removal")
	}
	if d.IsConnected(btn) {
		t.Error("removed node still connected")
	}
}

func TestDocumentQuery(t *testing.T) {
	d := New()
	ul := d.CreateElement("ul")
	for _, id := range []string{"a", "b"} {
		li := d.CreateElement("li")
		d.SetAttr(li, "id", id)
		d.Append(ul, li)
	}
	d.Append(d.Body(), ul)

	got, err := d.Query("ul > li#b")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("matched %d nodes, want 1", len(got))
	}
	if _, err := d.Query("ul >"); err == nil {
		t.Error("expected selector error")
	}
}

func TestObserveReceivesMutations(t *testing.T) {
	d := New()
	var ops []MutationOp
	cancel := d.Observe(func(m Mutation) { ops = append(ops, m.Op) })

	txt := d.CreateText("x")
	d.Append(d.Body(), txt)
	d.SetText(txt, "y")
	d.SetText(txt, "y")
	cancel()
	d.Remove(txt)

	want := []MutationOp{OpInsert, OpSetText}
	if len(ops) != len(want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("ops[%d] = %v, want %v", i, ops[i], want[i])
		}
	}
}

func TestCloneIsDeepAndDistinct(t *testing.T) {
	d := New()
	p := d.CreateElement("p")
	d.SetAttr(p, "title", "t")
	d.Append(p, d.CreateText("hi"))

	c := Clone(p)
	if c == p || c.FirstChild == p.FirstChild {
		t.Fatal("clone shares nodes")
	}
	c.Attr[0].Val = "changed"
	if v, _ := Attr(p, "title"); v != "t" {
		t.Error("clone shares attribute storage")
	}
}
