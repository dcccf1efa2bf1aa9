package surface

import "golang.org/x/net/html"

// MutationOp is the type of surface mutation.
type MutationOp uint8

const (
	OpInsert     MutationOp = 0x01 // Insert a primitive under a parent
	OpMove       MutationOp = 0x02 // Move an already attached primitive
	OpRemove     MutationOp = 0x03 // Detach a primitive from its parent
	OpSetText    MutationOp = 0x04 // Update text or comment data
	OpSetAttr    MutationOp = 0x05 // Set/update attribute
	OpRemoveAttr MutationOp = 0x06 // Remove attribute
	OpBind       MutationOp = 0x07 // Bind or rebind an event handler
	OpUnbind     MutationOp = 0x08 // Drop an event handler
)

// String returns the string representation of the MutationOp.
func (op MutationOp) String() string {
	switch op {
	case OpInsert:
		return "Insert"
	case OpMove:
		return "Move"
	case OpRemove:
		return "Remove"
	case OpSetText:
		return "SetText"
	case OpSetAttr:
		return "SetAttr"
	case OpRemoveAttr:
		return "RemoveAttr"
	case OpBind:
		return "Bind"
	case OpUnbind:
		return "Unbind"
	default:
		return "Unknown"
	}
}

// Mutation records a single change applied to the surface.
type Mutation struct {
	Seq    uint64     // Monotonic sequence number
	Op     MutationOp // Operation type
	Node   *html.Node // Primitive the operation applies to
	Parent *html.Node // Parent for Insert/Move/Remove
	Key    string     // Attribute or event name
	Value  string     // New text or attribute value
}

// Stats counts mutations by kind since the document was created.
type Stats struct {
	Insertions  int
	Moves       int
	Removals    int
	TextUpdates int
	AttrUpdates int
	Bindings    int
}

func (s *Stats) record(op MutationOp) {
	switch op {
	case OpInsert:
		s.Insertions++
	case OpMove:
		s.Moves++
	case OpRemove:
		s.Removals++
	case OpSetText:
		s.TextUpdates++
	case OpSetAttr, OpRemoveAttr:
		s.AttrUpdates++
	case OpBind, OpUnbind:
		s.Bindings++
	}
}
