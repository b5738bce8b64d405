package dsnode

// Handle is the universal reference used by every client of a graph: a
// (node, offset) pair, per spec.md §3.2. Handles are value types; they
// never own the node they reference.
type Handle struct {
	Store  *Store
	ID     ID
	Offset int64
}

// Empty is the zero Handle, referencing no node.
var Empty = Handle{ID: NoID}

// IsEmpty reports whether h references no node.
func (h Handle) IsEmpty() bool { return h.Store == nil || h.ID == NoID }

// Normalize follows h's forwarding chain to its representative,
// accumulating offset deltas, and returns the canonical handle for
// the same memory: offset taken modulo the representative's size if
// it is Array, clamped into [0, size) otherwise, or always 0 if the
// representative is Folded. Every forwarded node passed on the way is
// re-pointed directly at the representative (path compression).
// Normalization is idempotent.
func (h Handle) Normalize() Handle {
	if h.IsEmpty() {
		return h
	}
	cur := h
	for {
		n := cur.Store.raw(cur.ID)
		if n.forwarding == nil {
			break
		}
		cur = Handle{
			Store:  cur.Store,
			ID:     n.forwarding.ID,
			Offset: cur.Offset + n.forwarding.Offset,
		}
	}
	// Path compression: point every node on the chain directly at rep.
	for c := h; c.ID != cur.ID; {
		n := c.Store.raw(c.ID)
		next := Handle{Store: c.Store, ID: n.forwarding.ID, Offset: c.Offset + n.forwarding.Offset}
		n.forwarding = &Handle{Store: c.Store, ID: cur.ID, Offset: cur.Offset - c.Offset}
		c = next
	}
	rep := cur.Store.raw(cur.ID)
	return Handle{Store: cur.Store, ID: cur.ID, Offset: normalizeOffset(rep, cur.Offset)}
}

func normalizeOffset(rep *Node, offset int64) int64 {
	switch {
	case rep.flags.Has(Folded):
		return 0
	case rep.size <= 0:
		return 0
	case rep.flags.Has(Array):
		o := offset % rep.size
		if o < 0 {
			o += rep.size
		}
		return o
	default:
		if offset < 0 {
			return 0
		}
		if offset >= rep.size {
			return rep.size - 1
		}
		return offset
	}
}

// Node dereferences the handle's normalized node.
func (h Handle) Node() *Node {
	n := h.Normalize()
	return n.Store.raw(n.ID)
}

// SameNode reports whether a and b normalize to the same (node,
// offset) pair — the canonical "-check-same-node" test predicate.
func SameNode(a, b Handle) bool {
	na, nb := a.Normalize(), b.Normalize()
	return na.Store == nb.Store && na.ID == nb.ID && na.Offset == nb.Offset
}
