package dsnode

import "fmt"

// Store is the arena owning every Node created within one DS graph.
// It implements the union-find merge at the heart of the analysis.
// Nodes never move between Stores; Merge panics if given handles from
// two different Stores, since that is always a programming error
// (spec.md §7a) — graphs must be spliced or cloned together first.
type Store struct {
	nodes []*Node
}

// NewStore returns an empty arena.
func NewStore() *Store {
	return &Store{}
}

// New allocates a fresh, empty, unfolded node and returns a handle to
// it at offset 0.
func (s *Store) New() Handle {
	n := &Node{store: s, edges: make(map[int64]Handle)}
	n.id = ID(len(s.nodes))
	s.nodes = append(s.nodes, n)
	return Handle{Store: s, ID: n.id}
}

// Len returns the number of nodes ever allocated in the arena,
// including forwarded ones.
func (s *Store) Len() int { return len(s.nodes) }

// Node returns the raw (possibly forwarded) node for id. Most callers
// should go through a Handle's Normalize/Node instead.
func (s *Store) Node(id ID) *Node { return s.raw(id) }

// All returns every representative (non-forwarded) node currently in
// the arena, in ID order — the stable iteration order the determinism
// requirement in spec.md §5 relies on.
func (s *Store) All() []*Node {
	var out []*Node
	for _, n := range s.nodes {
		if n.forwarding == nil {
			out = append(out, n)
		}
	}
	return out
}

func (s *Store) raw(id ID) *Node {
	if id < 0 || int(id) >= len(s.nodes) {
		panic(fmt.Sprintf("dsnode: invalid node id %d (arena size %d)", id, len(s.nodes)))
	}
	return s.nodes[id]
}

// Grow extends the arena by absorbing nodes from other, offsetting
// every ID so they remain distinct. It is the primitive beneath
// dsgraph.Graph.SpliceFrom: other must not be used again afterward.
// Returns the ID delta applied, so the caller can renumber any
// handles it still holds into other's old namespace.
func (s *Store) Grow(other *Store) ID {
	delta := ID(len(s.nodes))
	for _, n := range other.nodes {
		n.store = s
		n.id += delta
		for o, h := range n.edges {
			if h.Store == other {
				n.edges[o] = Handle{Store: s, ID: h.ID + delta, Offset: h.Offset}
			}
		}
		if n.forwarding != nil && n.forwarding.Store == other {
			n.forwarding = &Handle{Store: s, ID: n.forwarding.ID + delta, Offset: n.forwarding.Offset}
		}
	}
	s.nodes = append(s.nodes, other.nodes...)
	other.nodes = nil
	return delta
}

// Merge unifies h1 and h2 so that, afterward, both normalize to the
// same (representative, offset) pair and every fact known about
// either input is known about the representative (spec.md §4.1).
// Merge is total: it never fails except by panicking on programming
// errors (cross-store handles) or by the Go runtime's own
// out-of-memory behavior.
func (s *Store) Merge(h1, h2 Handle) Handle {
	if h1.IsEmpty() {
		return h2.Normalize()
	}
	if h2.IsEmpty() {
		return h1.Normalize()
	}
	if h1.Store != s || h2.Store != s {
		panic("dsnode: merge of handles from a different Store")
	}
	n1, n2 := h1.Normalize(), h2.Normalize()

	if n1.ID == n2.ID {
		if n1.Offset != n2.Offset {
			s.foldNodeCompletely(s.raw(n1.ID))
			return Handle{Store: s, ID: n1.ID, Offset: 0}
		}
		return n1
	}

	rep, sub := s.raw(n1.ID), s.raw(n2.ID)
	repOff, subOff := n1.Offset, n2.Offset
	if subWins(sub, rep, n2.ID, n1.ID) {
		rep, sub = sub, rep
		repOff, subOff = subOff, repOff
	}
	delta := repOff - subOff

	array := rep.flags.Has(Array) || sub.flags.Has(Array)
	if array {
		rep.flags |= Array
	}
	need := subOff2Size(sub.size, delta)
	if need > rep.size && !array {
		if overlapsConflictingField(rep, rep.size, need) {
			s.foldNodeCompletely(rep)
		} else {
			rep.size = need
		}
	} else if need > rep.size {
		rep.size = need
	}

	rep.flags |= sub.flags &^ Folded
	for _, g := range sub.globals {
		rep.AddGlobal(g)
	}

	edges := sub.edges
	types := sub.types

	sub.forwarding = &Handle{Store: s, ID: rep.id, Offset: delta}
	sub.edges = nil
	sub.globals = nil
	sub.types = nil
	sub.size = 0
	sub.flags = 0

	for o, h := range edges {
		ro := o + delta
		cur, ok := rep.edges[ro]
		if !ok {
			if rep.edges == nil {
				rep.edges = make(map[int64]Handle)
			}
			rep.edges[ro] = h
			continue
		}
		merged := s.Merge(cur, h)
		rep = Handle{Store: s, ID: rep.id}.Node() // rep may itself have been folded/forwarded by a nested merge
		if rep.edges == nil {
			rep.edges = make(map[int64]Handle)
		}
		rep.edges[ro] = merged
	}

	for o, ts := range types {
		for _, t := range ts {
			if rep.flags.Has(Folded) {
				break
			}
			if rep.installType(o+delta, t) {
				rep = s.raw(rep.id)
			}
		}
	}

	result := Handle{Store: s, ID: rep.id, Offset: repOff}
	return result.Normalize()
}

func subOff2Size(size, delta int64) int64 {
	n := size + delta
	if n < 0 {
		return 0
	}
	return n
}

// overlapsConflictingField is a conservative check for step 5 of the
// merge algorithm: growing rep's size is only refused (in favor of a
// full fold) when rep's type record already has an entry at an offset
// inside the range [oldSize, newSize) that the growth would add. In
// practice this almost never fires for well-typed SSA input; it exists
// to make the invariant in spec.md §4.1 step 5 checkable.
func overlapsConflictingField(rep *Node, oldSize, newSize int64) bool {
	for o := range rep.types {
		if o >= oldSize && o < newSize {
			return true
		}
	}
	return false
}

// subWins reports whether a should become the representative instead
// of b, per spec.md §4.1 step 3: larger size wins; ties keep the
// first-seen (lower ID) node as representative.
func subWins(a, b *Node, aID, bID ID) bool {
	if a.size != b.size {
		return a.size > b.size
	}
	return aID < bID
}

// foldNodeCompletely collapses n's internal structure to a single
// offset-0 edge (spec.md §4.1 "Folding"): size reset to 0, type record
// cleared, and every existing edge merged pairwise into the one
// surviving offset-0 edge.
func (s *Store) foldNodeCompletely(n *Node) {
	if n.flags.Has(Folded) {
		return
	}
	edges := n.edges
	n.edges = nil
	n.types = nil
	n.size = 0
	n.flags |= Folded

	var collapsed Handle = Empty
	for _, h := range edges {
		if collapsed.IsEmpty() {
			collapsed = h
			continue
		}
		collapsed = s.Merge(collapsed, h)
		n = s.raw(n.id)
		if n.forwarding != nil {
			// n itself got merged away while folding its own edges;
			// re-resolve to the live representative.
			rep := n
			for rep.forwarding != nil {
				rep = s.raw(rep.forwarding.ID)
			}
			n = rep
		}
	}
	if !collapsed.IsEmpty() {
		if n.edges == nil {
			n.edges = make(map[int64]Handle)
		}
		n.edges[0] = collapsed
	}
	n.flags |= Folded
}
