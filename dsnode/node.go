// Package dsnode implements the DS-node data model described in the
// core specification: an arena of union-find equivalence classes of
// memory objects, reached through Handles, and merged by Store.Merge.
//
// The arena is the authority for node identity: nodes never move
// between Stores, and a Handle is only meaningful relative to the
// Store that created it. Merging handles from different Stores is a
// programming error (see Store.Merge).
package dsnode

import (
	"go/types"

	"golang.org/x/tools/go/ssa"
)

// ID identifies a node within a single Store's arena.
type ID int

// NoID is the zero value of an absent node reference.
const NoID ID = -1

// Flags is the bitset of per-node markers from spec.md §3.1.
type Flags uint16

const (
	Incomplete Flags = 1 << iota
	External
	AllocaBit
	HeapBit
	GlobalBit
	UnknownBit
	Int2Ptr
	Ptr2Int
	Folded
	Modified
	Read
	Array
)

// Has reports whether all bits in mask are set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Any reports whether any bit in mask is set.
func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

// Global is the ordered-set payload of a node's global list: either a
// function (address-taken, and thus a candidate indirect-call target)
// or a package-level variable.
type Global struct {
	Func *ssa.Function
	Var  *ssa.Global
}

func (g Global) identity() interface{} {
	if g.Func != nil {
		return g.Func
	}
	return g.Var
}

// Node is one equivalence class of memory objects. Representative
// nodes (Forwarding == nil) carry live state; forwarded nodes have
// been merged away and retain only the forwarding link.
type Node struct {
	id         ID
	store      *Store // weak back-reference, never ownership
	size       int64
	types      map[int64][]types.Type
	flags      Flags
	edges      map[int64]Handle
	globals    []Global
	forwarding *Handle
}

// ID returns the node's identity within its Store. Callers should
// prefer normalizing a Handle rather than comparing raw IDs, since a
// forwarded node's ID is stale.
func (n *Node) ID() ID { return n.id }

// Size returns the node's known size in bytes, or 0 if unknown,
// collapsed, or folded.
func (n *Node) Size() int64 { return n.size }

// Flags returns the node's current flag bits.
func (n *Node) Flags() Flags { return n.flags }

// SetFlags ORs bits into the node's flag set.
func (n *Node) SetFlags(bits Flags) { n.flags |= bits }

// IsForwarded reports whether the node has been merged into another.
func (n *Node) IsForwarded() bool { return n.forwarding != nil }

// Globals returns the node's ordered, de-duplicated global list.
func (n *Node) Globals() []Global { return n.globals }

// Functions returns the subset of Globals that are functions, in
// insertion order. This is the set consulted when resolving an
// indirect call site against this node (spec.md §4.4).
func (n *Node) Functions() []*ssa.Function {
	var fns []*ssa.Function
	for _, g := range n.globals {
		if g.Func != nil {
			fns = append(fns, g.Func)
		}
	}
	return fns
}

// AddGlobal inserts g into the node's global list if not already
// present, preserving insertion order (spec.md §4.1 step 6).
func (n *Node) AddGlobal(g Global) {
	id := g.identity()
	for _, existing := range n.globals {
		if existing.identity() == id {
			return
		}
	}
	n.globals = append(n.globals, g)
}

// TypeAt returns the set of types recorded at byte offset o.
func (n *Node) TypeAt(o int64) []types.Type { return n.types[o] }

// TypeRecord returns the node's raw offset-to-type-set record. Callers
// must not mutate the returned map.
func (n *Node) TypeRecord() map[int64][]types.Type { return n.types }

// SetSize overwrites the node's recorded size. Used when building or
// cloning a node directly; Store.Merge grows size through its own
// monotonic logic instead of calling this.
func (n *Node) SetSize(sz int64) { n.size = sz }

// PutEdge installs h verbatim at offset o, overwriting any existing
// edge. Used when building or cloning a node directly; Store.Merge
// unifies rather than overwrites when an edge already exists.
func (n *Node) PutEdge(o int64, h Handle) {
	if n.edges == nil {
		n.edges = make(map[int64]Handle)
	}
	n.edges[o] = h
}

// AddTypeRaw appends typ to the type set at offset o without the
// conflict-folding check installType performs. Used when copying an
// already-consistent type record from one node to another.
func (n *Node) AddTypeRaw(o int64, t types.Type) {
	if n.types == nil {
		n.types = make(map[int64][]types.Type)
	}
	n.types[o] = append(n.types[o], t)
}

// EdgeAt returns the stored (un-normalized) handle at offset o, and
// whether one exists.
func (n *Node) EdgeAt(o int64) (Handle, bool) {
	h, ok := n.edges[o]
	return h, ok
}

// Edges returns the node's raw offset-to-handle edge map. Callers must
// not mutate the returned map.
func (n *Node) Edges() map[int64]Handle { return n.edges }

// installType records that typ may live at offset o, folding the node
// completely if it conflicts with an already-recorded, different
// primitive type at the same offset o (spec.md §4.1 step 8). Types
// recorded at other offsets are not compared, even if their extents
// overlap.
//
// Returns true if installation caused a fold (in which case the
// caller must stop processing further type entries for this merge,
// since the node's type record is now empty by invariant).
func (n *Node) installType(o int64, typ types.Type) bool {
	for _, existing := range n.types[o] {
		if types.Identical(existing, typ) {
			return false
		}
		if isPrimitive(existing) && isPrimitive(typ) && !types.Identical(existing, typ) {
			n.store.foldNodeCompletely(n)
			return true
		}
	}
	if n.types == nil {
		n.types = make(map[int64][]types.Type)
	}
	n.types[o] = append(n.types[o], typ)
	return false
}

func isPrimitive(t types.Type) bool {
	b, ok := t.Underlying().(*types.Basic)
	return ok && b.Info()&types.IsUntyped == 0
}
