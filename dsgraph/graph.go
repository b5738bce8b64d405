// Package dsgraph implements the DS graph (spec.md §3.4): a node
// store plus the per-graph scalar map, return/vararg maps, and
// call-site lists, together with the splice, clone, and in-graph-merge
// operations the whole-program driver composes them with.
package dsgraph

import (
	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsnode"
)

// Graph is one DS graph: either a per-function local graph, the
// globals-seed graph, or the whole-program result graph the
// Steensgaard driver builds by splicing the others together.
//
// Every node a Graph can reach lives in its own Store; there are never
// cross-Store handles inside a single graph. A package-level global or
// first-class function value referenced from two different graphs
// therefore gets two independent nodes, one per graph, each keyed by
// the same ssa.Value identity in that graph's scalar map. Reconciling
// those independent copies into one equivalence class is not this
// type's job: it happens when the graphs are combined, via
// SpliceFrom/CloneInto's merge-on-conflict scalar binding, which is
// exactly what the whole-program driver's splice loop and its later
// "clone the globals graph back in" step rely on (spec.md §4.3).
type Graph struct {
	Store        *dsnode.Store
	Scalars      *ScalarMap
	ReturnNodes  map[*ssa.Function]dsnode.Handle
	VarargNodes  map[*ssa.Function]dsnode.Handle
	CallSites    []*CallSite
	AuxCallSites []*CallSite
}

// New returns an empty graph backed by a fresh arena.
func New() *Graph {
	store := dsnode.NewStore()
	return &Graph{
		Store:       store,
		Scalars:     newScalarMap(store),
		ReturnNodes: make(map[*ssa.Function]dsnode.Handle),
		VarargNodes: make(map[*ssa.Function]dsnode.Handle),
	}
}

// GetNodeForValue returns the handle bound to v, creating an empty
// node if absent (spec.md §4.2). A *ssa.Global or *ssa.Function value
// also gets recorded into the node's global list, which is what makes
// an address-taken function a candidate indirect-call target
// (spec.md §4.4).
func (g *Graph) GetNodeForValue(v ssa.Value) dsnode.Handle {
	h := g.Scalars.Get(v)
	switch t := v.(type) {
	case *ssa.Global:
		h.Node().AddGlobal(Global{Var: t})
	case *ssa.Function:
		h.Node().AddGlobal(Global{Func: t})
	}
	return h
}

// Global is an entry in a node's global list (spec.md §3.1): either a
// function (a candidate indirect-call target) or a package-level
// variable, whose address is classified into the node.
type Global = dsnode.Global

// Link unifies the edge at offset o past addr's own offset on addr's
// node with val, creating the edge if none exists yet. This is the
// primitive the local graph builder uses to model "dereferencing addr
// at o aliases val" for stores and loads, without going through a full
// node merge.
func (g *Graph) Link(addr dsnode.Handle, o int64, val dsnode.Handle) {
	if addr.IsEmpty() || val.IsEmpty() {
		return
	}
	norm := addr.Normalize()
	n := norm.Node()
	o += norm.Offset
	if existing, ok := n.EdgeAt(o); ok {
		g.Merge(existing, val)
		return
	}
	n.PutEdge(o, val)
}

// ReturnNode returns the handle recording where f's return value
// lives in this graph, creating one if absent.
func (g *Graph) ReturnNode(f *ssa.Function) dsnode.Handle {
	if h, ok := g.ReturnNodes[f]; ok {
		return h
	}
	h := g.Store.New()
	g.ReturnNodes[f] = h
	return h
}

// VarargNode returns the handle recording where f's vararg slot lives
// in this graph, creating one if absent.
func (g *Graph) VarargNode(f *ssa.Function) dsnode.Handle {
	if h, ok := g.VarargNodes[f]; ok {
		return h
	}
	h := g.Store.New()
	g.VarargNodes[f] = h
	return h
}

// Merge unifies h1 and h2 within this graph's arena. Both handles must
// belong to this graph's Store (or be Empty); merging across graphs
// without first splicing or cloning is a programming error, per
// spec.md §7a, and Store.Merge panics accordingly.
func (g *Graph) Merge(h1, h2 dsnode.Handle) dsnode.Handle {
	return g.Store.Merge(h1, h2)
}

// AddCallSite appends a freshly-built call-site record (spec.md §3.4).
func (g *Graph) AddCallSite(cs *CallSite) { g.CallSites = append(g.CallSites, cs) }

// AddAuxCallSite appends to the auxiliary call-site list used by the
// UseAuxCalls driver mode (spec.md §4.3, "Two variants").
func (g *Graph) AddAuxCallSite(cs *CallSite) { g.AuxCallSites = append(g.AuxCallSites, cs) }

// bindScalar binds v to h, merging with any existing binding instead
// of overwriting it. Two different source graphs can independently
// allocate a node for the same ssa.Value identity (most commonly a
// package-level global, a first-class function, or a closure's free
// variable touched from both the creating and the created function);
// once both graphs are combined, those independent nodes must unify
// rather than have one silently shadow the other.
func (g *Graph) bindScalar(v ssa.Value, h dsnode.Handle) {
	existing, ok := g.Scalars.Lookup(v)
	if !ok {
		g.Scalars.Set(v, h)
		return
	}
	if existing.IsEmpty() {
		g.Scalars.Set(v, h)
		return
	}
	if !h.IsEmpty() {
		g.Scalars.Set(v, g.Merge(existing, h))
	}
}

func (g *Graph) bindReturn(f *ssa.Function, h dsnode.Handle) {
	existing, ok := g.ReturnNodes[f]
	if !ok || existing.IsEmpty() {
		g.ReturnNodes[f] = h
		return
	}
	if !h.IsEmpty() {
		g.ReturnNodes[f] = g.Merge(existing, h)
	}
}

func (g *Graph) bindVararg(f *ssa.Function, h dsnode.Handle) {
	existing, ok := g.VarargNodes[f]
	if !ok || existing.IsEmpty() {
		g.VarargNodes[f] = h
		return
	}
	if !h.IsEmpty() {
		g.VarargNodes[f] = g.Merge(existing, h)
	}
}
