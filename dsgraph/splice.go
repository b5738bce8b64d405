package dsgraph

import (
	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsnode"
)

// SpliceFrom moves every node and mapping from other into g without
// cloning (spec.md §4.2). other must not be used by anyone else
// afterward; g's node set becomes the disjoint union of the two, and
// no cross-graph handles remain. Scalar/return/vararg bindings that
// exist on both sides (the same ssa.Value touched by two different
// local graphs, which happens for globals, first-class functions, and
// closure free variables) are merged rather than overwritten.
func (g *Graph) SpliceFrom(other *Graph) {
	if other == g {
		return
	}
	oldStore := other.Store
	delta := g.Store.Grow(oldStore)

	shift := func(h dsnode.Handle) dsnode.Handle {
		if h.IsEmpty() || h.Store != oldStore {
			return h
		}
		return dsnode.Handle{Store: g.Store, ID: h.ID + delta, Offset: h.Offset}
	}

	for v, h := range other.Scalars.values {
		g.bindScalar(v, shift(h))
	}
	for f, h := range other.ReturnNodes {
		g.bindReturn(f, shift(h))
	}
	for f, h := range other.VarargNodes {
		g.bindVararg(f, shift(h))
	}
	for _, cs := range other.CallSites {
		cp := cs.clone()
		cp.translate(shift)
		g.CallSites = append(g.CallSites, cp)
	}
	for _, cs := range other.AuxCallSites {
		cp := cs.clone()
		cp.translate(shift)
		g.AuxCallSites = append(g.AuxCallSites, cp)
	}

	other.Scalars = nil
	other.ReturnNodes = nil
	other.VarargNodes = nil
	other.CallSites = nil
	other.AuxCallSites = nil
}

// CloneFlags selects which parts of a source graph CloneInto carries
// over (spec.md §4.2).
type CloneFlags struct {
	CallSites    bool
	AuxCallSites bool
	KeepAlloca   bool // if false, AllocaBit is stripped from cloned nodes
}

// CloneInto deep-copies src's nodes and mappings into g, returning the
// mapping from src's node IDs to the corresponding handles now owned
// by g.
func (g *Graph) CloneInto(src *Graph, flags CloneFlags) map[dsnode.ID]dsnode.Handle {
	mapping := make(map[dsnode.ID]dsnode.Handle, src.Store.Len())
	reps := src.Store.All()
	for _, n := range reps {
		mapping[n.ID()] = g.Store.New()
	}

	translate := func(h dsnode.Handle) dsnode.Handle {
		if h.IsEmpty() {
			return h
		}
		if h.Store != src.Store {
			// Handle into a store other than src's: not ours to
			// renumber.
			return h
		}
		norm := h.Normalize()
		dst, ok := mapping[norm.ID]
		if !ok {
			return dsnode.Empty
		}
		return dsnode.Handle{Store: g.Store, ID: dst.ID, Offset: norm.Offset}
	}

	for _, n := range reps {
		dst := g.Store.Node(mapping[n.ID()].ID)
		dst.SetSize(n.Size())
		fl := n.Flags()
		if !flags.KeepAlloca {
			fl &^= dsnode.AllocaBit
		}
		dst.SetFlags(fl)
		for _, gl := range n.Globals() {
			dst.AddGlobal(gl)
		}
		for o, ts := range n.TypeRecord() {
			for _, t := range ts {
				dst.AddTypeRaw(o, t)
			}
		}
		for o, h := range n.Edges() {
			dst.PutEdge(o, translate(h))
		}
	}

	for v, h := range src.Scalars.values {
		g.bindScalar(v, translate(h))
	}
	for f, h := range src.ReturnNodes {
		g.bindReturn(f, translate(h))
	}
	for f, h := range src.VarargNodes {
		g.bindVararg(f, translate(h))
	}
	if flags.CallSites {
		for _, cs := range src.CallSites {
			cp := cs.clone()
			cp.translate(translate)
			g.CallSites = append(g.CallSites, cp)
		}
	}
	if flags.AuxCallSites {
		for _, cs := range src.AuxCallSites {
			cp := cs.clone()
			cp.translate(translate)
			g.AuxCallSites = append(g.AuxCallSites, cp)
		}
	}
	return mapping
}

// MergeInGraph is the workhorse of call resolution (spec.md §4.2): it
// clones calleeGraph into g (a no-op when calleeGraph is already g,
// i.e. it has already been spliced in), then merges the callee's
// return, vararg, and formal-parameter handles with the call site's
// actual return, vararg, and argument handles, in order. Trailing
// extras on either side merge into the vararg handle.
func (g *Graph) MergeInGraph(cs *CallSite, callee *ssa.Function, calleeGraph *Graph) {
	if calleeGraph != g {
		g.CloneInto(calleeGraph, CloneFlags{})
	}

	retH := g.ReturnNode(callee)
	if !cs.Return.IsEmpty() {
		g.Merge(retH, cs.Return)
	}
	vaH := g.VarargNode(callee)
	if !cs.Vararg.IsEmpty() {
		g.Merge(vaH, cs.Vararg)
	}

	params := callee.Params
	n, na := len(params), len(cs.Args)
	m := n
	if na < m {
		m = na
	}
	for i := 0; i < m; i++ {
		g.Merge(g.GetNodeForValue(params[i]), cs.Args[i])
	}
	switch {
	case n > na:
		for i := na; i < n; i++ {
			g.Merge(g.GetNodeForValue(params[i]), vaH)
		}
	case na > n:
		for i := n; i < na; i++ {
			g.Merge(cs.Args[i], vaH)
		}
	}
}
