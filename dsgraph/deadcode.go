package dsgraph

import (
	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsnode"
)

// DeadNodePolicy selects whether RemoveDeadNodes treats every global's
// node as a root even when nothing else reaches it.
type DeadNodePolicy int

const (
	// DropUnreachableGlobals sweeps a global's node away if nothing
	// else in the graph reaches it.
	DropUnreachableGlobals DeadNodePolicy = iota
	// KeepUnreachableGlobals keeps every node that owns a global in
	// its Globals list, reachable or not.
	KeepUnreachableGlobals
)

// roots returns the handles every node in the graph is reachable
// from by construction: the scalar map, return/vararg maps, and every
// call site's fields (spec.md §4.2).
func (g *Graph) roots() []dsnode.Handle {
	var hs []dsnode.Handle
	for _, h := range g.Scalars.values {
		hs = append(hs, h)
	}
	for _, h := range g.ReturnNodes {
		hs = append(hs, h)
	}
	for _, h := range g.VarargNodes {
		hs = append(hs, h)
	}
	for _, cs := range g.CallSites {
		hs = append(hs, cs.CalleeNode, cs.Return, cs.Vararg)
		hs = append(hs, cs.Args...)
	}
	for _, cs := range g.AuxCallSites {
		hs = append(hs, cs.CalleeNode, cs.Return, cs.Vararg)
		hs = append(hs, cs.Args...)
	}
	return hs
}

// reachableSets performs a BFS over every handle reachable from roots
// by following edges, keeping a separate set for any handle whose
// Store differs from the first one seen. It returns, per store, the
// set of reachable node IDs.
func reachableSets(roots []dsnode.Handle) map[*dsnode.Store]map[dsnode.ID]bool {
	sets := make(map[*dsnode.Store]map[dsnode.ID]bool)
	var walk func(h dsnode.Handle)
	walk = func(h dsnode.Handle) {
		if h.IsEmpty() {
			return
		}
		norm := h.Normalize()
		set, ok := sets[norm.Store]
		if !ok {
			set = make(map[dsnode.ID]bool)
			sets[norm.Store] = set
		}
		if set[norm.ID] {
			return
		}
		set[norm.ID] = true
		node := norm.Store.Node(norm.ID)
		for _, eh := range node.Edges() {
			walk(eh)
		}
	}
	for _, h := range roots {
		walk(h)
	}
	return sets
}

// MarkIncompleteNodes sets the Incomplete flag on every node
// transitively reachable from seeds through edges (spec.md §4.2). The
// caller (the Steensgaard driver) decides the seed policy — formal
// parameters of externally-visible functions, values loaded from
// external globals, return values of external callees.
func (g *Graph) MarkIncompleteNodes(seeds []dsnode.Handle) {
	for store, ids := range reachableSets(seeds) {
		for id := range ids {
			store.Node(id).SetFlags(dsnode.Incomplete)
		}
	}
}

// RemoveTriviallyDeadNodes drops nodes with no incoming references,
// no flags in {Global, External, Incomplete, Modified, Read, Unknown},
// no globals, and no non-empty type record (spec.md §4.2).
func (g *Graph) RemoveTriviallyDeadNodes() {
	refcount := g.refcounts()
	const disqualifying = dsnode.GlobalBit | dsnode.External | dsnode.Incomplete |
		dsnode.Modified | dsnode.Read | dsnode.UnknownBit
	g.compact(func(n *dsnode.Node) bool {
		if refcount[n.ID()] > 0 {
			return true
		}
		if n.Flags().Any(disqualifying) {
			return true
		}
		if len(n.Globals()) > 0 {
			return true
		}
		if len(n.TypeRecord()) > 0 {
			return true
		}
		return false
	})
}

// refcounts counts, for every node owned by this graph's own Store,
// how many references target it: edges (from any node in this graph,
// including itself) plus the scalar-map, return/vararg and call-site
// handles returned by roots.
func (g *Graph) refcounts() map[dsnode.ID]int {
	counts := make(map[dsnode.ID]int)
	for _, h := range g.roots() {
		if h.IsEmpty() || h.Store != g.Store {
			continue
		}
		counts[h.Normalize().ID]++
	}
	for _, n := range g.Store.All() {
		for _, h := range n.Edges() {
			if h.IsEmpty() || h.Store != g.Store {
				continue
			}
			norm := h.Normalize()
			counts[norm.ID]++
		}
	}
	return counts
}

// RemoveDeadNodes performs a reachability sweep from the graph's root
// set (spec.md §4.2), optionally also rooting every globally-owned
// node per policy.
func (g *Graph) RemoveDeadNodes(policy DeadNodePolicy) {
	roots := g.roots()
	if policy == KeepUnreachableGlobals {
		for _, n := range g.Store.All() {
			if len(n.Globals()) > 0 {
				roots = append(roots, dsnode.Handle{Store: g.Store, ID: n.ID()})
			}
		}
	}
	reach := reachableSets(roots)[g.Store]
	g.compact(func(n *dsnode.Node) bool { return reach[n.ID()] })
}

// compact rebuilds the graph's arena to contain only the nodes keep
// approves, renumbering every handle the graph holds (scalar map,
// return/vararg maps, call sites) to match. Handles into any other
// store pass through untouched.
func (g *Graph) compact(keep func(*dsnode.Node) bool) {
	oldStore := g.Store
	newStore := dsnode.NewStore()
	mapping := make(map[dsnode.ID]dsnode.Handle)
	for _, n := range oldStore.All() {
		if keep(n) {
			mapping[n.ID()] = newStore.New()
		}
	}

	translate := func(h dsnode.Handle) dsnode.Handle {
		if h.IsEmpty() || h.Store != oldStore {
			return h
		}
		norm := h.Normalize()
		dst, ok := mapping[norm.ID]
		if !ok {
			return dsnode.Empty
		}
		return dsnode.Handle{Store: newStore, ID: dst.ID, Offset: norm.Offset}
	}

	for _, n := range oldStore.All() {
		dstH, ok := mapping[n.ID()]
		if !ok {
			continue
		}
		dst := newStore.Node(dstH.ID)
		dst.SetSize(n.Size())
		dst.SetFlags(n.Flags())
		for _, gl := range n.Globals() {
			dst.AddGlobal(gl)
		}
		for o, ts := range n.TypeRecord() {
			for _, t := range ts {
				dst.AddTypeRaw(o, t)
			}
		}
		for o, h := range n.Edges() {
			if th := translate(h); !th.IsEmpty() || h.IsEmpty() {
				dst.PutEdge(o, th)
			}
		}
	}

	// A mapping entry whose target was dropped is omitted rather than
	// stored as Empty, so a later lookup transparently allocates a
	// fresh node instead of silently handing back a dead reference.
	newScalars := newScalarMap(newStore)
	for v, h := range g.Scalars.values {
		if th := translate(h); !th.IsEmpty() || h.IsEmpty() {
			newScalars.values[v] = th
		}
	}
	g.Scalars = newScalars

	newReturn := make(map[*ssa.Function]dsnode.Handle)
	for f, h := range g.ReturnNodes {
		if th := translate(h); !th.IsEmpty() || h.IsEmpty() {
			newReturn[f] = th
		}
	}
	g.ReturnNodes = newReturn

	newVararg := make(map[*ssa.Function]dsnode.Handle)
	for f, h := range g.VarargNodes {
		if th := translate(h); !th.IsEmpty() || h.IsEmpty() {
			newVararg[f] = th
		}
	}
	g.VarargNodes = newVararg
	for _, cs := range g.CallSites {
		cs.translate(translate)
	}
	for _, cs := range g.AuxCallSites {
		cs.translate(translate)
	}
	g.Store = newStore
}
