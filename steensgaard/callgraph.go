package steensgaard

import (
	"golang.org/x/tools/go/ssa"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/gosteens/dsa/dsgraph"
)

// CallGraph is the resolved output call graph (spec.md §3.5, §4.3 step
// 8): the fixpoint's final callee sets, plus the SCC partition of
// functions computed over those edges. calltarget.Finder consumes
// both to implement the §4.4 indirect-target resolution, including
// the SCC-widening step.
type CallGraph struct {
	callees    map[*dsgraph.CallSite][]*ssa.Function
	sccOf      map[*ssa.Function]int
	sccMembers [][]*ssa.Function
}

// Sites returns the call sites with resolved (possibly empty) callee
// sets, in map iteration order; the order is not stable between calls.
func (cg *CallGraph) Sites() []*dsgraph.CallSite {
	sites := make([]*dsgraph.CallSite, 0, len(cg.callees))
	for cs := range cg.callees {
		sites = append(sites, cs)
	}
	return sites
}

// RawCallees returns the fixpoint's resolved callee set for cs, before
// any SCC widening.
func (cg *CallGraph) RawCallees(cs *dsgraph.CallSite) []*ssa.Function {
	return cg.callees[cs]
}

// SCCOf returns the strongly connected component f belongs to (always
// non-empty — a function with no cyclic call partners is its own
// singleton component).
func (cg *CallGraph) SCCOf(f *ssa.Function) []*ssa.Function {
	id, ok := cg.sccOf[f]
	if !ok {
		return []*ssa.Function{f}
	}
	return cg.sccMembers[id]
}

// buildCallGraph builds a gonum directed graph over functions with one
// edge per resolved (caller, callee) pair and partitions it into SCCs
// via Tarjan's algorithm.
func buildCallGraph(functions []*ssa.Function, callees map[*dsgraph.CallSite][]*ssa.Function) *CallGraph {
	g := simple.NewDirectedGraph()
	ids := make(map[*ssa.Function]int64, len(functions))
	byID := make(map[int64]*ssa.Function, len(functions))
	for i, f := range functions {
		id := int64(i)
		ids[f] = id
		byID[id] = f
		g.AddNode(simple.Node(id))
	}

	for cs, fns := range callees {
		u, ok := ids[cs.Caller]
		if !ok {
			continue
		}
		for _, f := range fns {
			v, ok := ids[f]
			if !ok || u == v {
				continue
			}
			g.SetEdge(g.NewEdge(g.Node(u), g.Node(v)))
		}
	}

	sccOf := make(map[*ssa.Function]int, len(functions))
	var sccMembers [][]*ssa.Function
	for _, comp := range topo.TarjanSCC(g) {
		idx := len(sccMembers)
		members := make([]*ssa.Function, 0, len(comp))
		for _, n := range comp {
			if f, ok := byID[n.ID()]; ok {
				sccOf[f] = idx
				members = append(members, f)
			}
		}
		sccMembers = append(sccMembers, members)
	}

	return &CallGraph{callees: callees, sccOf: sccOf, sccMembers: sccMembers}
}
