// Package steensgaard implements the whole-module Steensgaard-style
// unification driver (spec.md §4.3): it splices every function's local
// DS graph into one result graph, resolves indirect call sites to a
// fixpoint, and publishes the merged graph alongside a resolved call
// graph with SCC structure.
package steensgaard

import (
	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsgraph"
	"github.com/gosteens/dsa/dsnode"
	"github.com/gosteens/dsa/localdsa"
)

// DriverMode configures the few points where the source carried two
// nearly-identical driver variants (spec.md §9 "Two Steensgaard
// variants"): rather than duplicate the pass, a single driver is
// parameterized by this struct.
type DriverMode struct {
	// UseAuxCalls additionally tracks an auxiliary "still incomplete"
	// call-site list across the fixpoint, trimmed at the end to sites
	// that are still indirect and incomplete.
	UseAuxCalls bool
	// StripAllocaOnClone clears AllocaBit when cloning the globals
	// graph back in, matching the source's default clone flags.
	StripAllocaOnClone bool
	// ComputeExternalFlags runs the External/Int2Ptr/Ptr2Int
	// propagation pass (step 7). Disabling it is only useful for
	// isolating the fixpoint's behavior in tests.
	ComputeExternalFlags bool
}

// Default is the driver configuration used by cmd/dsa-analyze and the
// dsa.Analyzer: auxiliary bookkeeping off, alloca stripped from cloned
// globals, external-flag propagation on.
var Default = DriverMode{
	UseAuxCalls:          false,
	StripAllocaOnClone:   true,
	ComputeExternalFlags: true,
}

// Result is the driver's published output (spec.md §6 "Output
// interface"): the spliced, fully-resolved result graph and the
// resolved call graph over it.
type Result struct {
	Graph     *dsgraph.Graph
	CallGraph *CallGraph
}

// Run executes the whole-program driver over functions — every
// function belonging to the module under analysis, including
// declarations (functions with no body, i.e. externally defined) —
// using oracle as the LocalDSA capability set (spec.md §6). The slice
// order is taken as the caller's chosen deterministic iteration order
// (spec.md §5); callers should sort by a stable key such as qualified
// name.
func Run(functions []*ssa.Function, oracle localdsa.Oracle, mode DriverMode) *Result {
	internal := make(map[*ssa.Function]bool, len(functions))
	for _, f := range functions {
		if f.Blocks != nil {
			internal[f] = true
		}
	}

	result := dsgraph.New()

	// Step 1: anchor to a freshly-cloned globals graph.
	result.CloneInto(oracle.GetGlobalsGraph(), dsgraph.CloneFlags{})

	// Step 2: splice every non-declaration function's local graph in.
	for _, f := range functions {
		if f.Blocks == nil {
			continue
		}
		result.SpliceFrom(oracle.GetDSGraph(f))
	}

	// Step 3.
	result.RemoveTriviallyDeadNodes()
	result.MarkIncompleteNodes(collectExternalSeeds(result, functions, internal))

	// Step 4: fixpoint.
	callees := make(map[*dsgraph.CallSite][]*ssa.Function, len(result.CallSites))
	var auxSites []*dsgraph.CallSite
	if mode.UseAuxCalls {
		auxSites = append(auxSites, result.CallSites...)
	}
	for iter := 0; ; iter++ {
		changed := false
		for _, cs := range result.CallSites {
			next := candidateCallees(cs, oracle, internal)
			if !sameFunctionSet(callees[cs], next) {
				callees[cs] = next
				changed = true
			}
		}
		for _, cs := range result.CallSites {
			for _, f := range callees[cs] {
				result.MergeInGraph(cs, f, result)
			}
		}
		if !changed {
			break
		}
		if iter > len(functions)+1 {
			// Monotone growth over a finite function universe bounds
			// the number of possible iterations; exceeding it means a
			// non-monotone candidate set, a programming error.
			panic("steensgaard: fixpoint did not converge within the iteration bound")
		}
	}
	if mode.UseAuxCalls {
		auxSites = trimAuxSites(auxSites, callees)
	}

	// Step 5: erase return-node entries for internally-linked functions.
	for f := range internal {
		delete(result.ReturnNodes, f)
	}
	seeds := collectExternalSeeds(result, functions, internal)
	if mode.UseAuxCalls {
		seeds = append(seeds, auxCalleeNodeSeeds(auxSites)...)
	}
	result.MarkIncompleteNodes(seeds)

	// Step 6: clone global nodes back in, re-forming equivalence
	// classes between the pristine globals graph and whatever each
	// spliced local graph already contributed for the same identity.
	globalsFlags := dsgraph.CloneFlags{KeepAlloca: !mode.StripAllocaOnClone}
	result.CloneInto(oracle.GetGlobalsGraph(), globalsFlags)

	// Step 7: derived flags.
	if mode.ComputeExternalFlags {
		propagateFromSeeds(result, externalFlagSeeds(result), dsnode.External)
		propagateIntPtrCasts(result)
	}

	// Step 8: build the output call graph and compute SCCs.
	cg := buildCallGraph(functions, callees)

	// Step 9.
	result.RemoveDeadNodes(dsgraph.KeepUnreachableGlobals)

	return &Result{Graph: result, CallGraph: cg}
}

func candidateCallees(cs *dsgraph.CallSite, oracle localdsa.Oracle, internal map[*ssa.Function]bool) []*ssa.Function {
	if cs.IsDirect() {
		if internal[cs.DirectCallee] {
			return []*ssa.Function{cs.DirectCallee}
		}
		return nil
	}
	if cs.CalleeNode.IsEmpty() {
		return nil
	}
	var out []*ssa.Function
	for _, f := range cs.CalleeNode.Node().Functions() {
		if !internal[f] {
			continue
		}
		if oracle.FunctionIsCallable(cs, f) {
			out = append(out, f)
		}
	}
	return out
}

func sameFunctionSet(a, b []*ssa.Function) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[*ssa.Function]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if !set[f] {
			return false
		}
	}
	return true
}

func trimAuxSites(sites []*dsgraph.CallSite, callees map[*dsgraph.CallSite][]*ssa.Function) []*dsgraph.CallSite {
	var kept []*dsgraph.CallSite
	for _, cs := range sites {
		if cs.IsDirect() {
			continue
		}
		if !cs.CalleeNode.IsEmpty() && isComplete(cs.CalleeNode) {
			continue
		}
		kept = append(kept, cs)
	}
	return kept
}

func isComplete(h dsnode.Handle) bool {
	n := h.Node()
	return !n.Flags().Any(dsnode.Incomplete | dsnode.External)
}

func auxCalleeNodeSeeds(sites []*dsgraph.CallSite) []dsnode.Handle {
	var hs []dsnode.Handle
	for _, cs := range sites {
		hs = append(hs, cs.CalleeNode)
	}
	return hs
}

// collectExternalSeeds gathers the seed handles for Incomplete
// marking (spec.md §4.2 markIncompleteNodes): formal parameters (and
// free variables) of externally-visible internal functions, plus
// every actual argument and the return value of a call whose direct
// callee has no body (an externally-defined function).
func collectExternalSeeds(g *dsgraph.Graph, functions []*ssa.Function, internal map[*ssa.Function]bool) []dsnode.Handle {
	var seeds []dsnode.Handle
	mark := func(h dsnode.Handle) {
		if h.IsEmpty() {
			return
		}
		h.Node().SetFlags(dsnode.External)
		seeds = append(seeds, h)
	}
	for _, f := range functions {
		if !internal[f] || !isExternallyVisible(f) {
			continue
		}
		for _, p := range f.Params {
			mark(g.GetNodeForValue(p))
		}
		for _, fv := range f.FreeVars {
			mark(g.GetNodeForValue(fv))
		}
	}
	for _, cs := range g.CallSites {
		if cs.DirectCallee != nil && !internal[cs.DirectCallee] {
			for _, a := range cs.Args {
				mark(a)
			}
			mark(cs.Return)
		}
	}
	return seeds
}

func isExternallyVisible(f *ssa.Function) bool {
	if obj := f.Object(); obj != nil {
		return obj.Exported()
	}
	return f.Name() == "main" || f.Name() == "init"
}

func externalFlagSeeds(g *dsgraph.Graph) []dsnode.Handle {
	var hs []dsnode.Handle
	for _, n := range g.Store.All() {
		if n.Flags().Has(dsnode.External) {
			hs = append(hs, dsnode.Handle{Store: g.Store, ID: n.ID()})
		}
	}
	return hs
}

// propagateFromSeeds sets bit on every node reachable from seeds
// through edges — the same traversal shape as MarkIncompleteNodes,
// generalized to an arbitrary flag for step 7's External propagation.
func propagateFromSeeds(g *dsgraph.Graph, seeds []dsnode.Handle, bit dsnode.Flags) {
	visited := make(map[dsnode.ID]bool)
	var walk func(h dsnode.Handle)
	walk = func(h dsnode.Handle) {
		if h.IsEmpty() || h.Store != g.Store {
			return
		}
		norm := h.Normalize()
		if visited[norm.ID] {
			return
		}
		visited[norm.ID] = true
		n := norm.Node()
		n.SetFlags(bit)
		for _, eh := range n.Edges() {
			walk(eh)
		}
	}
	for _, h := range seeds {
		walk(h)
	}
}

// propagateIntPtrCasts is a seed pass: nodes that already carry
// Int2Ptr or Ptr2Int (set by the local builder when it sees a
// pointer/integer conversion) propagate that marker to every node
// reachable from them through edges, the same way External does.
func propagateIntPtrCasts(g *dsgraph.Graph) {
	var int2ptr, ptr2int []dsnode.Handle
	for _, n := range g.Store.All() {
		h := dsnode.Handle{Store: g.Store, ID: n.ID()}
		if n.Flags().Has(dsnode.Int2Ptr) {
			int2ptr = append(int2ptr, h)
		}
		if n.Flags().Has(dsnode.Ptr2Int) {
			ptr2int = append(ptr2int, h)
		}
	}
	propagateFromSeeds(g, int2ptr, dsnode.Int2Ptr)
	propagateFromSeeds(g, ptr2int, dsnode.Ptr2Int)
}
