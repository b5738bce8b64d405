// Package calltarget implements the call-target finder (spec.md §4.4):
// classifying every call site of the module as direct or indirect,
// resolving indirect sites against the Steensgaard result's call
// graph (widened by SCC membership), and publishing completeness
// counters.
package calltarget

import (
	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsgraph"
	"github.com/gosteens/dsa/dsnode"
	"github.com/gosteens/dsa/steensgaard"
)

// Finder holds the resolved per-site candidate lists and counters for
// one module's call sites.
type Finder struct {
	graph *dsgraph.Graph
	cg    *steensgaard.CallGraph

	indMap       map[*dsgraph.CallSite][]*ssa.Function
	complete     map[*dsgraph.CallSite]bool
	addressTaken map[*ssa.Function]bool

	Direct           int
	Indirect         int
	CompleteIndirect int
	CompleteEmpty    int
}

// New builds a Finder over result's graph and call graph.
func New(result *steensgaard.Result) *Finder {
	f := &Finder{
		graph:        result.Graph,
		cg:           result.CallGraph,
		indMap:       make(map[*dsgraph.CallSite][]*ssa.Function),
		complete:     make(map[*dsgraph.CallSite]bool),
		addressTaken: addressTakenFunctions(result.Graph),
	}
	f.run()
	return f
}

// addressTakenFunctions reports, among the functions bound in g's
// scalar map, those whose node was actually unified with some other
// value's node — i.e. a real aliasing edge (argument passing, a
// store, a closure binding) merged the function's identity somewhere.
// localdsa.NewBuilder seeds every package-level *ssa.Function into the
// globals graph's scalar map unconditionally, so scalar-map presence
// alone (the node carrying only its own trivial self-registration)
// cannot distinguish an address-taken function from one that is only
// ever called directly.
func addressTakenFunctions(g *dsgraph.Graph) map[*ssa.Function]bool {
	sharers := make(map[dsnode.ID]int)
	for _, h := range g.Scalars.Values() {
		if h.IsEmpty() {
			continue
		}
		sharers[h.Normalize().ID]++
	}
	taken := make(map[*ssa.Function]bool)
	for v, h := range g.Scalars.Values() {
		fn, ok := v.(*ssa.Function)
		if !ok || h.IsEmpty() {
			continue
		}
		if sharers[h.Normalize().ID] > 1 {
			taken[fn] = true
		}
	}
	return taken
}

func (f *Finder) run() {
	for _, cs := range f.cg.Sites() {
		f.classify(cs)
	}
}

func (f *Finder) classify(cs *dsgraph.CallSite) {
	if cs.IsDirect() {
		f.Direct++
		f.indMap[cs] = []*ssa.Function{cs.DirectCallee}
		f.complete[cs] = true
		return
	}

	if isNilCallee(cs) {
		f.Direct++
		f.indMap[cs] = nil
		f.complete[cs] = true
		return
	}

	f.Indirect++
	candidates := f.resolveIndirect(cs)
	f.indMap[cs] = candidates

	if cs.CalleeNode.IsEmpty() {
		f.complete[cs] = false
		return
	}
	node := cs.CalleeNode.Node()
	if node.Flags().Any(dsnode.Incomplete | dsnode.External) {
		f.complete[cs] = false
		return
	}
	f.complete[cs] = true
	if len(candidates) > 0 {
		f.CompleteIndirect++
	} else {
		f.CompleteEmpty++
	}
}

// resolveIndirect implements §4.4 step 1-2: widen the fixpoint's raw
// callee set by SCC membership, keeping only functions whose address
// has actually flowed somewhere in the graph, then separately fold in
// the caller's own SCC per the observed oddity the spec preserves for
// bug-compatibility (§4.4 step 2 does not repeat step 1's
// address-taken filter: it folds the caller in unconditionally, even
// when the caller itself is never referenced as a first-class value).
func (f *Finder) resolveIndirect(cs *dsgraph.CallSite) []*ssa.Function {
	seen := make(map[*ssa.Function]bool)
	var out []*ssa.Function
	add := func(fn *ssa.Function) {
		if seen[fn] {
			return
		}
		seen[fn] = true
		out = append(out, fn)
	}

	for _, raw := range f.cg.RawCallees(cs) {
		for _, member := range f.cg.SCCOf(raw) {
			if f.addressTaken[member] {
				add(member)
			}
		}
	}
	// Observed oddity (spec.md §9): the caller's own SCC is folded
	// into every indirect site's candidate list, unconditionally.
	// Preserved as-is for bug-compatibility rather than "fixed".
	for _, member := range f.cg.SCCOf(cs.Caller) {
		add(member)
	}
	return out
}

func isNilCallee(cs *dsgraph.CallSite) bool {
	common := cs.Instr.Common()
	if common == nil || common.Value == nil {
		return true
	}
	c, ok := common.Value.(*ssa.Const)
	return ok && c.Value == nil
}

// IsComplete reports whether cs's candidate set is fully known.
func (f *Finder) IsComplete(cs *dsgraph.CallSite) bool { return f.complete[cs] }

// Callees returns cs's resolved candidate list (direct, SCC-widened
// indirect, or empty for a call through a nil/undef value).
func (f *Finder) Callees(cs *dsgraph.CallSite) []*ssa.Function { return f.indMap[cs] }

// Sites returns every call site the finder classified.
func (f *Finder) Sites() []*dsgraph.CallSite { return f.cg.Sites() }
