// Package localdsa supplies the LocalDSA oracle the core whole-program
// pass consumes (spec.md §1, §6). The actual per-function local
// analysis is, per spec.md, "its own design and is large" and is
// explicitly out of scope for the core; Builder below is a
// deliberately simplified stand-in that seeds one graph per function
// directly from go/ssa instructions, just faithfully enough to drive
// the splice/merge/fixpoint machinery and the scenario tests in
// spec.md §8.
package localdsa

import (
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsgraph"
)

// Oracle is the capability set the Steensgaard driver consumes from
// the local pass (spec.md §6, Design Notes "trait-like capability
// set").
type Oracle interface {
	GetDSGraph(f *ssa.Function) *dsgraph.Graph
	GetGlobalsGraph() *dsgraph.Graph
	FunctionIsCallable(cs *dsgraph.CallSite, f *ssa.Function) bool
}

var sizes = &types.StdSizes{WordSize: 8, MaxAlign: 8}
