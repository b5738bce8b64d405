package dsgraph

import (
	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsnode"
)

// CallSite records one call instruction's unification-relevant shape
// (spec.md §3.4): the handle reached by the called value, where its
// return lands, where a vararg slice of trailing actuals lands, and
// the handles of its ordinary arguments.
//
// DirectCallee is non-nil iff the call's target is statically known;
// CalleeNode is still populated in that case (pointing at whatever
// node the callee value itself occupies), since code that only cares
// about aliasing, not dispatch, should not have to special-case direct
// calls.
type CallSite struct {
	Caller       *ssa.Function
	Instr        ssa.CallInstruction
	CalleeNode   dsnode.Handle
	DirectCallee *ssa.Function
	Return       dsnode.Handle
	Vararg       dsnode.Handle
	Args         []dsnode.Handle
}

// IsDirect reports whether the call's target is statically known.
func (cs *CallSite) IsDirect() bool { return cs.DirectCallee != nil }

func (cs *CallSite) clone() *CallSite {
	cp := *cs
	cp.Args = append([]dsnode.Handle(nil), cs.Args...)
	return &cp
}

func (cs *CallSite) translate(t func(dsnode.Handle) dsnode.Handle) {
	cs.CalleeNode = t(cs.CalleeNode)
	cs.Return = t(cs.Return)
	cs.Vararg = t(cs.Vararg)
	for i, a := range cs.Args {
		cs.Args[i] = t(a)
	}
}
