package localdsa

import (
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsgraph"
	"github.com/gosteens/dsa/dsnode"
)

// sizeOf returns t's size under the word-size-8 model the node store
// uses for byte offsets, falling back to 0 if StdSizes.Sizeof panics
// on t.
func sizeOf(t types.Type) (sz int64) {
	defer func() {
		if recover() != nil {
			sz = 0
		}
	}()
	return sizes.Sizeof(t)
}

// fieldOffset returns the byte offset of field i of the struct t
// points to (or is), per go/types.StdSizes.Offsetsof.
func fieldOffset(t types.Type, i int) int64 {
	st := structUnder(t)
	if st == nil || i >= st.NumFields() {
		return 0
	}
	fields := make([]*types.Var, st.NumFields())
	for j := 0; j < st.NumFields(); j++ {
		fields[j] = st.Field(j)
	}
	offsets := sizes.Offsetsof(fields)
	if i < len(offsets) {
		return offsets[i]
	}
	return 0
}

func structUnder(t types.Type) *types.Struct {
	for {
		switch tt := t.(type) {
		case *types.Pointer:
			t = tt.Elem()
		case *types.Named:
			t = tt.Underlying()
		case *types.Struct:
			return tt
		default:
			return nil
		}
	}
}

// isPointerish reports whether values of type t can themselves carry
// pointer-like aliasing (spec.md §4.1's "Convert" edge case: only a
// pointer-to-pointer conversion, e.g. unsafe.Pointer round-trips,
// needs a DS edge; converting between numeric types never does).
func isPointerish(t types.Type) bool {
	switch tt := t.Underlying().(type) {
	case *types.Pointer, *types.Map, *types.Chan, *types.Slice, *types.Signature, *types.Interface:
		return true
	case *types.Basic:
		return tt.Kind() == types.UnsafePointer
	}
	return false
}

// shiftHandleOf returns v's node handle with offset shifted by delta,
// for modeling FieldAddr as "same node, different offset" rather than
// a separate edge hop (spec.md §4.1, field-sensitivity note).
func shiftHandleOf(g *dsgraph.Graph, v ssa.Value, delta int64) dsnode.Handle {
	h := g.GetNodeForValue(v)
	if h.IsEmpty() {
		return h
	}
	return dsnode.Handle{Store: h.Store, ID: h.ID, Offset: h.Offset + delta}
}
