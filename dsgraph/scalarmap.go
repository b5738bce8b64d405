package dsgraph

import (
	"golang.org/x/tools/go/ssa"

	"github.com/gosteens/dsa/dsnode"
)

// ScalarMap is the per-graph index from IR values to handles
// (spec.md §3.3). Looking up an absent value creates a fresh, empty
// node and binds it, so the map only ever grows.
type ScalarMap struct {
	store  *dsnode.Store
	values map[ssa.Value]dsnode.Handle
}

func newScalarMap(store *dsnode.Store) *ScalarMap {
	return &ScalarMap{store: store, values: make(map[ssa.Value]dsnode.Handle)}
}

// Get returns the handle bound to v, creating one if absent.
func (m *ScalarMap) Get(v ssa.Value) dsnode.Handle {
	if h, ok := m.values[v]; ok {
		return h
	}
	h := m.store.New()
	m.values[v] = h
	return h
}

// Lookup returns the handle bound to v without creating one.
func (m *ScalarMap) Lookup(v ssa.Value) (dsnode.Handle, bool) {
	h, ok := m.values[v]
	return h, ok
}

// Set binds v to h, overwriting any previous binding.
func (m *ScalarMap) Set(v ssa.Value, h dsnode.Handle) { m.values[v] = h }

// Len reports the number of bound values.
func (m *ScalarMap) Len() int { return len(m.values) }

// Values returns the map's live value-to-handle bindings. Callers
// must not mutate the returned map.
func (m *ScalarMap) Values() map[ssa.Value]dsnode.Handle { return m.values }
