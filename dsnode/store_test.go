package dsnode_test

import (
	"testing"

	"github.com/gosteens/dsa/dsnode"
)

func TestMergeIdempotent(t *testing.T) {
	s := dsnode.NewStore()
	a, b := s.New(), s.New()
	r1 := s.Merge(a, b)
	r2 := s.Merge(a, b)
	if !dsnode.SameNode(r1, r2) {
		t.Fatalf("merge not idempotent: %v != %v", r1, r2)
	}
	if !dsnode.SameNode(a, b) {
		t.Fatalf("a and b should normalize together after merge")
	}
}

func TestMergeCommutative(t *testing.T) {
	s1, s2 := dsnode.NewStore(), dsnode.NewStore()
	a1, b1 := s1.New(), s1.New()
	a2, b2 := s2.New(), s2.New()

	r1 := s1.Merge(a1, b1)
	r2 := s2.Merge(b2, a2)

	if r1.Node().Size() != r2.Node().Size() {
		t.Fatalf("commutative merge should produce structurally equivalent nodes")
	}
	if !dsnode.SameNode(a1, b1) || !dsnode.SameNode(a2, b2) {
		t.Fatalf("both merges should unify their pair")
	}
}

func TestMergeAssociative(t *testing.T) {
	run := func(order func(s *dsnode.Store, a, b, c dsnode.Handle)) bool {
		s := dsnode.NewStore()
		a, b, c := s.New(), s.New(), s.New()
		order(s, a, b, c)
		return dsnode.SameNode(a, b) && dsnode.SameNode(b, c)
	}

	orderings := []func(s *dsnode.Store, a, b, c dsnode.Handle){
		func(s *dsnode.Store, a, b, c dsnode.Handle) { s.Merge(a, b); s.Merge(b, c) },
		func(s *dsnode.Store, a, b, c dsnode.Handle) { s.Merge(b, c); s.Merge(a, b) },
		func(s *dsnode.Store, a, b, c dsnode.Handle) { s.Merge(a, c); s.Merge(a, b) },
	}
	for i, o := range orderings {
		if !run(o) {
			t.Fatalf("ordering %d: final equivalence class differs", i)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	s := dsnode.NewStore()
	a, b, c := s.New(), s.New(), s.New()
	s.Merge(a, b)
	s.Merge(b, c)

	n1 := a.Normalize()
	n2 := n1.Normalize()
	if n1 != n2 {
		t.Fatalf("normalizing a normalized handle changed it: %v -> %v", n1, n2)
	}
}

func TestMergeSameNodeDifferentOffsetFolds(t *testing.T) {
	s := dsnode.NewStore()
	a := s.New()
	s.Node(a.ID).SetSize(16) // a size-0 node normalizes every offset to 0
	b := dsnode.Handle{Store: a.Store, ID: a.ID, Offset: 8}
	r := s.Merge(a, b)
	if !r.Node().Flags().Has(dsnode.Folded) {
		t.Fatalf("merging two offsets of the same node should fold it")
	}
}

func TestMergeOfEmptyHandleIsNoop(t *testing.T) {
	s := dsnode.NewStore()
	a := s.New()
	r := s.Merge(a, dsnode.Empty)
	if !dsnode.SameNode(r, a) {
		t.Fatalf("merging with an empty handle should return the other side unchanged")
	}
}

func TestMergeAcrossStoresPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic merging handles from different stores")
		}
	}()
	s1, s2 := dsnode.NewStore(), dsnode.NewStore()
	s1.Merge(s1.New(), s2.New())
}

func TestEdgeUnificationRecurses(t *testing.T) {
	s := dsnode.NewStore()
	a, b := s.New(), s.New()
	targetA, targetB := s.New(), s.New()

	aNode := s.Node(a.ID)
	aNode.PutEdge(0, targetA)
	bNode := s.Node(b.ID)
	bNode.PutEdge(0, targetB)

	s.Merge(a, b)
	if !dsnode.SameNode(targetA, targetB) {
		t.Fatalf("merging nodes with edges at the same offset should unify their targets")
	}
}
