package localdsa_test

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/gosteens/dsa/dsgraph"
	"github.com/gosteens/dsa/dsnode"
	"github.com/gosteens/dsa/localdsa"
)

func buildSSA(t *testing.T, src string) (*ssa.Package, *ssa.Program) {
	t.Helper()
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "x.go", src, parser.ParseComments)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pkg := types.NewPackage("x", "x")
	cfg := &types.Config{Importer: importer.Default()}
	ssapkg, _, err := ssautil.BuildPackage(cfg, fset, pkg, []*ast.File{f}, ssa.SanityCheckFunctions)
	if err != nil {
		t.Fatalf("build ssa: %v", err)
	}
	return ssapkg, ssapkg.Prog
}

func TestStoreLoadAlias(t *testing.T) {
	const src = `package x

func F() int {
	p := new(int)
	*p = 1
	q := p
	return *q
}
`
	ssapkg, _ := buildSSA(t, src)
	f := ssapkg.Func("F")
	if f == nil {
		t.Fatal("missing F")
	}
	b := localdsa.NewBuilder()
	g := b.GetDSGraph(f)
	if g.Store.Len() == 0 {
		t.Fatalf("expected at least one node")
	}
	var st *ssa.Store
	var ld *ssa.UnOp
	for _, blk := range f.Blocks {
		for _, instr := range blk.Instrs {
			switch in := instr.(type) {
			case *ssa.Store:
				st = in
			case *ssa.UnOp:
				if in.Op == token.MUL {
					ld = in
				}
			}
		}
	}
	if st == nil || ld == nil {
		t.Fatal("expected a store and a load in F")
	}
	stored, _ := g.Scalars.Lookup(st.Val)
	loaded, _ := g.Scalars.Lookup(ld)
	if !dsnode.SameNode(stored, loaded) {
		t.Fatalf("the loaded value should alias the value stored through the same pointer")
	}
}

func TestGetDSGraphMemoizes(t *testing.T) {
	const src = `package x

func F() int { return 1 }
`
	ssapkg, _ := buildSSA(t, src)
	f := ssapkg.Func("F")
	b := localdsa.NewBuilder()
	g1 := b.GetDSGraph(f)
	g2 := b.GetDSGraph(f)
	if g1 != g2 {
		t.Fatalf("GetDSGraph should memoize per function")
	}
}

func TestAddressTakenFunctionRecordsGlobal(t *testing.T) {
	const src = `package x

func G() int { return 2 }

func F() func() int {
	return G
}
`
	ssapkg, _ := buildSSA(t, src)
	f := ssapkg.Func("F")
	g := ssapkg.Func("G")
	b := localdsa.NewBuilder()
	fg := b.GetDSGraph(f)
	h := fg.ReturnNode(f)
	found := false
	for _, fn := range h.Node().Functions() {
		if fn == g {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected G to be recorded as an address-taken global on F's return node")
	}
}

func TestFieldAddrSharesBaseNode(t *testing.T) {
	const src = `package x

type T struct {
	A int
	B int
}

func F() int {
	t := &T{}
	t.B = 5
	return t.A
}
`
	ssapkg, _ := buildSSA(t, src)
	f := ssapkg.Func("F")
	b := localdsa.NewBuilder()
	g := b.GetDSGraph(f)
	if g.Store.Len() == 0 {
		t.Fatalf("expected nodes")
	}
	var base *ssa.Alloc
	var fields []*ssa.FieldAddr
	for _, blk := range f.Blocks {
		for _, instr := range blk.Instrs {
			switch in := instr.(type) {
			case *ssa.Alloc:
				base = in
			case *ssa.FieldAddr:
				fields = append(fields, in)
			}
		}
	}
	if base == nil || len(fields) == 0 {
		t.Fatal("expected an allocation and field addresses in F")
	}
	baseH, _ := g.Scalars.Lookup(base)
	for _, fa := range fields {
		fh, _ := g.Scalars.Lookup(fa)
		if fh.Normalize().ID != baseH.Normalize().ID {
			t.Errorf("field address %s should share the base allocation's node", fa.Name())
		}
	}
}

func TestFunctionIsCallableArity(t *testing.T) {
	const src = `package x

func F(a, b int) int { return a + b }

func Call(f func(int, int) int) int {
	return f(1, 2)
}
`
	ssapkg, _ := buildSSA(t, src)
	callFn := ssapkg.Func("Call")
	f := ssapkg.Func("F")
	b := localdsa.NewBuilder()
	g := b.GetDSGraph(callFn)
	if len(g.CallSites) != 1 {
		t.Fatalf("expected exactly one call site, got %d", len(g.CallSites))
	}
	cs := g.CallSites[0]
	if !b.FunctionIsCallable(cs, f) {
		t.Fatalf("F should be callable at the indirect call site in Call")
	}
}

func TestEmptyHandleLinkIsNoop(t *testing.T) {
	// Regression guard for dsgraph.Graph.Link: linking through an
	// empty handle must not panic or allocate a phantom edge.
	if !dsnode.Empty.IsEmpty() {
		t.Fatalf("sanity: Empty handle must report empty")
	}
	g := dsgraph.New()
	h := g.Store.New()
	g.Link(dsnode.Empty, 0, h)
	g.Link(h, 0, dsnode.Empty)
	if len(h.Node().Edges()) != 0 {
		t.Fatalf("linking through an empty handle should not add an edge")
	}
}
