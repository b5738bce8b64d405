package steensgaard_test

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"sort"
	"testing"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/gosteens/dsa/dsnode"
	"github.com/gosteens/dsa/localdsa"
	"github.com/gosteens/dsa/steensgaard"
)

func buildSSA(t *testing.T, src string) *ssa.Package {
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
	return ssapkg
}

func allFuncs(pkg *ssa.Package) []*ssa.Function {
	var fns []*ssa.Function
	for _, mem := range pkg.Members {
		if f, ok := mem.(*ssa.Function); ok {
			fns = append(fns, f)
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].Name() < fns[j].Name() })
	return fns
}

func firstAlloc(f *ssa.Function) *ssa.Alloc {
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if a, ok := instr.(*ssa.Alloc); ok {
				return a
			}
		}
	}
	return nil
}

func firstCall(f *ssa.Function) ssa.CallInstruction {
	for _, b := range f.Blocks {
		for _, instr := range b.Instrs {
			if c, ok := instr.(ssa.CallInstruction); ok {
				return c
			}
		}
	}
	return nil
}

// Scenario 1 (spec.md §8.1): a stored-then-loaded function pointer
// aliases the function whose address was stored, and the identity
// function's parameter and return unify through the call.
func TestScenarioStoredLoadedFunctionPointer(t *testing.T) {
	const src = `package x

var FP func(*int) *int

func foo(v *int) *int { return v }

func main() *int {
	val := new(int)
	FP = foo
	fptr := FP
	val2 := fptr(val)
	return val2
}
`
	pkg := buildSSA(t, src)
	fns := allFuncs(pkg)
	b := localdsa.NewBuilder(pkg)
	res := steensgaard.Run(fns, b, steensgaard.Default)

	main := pkg.Func("main")
	foo := pkg.Func("foo")
	val := firstAlloc(main)
	call := firstCall(main)
	valH, ok := res.Graph.Scalars.Lookup(val)
	if !ok {
		t.Fatal("missing scalar entry for val")
	}
	fooParamH, ok := res.Graph.Scalars.Lookup(foo.Params[0])
	if !ok {
		t.Fatal("missing scalar entry for foo's parameter")
	}
	if !dsnode.SameNode(valH, fooParamH) {
		t.Errorf("expected same-node(main:val, foo:v)")
	}
	val2H, ok := res.Graph.Scalars.Lookup(call.(ssa.Value))
	if !ok {
		t.Fatal("missing scalar entry for val2")
	}
	if !dsnode.SameNode(val2H, valH) {
		t.Errorf("expected same-node(main:val2, main:val)")
	}
}

// Scenario 2 (spec.md §8.2): a function pointer passed through a
// helper still aliases the actual argument it was called with.
func TestScenarioFunctionPointerThroughHelper(t *testing.T) {
	const src = `package x

func foo(v *int) *int { return v }

func call(fp func(*int) *int, v *int) *int { return fp(v) }

func main() *int {
	mval := new(int)
	mval2 := call(foo, mval)
	return mval2
}
`
	pkg := buildSSA(t, src)
	fns := allFuncs(pkg)
	b := localdsa.NewBuilder(pkg)
	res := steensgaard.Run(fns, b, steensgaard.Default)

	main := pkg.Func("main")
	foo := pkg.Func("foo")
	callFn := pkg.Func("call")

	mval := firstAlloc(main)
	mvalH, _ := res.Graph.Scalars.Lookup(mval)
	fooParamH, _ := res.Graph.Scalars.Lookup(foo.Params[0])
	if !dsnode.SameNode(mvalH, fooParamH) {
		t.Errorf("expected same-node(main:mval, foo:v)")
	}

	mainCall := firstCall(main)
	mval2H, _ := res.Graph.Scalars.Lookup(mainCall.(ssa.Value))
	if !dsnode.SameNode(mval2H, mvalH) {
		t.Errorf("expected same-node(main:mval2, main:mval)")
	}

	callCall := firstCall(callFn)
	cvalH, _ := res.Graph.Scalars.Lookup(callCall.(ssa.Value))
	if !dsnode.SameNode(cvalH, mvalH) {
		t.Errorf("expected same-node(call:cval, main:mval)")
	}
}

// Scenario 3 (spec.md §8.3): a function pointer that is itself called
// indirectly from within another indirectly-called function is only
// discovered after a second fixpoint pass — the transitive case the
// iteration bound exists to accommodate.
func TestScenarioTransitiveIndirectCallee(t *testing.T) {
	const src = `package x

func bar() {}

func call(fp func()) {
	fp()
}

func dispatch(outer func(func())) {
	outer(bar)
}

func main() {
	dispatch(call)
}
`
	pkg := buildSSA(t, src)
	fns := allFuncs(pkg)
	b := localdsa.NewBuilder(pkg)
	res := steensgaard.Run(fns, b, steensgaard.Default)

	callFn := pkg.Func("call")
	bar := pkg.Func("bar")
	cs := firstCall(callFn)
	for _, c := range res.Graph.CallSites {
		if c.Instr == cs {
			callees := res.CallGraph.RawCallees(c)
			var sawBar bool
			for _, f := range callees {
				if f == bar {
					sawBar = true
				}
			}
			if !sawBar {
				t.Errorf("expected bar discovered as a transitive callee of call's indirect site, got %v", callees)
			}
			return
		}
	}
	t.Fatal("indirect call site inside call not found")
}

// Scenario 4 (spec.md §8.4): a directly recursive call site resolves
// to exactly the function itself, callees(cs) = {f}.
func TestScenarioDirectRecursion(t *testing.T) {
	const src = `package x

func f(p *int) *int {
	if p == nil {
		return p
	}
	return f(p)
}
`
	pkg := buildSSA(t, src)
	fns := allFuncs(pkg)
	b := localdsa.NewBuilder(pkg)
	res := steensgaard.Run(fns, b, steensgaard.Default)

	f := pkg.Func("f")
	call := firstCall(f)
	cs := res.Graph.CallSites[0]
	for _, c := range res.Graph.CallSites {
		if c.Instr == call {
			cs = c
		}
	}
	callees := res.CallGraph.RawCallees(cs)
	if len(callees) != 1 || callees[0] != f {
		t.Fatalf("expected callees(cs) = {f}, got %v", callees)
	}
}

// Scenario 5 (spec.md §8.5): a pointer handed to an externally-linked
// function is marked Incomplete and External.
func TestScenarioExternallyLinkedFunction(t *testing.T) {
	const src = `package x

func extern_fn(x *int)

func main() {
	v := new(int)
	extern_fn(v)
}
`
	pkg := buildSSA(t, src)
	fns := allFuncs(pkg)
	b := localdsa.NewBuilder(pkg)
	res := steensgaard.Run(fns, b, steensgaard.Default)

	main := pkg.Func("main")
	v := firstAlloc(main)
	h, ok := res.Graph.Scalars.Lookup(v)
	if !ok {
		t.Fatal("missing scalar entry for v")
	}
	flags := h.Node().Flags()
	if !flags.Has(dsnode.Incomplete) {
		t.Errorf("expected v's node to be Incomplete")
	}
	if !flags.Has(dsnode.External) {
		t.Errorf("expected v's node to be External")
	}
}
