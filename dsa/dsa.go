// Package dsa wraps the unification-based whole-program pointer
// analysis (localdsa, steensgaard, calltarget) as a go/analysis.Analyzer,
// mirroring the structure of the teacher's knil.Analyzer: a small Run
// function driven by buildssa.Analyzer's SSA, reporting one diagnostic
// per indirect call site it can say something useful about.
package dsa

import (
	"reflect"
	"sort"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/buildssa"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/gosteens/dsa/calltarget"
	"github.com/gosteens/dsa/dsgraph"
	"github.com/gosteens/dsa/localdsa"
	"github.com/gosteens/dsa/steensgaard"
)

const doc = `report resolved targets of indirect function calls

dsa runs a unification-based (Steensgaard-style) whole-program pointer
analysis over the SSA form of the package under analysis and every
function reachable from it, then reports, for each indirect call site
declared in the package, the set of functions whose address may reach
that site. A call site whose candidate set cannot be bounded (because
a pointer escaped to an externally-linked function) is reported as
incomplete rather than silently under-approximated.
`

// Analyzer is the dsa go/analysis.Analyzer.
var Analyzer = &analysis.Analyzer{
	Name:       "dsa",
	Doc:        doc,
	Run:        run,
	Requires:   []*analysis.Analyzer{buildssa.Analyzer},
	ResultType: reflect.TypeOf(Result{}),
}

// Result is what Analyzer publishes to dependent analyzers via
// pass.ResultOf: the full steensgaard.Result and calltarget.Finder,
// so a downstream analyzer (or cmd/dsa-analyze, run standalone without
// the go/analysis driver) can reuse the resolved graph instead of
// recomputing it.
type Result struct {
	Graph  *steensgaard.Result
	Finder *calltarget.Finder
}

func run(pass *analysis.Pass) (interface{}, error) {
	ssainput := pass.ResultOf[buildssa.Analyzer].(*buildssa.SSA)
	prog := ssainput.Pkg.Prog

	all := ssautil.AllFunctions(prog)
	fns := make([]*ssa.Function, 0, len(all))
	for f := range all {
		fns = append(fns, f)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })

	builder := localdsa.NewBuilder(packagesOf(fns)...)
	result := steensgaard.Run(fns, builder, steensgaard.Default)
	finder := calltarget.New(result)

	for _, cs := range finder.Sites() {
		if cs.IsDirect() {
			continue
		}
		if cs.Caller.Pkg != ssainput.Pkg {
			continue
		}
		if isIgnored(cs.Caller) {
			continue
		}
		report(pass, cs, finder)
	}

	return Result{Graph: result, Finder: finder}, nil
}

func report(pass *analysis.Pass, cs *dsgraph.CallSite, finder *calltarget.Finder) {
	names := calleeNames(finder.Callees(cs))
	switch {
	case !finder.IsComplete(cs):
		pass.Reportf(cs.Instr.Pos(), "incomplete indirect call target set: %s", names)
	case names == "":
		pass.Reportf(cs.Instr.Pos(), "indirect call has no resolvable targets")
	default:
		pass.Reportf(cs.Instr.Pos(), "indirect call targets: %s", names)
	}
}

func calleeNames(fns []*ssa.Function) string {
	names := make([]string, 0, len(fns))
	for _, f := range fns {
		names = append(names, f.Name())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func packagesOf(fns []*ssa.Function) []*ssa.Package {
	seen := make(map[*ssa.Package]bool)
	var pkgs []*ssa.Package
	for _, f := range fns {
		if f.Pkg != nil && !seen[f.Pkg] {
			seen[f.Pkg] = true
			pkgs = append(pkgs, f.Pkg)
		}
	}
	return pkgs
}
