// Command dsa-analyze runs the whole-program unification-based pointer
// analysis over the packages named by its arguments and prints the
// textual call-site report, adapted from the teacher's cmd/knil
// driver (packages.Load + ssautil.AllPackages/prog.Build).
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/k0kubun/pp"
	"golang.org/x/mod/modfile"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/gosteens/dsa/calltarget"
	"github.com/gosteens/dsa/localdsa"
	"github.com/gosteens/dsa/report"
	"github.com/gosteens/dsa/steensgaard"
)

var (
	checkSameNode = flag.String("check-same-node", "", "assert A:x,B:y are in the same equivalence class; exits nonzero on mismatch")
	pretty        = flag.Bool("pretty", false, "pretty-print the resolved call graph's call-site records")
	dump          = flag.Bool("dump", false, "dump the full node arena to stderr")
	verbose       = flag.Bool("v", false, "verbose diagnostic logging")
	xref          = flag.Bool("xref", false, "cross-check indirect call targets against golang.org/x/tools/go/pointer (Andersen-style) and warn on mismatches")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dsa-analyze [flags] <packages>")
		os.Exit(2)
	}

	logger := report.VerboseLogger{Verbose: *verbose, Logger: log.New(os.Stderr, "[dsa] ", 0)}

	initial, err := load(args, true)
	if err != nil {
		log.Fatal(err)
	}
	printModuleBanner(initial)

	prog, pkgs := ssautil.AllPackages(initial, 0)
	prog.Build()

	all := ssautil.AllFunctions(prog)
	fns := make([]*ssa.Function, 0, len(all))
	for f := range all {
		fns = append(fns, f)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].String() < fns[j].String() })
	logger.Printf("collected %d functions across %d packages", len(fns), len(pkgs))

	builder := localdsa.NewBuilder(pkgs...)
	result := steensgaard.Run(fns, builder, steensgaard.Default)
	finder := calltarget.New(result)

	fmt.Print(report.FormatCallSites(finder))
	fmt.Printf("# direct=%d indirect=%d completeIndirect=%d completeEmpty=%d\n",
		finder.Direct, finder.Indirect, finder.CompleteIndirect, finder.CompleteEmpty)

	if *pretty {
		pp.Println(result.CallGraph.Sites())
	}
	if *dump {
		fmt.Fprintln(os.Stderr, report.Dump(result.Graph))
	}

	if *xref {
		crossCheckAgainstPointerAnalysis(pkgs, finder, logger)
	}

	if *checkSameNode != "" {
		if !runSameNodeChecks(*checkSameNode, fns, result) {
			os.Exit(1)
		}
	}
}

// crossCheckAgainstPointerAnalysis runs the Andersen-style
// golang.org/x/tools/go/pointer analysis (the same package the
// teacher's cmd/knil drives directly) over the program's main
// packages and warns, per indirect call site, for each target pointer
// reports that our resolved candidate set lacks (unsoundness). Targets
// we report that pointer does not (expected over-approximation) are
// not reported.
func crossCheckAgainstPointerAnalysis(pkgs []*ssa.Package, finder *calltarget.Finder, logger report.Logger) {
	mains, err := mainPackages(pkgs)
	if err != nil {
		logger.Printf("xref: %v, skipping cross-check", err)
		return
	}
	result, err := pointer.Analyze(&pointer.Config{Mains: mains, BuildCallGraph: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "xref: pointer.Analyze: %v\n", err)
		return
	}

	bySite := make(map[ssa.CallInstruction][]*ssa.Function)
	callgraph.GraphVisitEdges(result.CallGraph, func(e *callgraph.Edge) error {
		if e.Site != nil {
			bySite[e.Site] = append(bySite[e.Site], e.Callee.Func)
		}
		return nil
	})

	for _, cs := range finder.Sites() {
		if cs.IsDirect() {
			continue
		}
		ours := make(map[*ssa.Function]bool)
		for _, f := range finder.Callees(cs) {
			ours[f] = true
		}
		for _, f := range bySite[cs.Instr] {
			if !ours[f] {
				fmt.Fprintf(os.Stderr, "xref: %s %s: pointer resolves %s, dsa missed it (unsound)\n",
					cs.Caller.String(), cs.Instr.String(), f.String())
			}
		}
	}
}

// mainPackages returns the main packages to analyze, matching the
// teacher's cmd/knil helper of the same name.
func mainPackages(pkgs []*ssa.Package) ([]*ssa.Package, error) {
	var mains []*ssa.Package
	for _, p := range pkgs {
		if p != nil && p.Pkg.Name() == "main" && p.Func("main") != nil {
			mains = append(mains, p)
		}
	}
	if len(mains) == 0 {
		return nil, fmt.Errorf("no main packages")
	}
	return mains, nil
}

func runSameNodeChecks(directive string, fns []*ssa.Function, result *steensgaard.Result) bool {
	checks, err := report.ParseCheckSameNode(directive)
	if err != nil {
		log.Fatal(err)
	}
	byName := make(map[string]*ssa.Function, len(fns))
	for _, f := range fns {
		byName[f.Name()] = f
	}
	ok := true
	for _, c := range checks {
		same, err := report.Eval(c, byName, result.Graph)
		if err != nil {
			log.Fatal(err)
		}
		if !same {
			fmt.Fprintf(os.Stderr, "FAIL: same-node(%s:%s, %s:%s) does not hold\n", c.FuncA, c.ValA, c.FuncB, c.ValB)
			ok = false
		}
	}
	return ok
}

// printModuleBanner best-effort reads the analyzed module's go.mod to
// print a one-line module/Go-version banner; failures are silent since
// the banner is cosmetic. It walks up from the first package's source
// directory rather than relying on packages.Package.Module, which
// post-dates the x/tools version this analyzer is built against.
func printModuleBanner(initial []*packages.Package) {
	for _, p := range initial {
		if len(p.GoFiles) == 0 {
			continue
		}
		dir := filepath.Dir(p.GoFiles[0])
		goModPath, data, err := findGoMod(dir)
		if err != nil {
			return
		}
		mf, err := modfile.Parse(goModPath, data, nil)
		if err != nil || mf.Module == nil {
			return
		}
		goVersion := "unknown"
		if mf.Go != nil {
			goVersion = mf.Go.Version
		}
		fmt.Fprintf(os.Stderr, "# module %s (go %s)\n", mf.Module.Mod.Path, goVersion)
		return
	}
}

func findGoMod(dir string) (string, []byte, error) {
	for {
		path := filepath.Join(dir, "go.mod")
		if data, err := os.ReadFile(path); err == nil {
			return path, data, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil, fmt.Errorf("no go.mod found above %s", dir)
		}
		dir = parent
	}
}

// load loads the initial packages named by patterns.
func load(patterns []string, allSyntax bool) ([]*packages.Package, error) {
	mode := packages.LoadSyntax
	if allSyntax {
		mode = packages.LoadAllSyntax
	}
	conf := packages.Config{
		Mode:  mode,
		Tests: true,
	}
	initial, err := packages.Load(&conf, patterns...)
	if err == nil {
		if n := packages.PrintErrors(initial); n > 1 {
			err = fmt.Errorf("%d errors during loading", n)
		} else if n == 1 {
			err = fmt.Errorf("error during loading")
		} else if len(initial) == 0 {
			err = fmt.Errorf("%s matched no packages", strings.Join(patterns, " "))
		}
	}
	return initial, err
}
