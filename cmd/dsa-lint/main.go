// Command dsa-lint combines the dsa analyzer with staticcheck's
// analyzer suite behind a single go/analysis/multichecker, the
// standard way the analysis ecosystem composes independently-authored
// checkers (the same Requires-graph machinery the teacher's
// buildssa-dependent dsa.Analyzer already participates in).
package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/multichecker"
	"honnef.co/go/tools/staticcheck"

	"github.com/gosteens/dsa/dsa"
	"github.com/gosteens/dsa/internal/gocommand"
)

func main() {
	if _, err := (gocommand.Invocation{Verb: "version"}).Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "dsa-lint: go toolchain unavailable: %v\n", err)
		os.Exit(1)
	}
	multichecker.Main(allAnalyzers()...)
}

func allAnalyzers() []*analysis.Analyzer {
	analyzers := []*analysis.Analyzer{dsa.Analyzer}
	for _, a := range staticcheck.Analyzers {
		analyzers = append(analyzers, a.Analyzer)
	}
	return analyzers
}
