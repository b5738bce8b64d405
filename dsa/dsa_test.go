package dsa_test

import (
	"testing"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/analysistest"

	"github.com/gosteens/dsa/dsa"
)

func Test(t *testing.T) {
	analysis.Validate([]*analysis.Analyzer{dsa.Analyzer})
	testdata := analysistest.TestData()
	analysistest.Run(t, testdata, dsa.Analyzer, "fp", "fp2", "fp3", "fp4", "fp5")
}
