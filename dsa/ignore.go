package dsa

import (
	"regexp"

	"golang.org/x/tools/go/ssa"
)

var ignoreFilesRegexp = `.*_test.go|zz_generated.*`

func isIgnored(v *ssa.Function) bool {
	name := getFileName(v)
	if name == "" {
		return false
	}
	m, err := regexp.MatchString(ignoreFilesRegexp, name)
	if err != nil {
		panic(err)
	}
	return m
}

func getFileName(v *ssa.Function) string {
	fs := v.Prog.Fset
	f := fs.File(v.Pos())
	if f == nil {
		return ""
	}
	return f.Name()
}
