// Package report implements the textual call-site report and
// same-node test predicate from spec.md §6: the human-readable output
// format the CLI prints, and the "-check-same-node=A:x,B:y" directive
// cmd/dsa-analyze evaluates to assert equivalence-class facts.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/xerrors"

	"github.com/gosteens/dsa/calltarget"
	"github.com/gosteens/dsa/dsgraph"
	"github.com/gosteens/dsa/dsnode"
)

// Logger is the injected diagnostic sink spec.md §9 calls for in place
// of process-wide pass state: "logging is via an injected diagnostic
// sink." Its single method matches *log.Logger, so the standard
// library's own logger satisfies it with no adapter.
type Logger interface {
	Printf(format string, args ...interface{})
}

// NopLogger discards every message.
type NopLogger struct{}

// Printf implements Logger.
func (NopLogger) Printf(string, ...interface{}) {}

// VerboseLogger forwards to an underlying Logger only when Verbose is
// set, so a CLI's -v flag can gate an otherwise-always-on *log.Logger.
type VerboseLogger struct {
	Verbose bool
	Logger  Logger
}

// Printf implements Logger.
func (l VerboseLogger) Printf(format string, args ...interface{}) {
	if !l.Verbose || l.Logger == nil {
		return
	}
	l.Logger.Printf(format, args...)
}

// FormatCallSites renders one line per call site in the textual
// format from spec.md §6:
//
//	[* if incomplete] <instr-ptr> <caller-name> <instr-name> : <callee-name>*
func FormatCallSites(f *calltarget.Finder) string {
	sites := append([]*dsgraph.CallSite(nil), f.Sites()...)
	sort.Slice(sites, func(i, j int) bool {
		a, b := sites[i], sites[j]
		ca, cb := a.Caller.String(), b.Caller.String()
		if ca != cb {
			return ca < cb
		}
		return a.Instr.Pos() < b.Instr.Pos()
	})

	var b strings.Builder
	for _, cs := range sites {
		marker := " "
		if !f.IsComplete(cs) {
			marker = "*"
		}
		names := make([]string, 0, len(f.Callees(cs)))
		for _, callee := range f.Callees(cs) {
			names = append(names, callee.String())
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "%s %p %s %s : %s\n", marker, cs.Instr, cs.Caller.String(), instrDisplayName(cs.Instr), strings.Join(names, " "))
	}
	return b.String()
}

func instrDisplayName(instr ssa.CallInstruction) string {
	if v, ok := instr.(ssa.Value); ok {
		return v.Name()
	}
	return instr.String()
}

// Dump renders the graph's node arena with go-spew, for the -dump
// flag's verbose side artifact (spec.md §6, "optional side artifact").
func Dump(g *dsgraph.Graph) string {
	cfg := spew.ConfigState{Indent: "  ", DisableMethods: true}
	return cfg.Sdump(g.Store.All())
}

// SameNodeCheck is one parsed "-check-same-node=A:x,B:y" assertion.
type SameNodeCheck struct {
	FuncA, ValA string
	FuncB, ValB string
}

// ParseCheckSameNode parses one or more ';'-separated
// "FuncA:val,FuncB:val" groups into SameNodeCheck assertions.
func ParseCheckSameNode(directive string) ([]SameNodeCheck, error) {
	var checks []SameNodeCheck
	for _, group := range strings.Split(directive, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		parts := strings.Split(group, ",")
		if len(parts) != 2 {
			return nil, xerrors.Errorf("report: malformed -check-same-node group %q, want A:x,B:y", group)
		}
		a, err := parseEndpoint(parts[0])
		if err != nil {
			return nil, err
		}
		b, err := parseEndpoint(parts[1])
		if err != nil {
			return nil, err
		}
		checks = append(checks, SameNodeCheck{FuncA: a.fn, ValA: a.val, FuncB: b.fn, ValB: b.val})
	}
	return checks, nil
}

type endpoint struct{ fn, val string }

func parseEndpoint(s string) (endpoint, error) {
	s = strings.TrimSpace(s)
	idx := strings.Index(s, ":")
	if idx < 0 {
		return endpoint{}, xerrors.Errorf("report: malformed endpoint %q, want FUNC:VALUE", s)
	}
	return endpoint{fn: s[:idx], val: s[idx+1:]}, nil
}

// ResolveLocal looks up the ssa.Value named name within fn: a
// parameter, free variable, or any instruction result.
func ResolveLocal(fn *ssa.Function, name string) (ssa.Value, bool) {
	for _, p := range fn.Params {
		if p.Name() == name {
			return p, true
		}
	}
	for _, fv := range fn.FreeVars {
		if fv.Name() == name {
			return fv, true
		}
	}
	for _, blk := range fn.Blocks {
		for _, instr := range blk.Instrs {
			if v, ok := instr.(ssa.Value); ok && v.Name() == name {
				return v, true
			}
		}
	}
	return nil, false
}

// Eval evaluates c against g, resolving both endpoints through
// byName (typically a map built from the module's function list keyed
// by Function.String() or Function.Name()).
func Eval(c SameNodeCheck, byName map[string]*ssa.Function, g *dsgraph.Graph) (bool, error) {
	fnA, ok := byName[c.FuncA]
	if !ok {
		return false, xerrors.Errorf("report: unknown function %q", c.FuncA)
	}
	fnB, ok := byName[c.FuncB]
	if !ok {
		return false, xerrors.Errorf("report: unknown function %q", c.FuncB)
	}
	va, ok := ResolveLocal(fnA, c.ValA)
	if !ok {
		return false, xerrors.Errorf("report: %s has no local %q", c.FuncA, c.ValA)
	}
	vb, ok := ResolveLocal(fnB, c.ValB)
	if !ok {
		return false, xerrors.Errorf("report: %s has no local %q", c.FuncB, c.ValB)
	}
	ha, ok := g.Scalars.Lookup(va)
	if !ok {
		return false, nil
	}
	hb, ok := g.Scalars.Lookup(vb)
	if !ok {
		return false, nil
	}
	return dsnode.SameNode(ha, hb), nil
}
