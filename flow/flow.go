// Package flow checks a control-flow graph statically: every block must be
// entered with the same stack depth along every path, no instruction may pop
// more than the stack holds, and every jump must resolve. It also computes
// the maximum stack depth and the depth of exception handlers for the
// assembler.
package flow

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

var log = commonlog.GetLogger("bcir.flow")

// Result is the outcome of a stack analysis.
type Result struct {
	// MaxStack is the deepest the stack gets on any path.
	MaxStack int
	// EntryDepth is the depth each reached block is entered with.
	EntryDepth map[*cfg.Block]int
	// HandlerDepth is the depth each exception range unwinds to.
	HandlerDepth map[*cfg.ExceptionRange]int
}

// Validate returns every issue found in g. It never modifies g.
func Validate(g *cfg.Graph) []Issue {
	_, issues := Analyze(g)
	return issues
}

// MaxStack computes the maximum stack depth of g, failing on the first
// error-severity issue.
func MaxStack(g *cfg.Graph) (int, error) {
	res, issues := Analyze(g)
	if err := FirstError(issues); err != nil {
		return 0, err
	}
	return res.MaxStack, nil
}

// HandlerDepths returns the depth each exception range unwinds to, deriving
// it for ranges left at cfg.AutoDepth.
func HandlerDepths(g *cfg.Graph) (map[*cfg.ExceptionRange]int, error) {
	res, issues := Analyze(g)
	if err := FirstError(issues); err != nil {
		return nil, err
	}
	return res.HandlerDepth, nil
}

// Analyze runs the structural checks and the stack walk. The result is nil
// when structural errors prevent the walk.
func Analyze(g *cfg.Graph) (*Result, []Issue) {
	a := newAnalyzer(g)
	a.checkStructure()
	if HasErrors(a.issues) {
		return nil, a.issues
	}

	// Auto handler depths depend on the depths inside their range, which in
	// turn may depend on other handlers. Walk until the depths settle.
	known := a.explicitDepths()
	var w *walk
	for round := 0; ; round++ {
		w = a.walk(known)
		next := a.explicitDepths()
		for r, d := range w.minDepth {
			if r.Depth == cfg.AutoDepth {
				next[r] = d
			}
		}
		if sameDepths(known, next) {
			break
		}
		if round > 2*len(a.ranges)+1 {
			w.errorf(ir.ErrInvalidExceptionRange, nil, -1, ir.Location{}, "handler depths do not settle")
			break
		}
		known = next
	}

	for _, r := range a.ranges {
		if min, ok := w.minDepth[r]; ok && r.Depth != cfg.AutoDepth && r.Depth > min {
			w.errorf(ir.ErrInvalidExceptionRange, r.First, -1, ir.Location{},
				"range unwinds to depth %d but the stack holds only %d inside it", r.Depth, min)
		}
	}
	issues := append([]Issue(nil), a.issues...)
	issues = append(issues, w.issues...)
	for _, b := range g.Blocks() {
		if _, ok := w.entry[b]; !ok {
			issues = append(issues, Issue{Kind: ErrUnreachable, Severity: SeverityWarning, Block: b, Index: -1, Msg: "no path from the entry reaches this block"})
		}
	}
	log.Debugf("analyzed %d blocks: max stack %d, %d issues", g.Len(), w.max, len(issues))
	return &Result{MaxStack: w.max, EntryDepth: w.entry, HandlerDepth: known}, issues
}

type analyzer struct {
	g      *cfg.Graph
	p      *format.Profile
	base   map[*cfg.Block]int // instruction index of each block's first instruction
	ranges []*cfg.ExceptionRange
	issues []Issue
}

func newAnalyzer(g *cfg.Graph) *analyzer {
	a := &analyzer{g: g, p: g.Profile, base: make(map[*cfg.Block]int)}
	n := 0
	for _, b := range g.Blocks() {
		a.base[b] = n
		n += b.Len()
	}
	return a
}

func (a *analyzer) add(kind error, sev Severity, b *cfg.Block, idx int, loc ir.Location, msg string) {
	a.issues = append(a.issues, Issue{Kind: kind, Severity: sev, Block: b, Index: idx, Loc: loc, Msg: msg})
}

// checkStructure reports everything that makes the graph impossible to lay
// out: bad operands, unbound labels, missing fallthrough successors and
// malformed exception ranges.
func (a *analyzer) checkStructure() {
	blocks := a.g.Blocks()
	for bi, b := range blocks {
		for i, in := range b.Instrs() {
			idx := a.base[b] + i
			def, err := a.p.Def(in)
			if err != nil {
				kind := ir.ErrInvalidOperand
				var e *ir.Error
				if errors.As(err, &e) {
					kind = e.Kind
				}
				a.add(kind, SeverityError, b, idx, in.Loc, err.Error())
				continue
			}
			if in.IsJump() && a.g.Target(in.Arg.Label()) == nil {
				a.add(ir.ErrUnresolvedLabel, SeverityError, b, idx, in.Loc, in.Arg.Label().String()+" is not bound to a block")
			}
			if def.Transfers() && i != b.Len()-1 {
				a.add(ir.ErrMalformedGraph, SeverityError, b, idx, in.Loc, in.Op+" must end its block")
			}
		}
		if b.FallsThrough() {
			next := b.Fallthrough()
			switch {
			case next == nil && bi != len(blocks)-1:
				a.add(ir.ErrMalformedGraph, SeverityError, b, -1, ir.Location{}, "falls through but has no successor")
			case next != nil && next.Graph() != a.g:
				a.add(ir.ErrMalformedGraph, SeverityError, b, -1, ir.Location{}, "falls through to a removed block")
			}
		}
	}

	ranges, err := a.g.SortedRanges()
	if err != nil {
		a.add(ir.ErrInvalidExceptionRange, SeverityError, nil, -1, ir.Location{}, err.Error())
		return
	}
	a.ranges = ranges
}

func (a *analyzer) explicitDepths() map[*cfg.ExceptionRange]int {
	m := make(map[*cfg.ExceptionRange]int)
	for _, r := range a.ranges {
		if r.Depth != cfg.AutoDepth {
			m[r] = r.Depth
		}
	}
	return m
}

func sameDepths(x, y map[*cfg.ExceptionRange]int) bool {
	if len(x) != len(y) {
		return false
	}
	for k, v := range x {
		if w, ok := y[k]; !ok || w != v {
			return false
		}
	}
	return true
}
