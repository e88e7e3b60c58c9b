// Package asm turns a control-flow graph back into a container. Jump widths
// are resolved by iterating layout until no instruction changes size.
package asm

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/container"
	"github.com/chazu/bcir/flow"
	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

var log = commonlog.GetLogger("bcir.asm")

// DefaultMaxPasses bounds the layout iteration when Options leaves it unset.
const DefaultMaxPasses = 32

// Options configures an Assembler.
type Options struct {
	// MaxPasses is the number of layout passes allowed before assembly
	// fails with ErrEncodingDidNotConverge. Zero means DefaultMaxPasses.
	MaxPasses int
}

// Assembler encodes graphs. It holds no per-call state and may be shared.
type Assembler struct {
	opts Options
}

// New creates an assembler.
func New(opts Options) *Assembler {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = DefaultMaxPasses
	}
	return &Assembler{opts: opts}
}

// Output is the result of a successful assembly.
type Output struct {
	Image  *container.Image
	Bytes  []byte
	Passes int

	// Offsets holds the byte offset of every emitted instruction, in
	// layout order, including synthesized jumps.
	Offsets []int
	Entries []container.ExceptionEntry
}

// Assemble encodes g with default options.
func Assemble(g *cfg.Graph) ([]byte, error) {
	out, err := New(Options{}).Assemble(g)
	if err != nil {
		return nil, err
	}
	return out.Bytes, nil
}

// Assemble encodes g. The graph is only read. If it is edited while being
// assembled, assembly is retried once from a copy.
func (a *Assembler) Assemble(g *cfg.Graph) (*Output, error) {
	gen := g.Generation()
	out, err := a.assemble(g)
	editHook(hookAssembled, g)
	if g.Generation() == gen {
		return out, err
	}

	log.Warningf("graph changed during assembly (generation %d -> %d), retrying from a copy", gen, g.Generation())
	gen = g.Generation()
	c := g.Clone()
	editHook(hookCloned, g)
	if g.Generation() != gen {
		return nil, ir.Errorf(ir.ErrConcurrentModification, "graph changed while being copied")
	}
	return a.assemble(c)
}

const (
	hookAssembled = "assembled"
	hookCloned    = "cloned"
)

// onEdit lets tests edit a graph between the steps of Assemble.
var onEdit func(point string, g *cfg.Graph)

func editHook(point string, g *cfg.Graph) {
	if onEdit != nil {
		onEdit(point, g)
	}
}

func (a *Assembler) assemble(g *cfg.Graph) (*Output, error) {
	res, err := a.analyze(g)
	if err != nil {
		return nil, err
	}

	var opts cfg.LinearizeOptions
	maxStack := g.Header.MaxStack
	if res != nil {
		opts.ResolveDepth = func(r *cfg.ExceptionRange) int { return res.HandlerDepth[r] }
		if maxStack == cfg.AutoStackSize {
			maxStack = res.MaxStack
		}
	}
	if maxStack < 0 || uint64(maxStack) > 1<<32-1 {
		return nil, ir.Errorf(ir.ErrMalformedGraph, "max stack %d out of range", maxStack)
	}

	seq, err := cfg.Linearize(g, opts)
	if err != nil {
		return nil, err
	}
	l, err := newLayout(g.Profile, seq)
	if err != nil {
		return nil, err
	}
	passes, err := l.resolve(a.opts.MaxPasses)
	if err != nil {
		return nil, err
	}

	code := l.emit()
	entries, err := l.exceptionEntries()
	if err != nil {
		return nil, err
	}

	img := &container.Image{
		Version:  g.Profile.Number,
		Flags:    g.Header.Flags &^ (container.FlagExceptionTable | container.FlagLineTable),
		MaxStack: uint32(maxStack),
		Code:     code,
	}
	if g.Profile.ExceptionTable && (len(entries) > 0 || g.Header.Flags&container.FlagExceptionTable != 0) {
		img.Flags |= container.FlagExceptionTable
		img.ExceptionTable = container.EncodeExceptionTable(entries, format.CodeUnit)
	}
	if runs, known := l.lineRuns(); known || g.Header.Flags&container.FlagLineTable != 0 {
		img.Flags |= container.FlagLineTable
		img.LineTable = container.EncodeLineTable(runs)
	}

	log.Debugf("assembled %d instructions into %d bytes in %d passes", len(l.items), len(code), passes)
	return &Output{
		Image:   img,
		Bytes:   img.Encode(),
		Passes:  passes,
		Offsets: l.offsets(),
		Entries: entries,
	}, nil
}

// analyze runs the stack analysis when the graph asks for derived values:
// an automatic max stack or an automatic handler depth.
func (a *Assembler) analyze(g *cfg.Graph) (*flow.Result, error) {
	need := g.Header.MaxStack == cfg.AutoStackSize
	for _, r := range g.Ranges() {
		if r.Depth == cfg.AutoDepth {
			need = true
		}
	}
	if !need {
		return nil, nil
	}
	res, issues := flow.Analyze(g)
	if err := flow.FirstError(issues); err != nil {
		return nil, fmt.Errorf("asm: %w", err)
	}
	return res, nil
}
