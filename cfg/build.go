package cfg

import (
	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

// BuildOptions tunes Build.
type BuildOptions struct {
	// KeepAllLabels splits blocks at every label marker, not only at labels
	// something refers to.
	KeepAllLabels bool
}

// Build partitions a flat sequence into basic blocks. A block starts at the
// beginning, at every referenced label, at every try marker and after every
// instruction that transfers control. The graph shares label handles with
// seq, so a label in seq names the same target in the graph.
func Build(seq *ir.Sequence, p *format.Profile, opts BuildOptions) (*Graph, error) {
	if err := seq.Check(); err != nil {
		return nil, err
	}

	referenced := make(map[ir.Label]bool)
	idx := 0
	for _, e := range seq.Elements() {
		switch e := e.(type) {
		case ir.Instr:
			if _, err := p.Def(e); err != nil {
				return nil, withIndex(err, idx, e.Loc)
			}
			if e.IsJump() {
				referenced[e.Arg.Label()] = true
			}
			idx++
		case *ir.TryBegin:
			if !p.ExceptionTable {
				return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "profile %s handles exceptions inline", p.Tag).AtIndex(idx, ir.Location{})
			}
			referenced[e.Target] = true
		}
	}

	g := NewGraph(p)
	g.reserveLabels(seq.LabelCount())
	cur := g.blocks[0]
	split := false

	startNew := func() {
		if len(cur.instrs) == 0 {
			return
		}
		nb := g.newBlock()
		if cur.FallsThrough() {
			cur.next = nb
		}
		g.blocks = append(g.blocks, nb)
		cur = nb
	}

	type pending struct {
		begin *ir.TryBegin
		r     *ExceptionRange
	}
	var open *pending
	var done []pending

	for _, e := range seq.Elements() {
		switch e := e.(type) {
		case ir.Label:
			if referenced[e] || opts.KeepAllLabels {
				startNew()
				split = false
				g.targets[e] = cur
			}
		case *ir.TryBegin:
			startNew()
			split = false
			open = &pending{begin: e, r: &ExceptionRange{First: cur, Depth: e.Depth, PushLasti: e.PushLasti}}
		case *ir.TryEnd:
			r := open.r
			open = nil
			if len(cur.instrs) > 0 {
				r.Last = cur
				split = true
			} else {
				if r.First == cur {
					continue
				}
				r.Last = g.blocks[len(g.blocks)-2]
			}
			done = append(done, pending{begin: e.Begin, r: r})
		case ir.Instr:
			if split {
				startNew()
				split = false
			}
			cur.instrs = append(cur.instrs, e)
			def, _ := p.Op(e.Op)
			if def.Transfers() {
				split = true
			}
		}
	}

	if n := len(g.blocks); n > 1 && len(cur.instrs) == 0 && !g.bound(cur) {
		g.blocks = g.blocks[:n-1]
		prev := g.blocks[n-2]
		if prev.next == cur {
			prev.next = nil
		}
	}

	for _, d := range done {
		d.r.Handler = g.targets[d.begin.Target]
		g.ranges = append(g.ranges, d.r)
	}
	return g, nil
}

func (g *Graph) bound(b *Block) bool {
	for _, t := range g.targets {
		if t == b {
			return true
		}
	}
	return false
}
