package cfg

import (
	"sort"

	"github.com/chazu/bcir/ir"
)

// LinearizeOptions tunes Linearize.
type LinearizeOptions struct {
	// ResolveDepth supplies the handler depth of ranges whose Depth is
	// AutoDepth. Without it such ranges keep AutoDepth in the output.
	ResolveDepth func(*ExceptionRange) int
}

// SortedRanges returns the exception ranges ordered by their first block,
// failing when a range is inverted, refers to removed blocks, or overlaps
// another range in the current block order.
func (g *Graph) SortedRanges() ([]*ExceptionRange, error) {
	rs := g.Ranges()
	for _, r := range rs {
		if !g.owns(r.First) || !g.owns(r.Last) || !g.owns(r.Handler) {
			return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "range refers to a block outside the graph")
		}
		if g.index(r.First) > g.index(r.Last) {
			return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "range from %s to %s is inverted after reordering", r.First, r.Last)
		}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		return g.index(rs[i].First) < g.index(rs[j].First)
	})
	for i := 1; i < len(rs); i++ {
		if g.index(rs[i].First) <= g.index(rs[i-1].Last) {
			return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "ranges starting at %s and %s overlap", rs[i-1].First, rs[i].First)
		}
	}
	return rs, nil
}

// Linearize flattens the graph into a sequence with fresh labels. Only
// blocks something refers to get a label. A block whose fallthrough
// successor is not laid out right after it gets the profile's fallthrough
// jump appended.
func Linearize(g *Graph, opts LinearizeOptions) (*ir.Sequence, error) {
	ranges, err := g.SortedRanges()
	if err != nil {
		return nil, err
	}

	n := len(g.blocks)
	needsLabel := make([]bool, n)
	for i, b := range g.blocks {
		if t, ok := b.Terminator(); ok && t.IsJump() {
			target := g.Target(t.Arg.Label())
			if target == nil {
				return nil, ir.Errorf(ir.ErrUnresolvedLabel, "%s is not bound to a block", t.Arg.Label()).
					AtIndex(g.instrIndex(b, b.Len()-1), t.Loc)
			}
			needsLabel[g.index(target)] = true
		}
		if !b.FallsThrough() {
			continue
		}
		switch {
		case b.next == nil:
			if i != n-1 {
				return nil, ir.Errorf(ir.ErrMalformedGraph, "%s falls through but has no successor", b)
			}
		case !g.owns(b.next):
			return nil, ir.Errorf(ir.ErrMalformedGraph, "%s falls through to a removed block", b)
		case i+1 >= n || g.blocks[i+1] != b.next:
			needsLabel[g.index(b.next)] = true
		}
	}
	for _, r := range ranges {
		needsLabel[g.index(r.Handler)] = true
	}

	seq := ir.NewSequence()
	labels := make(map[*Block]ir.Label)
	for i, b := range g.blocks {
		if needsLabel[i] {
			labels[b] = seq.NewLabel()
		}
	}

	starts := make(map[*Block]*ExceptionRange)
	ends := make(map[*Block]*ExceptionRange)
	for _, r := range ranges {
		starts[r.First] = r
		ends[r.Last] = r
	}

	fall := g.Profile.FallthroughJump()
	var open *ir.TryBegin
	for i, b := range g.blocks {
		if l, ok := labels[b]; ok {
			seq.Append(l)
		}
		if r, ok := starts[b]; ok {
			depth := r.Depth
			if depth == AutoDepth && opts.ResolveDepth != nil {
				depth = opts.ResolveDepth(r)
			}
			open = &ir.TryBegin{Target: labels[r.Handler], Depth: depth, PushLasti: r.PushLasti}
			seq.Append(open)
		}
		for _, in := range b.instrs {
			if in.IsJump() {
				in.Arg = ir.Ref(labels[g.Target(in.Arg.Label())])
			}
			seq.Append(in)
		}
		if b.FallsThrough() && b.next != nil && (i+1 >= n || g.blocks[i+1] != b.next) {
			seq.Append(ir.Instr{Op: fall.Name, Arg: ir.Ref(labels[b.next])})
		}
		if _, ok := ends[b]; ok {
			seq.Append(&ir.TryEnd{Begin: open})
			open = nil
		}
	}
	return seq, nil
}

// instrIndex returns the ordinal of instruction i of b across the graph.
func (g *Graph) instrIndex(b *Block, i int) int {
	n := 0
	for _, x := range g.blocks {
		if x == b {
			return n + i
		}
		n += len(x.instrs)
	}
	return -1
}
