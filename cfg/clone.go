package cfg

import (
	"sort"

	"github.com/chazu/bcir/ir"
)

// Clone returns a deep copy of g. Blocks keep their IDs and labels keep
// their handles; the copy starts at generation zero.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		Profile: g.Profile,
		Header:  g.Header,
		labels:  g.labels,
		nextID:  g.nextID,
	}
	m := make(map[*Block]*Block, len(g.blocks))
	for _, b := range g.blocks {
		nb := &Block{id: b.id, instrs: append([]ir.Instr(nil), b.instrs...), g: c}
		m[b] = nb
		c.blocks = append(c.blocks, nb)
	}
	for _, b := range g.blocks {
		m[b].next = m[b.next]
	}
	c.targets = make([]*Block, len(g.targets))
	for l, t := range g.targets {
		c.targets[l] = m[t]
	}
	for _, r := range g.ranges {
		c.ranges = append(c.ranges, &ExceptionRange{
			First:     m[r.First],
			Last:      m[r.Last],
			Handler:   m[r.Handler],
			Depth:     r.Depth,
			PushLasti: r.PushLasti,
		})
	}
	return c
}

// Equal reports whether two graphs have the same structure: same profile
// and header, same blocks in the same order with equal instructions, and
// the same fallthrough links, jump targets and ranges. Jumps are compared
// by the position of their target block, not by label handle.
func (g *Graph) Equal(o *Graph) bool {
	if g.Profile != o.Profile || g.Header != o.Header || len(g.blocks) != len(o.blocks) {
		return false
	}
	for i, b := range g.blocks {
		ob := o.blocks[i]
		if len(b.instrs) != len(ob.instrs) {
			return false
		}
		for j, in := range b.instrs {
			oin := ob.instrs[j]
			if in.IsJump() && oin.IsJump() {
				if in.Op != oin.Op || in.Loc != oin.Loc ||
					g.blockIndex(g.Target(in.Arg.Label())) != o.blockIndex(o.Target(oin.Arg.Label())) {
					return false
				}
				continue
			}
			if !in.Equal(oin) {
				return false
			}
		}
		if g.blockIndex(b.Fallthrough()) != o.blockIndex(ob.Fallthrough()) {
			return false
		}
	}

	type key struct {
		first, last, handler, depth int
		lasti                       bool
	}
	keys := func(x *Graph) []key {
		var ks []key
		for _, r := range x.ranges {
			ks = append(ks, key{x.blockIndex(r.First), x.blockIndex(r.Last), x.blockIndex(r.Handler), r.Depth, r.PushLasti})
		}
		sort.Slice(ks, func(i, j int) bool { return ks[i].first < ks[j].first })
		return ks
	}
	gk, ok := keys(g), keys(o)
	if len(gk) != len(ok) {
		return false
	}
	for i := range gk {
		if gk[i] != ok[i] {
			return false
		}
	}
	return true
}

func (g *Graph) blockIndex(b *Block) int {
	if b == nil {
		return -1
	}
	return g.index(b)
}
