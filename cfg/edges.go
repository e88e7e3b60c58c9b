package cfg

import (
	"github.com/chazu/bcir/format"
)

// EdgeKind tells how control reaches an edge's destination.
type EdgeKind uint8

const (
	Fallthrough EdgeKind = iota
	Jump
	Exception
)

func (k EdgeKind) String() string {
	switch k {
	case Fallthrough:
		return "fallthrough"
	case Jump:
		return "jump"
	default:
		return "exception"
	}
}

// Edge is a derived control edge. Edges are computed from terminators,
// fallthrough links and exception ranges; they are never stored.
type Edge struct {
	From, To *Block
	Kind     EdgeKind
}

// Successors returns the edges leaving b: its fallthrough, its jump, and
// the handler of any exception range covering it.
func (g *Graph) Successors(b *Block) []Edge {
	var out []Edge
	if next := b.Fallthrough(); next != nil && g.owns(next) {
		out = append(out, Edge{From: b, To: next, Kind: Fallthrough})
	}
	if t, ok := b.Terminator(); ok && t.IsJump() {
		if target := g.Target(t.Arg.Label()); target != nil {
			kind := Jump
			if def, _ := g.Profile.Op(t.Op); def.Flow == format.FlowSetup {
				kind = Exception
			}
			out = append(out, Edge{From: b, To: target, Kind: kind})
		}
	}
	for _, r := range g.ranges {
		if g.Covers(r, b) && g.owns(r.Handler) {
			out = append(out, Edge{From: b, To: r.Handler, Kind: Exception})
		}
	}
	return out
}

// Predecessors returns the edges entering b.
func (g *Graph) Predecessors(b *Block) []Edge {
	var out []Edge
	for _, x := range g.blocks {
		for _, e := range g.Successors(x) {
			if e.To == b {
				out = append(out, e)
			}
		}
	}
	return out
}

// DeadBlocks returns the blocks no path from the entry reaches, in graph
// order.
func (g *Graph) DeadBlocks() []*Block {
	seen := make(map[*Block]bool, len(g.blocks))
	stack := []*Block{g.Entry()}
	seen[g.Entry()] = true
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.Successors(b) {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}

	var dead []*Block
	for _, b := range g.blocks {
		if !seen[b] {
			dead = append(dead, b)
		}
	}
	return dead
}
