package flow

import (
	"fmt"

	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/ir"
)

// walk is one pass of the abstract interpretation: a worklist over blocks
// carrying the stack depth each block is entered with.
type walk struct {
	a *analyzer

	entry    map[*cfg.Block]int
	minDepth map[*cfg.ExceptionRange]int // lowest depth seen inside each range
	max      int
	issues   []Issue

	covering map[*cfg.Block][]*cfg.ExceptionRange
	reported map[*cfg.Block]bool
	work     []*cfg.Block
}

func (a *analyzer) walk(known map[*cfg.ExceptionRange]int) *walk {
	w := &walk{
		a:        a,
		entry:    make(map[*cfg.Block]int),
		minDepth: make(map[*cfg.ExceptionRange]int),
		covering: make(map[*cfg.Block][]*cfg.ExceptionRange),
		reported: make(map[*cfg.Block]bool),
	}
	for _, r := range a.ranges {
		for _, b := range a.g.Blocks() {
			if a.g.Covers(r, b) {
				w.covering[b] = append(w.covering[b], r)
			}
		}
	}

	w.enter(nil, a.g.Entry(), 0)
	handled := make(map[*cfg.ExceptionRange]bool)
	for {
		w.drain()
		progress := false
		for _, r := range a.ranges {
			if handled[r] {
				continue
			}
			if _, reached := w.minDepth[r]; !reached {
				continue
			}
			depth, ok := known[r]
			if !ok {
				continue
			}
			handled[r] = true
			w.enter(nil, r.Handler, handlerDepth(depth, r.PushLasti))
			progress = true
		}
		if !progress {
			break
		}
	}
	return w
}

// handlerDepth is the depth a handler starts with: the unwound stack plus
// the exception, plus the offset of the faulting instruction if requested.
func handlerDepth(depth int, pushLasti bool) int {
	d := depth + 1
	if pushLasti {
		d++
	}
	return d
}

func (w *walk) errorf(kind error, b *cfg.Block, idx int, loc ir.Location, format string, args ...any) {
	w.issues = append(w.issues, Issue{
		Kind:     kind,
		Severity: SeverityError,
		Block:    b,
		Index:    idx,
		Loc:      loc,
		Msg:      fmt.Sprintf(format, args...),
	})
}

// enter records that control reaches b with depth. A block reached with two
// different depths is reported once.
func (w *walk) enter(from, b *cfg.Block, depth int) {
	if b == nil {
		return
	}
	if depth > w.max {
		w.max = depth
	}
	old, seen := w.entry[b]
	if !seen {
		w.entry[b] = depth
		w.work = append(w.work, b)
		return
	}
	if old != depth && !w.reported[b] {
		w.reported[b] = true
		if from != nil {
			w.errorf(ir.ErrStackDepthMismatch, b, -1, ir.Location{},
				"entered with depth %d from %s but %d elsewhere", depth, from, old)
		} else {
			w.errorf(ir.ErrStackDepthMismatch, b, -1, ir.Location{},
				"entered with depth %d and %d", depth, old)
		}
	}
}

func (w *walk) note(b *cfg.Block, depth int) {
	for _, r := range w.covering[b] {
		if cur, ok := w.minDepth[r]; !ok || depth < cur {
			w.minDepth[r] = depth
		}
	}
}

func (w *walk) drain() {
	for len(w.work) > 0 {
		b := w.work[len(w.work)-1]
		w.work = w.work[:len(w.work)-1]
		w.block(b)
	}
}

func (w *walk) block(b *cfg.Block) {
	g, p := w.a.g, w.a.p
	depth := w.entry[b]
	w.note(b, depth)

	for i, in := range b.Instrs() {
		idx := w.a.base[b] + i
		if i > 0 {
			w.note(b, depth)
		}
		def, err := p.Def(in)
		if err != nil {
			// Already reported by the structural checks.
			return
		}
		arg := in.Arg.Value()
		if in.IsJump() {
			arg = 0
		}

		if def.HasJump() {
			pop, push := def.Effect(arg, true)
			if depth < pop {
				w.errorf(ir.ErrStackUnderflow, b, idx, in.Loc,
					"%s pops %d on its jump path with %d on the stack", in.Op, pop, depth)
				return
			}
			w.enter(b, g.Target(in.Arg.Label()), depth-pop+push)
		}
		if !def.FallsThrough() && def.HasJump() {
			return
		}

		pop, push := def.Effect(arg, false)
		if depth < pop {
			w.errorf(ir.ErrStackUnderflow, b, idx, in.Loc,
				"%s pops %d with %d on the stack", in.Op, pop, depth)
			return
		}
		depth = depth - pop + push
		if depth > w.max {
			w.max = depth
		}
		if !def.FallsThrough() {
			return
		}
	}
	w.enter(b, b.Fallthrough(), depth)
}
