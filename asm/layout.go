package asm

import (
	"errors"
	"sort"

	"github.com/chazu/bcir/container"
	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

// item is one instruction being laid out. Jumps start with no prefixes and
// grow or shrink as the layout settles.
type item struct {
	in     ir.Instr
	def    *format.OpDef
	arg    uint32
	ext    int
	target int // index of the item the jump lands on; len(items) is the end
	jump   bool
}

func (it *item) size() int {
	return it.def.Size(it.ext)
}

type tryRange struct {
	begin, end int // item indexes, end exclusive
	label      ir.Label
	handler    int
	depth      int
	lasti      bool
}

// layout is a flat, index-addressed view of a linearized sequence.
type layout struct {
	p      *format.Profile
	items  []item
	tries  []tryRange
	offset []int // byte offset of each item, plus the end of the code
}

func newLayout(p *format.Profile, seq *ir.Sequence) (*layout, error) {
	l := &layout{p: p}
	at := make(map[ir.Label]int)
	open := -1
	var opened *ir.TryBegin

	for _, e := range seq.Elements() {
		switch e := e.(type) {
		case ir.Label:
			at[e] = len(l.items)
		case *ir.TryBegin:
			opened = e
			open = len(l.items)
		case *ir.TryEnd:
			if opened == nil {
				return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "try end without try begin").AtIndex(len(l.items), ir.Location{})
			}
			l.tries = append(l.tries, tryRange{
				begin: open,
				end:   len(l.items),
				label: opened.Target,
				depth: opened.Depth,
				lasti: opened.PushLasti,
			})
			opened = nil
		case ir.Instr:
			def, err := p.Def(e)
			if err != nil {
				return nil, withIndex(err, len(l.items), e.Loc)
			}
			it := item{in: e, def: def, jump: def.HasJump()}
			if !it.jump {
				it.arg = e.Arg.Value()
				it.ext = format.ExtendedArgs(it.arg)
			}
			l.items = append(l.items, it)
		}
	}

	for i := range l.items {
		it := &l.items[i]
		if !it.jump {
			continue
		}
		t, ok := at[it.in.Arg.Label()]
		if !ok {
			return nil, ir.Errorf(ir.ErrUnresolvedLabel, "%s is never marked", it.in.Arg.Label()).AtIndex(i, it.in.Loc)
		}
		it.target = t
	}
	for i := range l.tries {
		t, ok := at[l.tries[i].label]
		if !ok {
			return nil, ir.Errorf(ir.ErrUnresolvedLabel, "handler %s is never marked", l.tries[i].label)
		}
		if l.tries[i].depth < 0 {
			return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "handler depth %d was not resolved", l.tries[i].depth)
		}
		l.tries[i].handler = t
	}
	return l, nil
}

// Sizes lays seq out the way Assemble does and returns the encoded size in
// bytes of each instruction, in sequence order. Jumps start unprefixed, so
// of the layouts in which every jump fits its prefixes, Sizes finds the one
// Assemble emits.
func Sizes(p *format.Profile, seq *ir.Sequence) ([]int, error) {
	l, err := newLayout(p, seq)
	if err != nil {
		return nil, err
	}
	if _, err := l.resolve(DefaultMaxPasses); err != nil {
		return nil, err
	}
	sizes := make([]int, len(l.items))
	for i := range l.items {
		sizes[i] = l.items[i].size()
	}
	return sizes, nil
}

func withIndex(err error, idx int, loc ir.Location) error {
	var e *ir.Error
	if errors.As(err, &e) {
		return e.AtIndex(idx, loc)
	}
	return err
}

func (l *layout) place() {
	if cap(l.offset) < len(l.items)+1 {
		l.offset = make([]int, len(l.items)+1)
	}
	l.offset = l.offset[:len(l.items)+1]
	pos := 0
	for i := range l.items {
		l.offset[i] = pos
		pos += l.items[i].size()
	}
	l.offset[len(l.items)] = pos
}

// resolve iterates layout until no jump changes its opcode or prefix count.
// It returns the number of passes taken.
func (l *layout) resolve(maxPasses int) (int, error) {
	codec := l.p.Codec()
	for pass := 1; pass <= maxPasses; pass++ {
		l.place()
		changed := 0
		for i := range l.items {
			it := &l.items[i]
			if !it.jump {
				continue
			}
			end := l.offset[i] + it.size()
			arg, backward, err := codec.Encode(end, l.offset[it.target])
			if err != nil {
				return 0, withIndex(err, i, it.in.Loc)
			}
			def, err := l.p.Variant(it.def, backward)
			if err != nil {
				return 0, withIndex(err, i, it.in.Loc)
			}
			ext := format.ExtendedArgs(arg)
			if def != it.def || ext != it.ext {
				it.def, it.ext = def, ext
				changed++
			}
			it.arg = arg
		}
		log.Debugf("pass %d: %d bytes, %d jumps changed", pass, l.offset[len(l.items)], changed)
		if changed == 0 {
			return pass, nil
		}
	}
	return 0, ir.Errorf(ir.ErrEncodingDidNotConverge, "jump widths still changing after %d passes", maxPasses)
}

// emit writes the code stream. resolve must have succeeded.
func (l *layout) emit() []byte {
	w := newCodeWriter(l.offset[len(l.items)])
	prefix := l.p.ExtendedArg()
	for i := range l.items {
		it := &l.items[i]
		for k := it.ext; k > 0; k-- {
			w.emit(prefix.Code, byte(it.arg>>(8*k)))
		}
		w.emit(it.def.Code, byte(it.arg))
		w.caches(it.def.Caches)
	}
	return w.bytes()
}

func (l *layout) offsets() []int {
	return append([]int(nil), l.offset[:len(l.items)]...)
}

// exceptionEntries converts the try markers into table rows ordered by
// start. Empty ranges are dropped.
func (l *layout) exceptionEntries() ([]container.ExceptionEntry, error) {
	var entries []container.ExceptionEntry
	for _, t := range l.tries {
		e := container.ExceptionEntry{
			Start:  l.offset[t.begin],
			End:    l.offset[t.end],
			Target: l.offset[t.handler],
			Depth:  t.depth,
			Lasti:  t.lasti,
		}
		if e.Start == e.End {
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })
	for i := 1; i < len(entries); i++ {
		if entries[i].Start < entries[i-1].End {
			return nil, ir.Errorf(ir.ErrInvalidExceptionRange, "ranges %s and %s overlap", entries[i-1], entries[i]).AtOffset(entries[i].Start)
		}
	}
	return entries, nil
}

// lineRuns returns the line table runs and whether any instruction has a
// known location.
func (l *layout) lineRuns() ([]container.LineRun, bool) {
	var runs []container.LineRun
	known := false
	for i := range l.items {
		it := &l.items[i]
		known = known || it.in.Loc.Known()
		runs = container.AddRun(runs, it.size()/format.CodeUnit, it.in.Loc)
	}
	return runs, known
}

// ---------------------------------------------------------------------------
// codeWriter: appends code units
// ---------------------------------------------------------------------------

type codeWriter struct {
	buf []byte
}

func newCodeWriter(size int) *codeWriter {
	return &codeWriter{buf: make([]byte, 0, size)}
}

// emit appends one code unit.
func (w *codeWriter) emit(op, arg byte) {
	w.buf = append(w.buf, op, arg)
}

// caches appends n zeroed cache units.
func (w *codeWriter) caches(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0, 0)
	}
}

func (w *codeWriter) bytes() []byte {
	return w.buf
}
