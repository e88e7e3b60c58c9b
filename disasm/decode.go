// Package disasm reads containers back into the IR. Decoding is strict: only
// streams the assembler could have produced are accepted, so that
// disassembling and reassembling reproduces the input byte for byte. That
// includes jump widths: a jump with an extra prefix whose target still fits
// is rejected.
package disasm

import (
	"sort"

	"github.com/tliron/commonlog"

	"github.com/chazu/bcir/asm"
	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/container"
	"github.com/chazu/bcir/format"
	"github.com/chazu/bcir/ir"
)

var log = commonlog.GetLogger("bcir.disasm")

// Code is a decoded container: the flat instruction sequence plus the
// header values the graph keeps.
type Code struct {
	Profile  *format.Profile
	Header   cfg.Header
	Sequence *ir.Sequence

	// Offsets holds the byte offset of each instruction in Sequence order.
	Offsets []int
}

// raw is one decoded instruction before labels exist.
type raw struct {
	start, end int // byte span including prefixes and caches
	def        *format.OpDef
	arg        uint32
	target     int // jump target offset
}

// Decode parses a container and decodes its code with the profile named by
// tag. An empty tag selects the profile by the container's version number.
func Decode(data []byte, tag string) (*Code, error) {
	img, err := container.Decode(data)
	if err != nil {
		return nil, err
	}
	p, err := profileFor(img.Version, tag)
	if err != nil {
		return nil, err
	}

	d := &decoder{p: p, code: img.Code}
	if err := d.instructions(); err != nil {
		return nil, err
	}
	if err := d.jumps(); err != nil {
		return nil, err
	}

	var entries []container.ExceptionEntry
	if img.Flags&container.FlagExceptionTable != 0 {
		if !p.ExceptionTable {
			return nil, ir.Errorf(ir.ErrBadContainer, "profile %s has no exception table but the container carries one", p.Tag)
		}
		if entries, err = container.DecodeExceptionTable(img.ExceptionTable, format.CodeUnit); err != nil {
			return nil, err
		}
		if err := d.checkEntries(entries); err != nil {
			return nil, err
		}
	}

	var locs []ir.Location
	if img.Flags&container.FlagLineTable != 0 {
		runs, err := container.DecodeLineTable(img.LineTable)
		if err != nil {
			return nil, err
		}
		if locs, err = container.Locations(runs, len(img.Code)/format.CodeUnit); err != nil {
			return nil, err
		}
		if err := d.checkLocations(locs); err != nil {
			return nil, err
		}
	}

	seq, offsets := d.sequence(entries, locs)
	if err := d.checkWidths(seq); err != nil {
		return nil, err
	}
	log.Debugf("decoded %d instructions, %d exception entries (profile %s)", len(d.instrs), len(entries), p.Tag)
	return &Code{
		Profile:  p,
		Header:   cfg.Header{Flags: img.Flags, MaxStack: int(img.MaxStack)},
		Sequence: seq,
		Offsets:  offsets,
	}, nil
}

func profileFor(version uint16, tag string) (*format.Profile, error) {
	if tag == "" {
		return format.ProfileForNumber(version)
	}
	p, err := format.ProfileFor(tag)
	if err != nil {
		return nil, err
	}
	if p.Number != version {
		return nil, ir.Errorf(ir.ErrUnsupportedVersion, "container is version %d, profile %s decodes version %d", version, tag, p.Number)
	}
	return p, nil
}

type decoder struct {
	p      *format.Profile
	code   []byte
	instrs []raw
	starts map[int]bool
}

// instructions splits the code into instructions, folding prefixes into
// the instruction they extend.
func (d *decoder) instructions() error {
	if len(d.code)%format.CodeUnit != 0 {
		return ir.Errorf(ir.ErrTruncatedStream, "code length %d is not a whole number of code units", len(d.code)).AtOffset(len(d.code) - 1)
	}
	prefix := d.p.ExtendedArg()
	d.starts = make(map[int]bool)

	pos := 0
	for pos < len(d.code) {
		start := pos
		ext := 0
		var arg uint32
		var def *format.OpDef
		for {
			if pos >= len(d.code) {
				return ir.Errorf(ir.ErrTruncatedStream, "stream ends after %s", prefix.Name).AtOffset(start)
			}
			op, b := d.code[pos], d.code[pos+1]
			od, ok := d.p.ByCode(op)
			if !ok {
				return ir.Errorf(ir.ErrUnknownOpcode, "opcode %d (0x%02X) is not defined in profile %s", op, op, d.p.Tag).AtOffset(pos)
			}
			arg = arg<<8 | uint32(b)
			pos += format.CodeUnit
			if od != prefix {
				def = od
				break
			}
			ext++
			if ext > format.MaxExtendedArgs {
				return ir.Errorf(ir.ErrInvalidOperand, "more than %d %s prefixes", format.MaxExtendedArgs, prefix.Name).AtOffset(start)
			}
		}
		if ext != format.ExtendedArgs(arg) {
			return ir.Errorf(ir.ErrInvalidOperand, "%s argument %d carries %d prefixes, needs %d", def.Name, arg, ext, format.ExtendedArgs(arg)).AtOffset(start)
		}
		if def.Arg == format.ArgNone && arg != 0 {
			return ir.Errorf(ir.ErrInvalidOperand, "%s takes no argument, got %d", def.Name, arg).AtOffset(start)
		}
		pos += def.Caches * format.CodeUnit
		if pos > len(d.code) {
			return ir.Errorf(ir.ErrTruncatedStream, "stream ends inside the caches of %s", def.Name).AtOffset(start)
		}
		d.starts[start] = true
		d.instrs = append(d.instrs, raw{start: start, end: pos, def: def, arg: arg})
	}
	return nil
}

// boundary reports whether off is an instruction start or the end of code.
func (d *decoder) boundary(off int) bool {
	return off == len(d.code) || d.starts[off]
}

func (d *decoder) jumps() error {
	codec := d.p.Codec()
	for i := range d.instrs {
		r := &d.instrs[i]
		if !r.def.HasJump() {
			continue
		}
		r.target = codec.Decode(r.end, r.arg, r.def.Backward)
		if r.target < 0 || r.target > len(d.code) {
			return ir.Errorf(ir.ErrInvalidOperand, "%s targets offset %d outside the %d-byte stream", r.def.Name, r.target, len(d.code)).AtOffset(r.start)
		}
		if !d.boundary(r.target) {
			return ir.Errorf(ir.ErrInvalidOperand, "%s targets offset %d inside an instruction", r.def.Name, r.target).AtOffset(r.start)
		}
	}
	return nil
}

func (d *decoder) checkEntries(entries []container.ExceptionEntry) error {
	for i, e := range entries {
		if e.Start >= e.End || !d.boundary(e.Start) || !d.boundary(e.End) || e.End > len(d.code) {
			return ir.Errorf(ir.ErrInvalidExceptionRange, "entry %s does not cover whole instructions", e).AtOffset(e.Start)
		}
		if e.Target >= len(d.code) || !d.starts[e.Target] {
			return ir.Errorf(ir.ErrInvalidExceptionRange, "entry %s has a handler outside the code", e).AtOffset(e.Start)
		}
		if i > 0 && e.Start < entries[i-1].End {
			return ir.Errorf(ir.ErrInvalidExceptionRange, "entry %s overlaps or precedes %s", e, entries[i-1]).AtOffset(e.Start)
		}
	}
	return nil
}

// checkLocations rejects line tables that give the prefix or cache units of
// an instruction a location other than the instruction's own.
func (d *decoder) checkLocations(locs []ir.Location) error {
	for _, r := range d.instrs {
		first := r.start / format.CodeUnit
		for u := first + 1; u < r.end/format.CodeUnit; u++ {
			if locs[u] != locs[first] {
				return ir.Errorf(ir.ErrBadContainer, "line table gives part of %s the location %s instead of %s", r.def.Name, locs[u], locs[first]).AtOffset(u * format.CodeUnit)
			}
		}
	}
	return nil
}

// checkWidths rejects jumps carrying more prefixes than the assembler gives
// them. Such a stream is self-consistent but is not the layout assembly
// settles on.
func (d *decoder) checkWidths(seq *ir.Sequence) error {
	sizes, err := asm.Sizes(d.p, seq)
	if err != nil {
		return err
	}
	for i, r := range d.instrs {
		if sizes[i] != r.end-r.start {
			return ir.Errorf(ir.ErrInvalidOperand, "%s is encoded in %d bytes where the assembler uses %d", r.def.Name, r.end-r.start, sizes[i]).AtOffset(r.start)
		}
	}
	return nil
}

// sequence builds the flat sequence. At each offset the order is: range
// end, label, range start, instruction.
func (d *decoder) sequence(entries []container.ExceptionEntry, locs []ir.Location) (*ir.Sequence, []int) {
	seq := ir.NewSequence()

	targets := make(map[int]bool)
	for _, r := range d.instrs {
		if r.def.HasJump() {
			targets[r.target] = true
		}
	}
	for _, e := range entries {
		targets[e.Target] = true
	}
	offs := make([]int, 0, len(targets))
	for off := range targets {
		offs = append(offs, off)
	}
	sort.Ints(offs)
	labels := make(map[int]ir.Label, len(offs))
	for _, off := range offs {
		labels[off] = seq.NewLabel()
	}

	begins := make(map[int]container.ExceptionEntry)
	ends := make(map[int]bool)
	for _, e := range entries {
		begins[e.Start] = e
		ends[e.End] = true
	}

	var open *ir.TryBegin
	at := func(off int) {
		if ends[off] && open != nil {
			seq.Append(&ir.TryEnd{Begin: open})
			open = nil
		}
		if l, ok := labels[off]; ok {
			seq.Append(l)
		}
		if e, ok := begins[off]; ok {
			open = &ir.TryBegin{Target: labels[e.Target], Depth: e.Depth, PushLasti: e.Lasti}
			seq.Append(open)
		}
	}

	offsets := make([]int, 0, len(d.instrs))
	for _, r := range d.instrs {
		at(r.start)
		in := ir.Instr{Op: r.def.Name, Arg: d.operand(r, labels)}
		if locs != nil {
			in.Loc = locs[r.start/format.CodeUnit]
		}
		seq.Append(in)
		offsets = append(offsets, r.start)
	}
	at(len(d.code))
	return seq, offsets
}

func (d *decoder) operand(r raw, labels map[int]ir.Label) ir.Operand {
	switch r.def.Arg.Operand() {
	case ir.NoOperand:
		return ir.None
	case ir.Variable:
		return ir.Var(r.arg)
	case ir.LabelRef:
		return ir.Ref(labels[r.target])
	default:
		return ir.Imm(r.arg)
	}
}
