package format

import (
	"github.com/chazu/bcir/ir"
)

// Profile is the immutable encoding table of one format version: opcode
// names and codes, operand kinds, stack effects, cache sizes and the jump
// encoding rule. Profiles are built by Parse and shared freely.
type Profile struct {
	Tag         string
	Number      uint16
	Description string

	Jumps    JumpRule
	JumpUnit int // bytes per jump argument step

	// ExceptionTable is set when exception handling is encoded as a side
	// table rather than with inline setup instructions.
	ExceptionTable bool

	extArg   *OpDef
	fallJump *OpDef
	ops      []*OpDef
	byName   map[string]*OpDef
	byCode   [256]*OpDef
	codec    JumpCodec
}

func (p *Profile) String() string {
	return p.Tag
}

// Op looks an opcode up by name.
func (p *Profile) Op(name string) (*OpDef, bool) {
	d, ok := p.byName[name]
	return d, ok
}

// ByCode looks an opcode up by its numeric code.
func (p *Profile) ByCode(code byte) (*OpDef, bool) {
	d := p.byCode[code]
	return d, d != nil
}

// Ops returns the opcode definitions in table order.
func (p *Profile) Ops() []*OpDef {
	return append([]*OpDef(nil), p.ops...)
}

// ExtendedArg returns the prefix opcode used for wide arguments.
func (p *Profile) ExtendedArg() *OpDef {
	return p.extArg
}

// FallthroughJump returns the unconditional forward jump used when a block's
// fallthrough successor is not laid out right after it.
func (p *Profile) FallthroughJump() *OpDef {
	return p.fallJump
}

// Codec returns the jump codec of the profile.
func (p *Profile) Codec() JumpCodec {
	return p.codec
}

// Directional reports whether jump direction is part of the opcode.
func (p *Profile) Directional() bool {
	return p.Jumps == JumpRelative
}

// Variant returns the opcode to encode d with when the jump goes backward
// (or forward). Only directional profiles have variants; other profiles
// return d unchanged.
func (p *Profile) Variant(d *OpDef, backward bool) (*OpDef, error) {
	if !p.Directional() || !d.HasJump() || d.Backward == backward {
		return d, nil
	}
	if d.Pair == "" {
		dir := "forward"
		if backward {
			dir = "backward"
		}
		return nil, ir.Errorf(ir.ErrInvalidOperand, "%s cannot jump %s", d.Name, dir)
	}
	return p.byName[d.Pair], nil
}

// CheckOperand reports whether arg is a valid operand for op.
func (p *Profile) CheckOperand(op string, arg ir.Operand) error {
	d, ok := p.byName[op]
	if !ok {
		return ir.Errorf(ir.ErrUnknownOpcode, "%s is not defined in profile %s", op, p.Tag)
	}
	if d == p.extArg {
		return ir.Errorf(ir.ErrInvalidOperand, "%s is an argument prefix, not an instruction", op)
	}
	if want := d.Arg.Operand(); arg.Kind() != want {
		return ir.Errorf(ir.ErrInvalidOperand, "%s takes %s operand, got %s", op, want, arg.Kind())
	}
	if arg.Kind() == ir.LabelRef && arg.Label() == ir.NoLabel {
		return ir.Errorf(ir.ErrInvalidOperand, "%s references no label", op)
	}
	return nil
}

// Def returns the definition of in's opcode, checking its operand.
func (p *Profile) Def(in ir.Instr) (*OpDef, error) {
	if err := p.CheckOperand(in.Op, in.Arg); err != nil {
		return nil, err
	}
	return p.byName[in.Op], nil
}
