package format

import (
	"fmt"
	"math"

	"github.com/chazu/bcir/ir"
)

// JumpRule selects how jump targets are encoded in an argument.
type JumpRule uint8

const (
	JumpAbsolute JumpRule = iota // offset from the start of the code
	JumpRelative                 // unsigned distance, direction in the opcode
	JumpSigned                   // zigzag-encoded signed distance
)

var jumpRuleNames = map[string]JumpRule{
	"absolute": JumpAbsolute,
	"relative": JumpRelative,
	"signed":   JumpSigned,
}

func (r JumpRule) String() string {
	switch r {
	case JumpAbsolute:
		return "absolute"
	case JumpRelative:
		return "relative"
	case JumpSigned:
		return "signed"
	default:
		return fmt.Sprintf("JumpRule(%d)", r)
	}
}

// JumpCodec converts between jump targets and arguments. Offsets are byte
// offsets into the code; end is the offset just past the jumping
// instruction and its caches.
type JumpCodec interface {
	// Encode returns the argument reaching target from an instruction ending
	// at end. backward reports whether a directional opcode must be the
	// backward variant.
	Encode(end, target int) (arg uint32, backward bool, err error)
	// Decode returns the target offset designated by arg.
	Decode(end int, arg uint32, backward bool) int
}

// NewJumpCodec returns the codec for a rule counting in units of unit
// bytes.
func NewJumpCodec(rule JumpRule, unit int) JumpCodec {
	switch rule {
	case JumpRelative:
		return relativeCodec{unit: unit}
	case JumpSigned:
		return signedCodec{unit: unit}
	default:
		return absoluteCodec{unit: unit}
	}
}

func checkArg(v int) (uint32, error) {
	if v < 0 || int64(v) > math.MaxUint32 {
		return 0, ir.Errorf(ir.ErrInvalidOperand, "jump argument %d does not fit 32 bits", v)
	}
	return uint32(v), nil
}

type absoluteCodec struct {
	unit int
}

func (c absoluteCodec) Encode(end, target int) (uint32, bool, error) {
	if target < 0 {
		return 0, false, ir.Errorf(ir.ErrInvalidOperand, "negative jump target %d", target)
	}
	arg, err := checkArg(target / c.unit)
	return arg, false, err
}

func (c absoluteCodec) Decode(end int, arg uint32, backward bool) int {
	return int(arg) * c.unit
}

type relativeCodec struct {
	unit int
}

func (c relativeCodec) Encode(end, target int) (uint32, bool, error) {
	d := target - end
	if d < 0 {
		arg, err := checkArg(-d / c.unit)
		return arg, true, err
	}
	arg, err := checkArg(d / c.unit)
	return arg, false, err
}

func (c relativeCodec) Decode(end int, arg uint32, backward bool) int {
	if backward {
		return end - int(arg)*c.unit
	}
	return end + int(arg)*c.unit
}

type signedCodec struct {
	unit int
}

func (c signedCodec) Encode(end, target int) (uint32, bool, error) {
	d := (target - end) / c.unit
	var z int
	if d >= 0 {
		z = d << 1
	} else {
		z = (-d)<<1 - 1
	}
	arg, err := checkArg(z)
	return arg, d < 0, err
}

func (c signedCodec) Decode(end int, arg uint32, backward bool) int {
	d := int(arg >> 1)
	if arg&1 != 0 {
		d = -d - 1
	}
	return end + d*c.unit
}
