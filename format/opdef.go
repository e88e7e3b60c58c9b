package format

import (
	"fmt"

	"github.com/chazu/bcir/ir"
)

// CodeUnit is the size in bytes of one code unit: an opcode byte followed by
// an argument byte. Every instruction, prefix and cache entry is a whole
// number of code units.
const CodeUnit = 2

// MaxExtendedArgs is the largest number of EXTENDED_ARG prefixes an
// instruction may carry; three prefixes plus the instruction's own byte give
// a 32-bit argument.
const MaxExtendedArgs = 3

// ArgKind describes what an opcode's argument means.
type ArgKind uint8

const (
	ArgNone  ArgKind = iota // no argument; the arg byte must be zero
	ArgImm                  // plain integer
	ArgConst                // constant pool index
	ArgName                 // name table index
	ArgLocal                // local variable slot
	ArgJump                 // jump target
)

var argKindNames = map[string]ArgKind{
	"none":  ArgNone,
	"imm":   ArgImm,
	"const": ArgConst,
	"name":  ArgName,
	"local": ArgLocal,
	"jump":  ArgJump,
}

func (k ArgKind) String() string {
	for name, v := range argKindNames {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("ArgKind(%d)", k)
}

// Operand returns the IR operand kind carried by instructions of this kind.
func (k ArgKind) Operand() ir.OperandKind {
	switch k {
	case ArgNone:
		return ir.NoOperand
	case ArgLocal:
		return ir.Variable
	case ArgJump:
		return ir.LabelRef
	default:
		return ir.Immediate
	}
}

// Flow describes how control leaves an instruction.
type Flow uint8

const (
	FlowNext   Flow = iota // continues with the next instruction
	FlowJump               // always jumps
	FlowBranch             // jumps or continues
	FlowExit               // leaves the code object (return, raise)
	FlowSetup              // continues; the target is an exception handler
)

var flowNames = map[string]Flow{
	"":       FlowNext,
	"next":   FlowNext,
	"jump":   FlowJump,
	"branch": FlowBranch,
	"exit":   FlowExit,
	"setup":  FlowSetup,
}

func (f Flow) String() string {
	switch f {
	case FlowNext:
		return "next"
	case FlowJump:
		return "jump"
	case FlowBranch:
		return "branch"
	case FlowExit:
		return "exit"
	case FlowSetup:
		return "setup"
	default:
		return fmt.Sprintf("Flow(%d)", f)
	}
}

// OpDef is the profile's description of one opcode.
type OpDef struct {
	Name   string
	Code   byte
	Arg    ArgKind
	Flow   Flow
	Caches int // cache units following the instruction

	// Stack effect on the fallthrough path: pops Pop + PopArg*arg values,
	// then pushes Push + PushArg*arg values.
	Pop, Push       int
	PopArg, PushArg int

	// Stack effect when the jump is taken, if it differs from the
	// fallthrough path.
	JumpPop, JumpPush int
	jumpEffect        bool

	// Directional relative jumps come in forward/backward pairs.
	Backward bool
	Pair     string
}

func (d *OpDef) String() string {
	return d.Name
}

// HasJump reports whether the argument is a jump target.
func (d *OpDef) HasJump() bool {
	return d.Arg == ArgJump
}

// Transfers reports whether the instruction ends a basic block.
func (d *OpDef) Transfers() bool {
	return d.HasJump() || d.Flow == FlowExit
}

// FallsThrough reports whether execution may continue with the next
// instruction.
func (d *OpDef) FallsThrough() bool {
	switch d.Flow {
	case FlowNext, FlowBranch, FlowSetup:
		return true
	default:
		return false
	}
}

// Effect returns how many values the instruction pops and pushes, on the
// jump path when jump is set and on the fallthrough path otherwise.
func (d *OpDef) Effect(arg uint32, jump bool) (pop, push int) {
	if jump && d.jumpEffect {
		return d.JumpPop, d.JumpPush
	}
	if jump && d.Flow == FlowSetup {
		return 0, 0
	}
	n := int(arg)
	return d.Pop + d.PopArg*n, d.Push + d.PushArg*n
}

// StackEffect returns the net change in stack depth.
func (d *OpDef) StackEffect(arg uint32, jump bool) int {
	pop, push := d.Effect(arg, jump)
	return push - pop
}

// ExtendedArgs returns how many EXTENDED_ARG prefixes arg needs.
func ExtendedArgs(arg uint32) int {
	switch {
	case arg < 1<<8:
		return 0
	case arg < 1<<16:
		return 1
	case arg < 1<<24:
		return 2
	default:
		return 3
	}
}

// Size returns the encoded size in bytes of an instruction of this opcode
// with ext prefixes.
func (d *OpDef) Size(ext int) int {
	return (1 + ext + d.Caches) * CodeUnit
}
