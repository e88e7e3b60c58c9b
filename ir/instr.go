package ir

import (
	"fmt"
	"strings"
)

// Location maps an instruction back to source. Line 0 means unknown;
// columns are 1-based and 0 when unknown.
type Location struct {
	Line   int
	Col    int
	EndCol int
}

// Known reports whether the location carries a line.
func (l Location) Known() bool {
	return l.Line > 0
}

func (l Location) String() string {
	if !l.Known() {
		return "line ?"
	}
	if l.Col == 0 {
		return fmt.Sprintf("line %d", l.Line)
	}
	if l.EndCol == 0 {
		return fmt.Sprintf("line %d:%d", l.Line, l.Col)
	}
	return fmt.Sprintf("line %d:%d-%d", l.Line, l.Col, l.EndCol)
}

// OpChecker validates an opcode name against the operand it is given.
// format.Profile is the implementation used throughout bcir.
type OpChecker interface {
	CheckOperand(op string, arg Operand) error
}

// Instr is a single instruction. It is a plain value: copying an Instr
// copies the instruction.
type Instr struct {
	Op  string
	Arg Operand
	Loc Location
}

func (Instr) isElement() {}

// New builds an instruction, failing with ErrInvalidOperand when the operand
// does not match what op requires, or ErrUnknownOpcode when ops does not
// define op.
func New(ops OpChecker, op string, arg Operand) (Instr, error) {
	if err := ops.CheckOperand(op, arg); err != nil {
		return Instr{}, err
	}
	return Instr{Op: op, Arg: arg}, nil
}

// MustNew is New for statically known instructions; it panics on error.
func MustNew(ops OpChecker, op string, arg Operand) Instr {
	in, err := New(ops, op, arg)
	if err != nil {
		panic(err)
	}
	return in
}

// At returns a copy of the instruction carrying loc.
func (i Instr) At(loc Location) Instr {
	i.Loc = loc
	return i
}

// Equal compares opcode, operand and location.
func (i Instr) Equal(o Instr) bool {
	return i == o
}

// IsJump reports whether the operand is a label reference.
func (i Instr) IsJump() bool {
	return i.Arg.Kind() == LabelRef
}

func (i Instr) String() string {
	var sb strings.Builder
	sb.WriteString(i.Op)
	if i.Arg.Kind() != NoOperand {
		sb.WriteByte(' ')
		sb.WriteString(i.Arg.String())
	}
	if i.Loc.Known() {
		sb.WriteString(" ; ")
		sb.WriteString(i.Loc.String())
	}
	return sb.String()
}
