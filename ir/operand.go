package ir

import "fmt"

// OperandKind tells which of the three operand shapes an instruction carries.
type OperandKind uint8

const (
	NoOperand OperandKind = iota
	Immediate             // constant/name index or plain integer
	Variable              // local variable slot
	LabelRef              // jump target
)

func (k OperandKind) String() string {
	switch k {
	case NoOperand:
		return "none"
	case Immediate:
		return "immediate"
	case Variable:
		return "variable"
	case LabelRef:
		return "label"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// Operand is the value carried by an instruction. The zero Operand is "no
// operand".
type Operand struct {
	kind  OperandKind
	value uint32
	label Label
}

// None is the empty operand.
var None = Operand{}

// Imm returns an immediate operand.
func Imm(v uint32) Operand {
	return Operand{kind: Immediate, value: v}
}

// Var returns a variable-slot operand.
func Var(slot uint32) Operand {
	return Operand{kind: Variable, value: slot}
}

// Ref returns a label operand.
func Ref(l Label) Operand {
	return Operand{kind: LabelRef, label: l}
}

func (o Operand) Kind() OperandKind { return o.kind }

// Value returns the immediate or slot value; zero for other kinds.
func (o Operand) Value() uint32 { return o.value }

// Label returns the referenced label; NoLabel for other kinds.
func (o Operand) Label() Label { return o.label }

func (o Operand) String() string {
	switch o.kind {
	case Immediate:
		return fmt.Sprintf("%d", o.value)
	case Variable:
		return fmt.Sprintf("$%d", o.value)
	case LabelRef:
		return o.label.String()
	default:
		return ""
	}
}
