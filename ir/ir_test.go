package ir

import (
	"errors"
	"strings"
	"testing"
)

// opTable is a minimal OpChecker: each opcode maps to the operand kind it
// requires.
type opTable map[string]OperandKind

func (t opTable) CheckOperand(op string, arg Operand) error {
	want, ok := t[op]
	if !ok {
		return Errorf(ErrUnknownOpcode, "%s", op)
	}
	if arg.Kind() != want {
		return Errorf(ErrInvalidOperand, "%s takes %s, got %s", op, want, arg.Kind())
	}
	return nil
}

var testOps = opTable{
	"NOP":           NoOperand,
	"RETURN":        NoOperand,
	"PUSH_CONST":    Immediate,
	"LOAD_LOCAL":    Variable,
	"JUMP":          LabelRef,
	"JUMP_IF_FALSE": LabelRef,
}

// ---------------------------------------------------------------------------
// Instruction tests
// ---------------------------------------------------------------------------

func TestNewChecksOperand(t *testing.T) {
	tests := []struct {
		op   string
		arg  Operand
		kind error
	}{
		{"NOP", None, nil},
		{"NOP", Imm(1), ErrInvalidOperand},
		{"PUSH_CONST", Imm(5), nil},
		{"PUSH_CONST", None, ErrInvalidOperand},
		{"PUSH_CONST", Var(5), ErrInvalidOperand},
		{"LOAD_LOCAL", Var(0), nil},
		{"JUMP", Ref(1), nil},
		{"JUMP", Imm(1), ErrInvalidOperand},
		{"FROB", None, ErrUnknownOpcode},
	}

	for _, tt := range tests {
		_, err := New(testOps, tt.op, tt.arg)
		if tt.kind == nil {
			if err != nil {
				t.Errorf("New(%s, %s): unexpected error %v", tt.op, tt.arg, err)
			}
			continue
		}
		if !errors.Is(err, tt.kind) {
			t.Errorf("New(%s, %s) = %v, want %v", tt.op, tt.arg, err, tt.kind)
		}
	}
}

func TestMustNewPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustNew should panic on a bad operand")
		}
	}()
	MustNew(testOps, "RETURN", Imm(3))
}

func TestInstrString(t *testing.T) {
	tests := []struct {
		in   Instr
		want string
	}{
		{MustNew(testOps, "RETURN", None), "RETURN"},
		{MustNew(testOps, "PUSH_CONST", Imm(5)), "PUSH_CONST 5"},
		{MustNew(testOps, "LOAD_LOCAL", Var(2)), "LOAD_LOCAL $2"},
		{MustNew(testOps, "JUMP", Ref(3)), "JUMP L3"},
		{MustNew(testOps, "NOP", None).At(Location{Line: 4}), "NOP ; line 4"},
		{MustNew(testOps, "NOP", None).At(Location{Line: 4, Col: 1, EndCol: 9}), "NOP ; line 4:1-9"},
	}

	for _, tt := range tests {
		if got := tt.in.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestInstrEqual(t *testing.T) {
	a := MustNew(testOps, "PUSH_CONST", Imm(5))
	b := MustNew(testOps, "PUSH_CONST", Imm(5))
	if !a.Equal(b) {
		t.Error("identical instructions should be equal")
	}
	if a.Equal(b.At(Location{Line: 1})) {
		t.Error("instructions with different locations should differ")
	}
	if a.Equal(MustNew(testOps, "PUSH_CONST", Imm(6))) {
		t.Error("instructions with different operands should differ")
	}
}

func TestOperandKindsDistinct(t *testing.T) {
	if Imm(3) == Var(3) {
		t.Error("Imm(3) and Var(3) should differ")
	}
	if Ref(1).Label() != 1 || Ref(1).Kind() != LabelRef {
		t.Error("Ref should carry its label")
	}
	if None.Kind() != NoOperand {
		t.Error("zero operand should be NoOperand")
	}
}

// ---------------------------------------------------------------------------
// Label tests
// ---------------------------------------------------------------------------

func TestLabelIdentity(t *testing.T) {
	s := NewSequence()
	a := s.NewLabel()
	b := s.NewLabel()
	if a == b {
		t.Error("fresh labels must be distinct")
	}
	if a == NoLabel || b == NoLabel {
		t.Error("NoLabel must never be allocated")
	}
	if s.LabelCount() != 2 {
		t.Errorf("LabelCount = %d, want 2", s.LabelCount())
	}
}

func TestErrorFormatting(t *testing.T) {
	err := Errorf(ErrUnresolvedLabel, "L3 is never marked").AtIndex(2, Location{Line: 7})
	msg := err.Error()
	for _, want := range []string{"unresolved label", "instruction 2", "line 7", "L3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should contain %q", msg, want)
		}
	}
	if strings.Contains(msg, "offset") {
		t.Errorf("error %q should not mention an offset", msg)
	}
	if !errors.Is(err, ErrUnresolvedLabel) {
		t.Error("errors.Is should match the kind")
	}
	var e *Error
	if !errors.As(err, &e) || e.Index != 2 {
		t.Error("errors.As should expose the index")
	}
}
