package ir

import (
	"errors"
	"testing"
)

func TestSequenceInsertRemove(t *testing.T) {
	s := NewSequence()
	s.Append(MustNew(testOps, "NOP", None), MustNew(testOps, "RETURN", None))

	if err := s.Insert(1, MustNew(testOps, "PUSH_CONST", Imm(1))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got := s.At(1).(Instr).Op; got != "PUSH_CONST" {
		t.Errorf("At(1) = %s, want PUSH_CONST", got)
	}
	if err := s.Remove(0); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}
	if err := s.Insert(9, MustNew(testOps, "NOP", None)); err == nil {
		t.Error("Insert out of range should fail")
	}
	if err := s.Remove(2); err == nil {
		t.Error("Remove out of range should fail")
	}
}

func TestSequenceCheckForeignLabel(t *testing.T) {
	s := NewSequence()
	s.Append(Label(7), MustNew(testOps, "RETURN", None))
	if err := s.Check(); !errors.Is(err, ErrUnresolvedLabel) {
		t.Errorf("Check = %v, want unresolved label", err)
	}
}

func TestSequenceCheckDuplicateMarker(t *testing.T) {
	s := NewSequence()
	l := s.NewLabel()
	s.Append(l, MustNew(testOps, "NOP", None), l)
	if err := s.Check(); !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("Check = %v, want duplicate label", err)
	}
}

func TestSequenceCheckIndexCountsInstructionsOnly(t *testing.T) {
	s := NewSequence()
	a := s.NewLabel()
	missing := s.NewLabel()
	s.Append(
		a,
		MustNew(testOps, "NOP", None),
		MustNew(testOps, "JUMP", Ref(a)),
		MustNew(testOps, "JUMP", Ref(missing)).At(Location{Line: 12}),
	)

	err := s.Check()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("Check = %v, want *Error", err)
	}
	if e.Index != 2 {
		t.Errorf("Index = %d, want 2", e.Index)
	}
	if e.Loc.Line != 12 {
		t.Errorf("Loc = %s, want line 12", e.Loc)
	}
}

func TestSequenceElementsIsCopy(t *testing.T) {
	s := NewSequence()
	s.Append(MustNew(testOps, "NOP", None))
	elems := s.Elements()
	elems[0] = MustNew(testOps, "RETURN", None)
	if s.At(0).(Instr).Op != "NOP" {
		t.Error("Elements should return a copy")
	}
}
