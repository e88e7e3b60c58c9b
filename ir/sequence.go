package ir

import "fmt"

// Element is one entry of a flat Sequence: an Instr, a Label marking a
// position, or a TryBegin/TryEnd pair delimiting an exception range.
type Element interface {
	isElement()
}

// TryBegin opens an exception range. Target is the handler label. Depth is
// the stack depth the handler unwinds to; PushLasti asks the VM to push the
// offset of the faulting instruction as well.
type TryBegin struct {
	Target    Label
	Depth     int
	PushLasti bool
}

func (*TryBegin) isElement() {}

func (t *TryBegin) String() string {
	s := fmt.Sprintf("TRY_BEGIN %s depth=%d", t.Target, t.Depth)
	if t.PushLasti {
		s += " lasti"
	}
	return s
}

// TryEnd closes the range opened by Begin.
type TryEnd struct {
	Begin *TryBegin
}

func (*TryEnd) isElement() {}

func (t *TryEnd) String() string {
	if t.Begin == nil {
		return "TRY_END"
	}
	return fmt.Sprintf("TRY_END %s", t.Begin.Target)
}

// Sequence is the flat form of the IR. It owns its label arena.
type Sequence struct {
	elems  []Element
	labels LabelArena
}

// NewSequence returns an empty sequence.
func NewSequence() *Sequence {
	return &Sequence{elems: make([]Element, 0, 32)}
}

// NewLabel allocates a label owned by this sequence.
func (s *Sequence) NewLabel() Label {
	return s.labels.New()
}

// LabelCount returns the number of labels allocated so far.
func (s *Sequence) LabelCount() int {
	return s.labels.Count()
}

// ReserveLabels marks handles up to n as allocated, for sequences whose
// labels were allocated elsewhere.
func (s *Sequence) ReserveLabels(n int) {
	s.labels.Reserve(n)
}

// Append adds elements at the end.
func (s *Sequence) Append(e ...Element) {
	s.elems = append(s.elems, e...)
}

// Insert adds elements before position i.
func (s *Sequence) Insert(i int, e ...Element) error {
	if i < 0 || i > len(s.elems) {
		return fmt.Errorf("insert position %d out of range [0,%d]", i, len(s.elems))
	}
	s.elems = append(s.elems[:i], append(append([]Element(nil), e...), s.elems[i:]...)...)
	return nil
}

// Remove deletes the element at position i.
func (s *Sequence) Remove(i int) error {
	if i < 0 || i >= len(s.elems) {
		return fmt.Errorf("remove position %d out of range [0,%d)", i, len(s.elems))
	}
	s.elems = append(s.elems[:i], s.elems[i+1:]...)
	return nil
}

// Len returns the number of elements, markers included.
func (s *Sequence) Len() int {
	return len(s.elems)
}

// At returns the element at position i.
func (s *Sequence) At(i int) Element {
	return s.elems[i]
}

// Elements returns a copy of the element list.
func (s *Sequence) Elements() []Element {
	return append([]Element(nil), s.elems...)
}

// Instructions returns only the instructions, in order.
func (s *Sequence) Instructions() []Instr {
	out := make([]Instr, 0, len(s.elems))
	for _, e := range s.elems {
		if in, ok := e.(Instr); ok {
			out = append(out, in)
		}
	}
	return out
}

// Check verifies the label and range structure: every label used by a jump
// or a TryBegin is marked exactly once, every marker belongs to this
// sequence, and try ranges are closed in order without nesting. Instruction
// indexes in errors count instructions only.
func (s *Sequence) Check() error {
	marked := make(map[Label]bool)
	for _, e := range s.elems {
		l, ok := e.(Label)
		if !ok {
			continue
		}
		if !s.labels.Owns(l) {
			return Errorf(ErrUnresolvedLabel, "marker %s was not allocated by this sequence", l)
		}
		if marked[l] {
			return Errorf(ErrDuplicateLabel, "%s marked more than once", l)
		}
		marked[l] = true
	}

	var open *TryBegin
	idx := 0
	for _, e := range s.elems {
		switch e := e.(type) {
		case Instr:
			if e.IsJump() && !marked[e.Arg.Label()] {
				return Errorf(ErrUnresolvedLabel, "%s is never marked", e.Arg.Label()).AtIndex(idx, e.Loc)
			}
			idx++
		case *TryBegin:
			if open != nil {
				return Errorf(ErrInvalidExceptionRange, "nested try range before instruction %d", idx)
			}
			if !marked[e.Target] {
				return Errorf(ErrUnresolvedLabel, "handler %s is never marked", e.Target).AtIndex(idx, Location{})
			}
			open = e
		case *TryEnd:
			if e.Begin == nil || e.Begin != open {
				return Errorf(ErrInvalidExceptionRange, "try end before instruction %d does not close the open range", idx)
			}
			open = nil
		}
	}
	return nil
}
