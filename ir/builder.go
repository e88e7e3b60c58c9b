package ir

// ---------------------------------------------------------------------------
// Builder: helper for constructing instruction sequences
// ---------------------------------------------------------------------------

// Builder helps construct a Sequence instruction by instruction. The first
// construction error is kept and returned by Sequence; later calls are
// ignored once an error has been recorded.
type Builder struct {
	ops    OpChecker
	seq    *Sequence
	loc    Location
	marked map[Label]bool
	open   *TryBegin
	err    error
}

// NewBuilder creates a builder validating opcodes against ops.
func NewBuilder(ops OpChecker) *Builder {
	return &Builder{
		ops:    ops,
		seq:    NewSequence(),
		marked: make(map[Label]bool),
	}
}

// Err returns the first recorded error.
func (b *Builder) Err() error {
	return b.err
}

// Len returns the number of elements emitted so far.
func (b *Builder) Len() int {
	return b.seq.Len()
}

// SetLocation sets the location attached to subsequently emitted
// instructions. The zero Location clears it.
func (b *Builder) SetLocation(loc Location) {
	b.loc = loc
}

// At is shorthand for SetLocation.
func (b *Builder) At(line, col, endCol int) *Builder {
	b.loc = Location{Line: line, Col: col, EndCol: endCol}
	return b
}

func (b *Builder) emit(op string, arg Operand) {
	if b.err != nil {
		return
	}
	in, err := New(b.ops, op, arg)
	if err != nil {
		b.err = err
		return
	}
	b.seq.Append(in.At(b.loc))
}

// Emit appends an instruction with no operand.
func (b *Builder) Emit(op string) {
	b.emit(op, None)
}

// EmitArg appends an instruction with an immediate operand.
func (b *Builder) EmitArg(op string, v uint32) {
	b.emit(op, Imm(v))
}

// EmitVar appends an instruction with a variable-slot operand.
func (b *Builder) EmitVar(op string, slot uint32) {
	b.emit(op, Var(slot))
}

// EmitJump appends a jump instruction targeting label.
func (b *Builder) EmitJump(op string, label Label) {
	b.emit(op, Ref(label))
}

// ---------------------------------------------------------------------------
// Label management
// ---------------------------------------------------------------------------

// NewLabel allocates an unmarked label.
func (b *Builder) NewLabel() Label {
	return b.seq.NewLabel()
}

// Mark places label at the current position.
func (b *Builder) Mark(label Label) {
	if b.err != nil {
		return
	}
	if b.marked[label] {
		b.err = Errorf(ErrDuplicateLabel, "%s already marked", label)
		return
	}
	b.marked[label] = true
	b.seq.Append(label)
}

// TryBegin opens an exception range handled at handler. The range stays open
// until TryEnd.
func (b *Builder) TryBegin(handler Label, depth int, pushLasti bool) *TryBegin {
	tb := &TryBegin{Target: handler, Depth: depth, PushLasti: pushLasti}
	if b.err != nil {
		return tb
	}
	if b.open != nil {
		b.err = Errorf(ErrInvalidExceptionRange, "try range already open for %s", b.open.Target)
		return tb
	}
	b.open = tb
	b.seq.Append(tb)
	return tb
}

// TryEnd closes the open exception range.
func (b *Builder) TryEnd() {
	if b.err != nil {
		return
	}
	if b.open == nil {
		b.err = Errorf(ErrInvalidExceptionRange, "try end without try begin")
		return
	}
	b.seq.Append(&TryEnd{Begin: b.open})
	b.open = nil
}

// Sequence returns the built sequence after checking that every referenced
// label was marked and every range closed.
func (b *Builder) Sequence() (*Sequence, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.open != nil {
		return nil, Errorf(ErrInvalidExceptionRange, "try range for %s never closed", b.open.Target)
	}
	if err := b.seq.Check(); err != nil {
		return nil, err
	}
	return b.seq, nil
}
