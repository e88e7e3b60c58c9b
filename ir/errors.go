package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error produced by bcir wraps exactly one of these, so
// callers can test with errors.Is.
var (
	ErrInvalidOperand         = errors.New("invalid operand")
	ErrUnresolvedLabel        = errors.New("unresolved label")
	ErrUnknownOpcode          = errors.New("unknown opcode")
	ErrTruncatedStream        = errors.New("truncated stream")
	ErrEncodingDidNotConverge = errors.New("encoding did not converge")
	ErrStackDepthMismatch     = errors.New("stack depth mismatch")
	ErrUnsupportedVersion     = errors.New("unsupported version")

	ErrDuplicateLabel         = errors.New("duplicate label")
	ErrInvalidExceptionRange  = errors.New("invalid exception range")
	ErrBlockInUse             = errors.New("block in use")
	ErrMalformedGraph         = errors.New("malformed graph")
	ErrStackUnderflow         = errors.New("stack underflow")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrBadContainer           = errors.New("bad container")
)

// Error carries the position of a structural or input fault. Offset is a
// byte offset into the code section and Index an instruction index; either
// is -1 when it does not apply.
type Error struct {
	Kind   error
	Offset int
	Index  int
	Loc    Location
	Msg    string
}

// Errorf builds an Error of the given kind with no position attached.
func Errorf(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Offset: -1, Index: -1, Msg: fmt.Sprintf(format, args...)}
}

// AtOffset returns a copy of e positioned at a byte offset.
func (e *Error) AtOffset(off int) *Error {
	c := *e
	c.Offset = off
	return &c
}

// AtIndex returns a copy of e positioned at an instruction index.
func (e *Error) AtIndex(idx int, loc Location) *Error {
	c := *e
	c.Index = idx
	c.Loc = loc
	return &c
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.Index >= 0 {
		fmt.Fprintf(&sb, " at instruction %d", e.Index)
	}
	if e.Offset >= 0 {
		fmt.Fprintf(&sb, " at offset %d", e.Offset)
	}
	if e.Loc.Known() {
		fmt.Fprintf(&sb, " (%s)", e.Loc)
	}
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}
