package flow

import (
	"errors"
	"fmt"

	"github.com/chazu/bcir/cfg"
	"github.com/chazu/bcir/ir"
)

// ErrUnreachable marks blocks no path from the entry reaches. It is only
// ever reported as a warning.
var ErrUnreachable = errors.New("unreachable block")

// Severity ranks an issue.
type Severity uint8

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Issue is one finding of the validator. Index is the instruction index
// across the whole graph, or -1 when the issue concerns a block or range.
type Issue struct {
	Kind     error
	Severity Severity
	Block    *cfg.Block
	Index    int
	Loc      ir.Location
	Msg      string
}

func (i Issue) String() string {
	s := fmt.Sprintf("%s: %s", i.Severity, i.Kind)
	if i.Block != nil {
		s += fmt.Sprintf(" in %s", i.Block)
	}
	if i.Index >= 0 {
		s += fmt.Sprintf(" at instruction %d", i.Index)
	}
	if i.Loc.Known() {
		s += fmt.Sprintf(" (%s)", i.Loc)
	}
	if i.Msg != "" {
		s += ": " + i.Msg
	}
	return s
}

// Err converts the issue into an *ir.Error.
func (i Issue) Err() error {
	return &ir.Error{Kind: i.Kind, Offset: -1, Index: i.Index, Loc: i.Loc, Msg: i.Msg}
}

// FirstError returns the first error-severity issue as an error, or nil.
func FirstError(issues []Issue) error {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return is.Err()
		}
	}
	return nil
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	return FirstError(issues) != nil
}
