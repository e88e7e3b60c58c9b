package container

import (
	"encoding/binary"

	"github.com/chazu/bcir/ir"
)

// LineRun gives the location of Units consecutive code units.
type LineRun struct {
	Units int
	Loc   ir.Location
}

// AddRun appends a run, merging it into the previous one when both carry
// the same location.
func AddRun(runs []LineRun, units int, loc ir.Location) []LineRun {
	if units <= 0 {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Loc == loc {
		runs[n-1].Units += units
		return runs
	}
	return append(runs, LineRun{Units: units, Loc: loc})
}

// EncodeLineTable serializes runs. Lines are stored as deltas from the
// previous run, starting at zero.
func EncodeLineTable(runs []LineRun) []byte {
	var buf []byte
	prev := 0
	for _, r := range runs {
		buf = binary.AppendUvarint(buf, uint64(r.Units))
		buf = binary.AppendVarint(buf, int64(r.Loc.Line-prev))
		buf = binary.AppendUvarint(buf, uint64(r.Loc.Col))
		buf = binary.AppendUvarint(buf, uint64(r.Loc.EndCol))
		prev = r.Loc.Line
	}
	return buf
}

// DecodeLineTable parses a line table. Only the encoding EncodeLineTable
// produces is accepted: varints are minimal and adjacent runs differ.
func DecodeLineTable(data []byte) ([]LineRun, error) {
	var runs []LineRun
	pos := 0
	prev := 0

	var scratch [binary.MaxVarintLen64]byte
	uvarint := func() (int, error) {
		v, n := binary.Uvarint(data[pos:])
		if n <= 0 || v > 1<<31 {
			return 0, ir.Errorf(ir.ErrBadContainer, "malformed line table").AtOffset(pos)
		}
		if binary.PutUvarint(scratch[:], v) != n {
			return 0, ir.Errorf(ir.ErrBadContainer, "overlong varint in line table").AtOffset(pos)
		}
		pos += n
		return int(v), nil
	}

	for pos < len(data) {
		start := pos
		units, err := uvarint()
		if err != nil {
			return nil, err
		}
		if units == 0 {
			return nil, ir.Errorf(ir.ErrBadContainer, "empty line table run").AtOffset(pos)
		}
		delta, n := binary.Varint(data[pos:])
		if n <= 0 {
			return nil, ir.Errorf(ir.ErrBadContainer, "malformed line table").AtOffset(pos)
		}
		if binary.PutVarint(scratch[:], delta) != n {
			return nil, ir.Errorf(ir.ErrBadContainer, "overlong varint in line table").AtOffset(pos)
		}
		pos += n
		line := prev + int(delta)
		if line < 0 {
			return nil, ir.Errorf(ir.ErrBadContainer, "negative line number %d", line).AtOffset(pos)
		}
		col, err := uvarint()
		if err != nil {
			return nil, err
		}
		endCol, err := uvarint()
		if err != nil {
			return nil, err
		}
		loc := ir.Location{Line: line, Col: col, EndCol: endCol}
		if k := len(runs); k > 0 && runs[k-1].Loc == loc {
			return nil, ir.Errorf(ir.ErrBadContainer, "line table repeats %s in adjacent runs", loc).AtOffset(start)
		}
		runs = append(runs, LineRun{Units: units, Loc: loc})
		prev = line
	}
	return runs, nil
}

// Locations expands runs into one location per code unit, failing when the
// runs do not cover exactly units code units.
func Locations(runs []LineRun, units int) ([]ir.Location, error) {
	out := make([]ir.Location, 0, units)
	for _, r := range runs {
		if len(out)+r.Units > units {
			return nil, ir.Errorf(ir.ErrBadContainer, "line table covers more than the %d code units of the code", units)
		}
		for i := 0; i < r.Units; i++ {
			out = append(out, r.Loc)
		}
	}
	if len(out) != units {
		return nil, ir.Errorf(ir.ErrBadContainer, "line table covers %d code units, code has %d", len(out), units)
	}
	return out, nil
}
