package container

import (
	"fmt"

	"github.com/chazu/bcir/ir"
)

const (
	varintMore  = 0x40 // another 6-bit chunk follows
	entryStart  = 0x80 // first byte of an entry
	varintChunk = 0x3f
)

// ExceptionEntry is one row of the exception table. Offsets are in bytes
// from the start of the code; End is exclusive.
type ExceptionEntry struct {
	Start  int
	End    int
	Target int
	Depth  int
	Lasti  bool
}

func (e ExceptionEntry) String() string {
	s := fmt.Sprintf("%d to %d -> %d [%d]", e.Start, e.End, e.Target, e.Depth)
	if e.Lasti {
		s += " lasti"
	}
	return s
}

func appendVarint(buf []byte, v uint32, first bool) []byte {
	var chunks [6]byte
	n := 0
	for {
		chunks[n] = byte(v & varintChunk)
		n++
		v >>= 6
		if v == 0 {
			break
		}
	}
	for i := n - 1; i >= 0; i-- {
		b := chunks[i]
		if i > 0 {
			b |= varintMore
		}
		if first {
			b |= entryStart
			first = false
		}
		buf = append(buf, b)
	}
	return buf
}

// EncodeExceptionTable serializes entries in the given order. Offsets must
// be code-unit aligned.
func EncodeExceptionTable(entries []ExceptionEntry, unit int) []byte {
	var buf []byte
	for _, e := range entries {
		depth := uint32(e.Depth) << 1
		if e.Lasti {
			depth |= 1
		}
		buf = appendVarint(buf, uint32(e.Start/unit), true)
		buf = appendVarint(buf, uint32((e.End-e.Start)/unit), false)
		buf = appendVarint(buf, uint32(e.Target/unit), false)
		buf = appendVarint(buf, depth, false)
	}
	return buf
}

// DecodeExceptionTable parses an exception table whose offsets count units
// of unit bytes. Varints must be minimal.
func DecodeExceptionTable(data []byte, unit int) ([]ExceptionEntry, error) {
	var entries []ExceptionEntry
	pos := 0

	read := func(first bool) (uint32, error) {
		if pos >= len(data) {
			return 0, ir.Errorf(ir.ErrBadContainer, "exception table entry cut short").AtOffset(pos)
		}
		b := data[pos]
		if (b&entryStart != 0) != first {
			return 0, ir.Errorf(ir.ErrBadContainer, "misplaced entry marker in exception table").AtOffset(pos)
		}
		if b&varintMore != 0 && b&varintChunk == 0 {
			return 0, ir.Errorf(ir.ErrBadContainer, "overlong varint in exception table").AtOffset(pos)
		}
		pos++
		v := uint64(b & varintChunk)
		for b&varintMore != 0 {
			if pos >= len(data) {
				return 0, ir.Errorf(ir.ErrBadContainer, "exception table varint cut short").AtOffset(pos)
			}
			b = data[pos]
			if b&entryStart != 0 {
				return 0, ir.Errorf(ir.ErrBadContainer, "misplaced entry marker in exception table").AtOffset(pos)
			}
			pos++
			v = v<<6 | uint64(b&varintChunk)
			if v > 0xFFFFFFFF {
				return 0, ir.Errorf(ir.ErrBadContainer, "exception table value overflows 32 bits").AtOffset(pos)
			}
		}
		return uint32(v), nil
	}

	for pos < len(data) {
		var vals [4]uint32
		for i := range vals {
			v, err := read(i == 0)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		start := int(vals[0]) * unit
		entries = append(entries, ExceptionEntry{
			Start:  start,
			End:    start + int(vals[1])*unit,
			Target: int(vals[2]) * unit,
			Depth:  int(vals[3] >> 1),
			Lasti:  vals[3]&1 != 0,
		})
	}
	return entries, nil
}
