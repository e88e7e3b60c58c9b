// Package container reads and writes the binary artifact: a version-tagged
// header, the code section and the optional exception and line side tables.
package container

import (
	"bytes"
	"encoding/binary"

	"github.com/chazu/bcir/ir"
)

// Magic identifies a container.
const Magic = "SVMC"

// HeaderSize is the size of the fixed header preceding the code section
// length: magic, version, flags and max stack.
const HeaderSize = 4 + 2 + 2 + 4

// Header flags. Bits not listed are carried through unchanged.
const (
	FlagExceptionTable uint16 = 1 << 0
	FlagLineTable      uint16 = 1 << 1
)

// Image is a decoded container. Side tables are present exactly when their
// flag bit is set.
type Image struct {
	Version  uint16
	Flags    uint16
	MaxStack uint32
	Code     []byte

	ExceptionTable []byte
	LineTable      []byte
}

// Encode serializes the image.
func (img *Image) Encode() []byte {
	size := HeaderSize + 4 + len(img.Code) + 8 + len(img.ExceptionTable) + len(img.LineTable)
	buf := make([]byte, 0, size)

	buf = append(buf, Magic...)
	buf = binary.BigEndian.AppendUint16(buf, img.Version)
	buf = binary.BigEndian.AppendUint16(buf, img.Flags)
	buf = binary.BigEndian.AppendUint32(buf, img.MaxStack)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(img.Code)))
	buf = append(buf, img.Code...)

	if img.Flags&FlagExceptionTable != 0 {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(img.ExceptionTable)))
		buf = append(buf, img.ExceptionTable...)
	}
	if img.Flags&FlagLineTable != 0 {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(img.LineTable)))
		buf = append(buf, img.LineTable...)
	}
	return buf
}

// Decode parses a container. The returned image does not alias data.
func Decode(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, ir.Errorf(ir.ErrTruncatedStream, "container too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}
	if !bytes.Equal(data[0:4], []byte(Magic)) {
		return nil, ir.Errorf(ir.ErrBadContainer, "invalid magic: expected %q, got %q", Magic, data[0:4])
	}

	img := &Image{
		Version:  binary.BigEndian.Uint16(data[4:6]),
		Flags:    binary.BigEndian.Uint16(data[6:8]),
		MaxStack: binary.BigEndian.Uint32(data[8:12]),
	}
	pos := HeaderSize

	section := func(name string) ([]byte, error) {
		if pos+4 > len(data) {
			return nil, ir.Errorf(ir.ErrTruncatedStream, "unexpected end of container reading %s length", name).AtOffset(pos)
		}
		n := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if n < 0 || pos+n > len(data) {
			return nil, ir.Errorf(ir.ErrTruncatedStream, "unexpected end of container reading %s: need %d bytes", name, n).AtOffset(pos)
		}
		out := append([]byte(nil), data[pos:pos+n]...)
		pos += n
		return out, nil
	}

	var err error
	if img.Code, err = section("code section"); err != nil {
		return nil, err
	}
	if img.Flags&FlagExceptionTable != 0 {
		if img.ExceptionTable, err = section("exception table"); err != nil {
			return nil, err
		}
	}
	if img.Flags&FlagLineTable != 0 {
		if img.LineTable, err = section("line table"); err != nil {
			return nil, err
		}
	}
	if pos != len(data) {
		return nil, ir.Errorf(ir.ErrBadContainer, "%d trailing bytes after last section", len(data)-pos).AtOffset(pos)
	}
	return img, nil
}
