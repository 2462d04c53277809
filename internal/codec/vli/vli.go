// Package vli implements the XZ variable-length integer encoding from spec
// §4.4/§6/GLOSSARY: 7-bit groups with a continuation bit in the MSB, 1–9
// bytes, maximum value 2^63-1.
//
// Framing conventions (magic/flag/CRC parsing idiom) are grounded on
// other_examples/0ecc6c7a_ulikunitz-xz__format.go's header (de)serialization
// style; the VLI codec itself follows the XZ file format specification
// referenced in spec §4.4/§6.
package vli

import (
	"errors"
	"io"
)

// MaxLen is the maximum encoded length of a VLI.
const MaxLen = 9

// MaxValue is the largest value a VLI may encode (2^63-1).
const MaxValue = 1<<63 - 1

// ErrTooLong is returned when a tenth continuation byte is encountered.
var ErrTooLong = errors.New("vli: value too long (more than 9 bytes)")

// ErrOverflow is returned when the decoded value would exceed MaxValue.
var ErrOverflow = errors.New("vli: value overflows 63 bits")

// ErrNonMinimal is returned when a VLI has trailing zero bytes that a
// canonical encoder would not have emitted (the final byte must be nonzero).
var ErrNonMinimal = errors.New("vli: non-minimal encoding")

// Read decodes one VLI from r.
func Read(r io.ByteReader) (uint64, error) {
	var v uint64
	var lastByte byte
	for i := 0; i < MaxLen; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		lastByte = b
		v |= uint64(b&0x7f) << (7 * uint(i))
		if b&0x80 == 0 {
			if i > 0 && b == 0 {
				return 0, ErrNonMinimal
			}
			if v > MaxValue {
				return 0, ErrOverflow
			}
			return v, nil
		}
	}
	_ = lastByte
	return 0, ErrTooLong
}

// ReadBytes decodes one VLI from the start of b, returning the value and the
// number of bytes consumed.
func ReadBytes(b []byte) (uint64, int, error) {
	br := &byteSliceReader{b: b}
	v, err := Read(br)
	if err != nil {
		return 0, br.pos, err
	}
	return v, br.pos, nil
}

type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

// Append encodes v and appends it to dst.
func Append(dst []byte, v uint64) []byte {
	if v > MaxValue {
		panic("vli: value exceeds MaxValue")
	}
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
		} else {
			dst = append(dst, b)
			return dst
		}
	}
}

// Len returns the number of bytes Append(nil, v) would produce.
func Len(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}
