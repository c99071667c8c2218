package qvd

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Layout is the bit layout of a packed row record. Slots are ordered
// leftmost first, all slots are unsigned.
type Layout struct {
	fields []*FieldHeader
	widths []int
}

// Fields returns the fields of the packed row, in slot order. The field
// headers are shared and must not be modified.
func (l *Layout) Fields() []*FieldHeader {
	return append([]*FieldHeader(nil), l.fields...)
}

// Widths returns the slot widths in bits, in slot order.
func (l *Layout) Widths() []int {
	return append([]int(nil), l.widths...)
}

// Mask renders the layout as a bitstring unpack format, e.g. "uint:5,uint:3".
func (l *Layout) Mask() string {
	var sb strings.Builder
	for i, w := range l.widths {
		if i != 0 {
			sb.WriteByte(',')
		}
		sb.WriteString("uint:")
		sb.WriteString(strconv.Itoa(w))
	}
	return sb.String()
}

// Unpack decodes a raw row record into one symbol index per slot. The
// record is stored with its bytes reversed, so it is reversed in place
// before unpacking.
func (l *Layout) Unpack(dst []uint64, record []byte) ([]uint64, error) {
	reverseBytes(record)
	return unpackBits(dst, record, l.widths)
}

// reverseBytes reverses p in place.
func reverseBytes(p []byte) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}

// unpackBits reads consecutive unsigned big-endian bit fields of the
// given widths from p and appends them to dst.
func unpackBits(dst []uint64, p []byte, widths []int) ([]uint64, error) {
	pos := 0 // bit position
	for _, w := range widths {
		if w < 0 || w > 64 {
			return dst, errors.Wrapf(ErrMalformedMetadata, "invalid bit width %d", w)
		}
		if pos+w > len(p)*8 {
			return dst, errors.Wrapf(ErrOutOfRange, "bit field [%d:%d] exceeds %d-byte record", pos, pos+w, len(p))
		}

		var v uint64
		for n := w; n > 0; {
			off := pos % 8
			take := 8 - off
			if take > n {
				take = n
			}
			bits := uint64(p[pos/8]>>uint(8-off-take)) & (1<<uint(take) - 1)
			v = v<<uint(take) | bits
			pos += take
			n -= take
		}
		dst = append(dst, v)
	}
	return dst, nil
}
