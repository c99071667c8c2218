package qvd

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

const headerChunkSize = 100000

// scanHeader reads r from the start until the closing header tag. It
// returns the header bytes, including the closing tag, and the base
// position: the first byte after the tag and any CR, LF or NUL padding.
func scanHeader(r io.ReaderAt, size int64) ([]byte, int64, error) {
	var buf []byte
	chunk := make([]byte, headerChunkSize)

	for pos := int64(0); pos < size; {
		n, err := r.ReadAt(chunk, pos)
		if n == 0 && err != nil && err != io.EOF {
			return nil, 0, err
		}

		// the tag may straddle the chunk boundary
		from := len(buf) - len(headerEnd) + 1
		if from < 0 {
			from = 0
		}
		buf = append(buf, chunk[:n]...)
		pos += int64(n)

		if i := bytes.Index(buf[from:], headerEnd); i > -1 {
			end := from + i + len(headerEnd)
			base, err := skipPadding(r, int64(end), size)
			if err != nil {
				return nil, 0, err
			}
			return buf[:end], base, nil
		}

		if err == io.EOF || n == 0 {
			break
		}
	}
	return nil, 0, errors.Wrapf(ErrMalformedFormat, "missing %s", headerEnd)
}

func skipPadding(r io.ReaderAt, pos, size int64) (int64, error) {
	var b [1]byte
	for ; pos < size; pos++ {
		if _, err := r.ReadAt(b[:], pos); err != nil {
			return 0, err
		}
		if b[0] != '\r' && b[0] != '\n' && b[0] != 0 {
			break
		}
	}
	return pos, nil
}
