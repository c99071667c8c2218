package qvd

import (
	"bytes"
	"io"
	"math"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// snappyStreamID is the leading chunk of a snappy framed stream.
var snappyStreamID = []byte("\xff\x06\x00\x00sNaPpY")

// ReaderOptions define reader specific options.
type ReaderOptions struct {
	// NullString is returned for null values and for fields without
	// any symbols. An empty string selects the default, nulls cannot be
	// displayed as empty strings.
	// Default: "(None)".
	NullString string

	// Logger receives debug information about opened tables.
	// Default: no logging.
	Logger log.Logger
}

func (o *ReaderOptions) norm() *ReaderOptions {
	var oo ReaderOptions
	if o != nil {
		oo = *o
	}

	if oo.NullString == "" {
		oo.NullString = DefaultNullString
	}
	if oo.Logger == nil {
		oo.Logger = log.NewNopLogger()
	}

	return &oo
}

// Reader decodes rows and symbols of a single table.
//
// A Reader does not buffer decoded symbols: each lookup re-scans the
// field's symbol table from its start. Reader methods provide no
// synchronization of their own.
type Reader struct {
	r    io.ReaderAt
	c    io.Closer
	o    *ReaderOptions
	size int64
	base int64 // first byte after the header

	meta   *Metadata
	layout *Layout
	closed bool
}

// Open opens the named file for reading. Files compressed with the snappy
// framing format are decompressed into memory.
func Open(name string, o *ReaderOptions) (*Reader, error) {
	f, err := os.Open(name)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrFileNotFound, "open %s", name)
	} else if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	compressed, err := isSnappyStream(f, fi.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	if compressed {
		defer f.Close()

		plain, err := io.ReadAll(snappy.NewReader(f))
		if err != nil {
			return nil, errors.Wrapf(ErrMalformedFormat, "decompress %s: %v", name, err)
		}
		return newReader(bytes.NewReader(plain), int64(len(plain)), nil, o, compressed)
	}

	r, err := newReader(f, fi.Size(), f, o, compressed)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader opens a reader on a table of the given size.
func NewReader(r io.ReaderAt, size int64, o *ReaderOptions) (*Reader, error) {
	return newReader(r, size, nil, o, false)
}

func newReader(r io.ReaderAt, size int64, c io.Closer, o *ReaderOptions, compressed bool) (*Reader, error) {
	o = o.norm()

	header, base, err := scanHeader(r, size)
	if err != nil {
		return nil, err
	}

	meta, err := ParseMetadata(header)
	if err != nil {
		return nil, err
	}

	layout, err := meta.Layout()
	if err != nil {
		return nil, err
	}

	_ = level.Debug(o.Logger).Log(
		"msg", "opened table",
		"table", meta.Table.Name,
		"records", meta.Table.NumRecords,
		"fields", len(meta.Fields),
		"mask", layout.Mask(),
		"base", base,
		"compressed", compressed,
	)

	return &Reader{
		r:    r,
		c:    c,
		o:    o,
		size: size,
		base: base,

		meta:   meta,
		layout: layout,
	}, nil
}

func isSnappyStream(r io.ReaderAt, size int64) (bool, error) {
	if size < int64(len(snappyStreamID)) {
		return false, nil
	}

	tmp := make([]byte, len(snappyStreamID))
	if _, err := r.ReadAt(tmp, 0); err != nil {
		return false, err
	}
	return bytes.Equal(tmp, snappyStreamID), nil
}

// Metadata returns the table metadata.
func (r *Reader) Metadata() *Metadata { return r.meta }

// Layout returns the packed row layout.
func (r *Reader) Layout() *Layout { return r.layout }

// NumRows returns the number of rows.
func (r *Reader) NumRows() int { return r.meta.Table.NumRecords }

// NullString returns the display value of nulls.
func (r *Reader) NullString() string { return r.o.NullString }

// Symbol decodes the symbol at index of the named field.
func (r *Reader) Symbol(name string, index int) (Symbol, error) {
	if r.closed {
		return Symbol{}, errClosed
	}

	f, ok := r.meta.FieldByName(name)
	if !ok {
		return Symbol{}, errors.Wrapf(ErrUnknownField, "%q", name)
	}
	return r.symbol(f, index)
}

// FieldValue returns the display value of the symbol at index of the
// named field. Fields without symbols always return the null string.
func (r *Reader) FieldValue(name string, index int) (string, error) {
	if r.closed {
		return "", errClosed
	}

	f, ok := r.meta.FieldByName(name)
	if !ok {
		return "", errors.Wrapf(ErrUnknownField, "%q", name)
	}
	return r.fieldValue(f, index)
}

// Row decodes the row at index and returns the display value of each
// field, keyed by field name.
func (r *Reader) Row(index int) (map[string]string, error) {
	if r.closed {
		return nil, errClosed
	}
	if index < 0 || index >= r.meta.Table.NumRecords {
		return nil, errors.Wrapf(ErrOutOfRange, "row %d, table has %d records", index, r.meta.Table.NumRecords)
	}

	sz := r.meta.Table.RecordByteSize
	record := fetchBuffer(sz)
	defer releaseBuffer(record)

	off := r.base + r.meta.Table.Offset + int64(sz)*int64(index)
	if sz != 0 {
		if _, err := r.r.ReadAt(record, off); err != nil {
			return nil, errors.Wrapf(unexpectedEOF(err), "read row %d", index)
		}
	}

	indices, err := r.layout.Unpack(make([]uint64, 0, len(r.layout.fields)), record)
	if err != nil {
		return nil, err
	}

	row := make(map[string]string, len(r.meta.Fields))
	for i, f := range r.layout.fields {
		if indices[i] > math.MaxInt64 {
			return nil, errors.Wrapf(ErrOutOfRange, "row %d, symbol %d of field %q, field has %d symbols", index, indices[i], f.Name, f.NumSymbols)
		}

		sym := int64(indices[i]) + int64(f.Bias)
		if sym < 0 {
			row[f.Name] = r.o.NullString
			continue
		}

		val, err := r.fieldValue(f, int(sym))
		if err != nil {
			return nil, errors.WithMessagef(err, "row %d", index)
		}
		row[f.Name] = val
	}

	for _, f := range r.meta.Fields {
		if f.IsPacked() {
			continue
		}

		val, err := r.fieldValue(f, 0)
		if err != nil {
			return nil, errors.WithMessagef(err, "row %d", index)
		}
		row[f.Name] = val
	}
	return row, nil
}

// Rows returns an iterator over all rows.
func (r *Reader) Rows() *RowIterator {
	return &RowIterator{r: r}
}

// Close releases the underlying file, if the reader was created by Open.
func (r *Reader) Close() error {
	if r.closed {
		return errClosed
	}
	r.closed = true

	if r.c != nil {
		return r.c.Close()
	}
	return nil
}

func (r *Reader) fieldValue(f *FieldHeader, index int) (string, error) {
	if f.NumSymbols == 0 {
		return r.o.NullString, nil
	}

	sym, err := r.symbol(f, index)
	if err != nil {
		return "", err
	}
	return sym.String(), nil
}

func (r *Reader) symbol(f *FieldHeader, index int) (Symbol, error) {
	if index < 0 || index >= f.NumSymbols {
		return Symbol{}, errors.Wrapf(ErrOutOfRange, "symbol %d of field %q, field has %d symbols", index, f.Name, f.NumSymbols)
	}

	s := newSymbolScanner(r.r, r.base+f.Offset, r.size)
	defer s.Release()

	if !s.Seek(index) {
		return Symbol{}, errors.WithMessagef(s.Err(), "field %q", f.Name)
	}
	return s.Symbol(), nil
}

// --------------------------------------------------------------------

// RowIterator iterates over the rows of a table, in order.
type RowIterator struct {
	r   *Reader
	pos int
	row map[string]string

	err error
}

// Pos returns the index of the current row.
func (i *RowIterator) Pos() int { return i.pos - 1 }

// Row returns the current row.
func (i *RowIterator) Row() map[string]string { return i.row }

// More returns true if more rows can be read.
func (i *RowIterator) More() bool {
	return i.err == nil && i.pos < i.r.NumRows()
}

// Next advances the cursor to the next row and returns true if successful.
func (i *RowIterator) Next() bool {
	if !i.More() {
		return false
	}

	i.row, i.err = i.r.Row(i.pos)
	if i.err != nil {
		i.row = nil
		return false
	}
	i.pos++
	return true
}

// Err exposes iterator errors, if any.
func (i *RowIterator) Err() error {
	return i.err
}

// Release releases the iterator. The iterator must not be used
// after this method is called.
func (i *RowIterator) Release() {
	i.row = nil
	i.err = errReleased
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
