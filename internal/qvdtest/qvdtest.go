// Package qvdtest builds synthetic QVD table images for tests and
// benchmarks.
package qvdtest

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
)

// Symbol is an encoded symbol record.
type Symbol []byte

// Int encodes an integer symbol.
func Int(v int32) Symbol {
	p := make([]byte, 5)
	p[0] = 1
	binary.LittleEndian.PutUint32(p[1:], uint32(v))
	return p
}

// Float encodes a float symbol.
func Float(v float64) Symbol {
	p := make([]byte, 9)
	p[0] = 2
	binary.LittleEndian.PutUint64(p[1:], math.Float64bits(v))
	return p
}

// String encodes a string symbol.
func String(s string) Symbol {
	p := append([]byte{4}, s...)
	return append(p, 0)
}

// IntText encodes a string symbol with an integer shadow value.
func IntText(v int32, s string) Symbol {
	p := make([]byte, 5, 6+len(s))
	p[0] = 5
	binary.LittleEndian.PutUint32(p[1:], uint32(v))
	p = append(p, s...)
	return append(p, 0)
}

// FloatText encodes a string symbol with a float shadow value.
func FloatText(v float64, s string) Symbol {
	p := make([]byte, 9, 10+len(s))
	p[0] = 6
	binary.LittleEndian.PutUint64(p[1:], math.Float64bits(v))
	p = append(p, s...)
	return append(p, 0)
}

// Field describes a table field.
type Field struct {
	Name      string
	BitOffset int
	BitWidth  int
	Bias      int
	Symbols   []Symbol
	Tags      []string

	// NumSymbols overrides the declared symbol count when positive.
	NumSymbols int
}

func (f *Field) numSymbols() int {
	if f.NumSymbols > 0 {
		return f.NumSymbols
	}
	return len(f.Symbols)
}

// Row maps field names to raw (unbiased) slot values.
type Row map[string]uint64

// Table describes a table image.
type Table struct {
	Name   string
	Fields []Field
	Rows   []Row

	// RecordByteSize overrides the record size derived from the field
	// widths when positive.
	RecordByteSize int

	// Padding is written between the header and the symbol tables.
	// Default: "\r\n\x00".
	Padding string
}

func (t *Table) recordByteSize() int {
	if t.RecordByteSize > 0 {
		return t.RecordByteSize
	}

	bits := 0
	for _, f := range t.Fields {
		bits += f.BitWidth
	}
	return (bits + 7) / 8
}

// Header renders the XML table header.
func (t *Table) Header() []byte {
	var syms int64
	offsets := make([]int64, len(t.Fields))
	lengths := make([]int64, len(t.Fields))
	for i, f := range t.Fields {
		offsets[i] = syms
		for _, s := range f.Symbols {
			lengths[i] += int64(len(s))
		}
		syms += lengths[i]
	}
	rsz := t.recordByteSize()

	buf := new(bytes.Buffer)
	buf.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\" standalone=\"yes\"?>\r\n")
	buf.WriteString("<QvdTableHeader>\r\n")
	buf.WriteString("  <QvBuildNo>50668</QvBuildNo>\r\n")
	buf.WriteString("  <CreatorDoc>qvdtest</CreatorDoc>\r\n")
	buf.WriteString("  <CreateUtcTime>2019-06-01 12:00:00</CreateUtcTime>\r\n")
	buf.WriteString("  <SourceFileSize>-1</SourceFileSize>\r\n")
	writeElem(buf, "  ", "TableName", t.Name)
	buf.WriteString("  <Fields>\r\n")
	for i, f := range t.Fields {
		buf.WriteString("    <QvdFieldHeader>\r\n")
		writeElem(buf, "      ", "FieldName", f.Name)
		writeElem(buf, "      ", "BitOffset", f.BitOffset)
		writeElem(buf, "      ", "BitWidth", f.BitWidth)
		writeElem(buf, "      ", "Bias", f.Bias)
		buf.WriteString("      <NumberFormat>\r\n")
		buf.WriteString("        <Type>UNKNOWN</Type>\r\n")
		buf.WriteString("        <nDec>0</nDec>\r\n")
		buf.WriteString("      </NumberFormat>\r\n")
		writeElem(buf, "      ", "NoOfSymbols", f.numSymbols())
		writeElem(buf, "      ", "Offset", offsets[i])
		writeElem(buf, "      ", "Length", lengths[i])
		buf.WriteString("      <Comment></Comment>\r\n")
		if len(f.Tags) == 0 {
			buf.WriteString("      <Tags></Tags>\r\n")
		} else {
			buf.WriteString("      <Tags>\r\n")
			for _, tag := range f.Tags {
				writeElem(buf, "        ", "String", tag)
			}
			buf.WriteString("      </Tags>\r\n")
		}
		buf.WriteString("    </QvdFieldHeader>\r\n")
	}
	buf.WriteString("  </Fields>\r\n")
	buf.WriteString("  <Compression></Compression>\r\n")
	writeElem(buf, "  ", "RecordByteSize", rsz)
	writeElem(buf, "  ", "NoOfRecords", len(t.Rows))
	writeElem(buf, "  ", "Offset", syms)
	writeElem(buf, "  ", "Length", int64(rsz*len(t.Rows)))
	buf.WriteString("</QvdTableHeader>")
	return buf.Bytes()
}

// Bytes renders the full table image.
func (t *Table) Bytes() []byte {
	buf := bytes.NewBuffer(t.Header())

	padding := t.Padding
	if padding == "" {
		padding = "\r\n\x00"
	}
	buf.WriteString(padding)

	for _, f := range t.Fields {
		for _, s := range f.Symbols {
			buf.Write(s)
		}
	}

	rsz := t.recordByteSize()
	for _, row := range t.Rows {
		buf.Write(packRecord(t.Fields, row, rsz))
	}
	return buf.Bytes()
}

// WriteFile writes the table image to dir/name and returns the path.
func (t *Table) WriteFile(dir, name string) (string, error) {
	fname := filepath.Join(dir, name)
	if err := os.WriteFile(fname, t.Bytes(), 0o644); err != nil {
		return "", err
	}
	return fname, nil
}

// packRecord shifts each raw slot value to its bit offset and stores the
// combined value in little-endian byte order.
func packRecord(fields []Field, row Row, size int) []byte {
	v := new(big.Int)
	for _, f := range fields {
		if f.BitWidth == 0 {
			continue
		}
		slot := new(big.Int).SetUint64(row[f.Name])
		v.Or(v, slot.Lsh(slot, uint(f.BitOffset)))
	}

	be := v.Bytes()
	rec := make([]byte, size)
	for i := range be {
		if i < size {
			rec[i] = be[len(be)-1-i]
		}
	}
	return rec
}

func writeElem(buf *bytes.Buffer, indent, name string, v interface{}) {
	buf.WriteString(indent)
	fmt.Fprintf(buf, "<%s>", name)
	_ = xml.EscapeText(buf, []byte(fmt.Sprint(v)))
	fmt.Fprintf(buf, "</%s>\r\n", name)
}
