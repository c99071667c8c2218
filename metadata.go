package qvd

import (
	"bytes"
	"encoding/xml"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TableHeader contains the table level attributes.
type TableHeader struct {
	Name           string // table name
	NumRecords     int    // number of rows
	RecordByteSize int    // byte size of a packed row
	Offset         int64  // start of the row table, relative to the base position
	Length         int64  // byte length of the row table, 0 if not declared

	BuildNo        int
	CreatorDoc     string
	CreateUTCTime  string
	SourceFileSize int64 // -1 if unknown
	Comment        string
}

// FieldHeader describes a single field.
type FieldHeader struct {
	Name       string
	Offset     int64 // start of the symbol table, relative to the base position
	Length     int64 // byte length of the symbol table, 0 if not declared
	BitOffset  int   // slot position within the packed row, 0 is rightmost
	BitWidth   int   // slot width, 0 if the field has a single value
	Bias       int   // added to every decoded symbol index
	NumSymbols int   // number of symbols, 0 if the field has no values

	NumberFormat string // declared number format type, e.g. UNKNOWN or ASCII
	Tags         []string
	Comment      string
}

// IsPacked returns true if the field occupies a slot in the packed row.
func (f *FieldHeader) IsPacked() bool { return f.BitWidth != 0 }

// Metadata is the typed view of a table header. It is shared by all
// users of a Reader and must not be modified.
type Metadata struct {
	Table  TableHeader
	Fields []*FieldHeader

	byName map[string]int
}

// FieldByName returns the field header for name.
func (m *Metadata) FieldByName(name string) (*FieldHeader, bool) {
	i, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return m.Fields[i], true
}

// FieldsInRow returns the fields which occupy a slot in the packed row,
// leftmost (highest bit offset) first. Single value fields are omitted.
func (m *Metadata) FieldsInRow() []*FieldHeader {
	fields := make([]*FieldHeader, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.IsPacked() {
			fields = append(fields, f)
		}
	}
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].BitOffset > fields[j].BitOffset
	})
	return fields
}

// Layout derives the packed row layout.
func (m *Metadata) Layout() (*Layout, error) {
	fields := m.FieldsInRow()
	widths := make([]int, len(fields))

	bits := 0
	for i, f := range fields {
		widths[i] = f.BitWidth
		bits += f.BitWidth
	}
	if want := m.Table.RecordByteSize * 8; bits != want {
		return nil, errors.Wrapf(ErrMalformedMetadata, "row layout spans %d bits, record size is %d bits", bits, want)
	}
	return &Layout{fields: fields, widths: widths}, nil
}

// --------------------------------------------------------------------

// ParseMetadata parses the XML table header. The input may be prefixed
// by an XML declaration and must contain the closing header tag.
func ParseMetadata(header []byte) (*Metadata, error) {
	var node tableNode
	if err := xml.NewDecoder(bytes.NewReader(header)).Decode(&node); err != nil {
		return nil, errors.Wrapf(ErrMalformedMetadata, "decode header: %v", err)
	}
	if node.XMLName.Local != "QvdTableHeader" {
		return nil, errors.Wrapf(ErrMalformedMetadata, "unexpected root element %q", node.XMLName.Local)
	}
	return node.metadata()
}

// tableNode and fieldNode mirror the header XML, all values kept as text.
type tableNode struct {
	XMLName        xml.Name
	TableName      *string
	NoOfRecords    *string
	RecordByteSize *string
	Offset         *string
	Length         *string
	QvBuildNo      *string
	CreatorDoc     string
	CreateUtcTime  string
	SourceFileSize *string
	Comment        string
	Fields         []fieldNode `xml:"Fields>QvdFieldHeader"`
}

type fieldNode struct {
	FieldName    *string
	Offset       *string
	Length       *string
	BitOffset    *string
	BitWidth     *string
	Bias         *string
	NoOfSymbols  *string
	Comment      string
	NumberFormat struct {
		Type string
	}
	Tags []string `xml:"Tags>String"`
}

func (n *tableNode) metadata() (*Metadata, error) {
	var p attrParser

	t := TableHeader{
		Name:           p.str("TableName", n.TableName),
		NumRecords:     p.integer("NoOfRecords", n.NoOfRecords),
		RecordByteSize: p.integer("RecordByteSize", n.RecordByteSize),
		Offset:         int64(p.integer("Offset", n.Offset)),
		Length:         int64(p.optional("Length", n.Length, 0)),
		BuildNo:        p.optional("QvBuildNo", n.QvBuildNo, 0),
		CreatorDoc:     strings.TrimSpace(n.CreatorDoc),
		CreateUTCTime:  strings.TrimSpace(n.CreateUtcTime),
		SourceFileSize: int64(p.optional("SourceFileSize", n.SourceFileSize, -1)),
		Comment:        strings.TrimSpace(n.Comment),
	}
	if p.err != nil {
		return nil, p.err
	}

	m := &Metadata{
		Table:  t,
		Fields: make([]*FieldHeader, 0, len(n.Fields)),
		byName: make(map[string]int, len(n.Fields)),
	}
	for i := range n.Fields {
		f, err := n.Fields[i].header()
		if err != nil {
			return nil, errors.WithMessagef(err, "field #%d", i)
		}
		if _, ok := m.byName[f.Name]; ok {
			return nil, errors.Wrapf(ErrMalformedMetadata, "duplicate field %q", f.Name)
		}
		m.byName[f.Name] = len(m.Fields)
		m.Fields = append(m.Fields, f)
	}
	return m, nil
}

func (n *fieldNode) header() (*FieldHeader, error) {
	var p attrParser

	f := &FieldHeader{
		Name:         p.str("FieldName", n.FieldName),
		Offset:       int64(p.integer("Offset", n.Offset)),
		Length:       int64(p.optional("Length", n.Length, 0)),
		BitOffset:    p.integer("BitOffset", n.BitOffset),
		BitWidth:     p.integer("BitWidth", n.BitWidth),
		Bias:         p.signed("Bias", n.Bias),
		NumSymbols:   p.integer("NoOfSymbols", n.NoOfSymbols),
		NumberFormat: strings.TrimSpace(n.NumberFormat.Type),
		Comment:      strings.TrimSpace(n.Comment),
	}
	for _, tag := range n.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			f.Tags = append(f.Tags, tag)
		}
	}
	if p.err == nil && f.BitWidth > 64 {
		p.err = errors.Wrapf(ErrMalformedMetadata, "BitWidth %d exceeds 64", f.BitWidth)
	}
	return f, p.err
}

// attrParser converts header text values, retaining the first error.
type attrParser struct {
	err error
}

func (p *attrParser) str(name string, v *string) string {
	if p.err != nil {
		return ""
	}
	if v == nil {
		p.err = errors.Wrapf(ErrMalformedMetadata, "missing %s", name)
		return ""
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		p.err = errors.Wrapf(ErrMalformedMetadata, "empty %s", name)
	}
	return s
}

func (p *attrParser) signed(name string, v *string) int {
	s := p.str(name, v)
	if p.err != nil {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.err = errors.Wrapf(ErrMalformedMetadata, "%s is not numeric: %q", name, s)
	}
	return n
}

// integer parses a required non-negative value.
func (p *attrParser) integer(name string, v *string) int {
	n := p.signed(name, v)
	if p.err == nil && n < 0 {
		p.err = errors.Wrapf(ErrMalformedMetadata, "%s must not be negative: %d", name, n)
	}
	return n
}

func (p *attrParser) optional(name string, v *string, dflt int) int {
	if v == nil || strings.TrimSpace(*v) == "" {
		return dflt
	}
	return p.signed(name, v)
}
