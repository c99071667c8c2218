package qvd

import (
	"errors"
	"strconv"
)

// DefaultNullString is the display value of null and absent symbols.
const DefaultNullString = "(None)"

var headerEnd = []byte("</QvdTableHeader>")

// Exported error conditions. Errors returned by this package wrap one
// of these and can be tested with errors.Is.
var (
	ErrFileNotFound          = errors.New("qvd: file not found")
	ErrMalformedFormat       = errors.New("qvd: malformed format")
	ErrMalformedMetadata     = errors.New("qvd: malformed metadata")
	ErrUnknownField          = errors.New("qvd: unknown field")
	ErrOutOfRange            = errors.New("qvd: out of range")
	ErrUnsupportedSymbolType = errors.New("qvd: unsupported symbol type")
	ErrAlreadyExists         = errors.New("qvd: already exists")
)

var (
	errClosed   = errors.New("qvd: is closed")
	errReleased = errors.New("qvd: iterator was released")
)

// --------------------------------------------------------------------

// SymbolType is the on-disk type tag of a symbol record.
type SymbolType byte

// Supported symbol types.
const (
	IntegerSymbol     SymbolType = 1 // int32, little-endian
	FloatSymbol       SymbolType = 2 // float64, little-endian
	StringSymbol      SymbolType = 4 // NUL-terminated UTF-8
	IntegerTextSymbol SymbolType = 5 // int32 shadow + NUL-terminated UTF-8
	FloatTextSymbol   SymbolType = 6 // float64 shadow + NUL-terminated UTF-8
)

// shadowSize returns the size of the numeric payload stored ahead of
// the string of dual-valued symbols.
func (t SymbolType) shadowSize() int {
	switch t {
	case IntegerTextSymbol:
		return 4
	case FloatTextSymbol:
		return 8
	}
	return 0
}

// Kind is the decoded value kind of a symbol.
type Kind uint8

// Value kinds.
const (
	Integer Kind = iota
	Float
	String
)

// Symbol is a single decoded symbol table entry.
type Symbol struct {
	Kind  Kind
	Int   int32
	Float float64
	Str   string
}

// String returns the display form of the symbol.
func (s Symbol) String() string {
	switch s.Kind {
	case Integer:
		return strconv.FormatInt(int64(s.Int), 10)
	case Float:
		return strconv.FormatFloat(s.Float, 'f', -1, 64)
	}
	return s.Str
}
