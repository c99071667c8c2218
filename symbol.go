package qvd

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
)

// symbolScanner decodes symbol records sequentially. Symbols are
// variable length, the n-th symbol can only be reached by reading all
// preceding ones.
type symbolScanner struct {
	br  *bufio.Reader
	tmp [8]byte

	read int // number of symbols consumed
	cur  Symbol
	err  error
}

var scannerPool sync.Pool

func newSymbolScanner(r io.ReaderAt, off, size int64) *symbolScanner {
	src := io.NewSectionReader(r, off, size-off)
	if v := scannerPool.Get(); v != nil {
		s := v.(*symbolScanner)
		s.br.Reset(src)
		return s
	}
	return &symbolScanner{br: bufio.NewReaderSize(src, 4096)}
}

// Release returns the scanner to the pool. The scanner must not be used
// after this method is called.
func (s *symbolScanner) Release() {
	s.br.Reset(nil)
	s.read, s.cur, s.err = 0, Symbol{}, nil
	scannerPool.Put(s)
}

// Seek advances the scanner until the symbol at index has been decoded.
func (s *symbolScanner) Seek(index int) bool {
	for s.read <= index {
		if !s.Next() {
			return false
		}
	}
	return true
}

// Symbol returns the most recently decoded symbol.
func (s *symbolScanner) Symbol() Symbol { return s.cur }

// Err exposes decoding errors, if any.
func (s *symbolScanner) Err() error { return s.err }

// Next decodes the next symbol record.
func (s *symbolScanner) Next() bool {
	if s.err != nil {
		return false
	}

	tag, err := s.br.ReadByte()
	if err != nil {
		s.err = unexpectedEOF(err)
		return false
	}

	switch typ := SymbolType(tag); typ {
	case IntegerSymbol:
		if err := s.readFull(4); err != nil {
			return false
		}
		s.cur = Symbol{Kind: Integer, Int: int32(binary.LittleEndian.Uint32(s.tmp[:4]))}
	case FloatSymbol:
		if err := s.readFull(8); err != nil {
			return false
		}
		s.cur = Symbol{Kind: Float, Float: math.Float64frombits(binary.LittleEndian.Uint64(s.tmp[:8]))}
	case StringSymbol, IntegerTextSymbol, FloatTextSymbol:
		if n := typ.shadowSize(); n != 0 {
			if _, err := s.br.Discard(n); err != nil {
				s.err = unexpectedEOF(err)
				return false
			}
		}
		str, err := s.br.ReadString(0)
		if err != nil {
			s.err = unexpectedEOF(err)
			return false
		}
		s.cur = Symbol{Kind: String, Str: str[:len(str)-1]}
	default:
		s.err = errors.Wrapf(ErrUnsupportedSymbolType, "tag %d at symbol #%d", tag, s.read)
		return false
	}

	s.read++
	return true
}

func (s *symbolScanner) readFull(n int) error {
	if _, err := io.ReadFull(s.br, s.tmp[:n]); err != nil {
		s.err = unexpectedEOF(err)
		return s.err
	}
	return nil
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
