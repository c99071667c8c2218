package qvd_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/bsm/qvd"
	"github.com/bsm/qvd/internal/qvdtest"
	"github.com/go-kit/log"
	"github.com/golang/snappy"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Reader", func() {
	var subject *qvd.Reader

	BeforeEach(func() {
		var err error
		subject, err = openTable(smallTable(), nil)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = subject.Close()
	})

	It("should init", func() {
		Expect(subject.NumRows()).To(Equal(5))
		Expect(subject.NullString()).To(Equal("(None)"))
		Expect(subject.Metadata().Table.Name).To(Equal("tab1"))
		Expect(subject.Metadata().Fields).To(HaveLen(3))
		Expect(subject.Layout().Mask()).To(Equal("uint:5,uint:3"))
	})

	It("should fail on layout mismatches", func() {
		tab := smallTable()
		tab.RecordByteSize = 2

		_, err := openTable(tab, nil)
		Expect(err).To(MatchError(qvd.ErrMalformedMetadata))
	})

	It("should fail without header", func() {
		data := []byte("not a table")
		_, err := qvd.NewReader(bytes.NewReader(data), int64(len(data)), nil)
		Expect(err).To(MatchError(qvd.ErrMalformedFormat))
	})

	It("should skip arbitrary header padding", func() {
		for _, padding := range []string{"\n", "\r\n", "\r\n\x00\x00\x00", "\x00"} {
			tab := smallTable()
			tab.Padding = padding

			r, err := openTable(tab, nil)
			Expect(err).NotTo(HaveOccurred(), "for %q", padding)
			Expect(r.FieldValue("NAME", 1)).To(Equal("Vasya"), "for %q", padding)
		}
	})

	It("should log", func() {
		buf := new(bytes.Buffer)
		_, err := openTable(smallTable(), &qvd.ReaderOptions{Logger: log.NewLogfmtLogger(buf)})
		Expect(err).NotTo(HaveOccurred())
		Expect(buf.String()).To(ContainSubstring(`level=debug msg="opened table" table=tab1 records=5 fields=3 mask=uint:5,uint:3`))
	})

	Describe("FieldValue", func() {
		It("should get values", func() {
			Expect(subject.FieldValue("ID", 0)).To(Equal("123.12"))
			Expect(subject.FieldValue("ID", 1)).To(Equal("2"))
			Expect(subject.FieldValue("ID", 2)).To(Equal("3.5"))
			Expect(subject.FieldValue("NAME", 2)).To(Equal("Vaysa"))
			Expect(subject.FieldValue("ONEVAL", 0)).To(Equal("0"))
		})

		It("should be repeatable", func() {
			for i := 0; i < 3; i++ {
				Expect(subject.FieldValue("NAME", 1)).To(Equal("Vasya"))
				Expect(subject.FieldValue("NAME", 0)).To(Equal("Pete"))
			}
		})

		It("should reject unknown fields", func() {
			_, err := subject.FieldValue("NOFIELD", 0)
			Expect(err).To(MatchError(qvd.ErrUnknownField))
		})

		It("should reject out of range indices", func() {
			_, err := subject.FieldValue("ID", 10)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
			_, err = subject.FieldValue("ID", 3)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
			_, err = subject.FieldValue("ID", -1)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
		})

		It("should return nulls for fields without symbols", func() {
			r, err := openTable(largeTable(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.FieldValue("EMPTY", 0)).To(Equal("(None)"))
			Expect(r.FieldValue("EMPTY", 1000)).To(Equal("(None)"))
		})

		It("should fail on unsupported symbol types", func() {
			tab := smallTable()
			tab.Fields[1].Symbols[1] = qvdtest.Symbol{9, 0, 0, 0}

			r, err := openTable(tab, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.FieldValue("NAME", 0)).To(Equal("Pete"))

			_, err = r.FieldValue("NAME", 1)
			Expect(err).To(MatchError(qvd.ErrUnsupportedSymbolType))
			_, err = r.FieldValue("NAME", 2)
			Expect(err).To(MatchError(qvd.ErrUnsupportedSymbolType))
		})

		It("should fail on truncated symbol tables", func() {
			tab := smallTable()
			tab.Fields[2].NumSymbols = 2

			r, err := openTable(tab, nil)
			Expect(err).NotTo(HaveOccurred())

			// the first row byte is read as a float tag, 8 bytes are
			// needed but only 4 rows remain
			_, err = r.FieldValue("ONEVAL", 1)
			Expect(err).To(MatchError(io.ErrUnexpectedEOF))
		})
	})

	Describe("Symbol", func() {
		It("should decode typed values", func() {
			Expect(subject.Symbol("ID", 0)).To(Equal(qvd.Symbol{Kind: qvd.String, Str: "123.12"}))
			Expect(subject.Symbol("ID", 2)).To(Equal(qvd.Symbol{Kind: qvd.Float, Float: 3.5}))
			Expect(subject.Symbol("ONEVAL", 0)).To(Equal(qvd.Symbol{Kind: qvd.Integer, Int: 0}))
		})

		It("should reject unknown fields", func() {
			_, err := subject.Symbol("NOFIELD", 0)
			Expect(err).To(MatchError(qvd.ErrUnknownField))
		})
	})

	Describe("Row", func() {
		It("should decode rows", func() {
			Expect(subject.Row(0)).To(Equal(map[string]string{
				"ID":     "123.12",
				"NAME":   "Pete",
				"ONEVAL": "0",
			}))
			Expect(subject.Row(2)).To(Equal(map[string]string{
				"ID":     "3.5",
				"NAME":   "Vaysa",
				"ONEVAL": "0",
			}))
		})

		It("should decode nulls", func() {
			row, err := subject.Row(4)
			Expect(err).NotTo(HaveOccurred())
			Expect(row).To(HaveKeyWithValue("NAME", "(None)"))
			Expect(row).To(HaveKeyWithValue("ID", "2"))
		})

		It("should support custom null strings", func() {
			r, err := openTable(smallTable(), &qvd.ReaderOptions{NullString: "NULL"})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Row(4)).To(HaveKeyWithValue("NAME", "NULL"))
		})

		It("should reject out of range rows", func() {
			_, err := subject.Row(5)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
			_, err = subject.Row(10)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
			_, err = subject.Row(-1)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
		})

		It("should be repeatable", func() {
			first, err := subject.Row(1)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 3; i++ {
				Expect(subject.Row(1)).To(Equal(first))
			}
		})

		It("should not look up null symbols", func() {
			tab := smallTable()
			tab.Fields[1].Symbols = []qvdtest.Symbol{{9}}
			for _, row := range tab.Rows {
				row["NAME"] = 0
			}

			r, err := openTable(tab, nil)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < r.NumRows(); i++ {
				Expect(r.Row(i)).To(HaveKeyWithValue("NAME", "(None)"))
			}
		})

		It("should reject slot values beyond the signed range", func() {
			tab := &qvdtest.Table{
				Name: "wide",
				Fields: []qvdtest.Field{
					{Name: "A", BitWidth: 64, Symbols: []qvdtest.Symbol{qvdtest.Int(1)}},
				},
				Rows: []qvdtest.Row{
					{"A": 1<<63 + 5},
					{"A": 0},
				},
			}

			r, err := openTable(tab, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = r.Row(0)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
			Expect(r.Row(1)).To(Equal(map[string]string{"A": "1"}))
		})

		It("should abort on invalid symbols", func() {
			tab := smallTable()
			tab.Rows[3]["ID"] = 7

			r, err := openTable(tab, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = r.Row(3)
			Expect(err).To(MatchError(qvd.ErrOutOfRange))
			Expect(r.Row(2)).To(HaveKeyWithValue("ID", "3.5"))
		})

		It("should decode larger rows", func() {
			r, err := openTable(largeTable(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Layout().Mask()).To(Equal("uint:6,uint:5,uint:5,uint:8"))

			Expect(r.Row(0)).To(Equal(map[string]string{
				"ID":     "1",
				"VAL":    "100001",
				"NAME":   "Pete1",
				"PHONE":  "1234567890",
				"SINGLE": "single value",
				"EMPTY":  "(None)",
			}))

			Expect(r.Row(9)).To(Equal(map[string]string{
				"ID":     "10",
				"VAL":    "100010",
				"NAME":   "Pete10",
				"PHONE":  "1234567899",
				"SINGLE": "single value",
				"EMPTY":  "(None)",
			}))

			Expect(r.Row(17)).To(Equal(map[string]string{
				"ID":     "18",
				"VAL":    "(None)",
				"NAME":   "Pete18",
				"PHONE":  "(None)",
				"SINGLE": "single value",
				"EMPTY":  "(None)",
			}))
		})

		It("should cover every field in every row", func() {
			r, err := openTable(largeTable(), nil)
			Expect(err).NotTo(HaveOccurred())

			for i := 0; i < r.NumRows(); i++ {
				row, err := r.Row(i)
				Expect(err).NotTo(HaveOccurred())
				Expect(row).To(HaveLen(len(r.Metadata().Fields)))
				for _, f := range r.Metadata().Fields {
					Expect(row).To(HaveKey(f.Name))
				}
				Expect(row).To(HaveKeyWithValue("EMPTY", "(None)"))
			}
		})
	})

	Describe("RowIterator", func() {
		It("should iterate", func() {
			iter := subject.Rows()
			defer iter.Release()

			var names []string
			for iter.Next() {
				Expect(iter.Row()).To(HaveLen(3))
				names = append(names, iter.Row()["NAME"])
			}
			Expect(iter.Err()).NotTo(HaveOccurred())
			Expect(iter.Pos()).To(Equal(4))
			Expect(iter.More()).To(BeFalse())
			Expect(names).To(Equal([]string{"Pete", "Vasya", "Vaysa", "Vasya", "(None)"}))
		})

		It("should stop on errors", func() {
			tab := smallTable()
			tab.Rows[1]["ID"] = 7

			r, err := openTable(tab, nil)
			Expect(err).NotTo(HaveOccurred())

			iter := r.Rows()
			defer iter.Release()

			Expect(iter.Next()).To(BeTrue())
			Expect(iter.Next()).To(BeFalse())
			Expect(iter.Err()).To(MatchError(qvd.ErrOutOfRange))
			Expect(iter.More()).To(BeFalse())
		})

		It("should not iterate after release", func() {
			iter := subject.Rows()
			iter.Release()
			Expect(iter.Next()).To(BeFalse())
			Expect(iter.Err()).To(HaveOccurred())
		})
	})

	Describe("Open", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "qvd-test")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(os.RemoveAll(dir)).To(Succeed())
		})

		It("should open files", func() {
			fname, err := largeTable().WriteFile(dir, "tab2.qvd")
			Expect(err).NotTo(HaveOccurred())

			r, err := qvd.Open(fname, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(r.Row(0)).To(HaveKeyWithValue("NAME", "Pete1"))
			Expect(r.FieldValue("SINGLE", 0)).To(Equal("single value"))

			Expect(r.Close()).To(Succeed())
			Expect(r.Close()).To(MatchError(`qvd: is closed`))
			_, err = r.Row(0)
			Expect(err).To(MatchError(`qvd: is closed`))
			_, err = r.FieldValue("SINGLE", 0)
			Expect(err).To(MatchError(`qvd: is closed`))
		})

		It("should open snappy compressed files", func() {
			fname := filepath.Join(dir, "tab2.qvd.sz")
			f, err := os.Create(fname)
			Expect(err).NotTo(HaveOccurred())

			w := snappy.NewBufferedWriter(f)
			_, err = io.Copy(w, bytes.NewReader(largeTable().Bytes()))
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Close()).To(Succeed())
			Expect(f.Close()).To(Succeed())

			r, err := qvd.Open(fname, nil)
			Expect(err).NotTo(HaveOccurred())
			defer r.Close()

			Expect(r.Row(17)).To(HaveKeyWithValue("NAME", "Pete18"))
			Expect(r.Row(17)).To(HaveKeyWithValue("VAL", "(None)"))
		})

		It("should fail on missing files", func() {
			_, err := qvd.Open(filepath.Join(dir, "no_such_file.qvd"), nil)
			Expect(err).To(MatchError(qvd.ErrFileNotFound))
		})

		It("should fail on files without header", func() {
			fname := filepath.Join(dir, "bad.qvd")
			Expect(os.WriteFile(fname, []byte("package qvd_test\n"), 0o644)).To(Succeed())

			_, err := qvd.Open(fname, nil)
			Expect(err).To(MatchError(qvd.ErrMalformedFormat))
		})

		It("should fail on empty files", func() {
			fname := filepath.Join(dir, "empty.qvd")
			Expect(os.WriteFile(fname, nil, 0o644)).To(Succeed())

			_, err := qvd.Open(fname, nil)
			Expect(err).To(MatchError(qvd.ErrMalformedFormat))
		})
	})
})
