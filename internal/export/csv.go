package export

import (
	"encoding/csv"
	"io"
	"unicode/utf8"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
)

// csvWriter writes RFC 4180 records. NULL cells become empty fields.
type csvWriter struct {
	w      *csv.Writer
	record []string
}

func newCSVWriter(w io.Writer, delimiter rune) (*csvWriter, error) {
	cw := csv.NewWriter(w)
	if delimiter != 0 {
		if !validDelimiter(delimiter) {
			return nil, domain.ErrValidation("invalid csv delimiter %q", delimiter)
		}
		cw.Comma = delimiter
	}
	return &csvWriter{w: cw}, nil
}

func (c *csvWriter) WriteHeader(cols []domain.DbColumn) error {
	c.record = c.record[:0]
	for _, col := range cols {
		c.record = append(c.record, col.ColumnName)
	}
	return c.w.Write(c.record)
}

func (c *csvWriter) WriteRow(_ []domain.DbColumn, row []resultset.Value) error {
	c.record = c.record[:0]
	for _, v := range row {
		if v.IsNull() {
			c.record = append(c.record, "")
			continue
		}
		c.record = append(c.record, v.Display())
	}
	return c.w.Write(c.record)
}

// validDelimiter mirrors the delimiters encoding/csv accepts.
func validDelimiter(r rune) bool {
	return r != '"' && r != '\r' && r != '\n' && utf8.ValidRune(r) && r != utf8.RuneError
}

func (c *csvWriter) Close() error {
	c.w.Flush()
	return c.w.Error()
}

// Abort discards buffered output.
func (c *csvWriter) Abort() {}
