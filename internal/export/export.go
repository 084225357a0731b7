// Package export streams result sets into CSV, JSON and Excel files, locally
// or to object storage.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatExcel Format = "excel"
)

// DefaultWindow is the number of rows read from storage at a time.
const DefaultWindow = 1000

// Source is a result set being exported.
// Implemented by resultset.ResultSet.
type Source interface {
	Columns() []domain.DbColumn
	RowCount() int
	Window(start, count int) ([][]resultset.Value, error)
}

// Options selects what is exported and how. Row and column bounds are
// inclusive; nil means the first or last row or column.
type Options struct {
	Format         Format
	RowStart       *int
	RowEnd         *int
	ColumnStart    *int
	ColumnEnd      *int
	IncludeHeaders bool
	// Delimiter is the CSV field separator. Zero means a comma.
	Delimiter rune
	Window    int
}

// RowWriter writes one row of cells at a time.
type RowWriter interface {
	WriteHeader(cols []domain.DbColumn) error
	WriteRow(cols []domain.DbColumn, row []resultset.Value) error
	// Close flushes the output. It does not close the underlying writer.
	Close() error
	// Abort releases the writer after a failure without flushing.
	Abort()
}

// Span is a resolved inclusive range. An empty span has End < Start.
type Span struct {
	Start, End int
}

// Len returns the number of elements in the span.
func (s Span) Len() int {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start + 1
}

// ResolveRanges validates the requested row and column bounds against src.
func ResolveRanges(src Source, opts Options) (rows, cols Span, err error) {
	rows, err = resolveSpan("row", opts.RowStart, opts.RowEnd, src.RowCount())
	if err != nil {
		return Span{}, Span{}, err
	}
	cols, err = resolveSpan("column", opts.ColumnStart, opts.ColumnEnd, len(src.Columns()))
	if err != nil {
		return Span{}, Span{}, err
	}
	return rows, cols, nil
}

func resolveSpan(what string, start, end *int, n int) (Span, error) {
	s := Span{Start: 0, End: n - 1}
	if start != nil {
		s.Start = *start
	}
	if end != nil {
		s.End = *end
	}
	if start == nil && end == nil {
		return s, nil
	}
	if s.Start < 0 || s.End < s.Start || s.End >= n {
		return Span{}, domain.ErrSubsetAddressing("%s range %d to %d is invalid for %d %ss", what, s.Start, s.End, n, what)
	}
	return s, nil
}

// ParseFormat maps a format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatExcel, "xlsx":
		return FormatExcel, nil
	default:
		return "", domain.ErrValidation("unsupported export format %q", name)
	}
}

// NewRowWriter returns a writer for format on w.
func NewRowWriter(format Format, w io.Writer, delimiter rune) (RowWriter, error) {
	switch format {
	case FormatCSV:
		cw, err := newCSVWriter(w, delimiter)
		if err != nil {
			return nil, err
		}
		return cw, nil
	case FormatJSON:
		return newJSONWriter(w), nil
	case FormatExcel:
		ew, err := newExcelWriter(w)
		if err != nil {
			return nil, err
		}
		return ew, nil
	default:
		return nil, domain.ErrValidation("unsupported export format %q", format)
	}
}

// Write streams the selected part of src to w in windows of opts.Window rows.
func Write(ctx context.Context, w io.Writer, src Source, opts Options) error {
	rowSpan, colSpan, err := ResolveRanges(src, opts)
	if err != nil {
		return err
	}
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}

	rw, err := NewRowWriter(opts.Format, w, opts.Delimiter)
	if err != nil {
		return err
	}
	return writeRows(ctx, rw, src, rowSpan, colSpan, window, opts.IncludeHeaders)
}

// writeRows copies the spans of src into rw. rw is closed on success and
// aborted on any failure.
func writeRows(ctx context.Context, rw RowWriter, src Source, rowSpan, colSpan Span, window int, headers bool) (err error) {
	defer func() {
		if err != nil {
			rw.Abort()
		}
	}()

	cols := src.Columns()
	if colSpan.Len() > 0 {
		cols = cols[colSpan.Start : colSpan.End+1]
	} else {
		cols = nil
	}

	if headers {
		if err := rw.WriteHeader(cols); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for start := rowSpan.Start; start <= rowSpan.End; start += window {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(window, rowSpan.End-start+1)
		rows, err := src.Window(start, n)
		if err != nil {
			return fmt.Errorf("read rows %d to %d: %w", start, start+n, err)
		}
		for i, row := range rows {
			if colSpan.Len() > 0 {
				row = row[colSpan.Start : colSpan.End+1]
			} else {
				row = nil
			}
			if err := rw.WriteRow(cols, row); err != nil {
				return fmt.Errorf("write row %d: %w", start+i, err)
			}
		}
	}
	return rw.Close()
}
