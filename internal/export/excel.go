package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
)

const excelSheet = "Sheet1"

// excelWriter streams rows into a single worksheet. The workbook is
// serialized to the underlying writer on Close.
type excelWriter struct {
	out    io.Writer
	file   *excelize.File
	sw     *excelize.StreamWriter
	bold   int
	row    int
	values []interface{}
	done   bool
}

func newExcelWriter(w io.Writer) (*excelWriter, error) {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter(excelSheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create sheet stream: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	return &excelWriter{out: w, file: f, sw: sw, bold: bold}, nil
}

func (e *excelWriter) WriteHeader(cols []domain.DbColumn) error {
	e.values = e.values[:0]
	for _, col := range cols {
		e.values = append(e.values, excelize.Cell{StyleID: e.bold, Value: col.ColumnName})
	}
	return e.nextRow()
}

func (e *excelWriter) WriteRow(_ []domain.DbColumn, row []resultset.Value) error {
	e.values = e.values[:0]
	for _, v := range row {
		e.values = append(e.values, excelValue(v))
	}
	return e.nextRow()
}

func (e *excelWriter) nextRow() error {
	e.row++
	cell, err := excelize.CoordinatesToCellName(1, e.row)
	if err != nil {
		return err
	}
	return e.sw.SetRow(cell, e.values)
}

// excelValue keeps numbers and booleans typed so spreadsheets can compute on them.
func excelValue(v resultset.Value) interface{} {
	switch v.Kind {
	case resultset.KindNull:
		return nil
	case resultset.KindInteger:
		return v.Int
	case resultset.KindReal:
		return v.JSON()
	case resultset.KindBoolean:
		return v.Bool
	default:
		return v.Display()
	}
}

func (e *excelWriter) Close() error {
	defer e.release()
	if err := e.sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	if err := e.file.Write(e.out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Abort drops the workbook and removes the stream writer's temp files.
func (e *excelWriter) Abort() { e.release() }

func (e *excelWriter) release() {
	if e.done {
		return
	}
	e.done = true
	_ = e.file.Close()
}
