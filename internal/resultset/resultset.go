package resultset

import (
	"context"

	"querydeck/internal/domain"
)

// ResultSet is the output of one statement: immutable column descriptors
// plus the rows held by its storage.
type ResultSet struct {
	id           int
	batchOrdinal int
	columns      []domain.DbColumn
	storage      Storage
}

// New creates a result set over storage.
func New(id, batchOrdinal int, columns []domain.DbColumn, storage Storage) *ResultSet {
	cols := make([]domain.DbColumn, len(columns))
	copy(cols, columns)
	return &ResultSet{id: id, batchOrdinal: batchOrdinal, columns: cols, storage: storage}
}

// ID returns the ordinal of the result set within its batch.
func (rs *ResultSet) ID() int { return rs.id }

// BatchOrdinal returns the ordinal of the owning batch.
func (rs *ResultSet) BatchOrdinal() int { return rs.batchOrdinal }

// Columns returns the column descriptors.
func (rs *ResultSet) Columns() []domain.DbColumn { return rs.columns }

// RowCount returns the number of stored rows.
func (rs *ResultSet) RowCount() int { return rs.storage.RowCount() }

// StorageType returns the backing storage strategy.
func (rs *ResultSet) StorageType() StorageType { return rs.storage.Type() }

// Append stores one row.
func (rs *ResultSet) Append(row []Value) error {
	_, err := rs.storage.Append(row)
	return err
}

// Drain reads the current result of rows into storage.
func (rs *ResultSet) Drain(ctx context.Context, rows domain.Rows) error {
	return rs.storage.Drain(ctx, rows)
}

// Window returns raw values for rows [start, start+count). It applies the
// same bounds as Subset.
func (rs *ResultSet) Window(start, count int) ([][]Value, error) {
	if err := rs.checkWindow(start, count); err != nil {
		return nil, err
	}
	if count == 0 {
		return [][]Value{}, nil
	}
	return rs.storage.Rows(start, count)
}

// Subset returns rows [start, start+count) rendered for display.
func (rs *ResultSet) Subset(start, count int) (*domain.ResultSetSubset, error) {
	rows, err := rs.Window(start, count)
	if err != nil {
		return nil, err
	}
	out := &domain.ResultSetSubset{RowCount: len(rows), Rows: make([][]domain.DbCell, len(rows))}
	for i, row := range rows {
		cells := make([]domain.DbCell, len(row))
		rowID := int64(start + i)
		for j, v := range row {
			cells[j] = domain.DbCell{DisplayValue: v.Display(), IsNull: v.IsNull(), RowID: rowID}
		}
		out.Rows[i] = cells
	}
	return out, nil
}

func (rs *ResultSet) checkWindow(start, count int) error {
	switch {
	case start < 0:
		return domain.ErrSubsetAddressing("start row index cannot be negative")
	case count < 0:
		return domain.ErrSubsetAddressing("row count cannot be negative")
	}
	total := rs.RowCount()
	if start > total || count > total-start {
		return domain.ErrSubsetAddressing("rows %d to %d are out of range for a result set of %d rows",
			start, start+count, total)
	}
	return nil
}

// Summary describes the result set for completion notifications.
func (rs *ResultSet) Summary() domain.ResultSetSummary {
	var action *domain.SpecialAction
	if len(rs.columns) == 1 && (rs.columns[0].IsJSON() || rs.columns[0].IsXML()) {
		action = &domain.SpecialAction{StructuredText: true}
	}
	return domain.ResultSetSummary{
		ID:            rs.id,
		BatchID:       rs.batchOrdinal,
		RowCount:      int64(rs.RowCount()),
		ColumnInfo:    rs.columns,
		SpecialAction: action,
	}
}

// Close releases the storage and deletes any spill file.
func (rs *ResultSet) Close() error {
	return rs.storage.Close()
}
