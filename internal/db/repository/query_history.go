package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"querydeck/internal/domain"
)

const historyColumns = `id, owner_uri, batch_ordinal, query_text, status, error_message,
	duration_ms, rows_returned, created_at`

// QueryHistoryRepo stores executed batches in the query_history table.
type QueryHistoryRepo struct {
	write *sql.DB
	read  *sql.DB
	now   func() time.Time
}

// NewQueryHistoryRepo creates a repository. readDB may equal writeDB.
func NewQueryHistoryRepo(writeDB, readDB *sql.DB) *QueryHistoryRepo {
	if readDB == nil {
		readDB = writeDB
	}
	return &QueryHistoryRepo{write: writeDB, read: readDB, now: time.Now}
}

// Create inserts e and sets its ID. A zero CreatedAt is set to now.
func (r *QueryHistoryRepo) Create(ctx context.Context, e *domain.QueryHistoryEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)

	res, err := r.write.ExecContext(ctx, `INSERT INTO query_history
		(owner_uri, batch_ordinal, query_text, status, error_message, duration_ms, rows_returned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.OwnerURI, e.BatchOrdinal, e.QueryText, e.Status, nullString(e.ErrorMessage),
		e.DurationMs, e.RowsReturned, e.CreatedAt.Format(timestampLayout))
	if err != nil {
		return mapDBError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// List returns a page of entries, newest first, together with the total
// number of entries matching the filter.
func (r *QueryHistoryRepo) List(ctx context.Context, filter domain.QueryHistoryFilter) ([]domain.QueryHistoryEntry, int64, error) {
	var (
		conds []string
		args  []any
	)
	if filter.OwnerURI != nil {
		conds = append(conds, "owner_uri = ?")
		args = append(args, *filter.OwnerURI)
	}
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, *filter.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.read.QueryRowContext(ctx, "SELECT count(*) FROM query_history"+where, args...).Scan(&total); err != nil {
		return nil, 0, mapDBError(err)
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	pageArgs := append(append([]any(nil), args...), filter.EffectiveLimit(), offset)
	rows, err := r.read.QueryContext(ctx,
		"SELECT "+historyColumns+" FROM query_history"+where+" ORDER BY id DESC LIMIT ? OFFSET ?",
		pageArgs...)
	if err != nil {
		return nil, 0, mapDBError(err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []domain.QueryHistoryEntry
	for rows.Next() {
		var (
			e         domain.QueryHistoryEntry
			errMsg    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.OwnerURI, &e.BatchOrdinal, &e.QueryText, &e.Status,
			&errMsg, &e.DurationMs, &e.RowsReturned, &createdAt); err != nil {
			return nil, 0, err
		}
		e.ErrorMessage = stringPtr(errMsg)
		e.CreatedAt = parseTimestamp(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

var _ domain.QueryHistoryRepository = (*QueryHistoryRepo)(nil)
