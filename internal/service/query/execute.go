package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
)

// run is the worker of one query. It executes the batches in order, stops
// at the first statement failure or cancellation, and always ends with a
// single query complete notification.
func (s *Service) run(ctx context.Context, q *Query, conn domain.Conn, text string, origin domain.SelectionRange, rc domain.RequestContext) {
	owner := q.OwnerURI()
	logger := s.logger.With("owner", owner)
	started := s.now()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("query worker panicked", "panic", p, "stack", string(debug.Stack()))
			_ = conn.Rollback(ctx)
		}
		summaries := q.Summaries()
		if q.complete() {
			q.release()
		}
		s.notify(rc, NotifyQueryComplete, QueryCompleteParams{OwnerURI: owner, BatchSummaries: summaries})
		logger.Info("query complete", "batches", len(summaries), "canceled", q.IsCanceled(), "duration", s.now().Sub(started))
	}()

	parts := splitBatches(text, origin)
	batches := make([]*Batch, len(parts))
	for i, part := range parts {
		batches[i] = newBatch(i, part.text, part.selection, s.storageFor(ClassifyBatch(part.text)))
	}
	q.setBatches(batches)
	logger.Debug("query started", "batches", len(batches))

	for _, b := range batches {
		if halt := s.runBatch(ctx, q, conn, b, rc, logger); halt {
			break
		}
	}
}

// runBatch executes one batch inside a transaction and emits its
// notifications. It reports whether later batches must not run.
func (s *Service) runBatch(ctx context.Context, q *Query, conn domain.Conn, b *Batch, rc domain.RequestContext, logger *slog.Logger) (halt bool) {
	owner := q.OwnerURI()
	b.markStarted(s.now())
	s.notify(rc, NotifyBatchStart, BatchEventParams{OwnerURI: owner, BatchSummary: b.Summary()})

	var (
		affected int64 = -1
		canceled bool
		err      error
	)
	began := false
	if berr := conn.Begin(ctx); berr != nil {
		err = domain.ErrStatementExecution(berr)
	} else {
		began = true
		if !q.enterCall() {
			canceled = true
		} else {
			affected, err = s.executeBatch(ctx, conn, b)
			canceled = q.leaveCall()
		}
	}

	if began {
		if canceled || err != nil {
			if rerr := conn.Rollback(ctx); rerr != nil {
				logger.Warn("rollback failed", "batch", b.Ordinal(), "error", rerr)
			}
		} else if cerr := conn.Commit(ctx); cerr != nil {
			err = domain.ErrStatementExecution(cerr)
		}
	}

	notices := conn.Notices()
	if canceled || err != nil {
		b.discardResultSets()
	}
	b.finish(s.now(), affected, canceled, err)

	for _, rs := range b.ResultSets() {
		s.notify(rc, NotifyResultSetComplete, ResultSetEventParams{OwnerURI: owner, ResultSetSummary: rs.Summary()})
	}
	if len(notices) > 0 {
		s.message(rc, owner, b, false, strings.Join(notices, "\n"))
	}
	switch {
	case canceled:
		s.message(rc, owner, b, false, msgCanceled)
	case err != nil:
		s.message(rc, owner, b, true, err.Error())
	default:
		s.message(rc, owner, b, false, outcomeMessage(b, affected))
	}
	s.notify(rc, NotifyBatchComplete, BatchEventParams{OwnerURI: owner, BatchSummary: b.Summary()})

	s.record(ctx, owner, b, canceled, err)
	logger.Info("batch finished", "batch", b.Ordinal(), "kind", b.Kind(), "storage", b.StorageType(),
		"canceled", canceled, "error", err)

	var storageErr *domain.StorageIOError
	return canceled || (err != nil && !errors.As(err, &storageErr))
}

// executeBatch runs the statement and drains every result it produces. A
// result without columns is still stepped to its end: embedded engines run
// the statement on the first step. The affected count is read after Close,
// which is where drivers settle the command tag.
func (s *Service) executeBatch(ctx context.Context, conn domain.Conn, b *Batch) (int64, error) {
	rows, err := conn.Execute(ctx, b.Text(), domain.ExecOptions{CursorName: b.cursorName})
	if err != nil {
		return -1, domain.ErrStatementExecution(err)
	}
	if err := s.drainResults(ctx, rows, b); err != nil {
		_ = rows.Close()
		return -1, err
	}
	if err := rows.Close(); err != nil {
		return -1, domain.ErrStatementExecution(err)
	}
	return rows.RowsAffected(), nil
}

func (s *Service) drainResults(ctx context.Context, rows domain.Rows, b *Batch) error {
	for {
		if cols := rows.Columns(); len(cols) > 0 {
			storage, err := s.factory.New(b.StorageType())
			if err != nil {
				return err
			}
			rs := resultset.New(b.nextResultSetID(), b.Ordinal(), cols, storage)
			b.addResultSet(rs)
			if err := rs.Drain(ctx, rows); err != nil {
				return err
			}
		} else {
			for rows.Next() {
			}
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return domain.ErrStatementExecution(err)
	}
	return nil
}

// outcomeMessage reports the row count of a successful batch.
func outcomeMessage(b *Batch, affected int64) string {
	sets := b.ResultSets()
	n := affected
	if len(sets) > 0 {
		n = 0
		for _, rs := range sets {
			n += int64(rs.RowCount())
		}
	}
	switch {
	case n < 0:
		return msgCommandsComplete
	case n == 1:
		return "(1 row affected)"
	default:
		return fmt.Sprintf("(%d rows affected)", n)
	}
}

func (s *Service) message(rc domain.RequestContext, owner string, b *Batch, isError bool, text string) {
	id := b.Ordinal()
	s.notify(rc, NotifyMessage, MessageParams{
		OwnerURI: owner,
		Message: domain.ResultMessage{
			BatchID: &id,
			IsError: isError,
			Time:    s.now().Format(time.RFC3339Nano),
			Message: text,
		},
	})
}

func (s *Service) notify(rc domain.RequestContext, method string, params any) {
	if err := rc.SendNotification(method, params); err != nil {
		s.logger.Warn("send notification failed", "method", method, "error", err)
	}
}

// record stores a finished batch in the query history. Failures are logged
// and never affect execution.
func (s *Service) record(ctx context.Context, owner string, b *Batch, canceled bool, err error) {
	if s.history == nil {
		return
	}
	entry := &domain.QueryHistoryEntry{
		OwnerURI:     owner,
		BatchOrdinal: b.Ordinal(),
		QueryText:    b.Text(),
		Status:       domain.HistoryStatusSucceeded,
		DurationMs:   b.elapsed().Milliseconds(),
	}
	switch {
	case canceled:
		entry.Status = domain.HistoryStatusCanceled
	case err != nil:
		entry.Status = domain.HistoryStatusFailed
		msg := err.Error()
		entry.ErrorMessage = &msg
	}
	for _, rs := range b.ResultSets() {
		entry.RowsReturned += int64(rs.RowCount())
	}
	if herr := s.history.Create(context.WithoutCancel(ctx), entry); herr != nil {
		s.logger.Warn("record query history", "owner", owner, "error", herr)
	}
}
