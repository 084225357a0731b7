package query

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"querydeck/internal/domain"
	"querydeck/internal/resultset"
)

// BatchKind decides how a batch is run against the server.
type BatchKind int

// Batch kinds.
const (
	// BatchPlain executes the statement directly and fetches its result.
	BatchPlain BatchKind = iota
	// BatchStreamingSelect declares a named server-side cursor and pages it.
	BatchStreamingSelect
)

func (k BatchKind) String() string {
	if k == BatchStreamingSelect {
		return "select"
	}
	return "plain"
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// ClassifyBatch collapses whitespace and matches a case-insensitive SELECT
// prefix. SELECT ... INTO creates a table and is run as a plain batch.
func ClassifyBatch(text string) BatchKind {
	norm := strings.ToLower(strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " ")))
	if strings.HasPrefix(norm, "select") && !strings.Contains(norm, " into ") {
		return BatchStreamingSelect
	}
	return BatchPlain
}

// Batch is one statement of a query. It is mutated only by the worker that
// runs the owning query; readers go through the accessors.
type Batch struct {
	ordinal     int
	text        string
	selection   domain.SelectionRange
	kind        BatchKind
	storageType resultset.StorageType
	cursorName  string

	mu           sync.RWMutex
	resultSets   []*resultset.ResultSet
	hasExecuted  bool
	hasError     bool
	isCanceled   bool
	start        time.Time
	end          time.Time
	rowsAffected int64
	errMessage   string
}

func newBatch(ordinal int, text string, selection domain.SelectionRange, storage resultset.StorageType) *Batch {
	b := &Batch{
		ordinal:      ordinal,
		text:         text,
		selection:    selection,
		kind:         ClassifyBatch(text),
		storageType:  storage,
		rowsAffected: -1,
	}
	if b.kind == BatchStreamingSelect {
		b.cursorName = "qd_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return b
}

// Ordinal returns the batch index within its query.
func (b *Batch) Ordinal() int { return b.ordinal }

// Text returns the statement text.
func (b *Batch) Text() string { return b.text }

// Kind returns the classification made at creation.
func (b *Batch) Kind() BatchKind { return b.kind }

// StorageType returns the storage used for the batch's result sets.
func (b *Batch) StorageType() resultset.StorageType { return b.storageType }

// HasExecuted reports whether the batch reached its terminal state.
func (b *Batch) HasExecuted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasExecuted
}

// HasError reports whether the batch failed.
func (b *Batch) HasError() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasError
}

// IsCanceled reports whether the batch ended because of a cancellation.
func (b *Batch) IsCanceled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isCanceled
}

// ResultSets returns the batch's result sets.
func (b *Batch) ResultSets() []*resultset.ResultSet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*resultset.ResultSet(nil), b.resultSets...)
}

// ResultSet returns result set i of an executed batch.
func (b *Batch) ResultSet(i int) (*resultset.ResultSet, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.hasExecuted {
		return nil, domain.ErrSubsetAddressing("batch %d has not finished executing", b.ordinal)
	}
	if i < 0 || i >= len(b.resultSets) {
		return nil, domain.ErrSubsetAddressing("result set index %d is out of range for batch %d with %d result sets",
			i, b.ordinal, len(b.resultSets))
	}
	return b.resultSets[i], nil
}

func (b *Batch) markStarted(now time.Time) {
	b.mu.Lock()
	b.start = now
	b.mu.Unlock()
}

func (b *Batch) addResultSet(rs *resultset.ResultSet) {
	b.mu.Lock()
	b.resultSets = append(b.resultSets, rs)
	b.mu.Unlock()
}

func (b *Batch) nextResultSetID() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.resultSets)
}

// discardResultSets closes partial results of a failed or cancelled batch.
func (b *Batch) discardResultSets() {
	b.mu.Lock()
	sets := b.resultSets
	b.resultSets = nil
	b.mu.Unlock()
	for _, rs := range sets {
		_ = rs.Close()
	}
}

// finish moves the batch to its terminal state.
func (b *Batch) finish(now time.Time, rowsAffected int64, canceled bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.end = now
	b.hasExecuted = true
	b.isCanceled = canceled
	b.rowsAffected = rowsAffected
	if err != nil && !canceled {
		b.hasError = true
		b.errMessage = err.Error()
	}
}

func (b *Batch) elapsed() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.hasExecuted {
		return 0
	}
	return b.end.Sub(b.start)
}

func (b *Batch) close() {
	b.mu.Lock()
	sets := b.resultSets
	b.mu.Unlock()
	for _, rs := range sets {
		_ = rs.Close()
	}
}

// Summary describes the batch for notifications.
func (b *Batch) Summary() domain.BatchSummary {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sum := domain.BatchSummary{
		ID:                 b.ordinal,
		Selection:          b.selection,
		HasError:           b.hasError,
		ResultSetSummaries: make([]domain.ResultSetSummary, 0, len(b.resultSets)),
	}
	if !b.start.IsZero() {
		sum.ExecutionStart = b.start.Format(time.RFC3339Nano)
	}
	if b.hasExecuted {
		sum.ExecutionEnd = b.end.Format(time.RFC3339Nano)
		sum.ExecutionElapsed = formatElapsed(b.end.Sub(b.start))
		for _, rs := range b.resultSets {
			sum.ResultSetSummaries = append(sum.ResultSetSummaries, rs.Summary())
		}
	}
	return sum
}

// formatElapsed renders d as HH:MM:SS.mmm.
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}
