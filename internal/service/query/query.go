// Package query runs submitted SQL as batches, tracks the resulting queries
// per owner URI, and serves subset, cancel, export and dispose requests.
package query

import (
	"sync"

	"querydeck/internal/domain"
)

// Query is the set of batches created by one execute request.
type Query struct {
	ownerURI string

	mu       sync.Mutex
	batches  []*Batch
	state    domain.ExecutionState
	canceled bool
	disposed bool
	// primary is the connection the worker runs statements on; inCall is
	// true while a statement is with the driver.
	primary domain.Conn
	inCall  bool
}

func newQuery(ownerURI string) *Query {
	return &Query{ownerURI: ownerURI, state: domain.ExecutionNotStarted}
}

// OwnerURI returns the owner the query belongs to.
func (q *Query) OwnerURI() string { return q.ownerURI }

// State returns the execution state.
func (q *Query) State() domain.ExecutionState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// IsCanceled reports whether a cancellation was requested.
func (q *Query) IsCanceled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.canceled
}

// Batches returns the batches in ordinal order.
func (q *Query) Batches() []*Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Batch(nil), q.batches...)
}

// Batch returns batch i.
func (q *Query) Batch(i int) (*Batch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.batches) {
		return nil, domain.ErrSubsetAddressing("batch index %d is out of range for a query with %d batches", i, len(q.batches))
	}
	return q.batches[i], nil
}

// Summaries returns the summary of every batch.
func (q *Query) Summaries() []domain.BatchSummary {
	batches := q.Batches()
	out := make([]domain.BatchSummary, len(batches))
	for i, b := range batches {
		out[i] = b.Summary()
	}
	return out
}

// start claims the owner for the query before its worker runs.
func (q *Query) start(primary domain.Conn) {
	q.mu.Lock()
	q.primary = primary
	q.state = domain.ExecutionExecuting
	q.mu.Unlock()
}

func (q *Query) setBatches(batches []*Batch) {
	q.mu.Lock()
	q.batches = batches
	q.mu.Unlock()
}

// enterCall is the pre-call checkpoint. It returns false if the query was
// cancelled; otherwise the statement is marked as running.
func (q *Query) enterCall() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.canceled {
		return false
	}
	q.inCall = true
	return true
}

// leaveCall is the post-call checkpoint. The returned flag decides between
// commit and rollback, so no cancellation can slip in between.
func (q *Query) leaveCall() (canceled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inCall = false
	return q.canceled
}

// requestCancel flags the query as cancelled. It reports whether the query
// was still cancellable and returns the primary connection if a statement
// is currently running on it.
func (q *Query) requestCancel() (running domain.Conn, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == domain.ExecutionExecuted {
		return nil, false
	}
	q.canceled = true
	if q.inCall {
		return q.primary, true
	}
	return nil, true
}

// complete marks the query executed. It reports whether the query was
// disposed while running, in which case the caller releases its storage.
func (q *Query) complete() (disposed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.state = domain.ExecutionExecuted
	q.primary = nil
	return q.disposed
}

// dispose marks the query disposed. It reports whether storage can be
// released now; otherwise the running worker releases it when it finishes.
func (q *Query) dispose() (releaseNow bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disposed = true
	return q.state != domain.ExecutionExecuting
}

func (q *Query) release() {
	for _, b := range q.Batches() {
		b.close()
	}
}
