package domain

import "time"

// Batch outcomes recorded in query history.
const (
	HistoryStatusSucceeded = "SUCCEEDED"
	HistoryStatusFailed    = "FAILED"
	HistoryStatusCanceled  = "CANCELED"
)

// QueryHistoryEntry represents a single executed batch.
type QueryHistoryEntry struct {
	ID           int64     `json:"id"`
	OwnerURI     string    `json:"ownerUri"`
	BatchOrdinal int       `json:"batchId"`
	QueryText    string    `json:"queryText"`
	Status       string    `json:"status"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	DurationMs   int64     `json:"durationMs"`
	RowsReturned int64     `json:"rowsReturned"`
	CreatedAt    time.Time `json:"createdAt"`
}

// DefaultHistoryLimit is the page size used when a history request gives none.
const DefaultHistoryLimit = 100

// MaxHistoryLimit caps a single history page.
const MaxHistoryLimit = 1000

// QueryHistoryFilter holds filter parameters for listing query history.
type QueryHistoryFilter struct {
	OwnerURI *string
	Status   *string
	Limit    int
	Offset   int
}

// EffectiveLimit returns the page size clamped to [1, MaxHistoryLimit].
func (f QueryHistoryFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return f.Limit
}
