package domain

import "strings"

// ExecutionState is the lifecycle of a query. EXECUTED is terminal.
type ExecutionState int

// Query execution states.
const (
	ExecutionNotStarted ExecutionState = iota
	ExecutionExecuting
	ExecutionExecuted
)

func (s ExecutionState) String() string {
	switch s {
	case ExecutionNotStarted:
		return "NOT_STARTED"
	case ExecutionExecuting:
		return "EXECUTING"
	case ExecutionExecuted:
		return "EXECUTED"
	default:
		return "UNKNOWN"
	}
}

// SelectionRange is a zero-based, end-exclusive (line, column) span of a document.
type SelectionRange struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// DbColumn describes one column of a result set. It is derived once from
// the driver's row description and never changes afterwards.
type DbColumn struct {
	ColumnOrdinal int    `json:"columnOrdinal"`
	ColumnName    string `json:"columnName"`
	DataTypeName  string `json:"dataTypeName"`
	AllowDBNull   *bool  `json:"allowDBNull,omitempty"`
}

// IsJSON reports whether the column holds json or jsonb text.
func (c DbColumn) IsJSON() bool {
	t := strings.ToLower(c.DataTypeName)
	return t == "json" || t == "jsonb"
}

// IsXML reports whether the column holds xml text.
func (c DbColumn) IsXML() bool {
	return strings.EqualFold(c.DataTypeName, "xml")
}

// DbCell is one rendered cell returned by a subset request.
type DbCell struct {
	DisplayValue string `json:"displayValue"`
	IsNull       bool   `json:"isNull"`
	RowID        int64  `json:"rowId"`
}

// ResultSetSubset is a contiguous window of rows.
type ResultSetSubset struct {
	RowCount int        `json:"rowCount"`
	Rows     [][]DbCell `json:"rows"`
}

// SpecialAction carries hints about how a client should present a result set.
type SpecialAction struct {
	StructuredText bool `json:"structuredText"`
}

// ResultSetSummary describes a completed result set.
type ResultSetSummary struct {
	ID            int            `json:"id"`
	BatchID       int            `json:"batchId"`
	RowCount      int64          `json:"rowCount"`
	ColumnInfo    []DbColumn     `json:"columnInfo"`
	SpecialAction *SpecialAction `json:"specialAction"`
}

// BatchSummary describes a batch at start or completion.
type BatchSummary struct {
	ID                 int                `json:"id"`
	Selection          SelectionRange     `json:"selection"`
	ExecutionStart     string             `json:"executionStart,omitempty"`
	ExecutionEnd       string             `json:"executionEnd,omitempty"`
	ExecutionElapsed   string             `json:"executionElapsed,omitempty"`
	HasError           bool               `json:"hasError"`
	ResultSetSummaries []ResultSetSummary `json:"resultSetSummaries"`
}

// ResultMessage is the payload of a message notification.
type ResultMessage struct {
	BatchID *int   `json:"batchId,omitempty"`
	IsError bool   `json:"isError"`
	Time    string `json:"time"`
	Message string `json:"message"`
}

// QueryCancelResult is the body of a cancel response. ErrorMessage is nil
// when a cancellation was issued.
type QueryCancelResult struct {
	ErrorMessage *string `json:"errorMessage"`
}
