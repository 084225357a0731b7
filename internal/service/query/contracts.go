package query

import "querydeck/internal/domain"

// Request methods served by the query service.
const (
	MethodExecuteString            = "query/executeString"
	MethodExecuteDocumentSelection = "query/executeDocumentSelection"
	MethodCancel                   = "query/cancel"
	MethodSubset                   = "query/subset"
	MethodSaveCSV                  = "query/saveCsv"
	MethodSaveJSON                 = "query/saveJson"
	MethodSaveExcel                = "query/saveExcel"
	MethodDispose                  = "query/dispose"
	MethodHistory                  = "query/history"
)

// Notifications sent by the query service.
const (
	NotifyBatchStart        = "query/batchStart"
	NotifyResultSetComplete = "query/resultSetComplete"
	NotifyMessage           = "query/message"
	NotifyBatchComplete     = "query/batchComplete"
	NotifyQueryComplete     = "query/complete"
	NotifySaveComplete      = "query/saveComplete"
	NotifySaveFailed        = "query/saveFailed"
)

// ExecuteStringParams submits literal SQL text.
type ExecuteStringParams struct {
	OwnerURI string `json:"ownerUri"`
	Query    string `json:"query"`
}

// ExecuteDocumentSelectionParams submits the text of an open document, or
// of a selection within it.
type ExecuteDocumentSelectionParams struct {
	OwnerURI       string                 `json:"ownerUri"`
	QuerySelection *domain.SelectionRange `json:"querySelection,omitempty"`
}

// OwnerParams addresses the query of an owner URI.
type OwnerParams struct {
	OwnerURI string `json:"ownerUri"`
}

// SubsetParams addresses a row window of a result set.
type SubsetParams struct {
	OwnerURI       string `json:"ownerUri"`
	BatchIndex     int    `json:"batchIndex"`
	ResultSetIndex int    `json:"resultSetIndex"`
	RowsStartIndex int    `json:"rowsStartIndex"`
	RowsCount      int    `json:"rowsCount"`
}

// SubsetResult is the response to a subset request.
type SubsetResult struct {
	ResultSubset *domain.ResultSetSubset `json:"resultSubset"`
}

// SaveResultsParams requests an export of a result set. Row and column
// ranges are inclusive; omitted bounds select everything.
type SaveResultsParams struct {
	OwnerURI         string `json:"ownerUri"`
	BatchIndex       int    `json:"batchIndex"`
	ResultSetIndex   int    `json:"resultSetIndex"`
	FilePath         string `json:"filePath"`
	RowStartIndex    *int   `json:"rowStartIndex,omitempty"`
	RowEndIndex      *int   `json:"rowEndIndex,omitempty"`
	ColumnStartIndex *int   `json:"columnStartIndex,omitempty"`
	ColumnEndIndex   *int   `json:"columnEndIndex,omitempty"`
	IncludeHeaders   *bool  `json:"includeHeaders,omitempty"`
	Delimiter        string `json:"delimiter,omitempty"`
}

// HistoryParams filters query history.
type HistoryParams struct {
	OwnerURI *string `json:"ownerUri,omitempty"`
	Status   *string `json:"status,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Offset   int     `json:"offset,omitempty"`
}

// HistoryResult is one page of query history.
type HistoryResult struct {
	Entries []domain.QueryHistoryEntry `json:"entries"`
	Total   int64                      `json:"total"`
}

// BatchEventParams accompanies batch start and completion notifications.
type BatchEventParams struct {
	OwnerURI     string              `json:"ownerUri"`
	BatchSummary domain.BatchSummary `json:"batchSummary"`
}

// ResultSetEventParams accompanies result set completion notifications.
type ResultSetEventParams struct {
	OwnerURI         string                  `json:"ownerUri"`
	ResultSetSummary domain.ResultSetSummary `json:"resultSetSummary"`
}

// MessageParams accompanies message notifications.
type MessageParams struct {
	OwnerURI string               `json:"ownerUri"`
	Message  domain.ResultMessage `json:"message"`
}

// QueryCompleteParams accompanies the query completion notification.
type QueryCompleteParams struct {
	OwnerURI       string                `json:"ownerUri"`
	BatchSummaries []domain.BatchSummary `json:"batchSummaries"`
}

// SaveEventParams accompanies save completion and failure notifications.
type SaveEventParams struct {
	OwnerURI     string  `json:"ownerUri"`
	FilePath     string  `json:"filePath"`
	ErrorMessage *string `json:"errorMessage,omitempty"`
}
