package query

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"querydeck/internal/domain"
	"querydeck/internal/export"
	"querydeck/internal/resultset"
)

// StoragePolicy selects result storage for new batches.
type StoragePolicy string

// Storage policies.
const (
	// StorageAuto spills streaming SELECT results to file storage and keeps
	// everything else in memory.
	StorageAuto   StoragePolicy = "auto"
	StorageMemory StoragePolicy = "memory"
	StorageFile   StoragePolicy = "file"
)

// Messages reported to the client.
const (
	msgCanceled         = "Query was canceled by user"
	msgCommandsComplete = "Commands completed successfully"
)

// Service owns the owner URI to query map. Each accepted execute request
// gets a worker goroutine; every other request is served from the caller's
// goroutine.
type Service struct {
	conns     domain.ConnectionProvider
	workspace domain.WorkspaceResolver
	factory   *resultset.Factory
	exporter  *export.Exporter
	history   domain.QueryHistoryRepository
	policy    StoragePolicy
	logger    *slog.Logger
	now       func() time.Time

	// ctx outlives individual requests; workers run on it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	queries map[string]*Query
}

// NewService creates a query service.
func NewService(conns domain.ConnectionProvider, workspace domain.WorkspaceResolver, factory *resultset.Factory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		conns:     conns,
		workspace: workspace,
		factory:   factory,
		exporter:  export.NewExporter(export.DefaultWindow, "", logger),
		policy:    StorageAuto,
		logger:    logger.With("component", "query"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		queries:   make(map[string]*Query),
	}
}

// SetHistory enables recording of finished batches.
func (s *Service) SetHistory(repo domain.QueryHistoryRepository) {
	s.history = repo
}

// SetStoragePolicy changes the storage chosen for new batches.
func (s *Service) SetStoragePolicy(p StoragePolicy) {
	s.policy = p
}

// SetExporter replaces the exporter used by save requests.
func (s *Service) SetExporter(e *export.Exporter) {
	s.exporter = e
}

// Query returns the live query of ownerURI.
func (s *Service) Query(ownerURI string) (*Query, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[ownerURI]
	return q, ok
}

func (s *Service) storageFor(kind BatchKind) resultset.StorageType {
	switch s.policy {
	case StorageMemory:
		return resultset.StorageMemory
	case StorageFile:
		return resultset.StorageFile
	}
	if kind == BatchStreamingSelect {
		return resultset.StorageFile
	}
	return resultset.StorageMemory
}

// ExecuteString runs literal SQL text for ownerURI. The worker is started
// after the request has been answered.
func (s *Service) ExecuteString(ctx context.Context, p ExecuteStringParams, rc domain.RequestContext) error {
	if p.OwnerURI == "" {
		return domain.ErrValidation("ownerUri is required")
	}
	return s.execute(ctx, p.OwnerURI, p.Query, domain.SelectionRange{}, rc)
}

// ExecuteDocumentSelection runs the text of an open document or of a
// selection within it.
func (s *Service) ExecuteDocumentSelection(ctx context.Context, p ExecuteDocumentSelectionParams, rc domain.RequestContext) error {
	if p.OwnerURI == "" {
		return domain.ErrValidation("ownerUri is required")
	}
	text, err := s.workspace.GetText(p.OwnerURI, p.QuerySelection)
	if err != nil {
		return err
	}
	var origin domain.SelectionRange
	if p.QuerySelection != nil {
		origin = *p.QuerySelection
	}
	return s.execute(ctx, p.OwnerURI, text, origin, rc)
}

// execute performs the replace-or-reject step and acknowledges the request.
// A returned error means no query was created and nothing was sent.
func (s *Service) execute(ctx context.Context, ownerURI, text string, origin domain.SelectionRange, rc domain.RequestContext) error {
	if s.busy(ownerURI) {
		return domain.ErrAlreadyExecuting("a query is already executing for %s", ownerURI)
	}
	conn, err := s.conns.GetConnection(ctx, ownerURI, domain.PurposeQuery)
	if err != nil {
		return domain.ErrConnectionUnavailable(err, "no connection for %s", ownerURI)
	}

	q := newQuery(ownerURI)
	q.start(conn)
	s.mu.Lock()
	if old, ok := s.queries[ownerURI]; ok {
		if old.State() == domain.ExecutionExecuting {
			s.mu.Unlock()
			return domain.ErrAlreadyExecuting("a query is already executing for %s", ownerURI)
		}
		old.dispose()
		old.release()
	}
	s.queries[ownerURI] = q
	s.mu.Unlock()

	if err := rc.SendResponse(struct{}{}); err != nil {
		s.logger.Warn("acknowledge execute", "owner", ownerURI, "error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(s.ctx, q, conn, text, origin, rc)
	}()
	return nil
}

func (s *Service) busy(ownerURI string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[ownerURI]
	return ok && q.State() == domain.ExecutionExecuting
}

// Cancel requests cancellation of the query of ownerURI. A statement that
// is with the driver is interrupted from a separate connection so the
// request never waits on the busy one. Nothing being cancellable is
// reported in the result, not as an error.
func (s *Service) Cancel(ctx context.Context, ownerURI string) domain.QueryCancelResult {
	q, ok := s.Query(ownerURI)
	if !ok {
		return cancelResult("no query exists for " + ownerURI)
	}
	return s.cancelQuery(ctx, q)
}

func (s *Service) cancelQuery(ctx context.Context, q *Query) domain.QueryCancelResult {
	ownerURI := q.OwnerURI()
	running, ok := q.requestCancel()
	if !ok {
		return cancelResult("the query has already completed and cannot be canceled")
	}
	s.logger.Info("query cancel requested", "owner", ownerURI, "interrupting", running != nil)
	if running == nil {
		return domain.QueryCancelResult{}
	}

	canceler, err := s.conns.GetConnection(ctx, ownerURI, domain.PurposeQueryCancel)
	if err != nil {
		s.logger.Warn("open cancel connection", "owner", ownerURI, "error", err)
		return domain.QueryCancelResult{}
	}
	if err := canceler.Interrupt(ctx, running); err != nil {
		s.logger.Warn("interrupt statement", "owner", ownerURI, "error", err)
	}
	return domain.QueryCancelResult{}
}

func cancelResult(msg string) domain.QueryCancelResult {
	return domain.QueryCancelResult{ErrorMessage: &msg}
}

// Subset returns a row window of an executed result set.
func (s *Service) Subset(p SubsetParams) (*domain.ResultSetSubset, error) {
	rs, err := s.resultSet(p.OwnerURI, p.BatchIndex, p.ResultSetIndex)
	if err != nil {
		return nil, err
	}
	return rs.Subset(p.RowsStartIndex, p.RowsCount)
}

func (s *Service) resultSet(ownerURI string, batchIndex, resultSetIndex int) (*resultset.ResultSet, error) {
	q, ok := s.Query(ownerURI)
	if !ok {
		return nil, domain.ErrSubsetAddressing("no query exists for %s", ownerURI)
	}
	b, err := q.Batch(batchIndex)
	if err != nil {
		return nil, err
	}
	return b.ResultSet(resultSetIndex)
}

// Dispose stops tracking the query of ownerURI and releases its storage.
// A running query is cancelled and its worker releases storage when it
// finishes. It reports whether a query existed.
func (s *Service) Dispose(ctx context.Context, ownerURI string) bool {
	s.mu.Lock()
	q, ok := s.queries[ownerURI]
	delete(s.queries, ownerURI)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if q.dispose() {
		q.release()
		return true
	}
	s.cancelQuery(ctx, q)
	return true
}

// History returns recorded batches, newest first.
func (s *Service) History(ctx context.Context, p HistoryParams) (*HistoryResult, error) {
	if s.history == nil {
		return nil, domain.ErrValidation("query history is disabled")
	}
	if p.Status != nil {
		status := strings.ToUpper(*p.Status)
		switch status {
		case domain.HistoryStatusSucceeded, domain.HistoryStatusFailed, domain.HistoryStatusCanceled:
			p.Status = &status
		default:
			return nil, domain.ErrValidation("unknown history status %q", *p.Status)
		}
	}
	entries, total, err := s.history.List(ctx, domain.QueryHistoryFilter{
		OwnerURI: p.OwnerURI,
		Status:   p.Status,
		Limit:    p.Limit,
		Offset:   p.Offset,
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.QueryHistoryEntry{}
	}
	return &HistoryResult{Entries: entries, Total: total}, nil
}

// Shutdown disposes every query, cancelling the running ones, and waits for
// the workers. When ctx ends first, in-flight driver calls are aborted
// through the workers' context before it returns.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	owners := make([]string, 0, len(s.queries))
	for owner := range s.queries {
		owners = append(owners, owner)
	}
	s.mu.Unlock()
	for _, owner := range owners {
		s.Dispose(ctx, owner)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
