package query

import (
	"context"

	"querydeck/internal/domain"
	"querydeck/internal/export"
	"querydeck/internal/jsonrpc"
)

// Register installs the query request handlers.
func (s *Service) Register(reg *jsonrpc.Registry) {
	reg.Handle(MethodExecuteString, jsonrpc.Streaming(s.ExecuteString))
	reg.Handle(MethodExecuteDocumentSelection, jsonrpc.Streaming(s.ExecuteDocumentSelection))
	reg.Handle(MethodCancel, jsonrpc.Typed(func(ctx context.Context, p OwnerParams) (domain.QueryCancelResult, error) {
		return s.Cancel(ctx, p.OwnerURI), nil
	}))
	reg.Handle(MethodSubset, jsonrpc.Typed(func(_ context.Context, p SubsetParams) (SubsetResult, error) {
		sub, err := s.Subset(p)
		if err != nil {
			return SubsetResult{}, err
		}
		return SubsetResult{ResultSubset: sub}, nil
	}))
	reg.Handle(MethodSaveCSV, s.saveHandler(export.FormatCSV))
	reg.Handle(MethodSaveJSON, s.saveHandler(export.FormatJSON))
	reg.Handle(MethodSaveExcel, s.saveHandler(export.FormatExcel))
	reg.Handle(MethodDispose, jsonrpc.Typed(func(ctx context.Context, p OwnerParams) (bool, error) {
		return s.Dispose(ctx, p.OwnerURI), nil
	}))
	reg.Handle(MethodHistory, jsonrpc.Typed(s.History))
}

func (s *Service) saveHandler(format export.Format) jsonrpc.Handler {
	return jsonrpc.Streaming(func(ctx context.Context, p SaveResultsParams, rc domain.RequestContext) error {
		return s.SaveAs(ctx, format, p, rc)
	})
}
