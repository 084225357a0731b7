package query

import (
	"context"
	"unicode/utf8"

	"querydeck/internal/domain"
	"querydeck/internal/export"
)

// SaveAs exports a result set. Addressing and range errors are returned
// before the request is acknowledged; the outcome of the export itself is
// reported with a save complete or save failed notification.
func (s *Service) SaveAs(ctx context.Context, format export.Format, p SaveResultsParams, rc domain.RequestContext) error {
	if p.FilePath == "" {
		return domain.ErrValidation("filePath is required")
	}
	rs, err := s.resultSet(p.OwnerURI, p.BatchIndex, p.ResultSetIndex)
	if err != nil {
		return err
	}
	opts := export.Options{
		Format:         format,
		RowStart:       p.RowStartIndex,
		RowEnd:         p.RowEndIndex,
		ColumnStart:    p.ColumnStartIndex,
		ColumnEnd:      p.ColumnEndIndex,
		IncludeHeaders: p.IncludeHeaders == nil || *p.IncludeHeaders,
	}
	if p.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(p.Delimiter)
		if size != len(p.Delimiter) || r == utf8.RuneError {
			return domain.ErrValidation("delimiter must be a single character, got %q", p.Delimiter)
		}
		opts.Delimiter = r
	}
	if _, _, err := export.ResolveRanges(rs, opts); err != nil {
		return err
	}

	if err := rc.SendResponse(struct{}{}); err != nil {
		s.logger.Warn("acknowledge save", "owner", p.OwnerURI, "error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		event := SaveEventParams{OwnerURI: p.OwnerURI, FilePath: p.FilePath}
		if err := s.exporter.Save(s.ctx, rs, p.FilePath, opts); err != nil {
			s.logger.Warn("save failed", "owner", p.OwnerURI, "path", p.FilePath, "format", format, "error", err)
			msg := err.Error()
			event.ErrorMessage = &msg
			s.notify(rc, NotifySaveFailed, event)
			return
		}
		s.notify(rc, NotifySaveComplete, event)
	}()
	return nil
}
