package export

import (
	"context"
	"log/slog"
	"os"
	"path"
	"strings"

	"querydeck/internal/domain"
)

// Exporter writes result sets to local files or remote storage targets.
type Exporter struct {
	window    int
	tempDir   string
	uploaders map[string]Uploader
	logger    *slog.Logger
}

// NewExporter creates an exporter reading window rows at a time. Remote
// exports are staged in tempDir, or the system temp dir when empty.
func NewExporter(window int, tempDir string, logger *slog.Logger) *Exporter {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		window:    window,
		tempDir:   tempDir,
		uploaders: make(map[string]Uploader),
		logger:    logger.With("component", "export"),
	}
}

// RegisterUploader enables remote targets with the given scheme.
func (e *Exporter) RegisterUploader(scheme string, u Uploader) {
	e.uploaders[scheme] = u
}

// Save writes the selected part of src to dest. Invalid ranges and options
// are reported before anything is created. Write failures leave whatever
// was written in place and return an ExportIOError.
func (e *Exporter) Save(ctx context.Context, src Source, dest string, opts Options) error {
	format, err := ParseFormat(string(opts.Format))
	if err != nil {
		return err
	}
	opts.Format = format
	if err := e.validate(src, opts); err != nil {
		return err
	}
	if opts.Window <= 0 {
		opts.Window = e.window
	}

	if !IsRemote(dest) {
		return e.saveLocal(ctx, src, dest, opts)
	}

	target, err := ParseTarget(dest)
	if err != nil {
		return domain.ErrValidation("%s", err)
	}
	up, ok := e.uploaders[target.Scheme]
	if !ok {
		return domain.ErrValidation("no credentials configured for %s:// targets", target.Scheme)
	}

	tmp, err := os.CreateTemp(e.tempDir, "qd-export-*"+path.Ext(target.Key))
	if err != nil {
		return domain.ErrExportIO(err, "stage export for %s", dest)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if err := Write(ctx, tmp, src, opts); err != nil {
		_ = tmp.Close()
		return domain.ErrExportIO(err, "write export for %s", dest)
	}
	if err := tmp.Close(); err != nil {
		return domain.ErrExportIO(err, "write export for %s", dest)
	}
	if err := up.Upload(ctx, tmpPath, target); err != nil {
		return domain.ErrExportIO(err, "upload %s", dest)
	}
	e.logger.Info("export uploaded", "target", dest, "format", opts.Format)
	return nil
}

func (e *Exporter) saveLocal(ctx context.Context, src Source, dest string, opts Options) error {
	f, err := os.Create(dest)
	if err != nil {
		return domain.ErrExportIO(err, "create %s", dest)
	}
	if err := Write(ctx, f, src, opts); err != nil {
		_ = f.Close()
		return domain.ErrExportIO(err, "write %s", dest)
	}
	if err := f.Close(); err != nil {
		return domain.ErrExportIO(err, "close %s", dest)
	}
	e.logger.Debug("export written", "path", dest, "format", opts.Format)
	return nil
}

func (e *Exporter) validate(src Source, opts Options) error {
	if opts.Format == FormatCSV && opts.Delimiter != 0 && !validDelimiter(opts.Delimiter) {
		return domain.ErrValidation("invalid csv delimiter %q", opts.Delimiter)
	}
	_, _, err := ResolveRanges(src, opts)
	return err
}

// contentType picks a MIME type for an uploaded object from its extension.
func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
