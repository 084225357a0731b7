// Package app wires configuration, services and the selected transport.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"querydeck/internal/api"
	"querydeck/internal/config"
	internaldb "querydeck/internal/db"
	"querydeck/internal/db/repository"
	"querydeck/internal/engine"
	"querydeck/internal/export"
	"querydeck/internal/janitor"
	"querydeck/internal/jsonrpc"
	"querydeck/internal/middleware"
	"querydeck/internal/resultset"
	"querydeck/internal/service/connection"
	"querydeck/internal/service/query"
	"querydeck/internal/service/workspace"
)

// Deps holds what main must provide. Opener is optional and defaults to
// the engine drivers.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Opener connection.Opener
}

// App is the fully wired service.
type App struct {
	Cfg         *config.Config
	Logger      *slog.Logger
	Registry    *jsonrpc.Registry
	Connections *connection.Service
	Workspace   *workspace.Service
	Queries     *query.Service
	Exporter    *export.Exporter
	Janitor     *janitor.Janitor

	history *internaldb.Store
	closers []io.Closer
}

// New wires every component from deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg, logger := deps.Cfg, deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	profiles, err := connection.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}
	opener := deps.Opener
	if opener == nil {
		opener = connection.EngineOpener(engine.Options{
			FetchSize:   cfg.CursorFetchSize,
			Credentials: cloudCredentials(cfg),
			Logger:      logger,
		})
	}

	a := &App{
		Cfg:         cfg,
		Logger:      logger,
		Registry:    jsonrpc.NewRegistry(logger),
		Connections: connection.NewService(opener, profiles, logger),
		Workspace:   workspace.NewService(logger),
	}

	registry := resultset.NewSpillRegistry()
	factory := resultset.NewFactory(cfg.SpillDir, registry)
	a.Queries = query.NewService(a.Connections, a.Workspace, factory, logger)
	a.Queries.SetStoragePolicy(query.StoragePolicy(cfg.StoragePolicy))

	a.Exporter = export.NewExporter(cfg.ExportWindow, cfg.SpillDir, logger)
	if err := a.registerUploaders(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	a.Queries.SetExporter(a.Exporter)

	if cfg.HistoryEnabled() {
		store, err := internaldb.Open(cfg.HistoryDBPath)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("open history store: %w", err)
		}
		a.history = store
		a.closers = append(a.closers, store)
		a.Queries.SetHistory(repository.NewQueryHistoryRepo(store.Write, store.Read))
		logger.Info("query history enabled", "path", cfg.HistoryDBPath)
	}

	a.Janitor = janitor.New(cfg.SpillDir, cfg.JanitorSchedule, cfg.SpillTTL, registry, logger)

	a.Connections.Register(a.Registry)
	a.Workspace.Register(a.Registry)
	a.Queries.Register(a.Registry)
	return a, nil
}

func (a *App) registerUploaders(ctx context.Context) error {
	cfg := a.Cfg
	if cfg.HasS3Config() {
		u, err := export.NewS3Uploader(cfg)
		if err != nil {
			return fmt.Errorf("s3 uploader: %w", err)
		}
		a.Exporter.RegisterUploader(export.SchemeS3, u)
		a.Logger.Info("s3 export targets enabled")
	}
	if cfg.GCSKeyFile != "" {
		u, err := export.NewGCSUploader(ctx, cfg.GCSKeyFile)
		if err != nil {
			return fmt.Errorf("gcs uploader: %w", err)
		}
		a.Exporter.RegisterUploader(export.SchemeGCS, u)
		a.closers = append(a.closers, u)
		a.Logger.Info("gcs export targets enabled")
	}
	if cfg.HasAzureConfig() {
		u, err := export.NewAzureUploader(cfg.AzureAccountName, cfg.AzureAccountKey)
		if err != nil {
			return fmt.Errorf("azure uploader: %w", err)
		}
		a.Exporter.RegisterUploader(export.SchemeAzure, u)
		a.Logger.Info("azure export targets enabled")
	}
	return nil
}

// Run serves the configured transport until the client exits or ctx is
// done, with the spill janitor running alongside. stdin and stdout carry the
// protocol in stdio mode.
func (a *App) Run(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return a.Janitor.Run(runCtx)
	})
	g.Go(func() error {
		defer stop()
		switch a.Cfg.Transport {
		case config.TransportHTTP:
			return a.serveHTTP(runCtx)
		default:
			server := jsonrpc.NewServer(a.Registry, a.Logger, a.Queries.Shutdown)
			return server.Serve(runCtx, stdin, stdout)
		}
	})
	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context) error {
	opts := api.Options{
		AllowedOrigins: a.Cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			RequestsPerSecond: a.Cfg.RateLimitRPS,
			Burst:             a.Cfg.RateLimitBurst,
		},
	}
	server := api.NewServer(a.Registry, opts, a.Logger)
	return api.ListenAndServe(ctx, a.Cfg.ListenAddr, server.Router(ctx, opts), a.Logger)
}

// Close disposes every query, which removes its spill files, then closes
// connections and stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.Queries.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown queries: %w", err))
	}
	a.Connections.Close(ctx)
	errs = append(errs, a.closeAll())
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// cloudCredentials exposes the export credentials to DuckDB sessions.
func cloudCredentials(cfg *config.Config) engine.CloudCredentials {
	return engine.CloudCredentials{
		S3KeyID:          deref(cfg.S3KeyID),
		S3Secret:         deref(cfg.S3Secret),
		S3Endpoint:       deref(cfg.S3Endpoint),
		S3Region:         deref(cfg.S3Region),
		GCSKeyFile:       cfg.GCSKeyFile,
		AzureAccountName: cfg.AzureAccountName,
		AzureAccountKey:  cfg.AzureAccountKey,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
