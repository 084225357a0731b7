package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"querydeck/internal/app"
	"querydeck/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

func execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "querydeck",
		Short:         "SQL query execution service",
		Long:          "querydeck executes SQL batches for editor clients and keeps their result sets for paging and export.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "querydeck version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}

// serveFlags mirrors the configuration keys that can be set on the command
// line. Only flags the user changed override the environment.
type serveFlags struct {
	envFile       string
	transport     string
	listen        string
	logLevel      string
	logFormat     string
	spillDir      string
	storagePolicy string
	historyDB     string
	profiles      string
}

func (f *serveFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	fs.StringVar(&f.transport, "transport", "", "transport: stdio or http")
	fs.StringVar(&f.listen, "listen", "", "HTTP listen address")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "log format: text, json or auto")
	fs.StringVar(&f.spillDir, "spill-dir", "", "directory for spilled result sets")
	fs.StringVar(&f.storagePolicy, "storage-policy", "", "result storage: auto, memory or file")
	fs.StringVar(&f.historyDB, "history-db", "", "SQLite file for query history")
	fs.StringVar(&f.profiles, "profiles", "", "YAML file of connection profiles")
}

func (f *serveFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("transport", &cfg.Transport, f.transport)
	set("listen", &cfg.ListenAddr, f.listen)
	set("log-level", &cfg.LogLevel, f.logLevel)
	set("log-format", &cfg.LogFormat, f.logFormat)
	set("spill-dir", &cfg.SpillDir, f.spillDir)
	set("storage-policy", &cfg.StoragePolicy, f.storagePolicy)
	set("history-db", &cfg.HistoryDBPath, f.historyDB)
	set("profiles", &cfg.ProfilesPath, f.profiles)
	return cfg.Normalize()
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the protocol on stdio or HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(flags.envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := slog.New(newLogHandler(os.Stderr, cfg, isTerminal(os.Stderr)))
	slog.SetDefault(logger)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Deps{Cfg: cfg, Logger: logger})
	if err != nil {
		return err
	}
	logger.Info("querydeck starting", "version", version, "transport", cfg.Transport, "spill_dir", cfg.SpillDir)

	runErr := a.Run(ctx, os.Stdin, os.Stdout)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	logger.Info("querydeck stopped")
	return runErr
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd())) //nolint:gosec // fd fits in int
}

// newLogHandler writes to w; auto format picks text on a terminal and JSON
// otherwise.
func newLogHandler(w io.Writer, cfg *config.Config, tty bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	switch cfg.LogFormat {
	case "json":
		return slog.NewJSONHandler(w, opts)
	case "text":
		return slog.NewTextHandler(w, opts)
	}
	if tty {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
