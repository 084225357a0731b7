// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Transport names accepted by TRANSPORT.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Storage policies accepted by STORAGE_POLICY.
const (
	StoragePolicyAuto   = "auto"
	StoragePolicyMemory = "memory"
	StoragePolicyFile   = "file"
)

// Config holds the configuration for the query service and its transports.
type Config struct {
	Transport  string // "stdio" (default) or "http"
	ListenAddr string // HTTP listen address (default ":8090")
	LogLevel   string // log level: debug, info, warn, error (default "info")
	LogFormat  string // text, json or auto (default "auto")

	// Result storage
	SpillDir        string        // directory for spilled result files (default: <tmp>/querydeck)
	StoragePolicy   string        // auto, memory or file (default "auto")
	CursorFetchSize int           // rows fetched per server-side cursor round trip (default 1000)
	ExportWindow    int           // rows read per export window (default 1000)
	JanitorSchedule string        // cron expression for the spill sweep (default "@every 10m")
	SpillTTL        time.Duration // age after which unowned spill files are removed (default 24h)

	// HistoryDBPath is the SQLite file used for query history. Empty disables history.
	HistoryDBPath string

	// ProfilesPath points to a YAML file of named connection profiles (optional).
	ProfilesPath string

	// Rate limiting (HTTP transport)
	RateLimitRPS   float64 // sustained requests per second (default 50)
	RateLimitBurst int     // burst capacity (default 100)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Remote export targets. All optional; nil when not configured.
	S3KeyID          *string
	S3Secret         *string
	S3Endpoint       *string
	S3Region         *string
	GCSKeyFile       string
	AzureAccountName string
	AzureAccountKey  string

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasS3Config returns true if all required S3 fields are set.
func (c *Config) HasS3Config() bool {
	return c.S3KeyID != nil && c.S3Secret != nil && c.S3Region != nil
}

// HasAzureConfig returns true when shared-key Azure credentials are set.
func (c *Config) HasAzureConfig() bool {
	return c.AzureAccountName != "" && c.AzureAccountKey != ""
}

// HistoryEnabled reports whether query history should be recorded.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryDBPath != ""
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Transport:       strings.ToLower(os.Getenv("TRANSPORT")),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		LogFormat:       strings.ToLower(os.Getenv("LOG_FORMAT")),
		SpillDir:        os.Getenv("SPILL_DIR"),
		StoragePolicy:   strings.ToLower(os.Getenv("STORAGE_POLICY")),
		JanitorSchedule: os.Getenv("JANITOR_SCHEDULE"),
		HistoryDBPath:   os.Getenv("HISTORY_DB_PATH"),
		ProfilesPath:    os.Getenv("PROFILES_PATH"),
		GCSKeyFile:      os.Getenv("GCS_KEY_FILE"),

		AzureAccountName: os.Getenv("AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  os.Getenv("AZURE_ACCOUNT_KEY"),
	}

	var err error
	if cfg.CursorFetchSize, err = parseIntEnv("CURSOR_FETCH_SIZE"); err != nil {
		return nil, err
	}
	if cfg.ExportWindow, err = parseIntEnv("EXPORT_WINDOW"); err != nil {
		return nil, err
	}
	if v := os.Getenv("SPILL_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse SPILL_TTL: %w", err)
		}
		cfg.SpillTTL = d
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// S3 fields are optional; only set if present
	if v := os.Getenv("S3_KEY_ID"); v != "" {
		cfg.S3KeyID = &v
	}
	if v := os.Getenv("S3_SECRET"); v != "" {
		cfg.S3Secret = &v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3Endpoint = &v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3Region = &v
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = compactNonEmpty(origins)
	}

	if !parseBoolEnvDefault("HISTORY_ENABLED", true) {
		cfg.HistoryDBPath = ""
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields and validates the enumerations. It is also
// used by the CLI after flags have been applied on top of the environment.
func (c *Config) applyDefaults() error {
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	if c.Transport != TransportStdio && c.Transport != TransportHTTP {
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Transport)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "":
		c.LogFormat = "auto"
	case "auto", "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text, json or auto, got %q", c.LogFormat)
	}
	if c.SpillDir == "" {
		c.SpillDir = filepath.Join(os.TempDir(), "querydeck")
	}
	switch c.StoragePolicy {
	case "":
		c.StoragePolicy = StoragePolicyAuto
	case StoragePolicyAuto, StoragePolicyMemory, StoragePolicyFile:
	default:
		return fmt.Errorf("STORAGE_POLICY must be auto, memory or file, got %q", c.StoragePolicy)
	}
	if c.CursorFetchSize <= 0 {
		c.CursorFetchSize = 1000
	}
	if c.ExportWindow <= 0 {
		c.ExportWindow = 1000
	}
	if c.JanitorSchedule == "" {
		c.JanitorSchedule = "@every 10m"
	}
	if c.SpillTTL == 0 {
		c.SpillTTL = 24 * time.Hour
	}
	if c.RateLimitRPS == 0 {
		c.RateLimitRPS = 50
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 100
	}
	if len(c.CORSAllowedOrigins) == 0 {
		c.CORSAllowedOrigins = []string{"*"}
	}
	if c.Transport == TransportHTTP && len(c.CORSAllowedOrigins) == 1 && c.CORSAllowedOrigins[0] == "*" {
		c.Warnings = append(c.Warnings, "CORS allows any origin; set CORS_ALLOWED_ORIGINS to restrict the HTTP transport")
	}
	if (c.S3KeyID == nil) != (c.S3Secret == nil) {
		c.Warnings = append(c.Warnings, "only one of S3_KEY_ID and S3_SECRET is set; s3:// export targets are disabled")
	}
	return nil
}

// Normalize re-applies defaults and validation after fields were changed in
// place (for example by command-line flags).
func (c *Config) Normalize() error {
	c.Transport = strings.ToLower(c.Transport)
	c.LogFormat = strings.ToLower(c.LogFormat)
	c.StoragePolicy = strings.ToLower(c.StoragePolicy)
	return c.applyDefaults()
}

func parseIntEnv(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

func compactNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
