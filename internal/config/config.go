// Package config provides configuration management for the sync engine.
// Configuration is loaded from a YAML directory (config.yaml plus symbols.yaml
// and indices.yaml), with a .env bootstrap and MARKETSYNC_* environment
// variables taking priority over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sync     SyncConfig     `yaml:"sync"`
	Retry    RetryConfig    `yaml:"retry"`
	Provider ProviderConfig `yaml:"provider"`
	Calendar CalendarConfig `yaml:"calendar"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Schedule ScheduleConfig `yaml:"schedule"`

	// Symbols and Indices come from symbols.yaml and indices.yaml.
	Symbols []SymbolEntry `yaml:"-"`
	Indices []SymbolEntry `yaml:"-"`
}

// DataConfig configures the series storage backend.
type DataConfig struct {
	Dir           string `yaml:"dir"`            // root directory for series files
	Backend       string `yaml:"backend"`        // "csv" or "duckdb"
	DatabasePath  string `yaml:"database_path"`  // DuckDB file, used by the duckdb backend
	MetadataDir   string `yaml:"metadata_dir"`   // defaults to <dir>/metadata
	BackupEnabled bool   `yaml:"backup_enabled"` // snapshot files before overwriting
	BackupKeep    int    `yaml:"backup_keep"`    // backups retained per series file
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // debug, info, warn, error
	Format     string `yaml:"format"`       // text, json
	Output     string `yaml:"output"`       // stdout, stderr, file
	FilePath   string `yaml:"file_path"`    // log file when output is "file"
	MaxSizeMB  int    `yaml:"max_size_mb"`  // rotate after this size
	MaxBackups int    `yaml:"max_backups"`  // rotated files kept
	MaxAgeDays int    `yaml:"max_age_days"` // rotated files kept this long
	Compress   bool   `yaml:"compress"`     // gzip rotated files
}

// SyncConfig configures sync runs.
type SyncConfig struct {
	Intervals       []string `yaml:"intervals"`          // intervals synced per symbol
	MaxAgeHours     int      `yaml:"max_age_hours"`      // entity is stale after this
	Workers         int      `yaml:"workers"`            // 1 means sequential
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"` // global fetch dispatch rate
	RateBurst       int      `yaml:"rate_burst"`
}

// RetryConfig configures the retry policy for provider fetches.
// Delay fields are duration strings ("1s", "500ms") parsed by the accessors.
type RetryConfig struct {
	MaxRetries    int     `yaml:"max_retries"` // total attempts, not extra retries
	InitialDelay  string  `yaml:"initial_delay"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	MaxDelay      string  `yaml:"max_delay"`
	Jitter        float64 `yaml:"jitter"` // 0 disables randomization
}

// InitialDelayDuration parses the initial delay, falling back to one second.
func (r RetryConfig) InitialDelayDuration() time.Duration {
	if d, err := time.ParseDuration(r.InitialDelay); err == nil && d > 0 {
		return d
	}
	return time.Second
}

// MaxDelayDuration parses the delay cap, falling back to one minute.
func (r RetryConfig) MaxDelayDuration() time.Duration {
	if d, err := time.ParseDuration(r.MaxDelay); err == nil && d > 0 {
		return d
	}
	return time.Minute
}

// ProviderConfig configures the market data provider adapter.
type ProviderConfig struct {
	BaseURL         string  `yaml:"base_url"`
	Timeout         string  `yaml:"timeout"`
	UserAgent       string  `yaml:"user_agent"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"` // provider-side request rate
	RateBurst       int     `yaml:"rate_burst"`
}

// TimeoutDuration parses the HTTP timeout, falling back to thirty seconds.
func (p ProviderConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(p.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// CalendarConfig lists market holidays as "2006-01-02" dates.
// An empty list falls back to the bundled calendar.
type CalendarConfig struct {
	Holidays []string `yaml:"holidays"`
}

// HolidayDates parses the configured holidays.
func (c CalendarConfig) HolidayDates() ([]time.Time, error) {
	dates := make([]time.Time, 0, len(c.Holidays))
	for _, raw := range c.Holidays {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday date %q: %w", raw, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// LedgerConfig configures the durable failure ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures periodic sync runs.
// The cron expression uses six fields (seconds first).
type ScheduleConfig struct {
	Cron string `yaml:"cron"`
}

// SymbolEntry describes one tracked symbol.
type SymbolEntry struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
	Sector string `yaml:"sector,omitempty"`
}

// ConfigurationError reports one or more configuration problems.
// It is fatal at startup; the engine never runs on a config it rejected.
type ConfigurationError struct {
	Issues []string
}

// Error implements the error interface for ConfigurationError.
func (e *ConfigurationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid configuration: " + e.Issues[0]
	}
	return "invalid configuration:\n- " + strings.Join(e.Issues, "\n- ")
}

// NewConfigurationError creates a ConfigurationError from the given issues.
func NewConfigurationError(issues ...string) *ConfigurationError {
	return &ConfigurationError{Issues: issues}
}

// Loader loads and validates configuration from a directory.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a configuration loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{dir: dir, logger: logger}
}

// Load builds the configuration with the priority order: defaults, then YAML
// files, then environment variables. A missing config directory or file is
// fine; defaults cover everything. Parse and validation failures are returned
// as ConfigurationError.
func (l *Loader) Load() (*Config, error) {
	// Best effort .env bootstrap so MARKETSYNC_* vars can live in a file.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if err := l.applyFile(cfg, filepath.Join(l.dir, "config.yaml")); err != nil {
		return nil, err
	}

	symbols, err := l.loadSymbolFile(filepath.Join(l.dir, "symbols.yaml"), "symbols")
	if err != nil {
		return nil, err
	}
	if symbols != nil {
		cfg.Symbols = symbols
	}

	indices, err := l.loadSymbolFile(filepath.Join(l.dir, "indices.yaml"), "indices")
	if err != nil {
		return nil, err
	}
	if indices != nil {
		cfg.Indices = indices
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l.logger.Debug("configuration loaded",
		"dir", l.dir,
		"backend", cfg.Data.Backend,
		"symbols", len(cfg.Symbols),
		"indices", len(cfg.Indices))

	return cfg, nil
}

// applyFile overlays config.yaml onto cfg when the file exists.
func (l *Loader) applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.logger.Debug("config file does not exist, using defaults", "path", path)
		return nil
	}
	if err != nil {
		return NewConfigurationError(fmt.Sprintf("cannot read %s: %v", path, err))
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return NewConfigurationError(fmt.Sprintf("cannot parse %s: %v", path, err))
	}
	return nil
}

// loadSymbolFile reads a symbol list file keyed by the given top-level name.
// Returns nil without error when the file does not exist.
func (l *Loader) loadSymbolFile(path, key string) ([]SymbolEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("cannot read %s: %v", path, err))
	}

	var doc map[string][]SymbolEntry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("cannot parse %s: %v", path, err))
	}

	entries, ok := doc[key]
	if !ok {
		return nil, NewConfigurationError(fmt.Sprintf("%s is missing the %q key", path, key))
	}
	return entries, nil
}

// applyEnv overrides file values with MARKETSYNC_* environment variables.
func applyEnv(cfg *Config) {
	if val := os.Getenv("MARKETSYNC_DATA_DIR"); val != "" {
		cfg.Data.Dir = val
	}
	if val := os.Getenv("MARKETSYNC_DATA_BACKEND"); val != "" {
		cfg.Data.Backend = val
	}
	if val := os.Getenv("MARKETSYNC_DATABASE_PATH"); val != "" {
		cfg.Data.DatabasePath = val
	}
	if val := os.Getenv("MARKETSYNC_METADATA_DIR"); val != "" {
		cfg.Data.MetadataDir = val
	}
	if val := os.Getenv("MARKETSYNC_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("MARKETSYNC_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("MARKETSYNC_LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}
	if val := os.Getenv("MARKETSYNC_LOG_FILE"); val != "" {
		cfg.Logging.FilePath = val
	}
	if val := os.Getenv("MARKETSYNC_INTERVALS"); val != "" {
		cfg.Sync.Intervals = strings.Split(val, ",")
	}
	if val := os.Getenv("MARKETSYNC_MAX_AGE_HOURS"); val != "" {
		if hours, err := strconv.Atoi(val); err == nil {
			cfg.Sync.MaxAgeHours = hours
		}
	}
	if val := os.Getenv("MARKETSYNC_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil {
			cfg.Sync.Workers = workers
		}
	}
	if val := os.Getenv("MARKETSYNC_RATE_LIMIT"); val != "" {
		if rps, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Sync.RateLimitPerSec = rps
		}
	}
	if val := os.Getenv("MARKETSYNC_MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil {
			cfg.Retry.MaxRetries = retries
		}
	}
	if val := os.Getenv("MARKETSYNC_PROVIDER_BASE_URL"); val != "" {
		cfg.Provider.BaseURL = val
	}
	if val := os.Getenv("MARKETSYNC_PROVIDER_TIMEOUT"); val != "" {
		cfg.Provider.Timeout = val
	}
	if val := os.Getenv("MARKETSYNC_LEDGER_PATH"); val != "" {
		cfg.Ledger.Path = val
	}
	if val := os.Getenv("MARKETSYNC_SCHEDULE_CRON"); val != "" {
		cfg.Schedule.Cron = val
	}
}

// Validate checks the configuration for consistency and required fields.
// All problems are collected into a single ConfigurationError.
func (c *Config) Validate() error {
	var issues []string

	if c.Data.Dir == "" {
		issues = append(issues, "data.dir is required")
	}
	switch c.Data.Backend {
	case "csv":
	case "duckdb":
		if c.Data.DatabasePath == "" {
			issues = append(issues, "data.database_path is required for the duckdb backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("data.backend must be csv or duckdb, got %q", c.Data.Backend))
	}
	if c.Data.BackupKeep < 0 {
		issues = append(issues, "data.backup_keep cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		issues = append(issues, fmt.Sprintf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		issues = append(issues, fmt.Sprintf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		issues = append(issues, fmt.Sprintf("logging.output must be stdout, stderr or file, got %q", c.Logging.Output))
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		issues = append(issues, "logging.file_path is required when logging.output is file")
	}

	if len(c.Sync.Intervals) == 0 {
		issues = append(issues, "sync.intervals cannot be empty")
	}
	if c.Sync.MaxAgeHours <= 0 {
		issues = append(issues, "sync.max_age_hours must be greater than 0")
	}
	if c.Sync.Workers <= 0 {
		issues = append(issues, "sync.workers must be greater than 0")
	}
	if c.Sync.RateLimitPerSec <= 0 {
		issues = append(issues, "sync.rate_limit_per_sec must be greater than 0")
	}

	if c.Retry.MaxRetries <= 0 {
		issues = append(issues, "retry.max_retries must be greater than 0")
	}
	if c.Retry.BackoffFactor < 1 {
		issues = append(issues, "retry.backoff_factor must be at least 1")
	}
	if c.Retry.InitialDelay != "" {
		if _, err := time.ParseDuration(c.Retry.InitialDelay); err != nil {
			issues = append(issues, fmt.Sprintf("retry.initial_delay is not a valid duration: %v", err))
		}
	}
	if c.Retry.MaxDelay != "" {
		if _, err := time.ParseDuration(c.Retry.MaxDelay); err != nil {
			issues = append(issues, fmt.Sprintf("retry.max_delay is not a valid duration: %v", err))
		}
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		issues = append(issues, "retry.jitter must be in [0, 1)")
	}

	if c.Provider.BaseURL == "" {
		issues = append(issues, "provider.base_url is required")
	}
	if c.Provider.Timeout != "" {
		if _, err := time.ParseDuration(c.Provider.Timeout); err != nil {
			issues = append(issues, fmt.Sprintf("provider.timeout is not a valid duration: %v", err))
		}
	}
	if c.Provider.RateLimitPerSec <= 0 {
		issues = append(issues, "provider.rate_limit_per_sec must be greater than 0")
	}

	if _, err := c.Calendar.HolidayDates(); err != nil {
		issues = append(issues, err.Error())
	}

	for i, entry := range c.Symbols {
		if entry.Symbol == "" {
			issues = append(issues, fmt.Sprintf("symbols[%d].symbol cannot be empty", i))
		}
	}
	for i, entry := range c.Indices {
		if entry.Symbol == "" {
			issues = append(issues, fmt.Sprintf("indices[%d].symbol cannot be empty", i))
		}
	}

	if len(issues) > 0 {
		return &ConfigurationError{Issues: issues}
	}
	return nil
}

// MetadataDir returns the metadata directory, derived from the data directory
// when not set explicitly.
func (c *Config) MetadataDir() string {
	if c.Data.MetadataDir != "" {
		return c.Data.MetadataDir
	}
	return filepath.Join(c.Data.Dir, "metadata")
}

// LedgerPath returns the failure ledger location.
func (c *Config) LedgerPath() string {
	if c.Ledger.Path != "" {
		return c.Ledger.Path
	}
	return filepath.Join("logs", "download_failures.json")
}

// AllSymbols returns stocks followed by indices.
func (c *Config) AllSymbols() []SymbolEntry {
	all := make([]SymbolEntry, 0, len(c.Symbols)+len(c.Indices))
	all = append(all, c.Symbols...)
	all = append(all, c.Indices...)
	return all
}

// StocksBySector returns the stock entries tagged with the given sector.
func (c *Config) StocksBySector(sector string) []SymbolEntry {
	var out []SymbolEntry
	for _, entry := range c.Symbols {
		if strings.EqualFold(entry.Sector, sector) {
			out = append(out, entry)
		}
	}
	return out
}

// DefaultConfig returns a configuration with sensible defaults.
// The engine runs with zero config files present.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:           "data",
			Backend:       "csv",
			DatabasePath:  filepath.Join("data", "marketsync.db"),
			BackupEnabled: true,
			BackupKeep:    5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePath:   filepath.Join("logs", "marketsync.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Sync: SyncConfig{
			Intervals:       []string{"1d"},
			MaxAgeHours:     24,
			Workers:         1,
			RateLimitPerSec: 2,
			RateBurst:       1,
		},
		Retry: RetryConfig{
			MaxRetries:    3,
			InitialDelay:  "1s",
			BackoffFactor: 2.0,
			MaxDelay:      "60s",
			Jitter:        0,
		},
		Provider: ProviderConfig{
			BaseURL:         "https://query1.finance.yahoo.com",
			Timeout:         "30s",
			UserAgent:       "marketsync/1.0",
			RateLimitPerSec: 2,
			RateBurst:       1,
		},
		Ledger: LedgerConfig{
			Path: filepath.Join("logs", "download_failures.json"),
		},
		Schedule: ScheduleConfig{
			Cron: "0 0 18 * * 1-5",
		},
	}
}
