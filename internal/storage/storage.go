// Package storage defines the series persistence layer.
// Stores keep one OHLCV series per (symbol, interval) entity and are selected
// by configuration: a CSV file tree by default, DuckDB as the database-backed
// alternative, and an in-memory store for tests.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tsengine/go-marketsync/internal/config"
	"github.com/tsengine/go-marketsync/internal/models"
)

// SeriesReader loads stored series data.
type SeriesReader interface {
	// Load returns the stored series for the entity.
	// A missing entity is not an error; it returns an empty series.
	Load(ctx context.Context, symbol, interval string) (models.Series, error)

	// LastTimestamp returns the newest stored timestamp for the entity.
	// ok is false when the entity has no data.
	LastTimestamp(ctx context.Context, symbol, interval string) (ts time.Time, ok bool, err error)
}

// SeriesWriter persists series data.
type SeriesWriter interface {
	// Save replaces the entity's stored series with the given one.
	// The write is atomic: on failure the previous data stays intact.
	Save(ctx context.Context, symbol, interval string, series models.Series) error
}

// BackupManager controls retention of pre-overwrite snapshots.
// Backends without file snapshots implement this as a no-op.
type BackupManager interface {
	// CleanupBackups removes the oldest snapshots of the entity beyond keep.
	// Returns how many snapshots were removed.
	CleanupBackups(ctx context.Context, symbol, interval string, keep int) (int, error)
}

// SeriesSummary describes an entity's stored data at a glance.
type SeriesSummary struct {
	Symbol   string
	Interval string
	Rows     int
	Start    time.Time
	End      time.Time
}

// SeriesSummarizer reports stored extents without exposing the rows.
type SeriesSummarizer interface {
	// Summary returns row count and time bounds for the entity.
	// Start and End are zero when the entity has no rows.
	Summary(ctx context.Context, symbol, interval string) (*SeriesSummary, error)
}

// SeriesStore combines all storage capabilities for one backend.
type SeriesStore interface {
	SeriesReader
	SeriesWriter
	BackupManager
	SeriesSummarizer

	// Close releases the backend's resources.
	Close() error
}

// StorageError represents errors that occur during storage operations.
type StorageError struct {
	Op       string // the operation that failed: "load", "save", "cleanup", "open"
	Symbol   string
	Interval string
	Err      error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("storage %s for %s %s failed: %v", e.Op, e.Symbol, e.Interval, e.Err)
	}
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a StorageError with the provided context.
func NewStorageError(op, symbol, interval string, err error) *StorageError {
	return &StorageError{Op: op, Symbol: symbol, Interval: interval, Err: err}
}

// Open selects and initializes the store named by the configuration.
func Open(cfg config.DataConfig, logger *slog.Logger) (SeriesStore, error) {
	switch cfg.Backend {
	case "csv":
		return NewCSVStore(CSVConfig{
			Dir:           cfg.Dir,
			BackupEnabled: cfg.BackupEnabled,
			BackupKeep:    cfg.BackupKeep,
		}, logger)
	case "duckdb":
		return NewDuckDBStore(cfg.DatabasePath, logger)
	default:
		return nil, NewStorageError("open", "", "", fmt.Errorf("unknown storage backend %q", cfg.Backend))
	}
}

// safeSymbol makes a symbol usable as a file or directory name.
// Characters that are meaningful to shells or filesystems are replaced.
func safeSymbol(symbol string) string {
	replacer := strings.NewReplacer("^", "_", "/", "_", "\\", "_")
	return replacer.Replace(symbol)
}
