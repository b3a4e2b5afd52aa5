package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tsengine/go-marketsync/internal/models"
)

// csvHeader is the column order of every series file.
var csvHeader = []string{"timestamp", "open", "high", "low", "close", "volume"}

const (
	backupTimeLayout = "20060102_150405"
	csvFileMode      = 0o644
	csvDirMode       = 0o755
)

// CSVConfig holds the settings for a CSV file store.
type CSVConfig struct {
	Dir           string
	BackupEnabled bool
	BackupKeep    int
}

// CSVStore persists one CSV file per (symbol, interval) entity under
// <dir>/<symbol>/<interval>.csv. Writes go through a temporary file and
// rename so a crash mid-write never corrupts existing data.
type CSVStore struct {
	cfg    CSVConfig
	logger *slog.Logger
}

// NewCSVStore creates the store and its base directory.
func NewCSVStore(cfg CSVConfig, logger *slog.Logger) (*CSVStore, error) {
	if cfg.Dir == "" {
		return nil, NewStorageError("open", "", "", fmt.Errorf("data directory is required"))
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, csvDirMode); err != nil {
		return nil, NewStorageError("open", "", "", fmt.Errorf("failed to create data directory: %w", err))
	}
	return &CSVStore{cfg: cfg, logger: logger}, nil
}

// Path returns the series file location for the entity.
func (s *CSVStore) Path(symbol, interval string) string {
	return filepath.Join(s.cfg.Dir, safeSymbol(symbol), interval+".csv")
}

// Load reads the entity's series file. A missing file yields an empty series.
func (s *CSVStore) Load(ctx context.Context, symbol, interval string) (models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("load", symbol, interval, err)
	}

	path := s.Path(symbol, interval)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Series{}, nil
		}
		return nil, NewStorageError("load", symbol, interval, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return models.Series{}, nil
		}
		return nil, NewStorageError("load", symbol, interval, fmt.Errorf("failed to read header: %w", err))
	}
	if err := checkHeader(header); err != nil {
		return nil, NewStorageError("load", symbol, interval, err)
	}

	series := models.Series{}
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewStorageError("load", symbol, interval, fmt.Errorf("line %d: %w", line, err))
		}
		ts, err := time.Parse(time.RFC3339, row[0])
		if err != nil {
			return nil, NewStorageError("load", symbol, interval, fmt.Errorf("line %d: invalid timestamp %q: %w", line, row[0], err))
		}
		series = append(series, models.Record{
			Timestamp: ts,
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    row[5],
			Symbol:    symbol,
			Interval:  interval,
		})
	}
	return series, nil
}

// LastTimestamp reports the newest stored timestamp for the entity.
func (s *CSVStore) LastTimestamp(ctx context.Context, symbol, interval string) (time.Time, bool, error) {
	series, err := s.Load(ctx, symbol, interval)
	if err != nil {
		return time.Time{}, false, err
	}
	_, end, ok := series.Span()
	return end, ok, nil
}

// Summary reports row count and time bounds for the entity.
func (s *CSVStore) Summary(ctx context.Context, symbol, interval string) (*SeriesSummary, error) {
	series, err := s.Load(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}
	summary := &SeriesSummary{Symbol: symbol, Interval: interval, Rows: len(series)}
	if start, end, ok := series.Span(); ok {
		summary.Start = start
		summary.End = end
	}
	return summary, nil
}

// Save atomically replaces the entity's series file. When backups are
// enabled and a previous file exists, a timestamped copy is kept first.
func (s *CSVStore) Save(ctx context.Context, symbol, interval string, series models.Series) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("save", symbol, interval, err)
	}

	path := s.Path(symbol, interval)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, csvDirMode); err != nil {
		return NewStorageError("save", symbol, interval, fmt.Errorf("failed to create entity directory: %w", err))
	}

	if s.cfg.BackupEnabled {
		s.backup(path, symbol, interval)
	}

	tmp, err := os.CreateTemp(dir, "."+interval+"-*.tmp")
	if err != nil {
		return NewStorageError("save", symbol, interval, fmt.Errorf("failed to create temp file: %w", err))
	}
	tmpPath := tmp.Name()

	if err := writeCSV(tmp, series); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return NewStorageError("save", symbol, interval, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("save", symbol, interval, err)
	}
	if err := os.Chmod(tmpPath, csvFileMode); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("save", symbol, interval, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return NewStorageError("save", symbol, interval, err)
	}

	s.logger.Debug("series saved",
		slog.String("symbol", symbol),
		slog.String("interval", interval),
		slog.Int("rows", len(series)))
	return nil
}

// CleanupBackups keeps the newest keep snapshots for the entity and removes
// the rest. Backup names embed a sortable timestamp, so a lexical sort
// orders them oldest first.
func (s *CSVStore) CleanupBackups(ctx context.Context, symbol, interval string, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, NewStorageError("cleanup", symbol, interval, err)
	}
	if keep < 0 {
		keep = 0
	}

	matches, err := filepath.Glob(s.Path(symbol, interval) + ".*.bak")
	if err != nil {
		return 0, NewStorageError("cleanup", symbol, interval, err)
	}
	if len(matches) <= keep {
		return 0, nil
	}

	sort.Strings(matches)
	removed := 0
	for _, path := range matches[:len(matches)-keep] {
		if err := os.Remove(path); err != nil {
			return removed, NewStorageError("cleanup", symbol, interval, err)
		}
		removed++
	}
	return removed, nil
}

// Close is a no-op for the CSV store.
func (s *CSVStore) Close() error {
	return nil
}

// backup copies the current series file aside before it is replaced.
// Failures are logged and do not block the save.
func (s *CSVStore) backup(path, symbol, interval string) {
	src, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("backup skipped",
				slog.String("symbol", symbol),
				slog.String("interval", interval),
				slog.String("error", err.Error()))
		}
		return
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().UTC().Format(backupTimeLayout))
	dst, err := os.OpenFile(backupPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, csvFileMode)
	if err != nil {
		s.logger.Warn("backup skipped",
			slog.String("symbol", symbol),
			slog.String("interval", interval),
			slog.String("error", err.Error()))
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		s.logger.Warn("backup incomplete",
			slog.String("symbol", symbol),
			slog.String("interval", interval),
			slog.String("error", err.Error()))
		os.Remove(backupPath)
	}
}

func checkHeader(header []string) error {
	if len(header) != len(csvHeader) {
		return fmt.Errorf("unexpected header %v", header)
	}
	for i, col := range csvHeader {
		if header[i] != col {
			return fmt.Errorf("unexpected header column %q at position %d", header[i], i)
		}
	}
	return nil
}

func writeCSV(f *os.File, series models.Series) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range series {
		rec := &series[i]
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Open,
			rec.High,
			rec.Low,
			rec.Close,
			rec.Volume,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return f.Sync()
}
