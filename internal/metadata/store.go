// Package metadata tracks per-entity sync state in JSON documents alongside
// the series data: row totals, date range, validation quality, and a capped
// download history. The metadata drives incremental fetch planning.
package metadata

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tsengine/go-marketsync/internal/models"
)

// SchemaVersion identifies the on-disk document layout.
const SchemaVersion = 1

// maxHistoryEntries caps the download history ring.
const maxHistoryEntries = 100

// QualityStatus summarizes the entity's last validation outcome.
type QualityStatus string

const (
	QualityUnknown QualityStatus = "unknown"
	QualityPassed  QualityStatus = "passed"
	QualityIssues  QualityStatus = "issues"
)

// DateRange bounds the stored series. Nil ends mean no data yet.
type DateRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// Quality records the last validation outcome for the entity.
type Quality struct {
	Status        QualityStatus `json:"status"`
	LastValidated *time.Time    `json:"last_validated,omitempty"`
	IssuesCount   int           `json:"issues_count"`
}

// HistoryEntry is one download attempt, successful or not.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	RowsAdded int       `json:"rows_added"`
	TotalRows int       `json:"total_rows"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// Record is the per-entity metadata document.
type Record struct {
	SchemaVersion int            `json:"schema_version"`
	Symbol        string         `json:"symbol"`
	Interval      string         `json:"interval"`
	CreatedAt     time.Time      `json:"created_at"`
	LastUpdate    *time.Time     `json:"last_update"`
	TotalRows     int            `json:"total_rows"`
	DateRange     DateRange      `json:"date_range"`
	Quality       Quality        `json:"data_quality"`
	History       []HistoryEntry `json:"download_history"`
}

// MetadataError represents errors that occur during metadata operations.
type MetadataError struct {
	Op       string
	Symbol   string
	Interval string
	Err      error
}

func (e *MetadataError) Error() string {
	return fmt.Sprintf("metadata %s for %s %s failed: %v", e.Op, e.Symbol, e.Interval, e.Err)
}

func (e *MetadataError) Unwrap() error {
	return e.Err
}

// Statistics aggregates metadata across all tracked entities.
type Statistics struct {
	TotalEntities   int                   `json:"total_entities"`
	TotalRows       int                   `json:"total_rows"`
	StatusCounts    map[QualityStatus]int `json:"status_counts"`
	RecentDownloads int                   `json:"recent_downloads_24h"`
}

// Store reads and writes metadata documents under one directory, one JSON
// file per (symbol, interval).
type Store struct {
	dir    string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewStore creates the store and its directory.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, &MetadataError{Op: "open", Err: fmt.Errorf("metadata directory is required")}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &MetadataError{Op: "open", Err: fmt.Errorf("failed to create metadata directory: %w", err)}
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Path returns the document location for the entity.
func (s *Store) Path(symbol, interval string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", safeSymbol(symbol), interval))
}

// Load returns the entity's metadata. It never fails: a missing or corrupt
// document yields a fresh default so sync can always proceed.
func (s *Store) Load(symbol, interval string) *Record {
	data, err := os.ReadFile(s.Path(symbol, interval))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("metadata unreadable, using defaults",
				slog.String("symbol", symbol),
				slog.String("interval", interval),
				slog.String("error", err.Error()))
		}
		return newRecord(symbol, interval)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("metadata corrupt, using defaults",
			slog.String("symbol", symbol),
			slog.String("interval", interval),
			slog.String("error", err.Error()))
		return newRecord(symbol, interval)
	}
	if rec.Symbol == "" {
		rec.Symbol = symbol
	}
	if rec.Interval == "" {
		rec.Interval = interval
	}
	if rec.Quality.Status == "" {
		rec.Quality.Status = QualityUnknown
	}
	return &rec
}

// Update records a successful sync: row totals and range from the stored
// series, quality from the validation report when given, and a history entry.
func (s *Store) Update(symbol, interval string, series models.Series, rowsAdded int, report *models.ValidationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.Load(symbol, interval)
	now := time.Now().UTC()
	rec.LastUpdate = &now
	rec.TotalRows = len(series)

	if start, end, ok := series.Span(); ok {
		rec.DateRange = DateRange{Start: &start, End: &end}
	} else {
		rec.DateRange = DateRange{}
	}

	if report != nil {
		rec.Quality.LastValidated = &now
		rec.Quality.IssuesCount = len(report.Issues)
		// Info-level notes do not demote an entity; warnings and up do.
		if report.Valid && !report.HasSeverity(models.SeverityWarning) {
			rec.Quality.Status = QualityPassed
		} else {
			rec.Quality.Status = QualityIssues
		}
	}

	rec.History = appendHistory(rec.History, HistoryEntry{
		Timestamp: now,
		RowsAdded: rowsAdded,
		TotalRows: len(series),
		Success:   true,
	})
	return s.save(rec)
}

// RecordFailure appends a failed download attempt to the entity's history.
func (s *Store) RecordFailure(symbol, interval, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.Load(symbol, interval)
	rec.History = appendHistory(rec.History, HistoryEntry{
		Timestamp: time.Now().UTC(),
		TotalRows: rec.TotalRows,
		Success:   false,
		Error:     errMsg,
	})
	return s.save(rec)
}

// NeedsUpdate reports whether the entity is stale: never updated, or its
// last update is at least maxAgeHours old.
func (s *Store) NeedsUpdate(symbol, interval string, maxAgeHours int) bool {
	rec := s.Load(symbol, interval)
	if rec.LastUpdate == nil {
		return true
	}
	age := time.Since(*rec.LastUpdate)
	return age >= time.Duration(maxAgeHours)*time.Hour
}

// NextFetchDate returns where an incremental fetch should resume. ok is
// false when the entity has no stored range, meaning a full-history fetch
// is needed.
func (s *Store) NextFetchDate(symbol, interval string) (time.Time, bool) {
	return s.Load(symbol, interval).NextFetchDate()
}

// NextFetchDate returns the resume point after the recorded range end. ok is
// false when the record has no range. The step matches the interval grain;
// refetch overlap is safe because merging deduplicates.
func (r *Record) NextFetchDate() (time.Time, bool) {
	if r == nil || r.DateRange.End == nil {
		return time.Time{}, false
	}
	end := *r.DateRange.End
	switch r.Interval {
	case "1wk":
		return end.AddDate(0, 0, 7), true
	case "1mo", "3mo":
		return end.AddDate(0, 0, 30), true
	default:
		return end.AddDate(0, 0, 1), true
	}
}

// Statistics aggregates every document in the store.
func (s *Store) Statistics() (*Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, &MetadataError{Op: "statistics", Err: err}
	}

	stats := &Statistics{StatusCounts: make(map[QualityStatus]int)}
	cutoff := time.Now().Add(-24 * time.Hour)
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping corrupt metadata file", slog.String("path", path))
			continue
		}
		stats.TotalEntities++
		stats.TotalRows += rec.TotalRows
		status := rec.Quality.Status
		if status == "" {
			status = QualityUnknown
		}
		stats.StatusCounts[status]++
		for _, entry := range rec.History {
			if entry.Timestamp.After(cutoff) {
				stats.RecentDownloads++
			}
		}
	}
	return stats, nil
}

// ConsistencyIssues compares a metadata document against the actual stored
// series and reports mismatches. Mismatches are warnings: the series is the
// source of truth and metadata heals on the next update.
func ConsistencyIssues(rec *Record, series models.Series) []models.Issue {
	var issues []models.Issue
	if rec.TotalRows != len(series) {
		issues = append(issues, models.Issue{
			Category: models.CategoryMetadata,
			Severity: models.SeverityWarning,
			Message:  fmt.Sprintf("metadata row count %d does not match stored rows %d", rec.TotalRows, len(series)),
		})
	}

	start, end, ok := series.Span()
	switch {
	case !ok:
		if rec.DateRange.Start != nil || rec.DateRange.End != nil {
			issues = append(issues, models.Issue{
				Category: models.CategoryMetadata,
				Severity: models.SeverityWarning,
				Message:  "metadata records a date range but no rows are stored",
			})
		}
	case rec.DateRange.Start == nil || rec.DateRange.End == nil:
		issues = append(issues, models.Issue{
			Category: models.CategoryMetadata,
			Severity: models.SeverityWarning,
			Message:  "metadata has no date range but rows are stored",
		})
	default:
		if !rec.DateRange.Start.Equal(start) || !rec.DateRange.End.Equal(end) {
			issues = append(issues, models.Issue{
				Category: models.CategoryMetadata,
				Severity: models.SeverityWarning,
				Message: fmt.Sprintf("metadata range [%s, %s] does not match stored range [%s, %s]",
					rec.DateRange.Start.Format(time.RFC3339), rec.DateRange.End.Format(time.RFC3339),
					start.Format(time.RFC3339), end.Format(time.RFC3339)),
			})
		}
	}
	return issues
}

func newRecord(symbol, interval string) *Record {
	return &Record{
		SchemaVersion: SchemaVersion,
		Symbol:        symbol,
		Interval:      interval,
		CreatedAt:     time.Now().UTC(),
		Quality:       Quality{Status: QualityUnknown},
	}
}

func appendHistory(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	history = append(history, entry)
	if len(history) > maxHistoryEntries {
		history = history[len(history)-maxHistoryEntries:]
	}
	return history
}

// save writes the document through a temp file and rename.
func (s *Store) save(rec *Record) error {
	rec.SchemaVersion = SchemaVersion
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &MetadataError{Op: "save", Symbol: rec.Symbol, Interval: rec.Interval, Err: err}
	}

	path := s.Path(rec.Symbol, rec.Interval)
	tmp, err := os.CreateTemp(s.dir, ".meta-*.tmp")
	if err != nil {
		return &MetadataError{Op: "save", Symbol: rec.Symbol, Interval: rec.Interval, Err: err}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &MetadataError{Op: "save", Symbol: rec.Symbol, Interval: rec.Interval, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &MetadataError{Op: "save", Symbol: rec.Symbol, Interval: rec.Interval, Err: err}
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return &MetadataError{Op: "save", Symbol: rec.Symbol, Interval: rec.Interval, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &MetadataError{Op: "save", Symbol: rec.Symbol, Interval: rec.Interval, Err: err}
	}
	return nil
}

func safeSymbol(symbol string) string {
	replacer := strings.NewReplacer("^", "_", "/", "_", "\\", "_")
	return replacer.Replace(symbol)
}
