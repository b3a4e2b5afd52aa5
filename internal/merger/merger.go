// Package merger combines freshly fetched rows with stored series. On
// overlapping timestamps the incoming row wins, since the newly fetched
// value is presumed authoritative. A quick integrity check guards every
// save so a bad merge never replaces good data on disk.
package merger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/storage"
)

// MergeError reports an integrity failure that aborted a save.
type MergeError struct {
	Symbol   string
	Interval string
	Reason   string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge for %s %s aborted: %s", e.Symbol, e.Interval, e.Reason)
}

// Merge combines existing and incoming rows. Empty incoming returns the
// existing series unchanged. Otherwise rows are deduplicated by timestamp
// with the incoming occurrence winning, then sorted ascending.
func Merge(existing, incoming models.Series) models.Series {
	if len(incoming) == 0 {
		return existing
	}

	combined := make(models.Series, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)

	lastIndex := make(map[time.Time]int, len(combined))
	for i := range combined {
		lastIndex[combined[i].Timestamp] = i
	}

	merged := make(models.Series, 0, len(lastIndex))
	for i := range combined {
		if lastIndex[combined[i].Timestamp] == i {
			merged = append(merged, combined[i])
		}
	}
	merged.Sort()
	return merged
}

// Merger persists merge results through a series writer.
type Merger struct {
	store  storage.SeriesWriter
	logger *slog.Logger
}

// New creates a merger writing through the given store.
func New(store storage.SeriesWriter, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{store: store, logger: logger}
}

// MergeAndSave merges incoming into existing, verifies the result, and
// replaces the stored series. The rows-added delta is relative to existing.
// A failed verification aborts before the store is touched.
func (m *Merger) MergeAndSave(ctx context.Context, symbol, interval string, existing, incoming models.Series) (models.Series, int, error) {
	merged := Merge(existing, incoming)
	rowsAdded := len(merged) - len(existing)

	if err := quickValidate(merged); err != nil {
		return nil, 0, &MergeError{Symbol: symbol, Interval: interval, Reason: err.Error()}
	}
	if err := m.store.Save(ctx, symbol, interval, merged); err != nil {
		return nil, 0, err
	}

	m.logger.Debug("series merged",
		slog.String("symbol", symbol),
		slog.String("interval", interval),
		slog.Int("rows_added", rowsAdded),
		slog.Int("total_rows", len(merged)))
	return merged, rowsAdded, nil
}

// quickValidate is the pre-save integrity gate: non-empty, strictly
// ascending, no duplicates, required fields present.
func quickValidate(series models.Series) error {
	if len(series) == 0 {
		return fmt.Errorf("merged series is empty")
	}
	for i := range series {
		rec := &series[i]
		if rec.Timestamp.IsZero() ||
			strings.TrimSpace(rec.Open) == "" ||
			strings.TrimSpace(rec.High) == "" ||
			strings.TrimSpace(rec.Low) == "" ||
			strings.TrimSpace(rec.Close) == "" ||
			strings.TrimSpace(rec.Volume) == "" {
			return fmt.Errorf("row %d is missing required fields", i+1)
		}
		if i == 0 {
			continue
		}
		prev := series[i-1].Timestamp
		cur := rec.Timestamp
		if cur.Equal(prev) {
			return fmt.Errorf("duplicate timestamp %s", cur.Format(time.RFC3339))
		}
		if cur.Before(prev) {
			return fmt.Errorf("timestamps are not in ascending order at row %d", i+1)
		}
	}
	return nil
}
