package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tsengine/go-marketsync/internal/models"
)

// MemoryStore keeps series in process memory. It backs tests and dry runs
// and implements the same contract as the persistent stores.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[entityKey]models.Series
	closed bool
}

type entityKey struct {
	symbol   string
	interval string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{series: make(map[entityKey]models.Series)}
}

// Load returns a copy of the stored series for the entity.
func (m *MemoryStore) Load(ctx context.Context, symbol, interval string) (models.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, NewStorageError("load", symbol, interval, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, NewStorageError("load", symbol, interval, errors.New("store is closed"))
	}
	stored, ok := m.series[entityKey{symbol, interval}]
	if !ok {
		return models.Series{}, nil
	}
	return stored.Clone(), nil
}

// LastTimestamp reports the newest stored timestamp for the entity.
func (m *MemoryStore) LastTimestamp(ctx context.Context, symbol, interval string) (time.Time, bool, error) {
	series, err := m.Load(ctx, symbol, interval)
	if err != nil {
		return time.Time{}, false, err
	}
	_, end, ok := series.Span()
	return end, ok, nil
}

// Summary reports row count and time bounds for the entity.
func (m *MemoryStore) Summary(ctx context.Context, symbol, interval string) (*SeriesSummary, error) {
	series, err := m.Load(ctx, symbol, interval)
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

// Save replaces the entity's series with a copy of the given one.
func (m *MemoryStore) Save(ctx context.Context, symbol, interval string, series models.Series) error {
	if err := ctx.Err(); err != nil {
		return NewStorageError("save", symbol, interval, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return NewStorageError("save", symbol, interval, errors.New("store is closed"))
	}
	m.series[entityKey{symbol, interval}] = series.Clone()
	return nil
}

// CleanupBackups is a no-op: the memory store keeps no snapshots.
func (m *MemoryStore) CleanupBackups(ctx context.Context, symbol, interval string, keep int) (int, error) {
	return 0, nil
}

// Close marks the store closed. Further operations fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
