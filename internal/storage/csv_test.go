package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsengine/go-marketsync/internal/config"
	"github.com/tsengine/go-marketsync/internal/logger"
	"github.com/tsengine/go-marketsync/internal/models"
)

const (
	testSymbol   = "RELIANCE"
	testInterval = "1d"
)

func newTestCSVStore(t *testing.T) *CSVStore {
	t.Helper()
	store, err := NewCSVStore(CSVConfig{
		Dir:           t.TempDir(),
		BackupEnabled: true,
		BackupKeep:    2,
	}, logger.Discard())
	require.NoError(t, err)
	return store
}

func testSeries(n int) models.Series {
	series := make(models.Series, 0, n)
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		series = append(series, models.Record{
			Timestamp: base.AddDate(0, 0, i),
			Open:      "2900.50",
			High:      "2950.00",
			Low:       "2880.25",
			Close:     fmt.Sprintf("2910.%02d", i),
			Volume:    "1500000",
			Symbol:    testSymbol,
			Interval:  testInterval,
		})
	}
	return series
}

func TestCSVStore_SaveAndLoad(t *testing.T) {
	store := newTestCSVStore(t)
	ctx := context.Background()
	series := testSeries(3)

	require.NoError(t, store.Save(ctx, testSymbol, testInterval, series))

	loaded, err := store.Load(ctx, testSymbol, testInterval)
	require.NoError(t, err)
	assert.Equal(t, series, loaded)
}

func TestCSVStore_Load_MissingEntity(t *testing.T) {
	store := newTestCSVStore(t)

	loaded, err := store.Load(context.Background(), "ABSENT", testInterval)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCSVStore_Load_EmptyFile(t *testing.T) {
	store := newTestCSVStore(t)
	path := store.Path(testSymbol, testInterval)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	loaded, err := store.Load(context.Background(), testSymbol, testInterval)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestCSVStore_Load_RejectsUnknownHeader(t *testing.T) {
	store := newTestCSVStore(t)
	path := store.Path(testSymbol, testInterval)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := "date,open,high,low,close,volume\n2024-01-02T00:00:00Z,1,2,0.5,1.5,100\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := store.Load(context.Background(), testSymbol, testInterval)
	require.Error(t, err)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "load", storageErr.Op)
}

func TestCSVStore_Load_RejectsBadTimestamp(t *testing.T) {
	store := newTestCSVStore(t)
	path := store.Path(testSymbol, testInterval)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	content := "timestamp,open,high,low,close,volume\nnot-a-time,1,2,0.5,1.5,100\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := store.Load(context.Background(), testSymbol, testInterval)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timestamp")
}

func TestCSVStore_PathUsesSafeSymbol(t *testing.T) {
	store := newTestCSVStore(t)
	ctx := context.Background()

	series := testSeries(1)
	require.NoError(t, store.Save(ctx, "^NSEI", testInterval, series))

	path := store.Path("^NSEI", testInterval)
	assert.Contains(t, path, "_NSEI")
	_, err := os.Stat(path)
	assert.NoError(t, err)

	loaded, err := store.Load(ctx, "^NSEI", testInterval)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "^NSEI", loaded[0].Symbol)
}

func TestCSVStore_Save_BacksUpPreviousFile(t *testing.T) {
	store := newTestCSVStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testSymbol, testInterval, testSeries(2)))
	first, err := os.ReadFile(store.Path(testSymbol, testInterval))
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, testSymbol, testInterval, testSeries(3)))

	backups, err := filepath.Glob(store.Path(testSymbol, testInterval) + ".*.bak")
	require.NoError(t, err)
	require.Len(t, backups, 1)

	backedUp, err := os.ReadFile(backups[0])
	require.NoError(t, err)
	assert.Equal(t, first, backedUp)
}

func TestCSVStore_CleanupBackups(t *testing.T) {
	store := newTestCSVStore(t)
	ctx := context.Background()
	path := store.Path(testSymbol, testInterval)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	stamps := []string{
		"20240101_100000", "20240102_100000", "20240103_100000",
		"20240104_100000", "20240105_100000",
	}
	for _, stamp := range stamps {
		name := fmt.Sprintf("%s.%s.bak", path, stamp)
		require.NoError(t, os.WriteFile(name, []byte(stamp), 0o644))
	}

	removed, err := store.CleanupBackups(ctx, testSymbol, testInterval, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	remaining, err := filepath.Glob(path + ".*.bak")
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Contains(t, remaining[0], "20240104_100000")
	assert.Contains(t, remaining[1], "20240105_100000")

	removed, err = store.CleanupBackups(ctx, testSymbol, testInterval, 2)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCSVStore_LastTimestamp(t *testing.T) {
	store := newTestCSVStore(t)
	ctx := context.Background()

	_, ok, err := store.LastTimestamp(ctx, testSymbol, testInterval)
	require.NoError(t, err)
	assert.False(t, ok)

	series := testSeries(3)
	require.NoError(t, store.Save(ctx, testSymbol, testInterval, series))

	ts, ok, err := store.LastTimestamp(ctx, testSymbol, testInterval)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, series[2].Timestamp, ts)
}

func TestCSVStore_Summary(t *testing.T) {
	store := newTestCSVStore(t)
	ctx := context.Background()

	empty, err := store.Summary(ctx, testSymbol, testInterval)
	require.NoError(t, err)
	assert.Zero(t, empty.Rows)
	assert.True(t, empty.Start.IsZero())

	series := testSeries(3)
	require.NoError(t, store.Save(ctx, testSymbol, testInterval, series))

	summary, err := store.Summary(ctx, testSymbol, testInterval)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Rows)
	assert.True(t, summary.Start.Equal(series[0].Timestamp))
	assert.True(t, summary.End.Equal(series[2].Timestamp))
}

func TestCSVStore_Save_CancelledContext(t *testing.T) {
	store := newTestCSVStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Save(ctx, testSymbol, testInterval, testSeries(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_SelectsBackend(t *testing.T) {
	store, err := Open(config.DataConfig{Backend: "csv", Dir: t.TempDir()}, logger.Discard())
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &CSVStore{}, store)

	_, err = Open(config.DataConfig{Backend: "postgres"}, logger.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}
