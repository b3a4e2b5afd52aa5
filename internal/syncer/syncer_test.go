package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tsengine/go-marketsync/internal/config"
	"github.com/tsengine/go-marketsync/internal/logger"
	"github.com/tsengine/go-marketsync/internal/metadata"
	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/planner"
	"github.com/tsengine/go-marketsync/internal/provider"
	"github.com/tsengine/go-marketsync/internal/retry"
	"github.com/tsengine/go-marketsync/internal/storage"
)

const (
	testSymbol   = "RELIANCE"
	testInterval = "1d"
)

// MockProvider is a testify mock for the provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Fetch(ctx context.Context, req provider.FetchRequest) (models.Series, error) {
	args := m.Called(ctx, req)
	if series, ok := args.Get(0).(models.Series); ok {
		return series, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockProvider) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type testEnv struct {
	syncer   *Syncer
	provider *MockProvider
	store    *storage.MemoryStore
	meta     *metadata.Store
	ledger   *retry.Ledger
	cfg      *config.Config
}

func newTestEnv(t *testing.T, symbols ...string) *testEnv {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{testSymbol}
	}

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Data.Dir = filepath.Join(dir, "data")
	cfg.Sync.Intervals = []string{testInterval}
	cfg.Sync.RateLimitPerSec = 1000
	cfg.Sync.RateBurst = 100
	cfg.Symbols = nil
	for _, symbol := range symbols {
		cfg.Symbols = append(cfg.Symbols, config.SymbolEntry{Symbol: symbol})
	}

	meta, err := metadata.NewStore(filepath.Join(dir, "metadata"), logger.Discard())
	require.NoError(t, err)

	env := &testEnv{
		provider: &MockProvider{},
		store:    storage.NewMemoryStore(),
		meta:     meta,
		ledger:   retry.NewLedger(filepath.Join(dir, "failures.json"), nil, logger.Discard()),
		cfg:      cfg,
	}

	env.syncer, err = New(Deps{
		Provider: env.provider,
		Store:    env.store,
		Metadata: meta,
		Ledger:   env.ledger,
		Logger:   logger.Discard(),
	}, cfg)
	require.NoError(t, err)
	return env
}

// seed stores the series and commits a matching metadata record.
func (e *testEnv) seed(t *testing.T, symbol, interval string, series models.Series) {
	t.Helper()
	require.NoError(t, e.store.Save(context.Background(), symbol, interval, series))
	require.NoError(t, e.meta.Update(symbol, interval, series, len(series), nil))
}

func dayRecord(day int, close string) models.Record {
	return models.Record{
		Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Open:      "2900.00",
		High:      "2950.00",
		Low:       "2880.00",
		Close:     close,
		Volume:    "1500000",
		Symbol:    testSymbol,
		Interval:  testInterval,
	}
}

func daySeries(days ...int) models.Series {
	series := make(models.Series, 0, len(days))
	for _, day := range days {
		series = append(series, dayRecord(day, "2910.00"))
	}
	return series
}

func TestNew_RequiresCoreDependencies(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name string
		deps Deps
	}{
		{"no provider", Deps{Store: env.store, Metadata: env.meta, Ledger: env.ledger}},
		{"no store", Deps{Provider: env.provider, Metadata: env.meta, Ledger: env.ledger}},
		{"no metadata", Deps{Provider: env.provider, Store: env.store, Ledger: env.ledger}},
		{"no ledger", Deps{Provider: env.provider, Store: env.store, Metadata: env.meta}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.deps, env.cfg)
			require.Error(t, err)
		})
	}
}

func TestSyncEntity_FirstSyncFetchesFullHistory(t *testing.T) {
	env := newTestEnv(t)
	fetched := daySeries(2, 3, 4)
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Symbol == testSymbol && req.Interval == testInterval && req.Period == "max"
	})).Return(fetched, nil).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{})

	require.NoError(t, result.Err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.RowsAdded)

	stored, err := env.store.Load(context.Background(), testSymbol, testInterval)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	rec := env.meta.Load(testSymbol, testInterval)
	require.NotNil(t, rec.LastUpdate)
	assert.Equal(t, 3, rec.TotalRows)
	require.NotNil(t, rec.DateRange.Start)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), *rec.DateRange.Start)
	require.Len(t, rec.History, 1)
	assert.True(t, rec.History[0].Success)
	assert.Equal(t, 3, rec.History[0].RowsAdded)
	assert.Equal(t, metadata.QualityPassed, rec.Quality.Status)
	env.provider.AssertExpectations(t)
}

func TestSyncEntity_IncrementalFetchesFromCursor(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, testSymbol, testInterval, daySeries(2, 3, 4))

	wantStart := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Period == "" && req.Start.Equal(wantStart) && req.End.After(req.Start)
	})).Return(daySeries(5), nil).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{Force: true})

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.RowsAdded)

	rec := env.meta.Load(testSymbol, testInterval)
	assert.Equal(t, 4, rec.TotalRows)
	require.NotNil(t, rec.DateRange.End)
	assert.Equal(t, wantStart, *rec.DateRange.End)
	env.provider.AssertExpectations(t)
}

func TestSyncEntity_SkipsFreshEntity(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, testSymbol, testInterval, daySeries(2, 3))

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{})

	require.NoError(t, result.Err)
	assert.True(t, result.Skipped)
	env.provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestSyncEntity_ForceOverridesFreshness(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, testSymbol, testInterval, daySeries(2, 3))
	env.provider.On("Fetch", mock.Anything, mock.Anything).Return(models.Series{}, nil).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{Force: true})

	require.NoError(t, result.Err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 0, result.RowsAdded)
	env.provider.AssertExpectations(t)
}

func TestSyncEntity_EmptyFetchMeansUpToDate(t *testing.T) {
	env := newTestEnv(t)
	env.provider.On("Fetch", mock.Anything, mock.Anything).Return(models.Series{}, nil).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{})

	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.RowsAdded)

	// Nothing was stored and nothing was committed.
	stored, err := env.store.Load(context.Background(), testSymbol, testInterval)
	require.NoError(t, err)
	assert.Empty(t, stored)
	rec := env.meta.Load(testSymbol, testInterval)
	assert.Nil(t, rec.LastUpdate)
	assert.Empty(t, rec.History)
}

func TestSyncEntity_FetchFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.provider.On("Fetch", mock.Anything, mock.Anything).Return(nil, errors.New("status 500")).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{})

	require.Error(t, result.Err)

	failures := env.ledger.Failures(retry.FilterOptions{})
	require.Len(t, failures, 1)
	assert.Equal(t, testSymbol, failures[0].Symbol)
	assert.Equal(t, "status 500", failures[0].Error)
	assert.Equal(t, "sync", failures[0].Context["operation"])

	rec := env.meta.Load(testSymbol, testInterval)
	assert.Nil(t, rec.LastUpdate)
	assert.Nil(t, rec.DateRange.End)
	require.Len(t, rec.History, 1)
	assert.False(t, rec.History[0].Success)
	assert.Equal(t, "status 500", rec.History[0].Error)
}

func TestSyncEntity_IncomingWinsOnOverlap(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, testSymbol, testInterval, models.Series{dayRecord(2, "2910.00"), dayRecord(3, "2920.00")})

	incoming := models.Series{dayRecord(3, "3000.00"), dayRecord(4, "3010.00")}
	env.provider.On("Fetch", mock.Anything, mock.Anything).Return(incoming, nil).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{Force: true})

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.RowsAdded)

	stored, err := env.store.Load(context.Background(), testSymbol, testInterval)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "2910.00", stored[0].Close)
	assert.Equal(t, "3000.00", stored[1].Close)
	assert.Equal(t, "3010.00", stored[2].Close)
}

func TestSyncEntity_TargetDateBypassesFreshness(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, testSymbol, testInterval, daySeries(2, 3, 4))

	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Start.Equal(day) && req.End.Equal(day.AddDate(0, 0, 1))
	})).Return(models.Series{dayRecord(15, "3100.00")}, nil).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{TargetDate: "2024-01-15"})

	require.NoError(t, result.Err)
	assert.Equal(t, 1, result.RowsAdded)
	env.provider.AssertExpectations(t)
}

func TestSyncEntity_DryRunPlansWithoutFetching(t *testing.T) {
	env := newTestEnv(t)

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{DryRun: true})

	require.NoError(t, result.Err)
	assert.True(t, result.DryRun)
	assert.True(t, result.Window.IsPeriod())
	env.provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestSyncEntity_ValidationIssuesDoNotAbort(t *testing.T) {
	env := newTestEnv(t)
	bad := dayRecord(3, "2910.00")
	bad.High = "2800.00" // below the low
	env.provider.On("Fetch", mock.Anything, mock.Anything).
		Return(models.Series{dayRecord(2, "2905.00"), bad}, nil).Once()

	result := env.syncer.SyncEntity(context.Background(), testSymbol, testInterval, EntityOptions{})

	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.RowsAdded)

	rec := env.meta.Load(testSymbol, testInterval)
	assert.Equal(t, metadata.QualityIssues, rec.Quality.Status)
	assert.Greater(t, rec.Quality.IssuesCount, 0)
	require.Len(t, rec.History, 1)
	assert.True(t, rec.History[0].Success)
}

func TestSyncEntity_CancelledFetchLeavesNoFailureRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	env.provider.On("Fetch", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	result := env.syncer.SyncEntity(ctx, testSymbol, testInterval, EntityOptions{})

	require.ErrorIs(t, result.Err, context.Canceled)
	assert.Empty(t, env.ledger.Failures(retry.FilterOptions{}))
	assert.Empty(t, env.meta.Load(testSymbol, testInterval).History)
}

func TestRun_InvalidTargetDateAbortsRun(t *testing.T) {
	env := newTestEnv(t)

	stats, err := env.syncer.Run(context.Background(), RunOptions{TargetDate: "15-01-2024"})

	require.ErrorIs(t, err, planner.ErrInvalidDateFormat)
	assert.Nil(t, stats)
	env.provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestRun_AggregatesOutcomes(t *testing.T) {
	env := newTestEnv(t, "GOOD", "BAD")
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Symbol == "GOOD"
	})).Return(models.Series{
		{Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: "100", High: "110", Low: "95", Close: "105", Volume: "1000", Symbol: "GOOD", Interval: testInterval},
		{Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: "105", High: "112", Low: "101", Close: "108", Volume: "1200", Symbol: "GOOD", Interval: testInterval},
	}, nil).Once()
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Symbol == "BAD"
	})).Return(nil, errors.New("unknown symbol")).Once()

	stats, err := env.syncer.Run(context.Background(), RunOptions{})

	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 2, stats.RowsAdded)
	assert.Contains(t, stats.Summary(), "2 entities")
	env.provider.AssertExpectations(t)
}

func TestRun_ExplicitSymbolsOverrideConfig(t *testing.T) {
	env := newTestEnv(t, "CONFIGURED")
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Symbol == "ADHOC"
	})).Return(models.Series{}, nil).Once()

	stats, err := env.syncer.Run(context.Background(), RunOptions{Symbols: []string{"ADHOC"}})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	env.provider.AssertExpectations(t)
}

func TestRun_WorkerPoolProcessesAllEntities(t *testing.T) {
	env := newTestEnv(t, "AAA", "BBB", "CCC", "DDD")
	env.provider.On("Fetch", mock.Anything, mock.Anything).Return(models.Series{}, nil)

	stats, err := env.syncer.Run(context.Background(), RunOptions{Workers: 3})

	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 4, stats.Updated)
	assert.Equal(t, 0, stats.Failed)
	env.provider.AssertNumberOfCalls(t, "Fetch", 4)
}

func TestRun_CancelledContextReturnsPartialStats(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := env.syncer.Run(ctx, RunOptions{})

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, stats)
	assert.Equal(t, 0, stats.Total)
	env.provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}
