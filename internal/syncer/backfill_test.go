package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/provider"
	"github.com/tsengine/go-marketsync/internal/retry"
)

func TestBackfill_DownloadsFullHistory(t *testing.T) {
	env := newTestEnv(t)
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Symbol == testSymbol && req.Period == "max"
	})).Return(daySeries(2, 3, 4), nil).Once()

	stats, err := env.syncer.Backfill(context.Background(), BackfillOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 3, stats.RowsAdded)

	stored, err := env.store.Load(context.Background(), testSymbol, testInterval)
	require.NoError(t, err)
	assert.Len(t, stored, 3)

	rec := env.meta.Load(testSymbol, testInterval)
	assert.Equal(t, 3, rec.TotalRows)
	require.Len(t, rec.History, 1)
	assert.True(t, rec.History[0].Success)
	env.provider.AssertExpectations(t)
}

func TestBackfill_SkipsEntityWithData(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Save(context.Background(), testSymbol, testInterval, daySeries(2, 3)))

	stats, err := env.syncer.Backfill(context.Background(), BackfillOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Updated)
	env.provider.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestBackfill_ForceMergesIntoExisting(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, testSymbol, testInterval, models.Series{dayRecord(2, "2910.00"), dayRecord(3, "2920.00")})
	env.provider.On("Fetch", mock.Anything, mock.Anything).
		Return(models.Series{dayRecord(2, "2911.00"), dayRecord(3, "2921.00"), dayRecord(4, "2931.00")}, nil).Once()

	stats, err := env.syncer.Backfill(context.Background(), BackfillOptions{Force: true})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	assert.Equal(t, 1, stats.RowsAdded)

	stored, err := env.store.Load(context.Background(), testSymbol, testInterval)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "2911.00", stored[0].Close)
}

func TestBackfill_EmptyResultIsFailure(t *testing.T) {
	env := newTestEnv(t)
	env.provider.On("Fetch", mock.Anything, mock.Anything).Return(models.Series{}, nil).Once()

	stats, err := env.syncer.Backfill(context.Background(), BackfillOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Updated)

	failures := env.ledger.Failures(retry.FilterOptions{Symbol: testSymbol})
	require.Len(t, failures, 1)
	assert.Equal(t, "no data returned", failures[0].Error)
	assert.Equal(t, "backfill", failures[0].Context["operation"])

	rec := env.meta.Load(testSymbol, testInterval)
	require.Len(t, rec.History, 1)
	assert.False(t, rec.History[0].Success)
}

func TestBackfill_ClampsIntradayLookback(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Sync.Intervals = []string{"5m"}

	row := models.Record{
		Timestamp: time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC),
		Open:      "2900.00",
		High:      "2950.00",
		Low:       "2880.00",
		Close:     "2910.00",
		Volume:    "52000",
		Symbol:    testSymbol,
		Interval:  "5m",
	}
	env.provider.On("Fetch", mock.Anything, mock.MatchedBy(func(req provider.FetchRequest) bool {
		return req.Interval == "5m" && req.Period == "60d"
	})).Return(models.Series{row}, nil).Once()

	stats, err := env.syncer.Backfill(context.Background(), BackfillOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)
	env.provider.AssertExpectations(t)
}
