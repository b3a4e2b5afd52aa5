package syncer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/planner"
)

// BackfillOptions control an initial full-history download.
type BackfillOptions struct {
	Symbols   []string
	Intervals []string
	// Force refetches entities that already have stored data. The merge
	// keeps existing rows not present in the new download.
	Force   bool
	Workers int
}

// Backfill downloads the full permitted history for entities that have no
// stored data yet. Entities with rows are skipped unless forced. Unlike an
// incremental sync, an empty provider result is a failure here: a backfill
// that yields nothing means the symbol is wrong or the provider is broken.
func (s *Syncer) Backfill(ctx context.Context, opts BackfillOptions) (*RunStats, error) {
	tasks := s.entityTasks(opts.Symbols, opts.Intervals)
	workers := s.resolveWorkers(opts.Workers)
	s.logger.Info("backfill starting",
		slog.Int("entities", len(tasks)),
		slog.Int("workers", workers),
		slog.Bool("force", opts.Force))

	stats := s.runTasks(ctx, tasks, workers, func(ctx context.Context, task entityTask) *EntityResult {
		return s.backfillEntity(ctx, task.Symbol, task.Interval, opts.Force)
	})

	s.logger.Info("backfill finished",
		slog.Int("total", stats.Total),
		slog.Int("downloaded", stats.Updated),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("rows", stats.RowsAdded),
		slog.Duration("elapsed", stats.Elapsed))
	return stats, ctx.Err()
}

// backfillEntity fetches an entity's full history and stores it.
func (s *Syncer) backfillEntity(ctx context.Context, symbol, interval string, force bool) *EntityResult {
	result := &EntityResult{Symbol: symbol, Interval: interval}

	summary, err := s.store.Summary(ctx, symbol, interval)
	if err != nil {
		return s.fail(models.NewSyncJob(symbol, interval), result, "backfill", err)
	}
	if summary.Rows > 0 && !force {
		s.logger.Debug("entity already has data, skipping",
			slog.String("symbol", symbol),
			slog.String("interval", interval),
			slog.Int("rows", summary.Rows))
		result.Skipped = true
		return result
	}

	job := models.NewSyncJob(symbol, interval)
	window := planner.Window{Period: planner.FullLookback(interval)}
	result.Window = window

	_ = job.StartFetch()
	fetched, err := s.fetch(ctx, symbol, interval, window)
	if err != nil {
		if canceled(err) {
			return s.abandon(job, result, err)
		}
		return s.fail(job, result, "backfill", err)
	}
	if len(fetched) == 0 {
		return s.fail(job, result, "backfill", errors.New("no data returned"))
	}

	return s.finish(ctx, job, result, fetched, "backfill", true)
}
