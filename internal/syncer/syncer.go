// Package syncer coordinates the synchronization pipeline over tracked
// (symbol, interval) entities: plan the fetch window from metadata, fetch
// rows from the provider, validate and repair them, merge into the stored
// series, then commit metadata. Entities are independent units of work; one
// entity's failure is recorded and never stops the rest of a run.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/tsengine/go-marketsync/internal/config"
	"github.com/tsengine/go-marketsync/internal/gaps"
	"github.com/tsengine/go-marketsync/internal/merger"
	"github.com/tsengine/go-marketsync/internal/metadata"
	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/planner"
	"github.com/tsengine/go-marketsync/internal/provider"
	"github.com/tsengine/go-marketsync/internal/retry"
	"github.com/tsengine/go-marketsync/internal/storage"
	"github.com/tsengine/go-marketsync/internal/validator"
)

// Deps bundles the collaborators a Syncer coordinates. Provider, Store,
// Metadata and Ledger are required; the remaining components default to
// standard instances built from the configuration.
type Deps struct {
	Provider   provider.Provider
	Store      storage.SeriesStore
	Metadata   *metadata.Store
	Ledger     *retry.Ledger
	Validator  *validator.Validator
	Merger     *merger.Merger
	Planner    *planner.Planner
	Classifier *gaps.Classifier
	Logger     *slog.Logger
}

// Syncer drives the synchronization pipeline. A single Syncer is safe for
// concurrent entity runs: the rate limiter serializes fetch dispatch and
// every other collaborator guards its own state.
type Syncer struct {
	provider   provider.Provider
	store      storage.SeriesStore
	metadata   *metadata.Store
	ledger     *retry.Ledger
	validator  *validator.Validator
	merger     *merger.Merger
	planner    *planner.Planner
	classifier *gaps.Classifier
	limiter    *rate.Limiter
	cfg        *config.Config
	logger     *slog.Logger
}

// New creates a Syncer from its dependencies. Optional components left nil
// are constructed with defaults; the fetch rate limiter comes from the
// sync configuration.
func New(deps Deps, cfg *config.Config) (*Syncer, error) {
	if deps.Provider == nil {
		return nil, errors.New("syncer: provider is required")
	}
	if deps.Store == nil {
		return nil, errors.New("syncer: series store is required")
	}
	if deps.Metadata == nil {
		return nil, errors.New("syncer: metadata store is required")
	}
	if deps.Ledger == nil {
		return nil, errors.New("syncer: failure ledger is required")
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "syncer"))
	}
	val := deps.Validator
	if val == nil {
		val = validator.New(validator.DefaultValidationConfig(), logger)
	}
	mrg := deps.Merger
	if mrg == nil {
		mrg = merger.New(deps.Store, logger)
	}
	plan := deps.Planner
	if plan == nil {
		plan = planner.New(logger)
	}
	classifier := deps.Classifier
	if classifier == nil {
		calendar := gaps.DefaultCalendar()
		if dates, err := cfg.Calendar.HolidayDates(); err == nil && len(dates) > 0 {
			calendar = gaps.NewCalendar(dates)
		}
		classifier = gaps.NewClassifier(calendar, val, logger)
	}

	rps := cfg.Sync.RateLimitPerSec
	if rps <= 0 {
		rps = config.DefaultConfig().Sync.RateLimitPerSec
	}
	burst := cfg.Sync.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Syncer{
		provider:   deps.Provider,
		store:      deps.Store,
		metadata:   deps.Metadata,
		ledger:     deps.Ledger,
		validator:  val,
		merger:     mrg,
		planner:    plan,
		classifier: classifier,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		cfg:        cfg,
		logger:     logger,
	}, nil
}

// EntityOptions control a single entity's synchronization attempt.
type EntityOptions struct {
	// TargetDate refetches exactly one calendar day ("2006-01-02"),
	// bypassing both the sync cursor and the freshness gate.
	TargetDate string
	// Force syncs the entity even when its metadata says it is fresh.
	Force bool
	// DryRun plans and reports the fetch window without fetching.
	DryRun bool
}

// EntityResult is the outcome of one entity's attempt.
type EntityResult struct {
	Symbol    string
	Interval  string
	Skipped   bool // fresh entity, nothing to do
	DryRun    bool // window planned but not fetched
	Window    planner.Window
	RowsAdded int
	Err       error
}

// Succeeded reports whether the attempt completed without failing. Skips
// and dry runs count as successful no-ops.
func (r *EntityResult) Succeeded() bool { return r.Err == nil }

// SyncEntity runs the pipeline for one entity. Fresh entities are skipped
// unless forced or given an explicit date. A fetch that returns no rows
// means the entity is already up to date. Cancellation is honored between
// pipeline phases, never inside one.
func (s *Syncer) SyncEntity(ctx context.Context, symbol, interval string, opts EntityOptions) *EntityResult {
	result := &EntityResult{Symbol: symbol, Interval: interval}

	if opts.TargetDate == "" && !opts.Force && !s.metadata.NeedsUpdate(symbol, interval, s.cfg.Sync.MaxAgeHours) {
		s.logger.Debug("entity is fresh, skipping",
			slog.String("symbol", symbol),
			slog.String("interval", interval))
		result.Skipped = true
		return result
	}

	job := models.NewSyncJob(symbol, interval)
	meta := s.metadata.Load(symbol, interval)
	if meta.LastUpdate != nil {
		_ = job.MarkStale()
	}

	window, err := s.planner.Plan(meta, opts.TargetDate, time.Now().UTC())
	if err != nil {
		return s.fail(job, result, "sync", err)
	}
	result.Window = window

	if opts.DryRun {
		s.logger.Info("dry run, would fetch",
			slog.String("symbol", symbol),
			slog.String("interval", interval),
			slog.String("window", window.String()))
		result.DryRun = true
		return result
	}

	// A cursor already at today plans an empty range. There is nothing the
	// provider could return, so the entity is up to date without a request.
	if window.IsRange() && !window.End.After(window.Start) {
		_ = job.StartFetch()
		_ = job.Complete(0)
		s.logger.Debug("entity already up to date",
			slog.String("symbol", symbol),
			slog.String("interval", interval))
		return result
	}

	_ = job.StartFetch()
	fetched, err := s.fetch(ctx, symbol, interval, window)
	if err != nil {
		if canceled(err) {
			return s.abandon(job, result, err)
		}
		return s.fail(job, result, "sync", err)
	}
	if len(fetched) == 0 {
		_ = job.Complete(0)
		s.logger.Info("no new data",
			slog.String("symbol", symbol),
			slog.String("interval", interval),
			slog.String("window", window.String()))
		return result
	}

	return s.finish(ctx, job, result, fetched, "sync", true)
}

// fetch gates on the global rate limiter and requests the window from the
// provider. Retries happen inside the provider client.
func (s *Syncer) fetch(ctx context.Context, symbol, interval string, window planner.Window) (models.Series, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req := provider.FetchRequest{Symbol: symbol, Interval: interval}
	if window.IsPeriod() {
		req.Period = s.planner.ClampPeriod(interval, window.Period)
	} else {
		req.Start, req.End = window.Start, window.End
	}
	return s.provider.Fetch(ctx, req)
}

// finish runs the validate and merge phases, commits metadata, and
// completes the job. The job must be in the fetching state and fetched must
// be non-empty. With recordQuality false the metadata quality verdict is
// left untouched, used by gap fills whose report covers only a fragment of
// the series.
func (s *Syncer) finish(ctx context.Context, job *models.SyncJob, result *EntityResult, fetched models.Series, op string, recordQuality bool) *EntityResult {
	if err := ctx.Err(); err != nil {
		return s.abandon(job, result, err)
	}

	_ = job.StartValidate()
	validated, report, err := s.validator.Validate(ctx, fetched, job.Interval, true)
	if err != nil {
		return s.abandon(job, result, err)
	}
	if len(report.Issues) > 0 {
		s.logger.Warn("validation issues in fetched data",
			slog.String("symbol", job.Symbol),
			slog.String("interval", job.Interval),
			slog.Int("issues", len(report.Issues)),
			slog.String("max_severity", string(report.MaxSeverity)))
	}

	if err := ctx.Err(); err != nil {
		return s.abandon(job, result, err)
	}

	_ = job.StartMerge()
	existing, err := s.store.Load(ctx, job.Symbol, job.Interval)
	if err != nil {
		return s.fail(job, result, op, err)
	}
	merged, rowsAdded, err := s.merger.MergeAndSave(ctx, job.Symbol, job.Interval, existing, validated)
	if err != nil {
		return s.fail(job, result, op, err)
	}
	if s.cfg.Data.BackupEnabled {
		if _, err := s.store.CleanupBackups(ctx, job.Symbol, job.Interval, s.cfg.Data.BackupKeep); err != nil {
			s.logger.Warn("backup cleanup failed",
				slog.String("symbol", job.Symbol),
				slog.String("interval", job.Interval),
				slog.String("error", err.Error()))
		}
	}

	if !recordQuality {
		report = nil
	}
	if err := s.metadata.Update(job.Symbol, job.Interval, merged, rowsAdded, report); err != nil {
		// The series itself is saved; the stale record heals on the next
		// successful update.
		s.logger.Error("metadata update failed after save",
			slog.String("symbol", job.Symbol),
			slog.String("interval", job.Interval),
			slog.String("error", err.Error()))
	}

	_ = job.Complete(rowsAdded)
	result.RowsAdded = rowsAdded
	s.logger.Info("entity updated",
		slog.String("symbol", job.Symbol),
		slog.String("interval", job.Interval),
		slog.String("operation", op),
		slog.Int("rows_added", rowsAdded),
		slog.Int("total_rows", len(merged)),
		slog.Duration("elapsed", job.Elapsed()))
	return result
}

// fail marks the attempt failed and records it in the ledger and the
// entity's metadata history. The sync cursor is left untouched so the next
// run retries the same window.
func (s *Syncer) fail(job *models.SyncJob, result *EntityResult, op string, err error) *EntityResult {
	_ = job.Fail(err.Error())
	result.Err = err

	fctx := map[string]string{"operation": op}
	if result.Window.IsRange() || result.Window.IsPeriod() {
		fctx["window"] = result.Window.String()
	}
	if lerr := s.ledger.LogFailure(job.Symbol, job.Interval, err.Error(), fctx); lerr != nil {
		s.logger.Warn("could not record failure in ledger",
			slog.String("error", lerr.Error()))
	}
	if merr := s.metadata.RecordFailure(job.Symbol, job.Interval, err.Error()); merr != nil {
		s.logger.Warn("could not record failure in metadata",
			slog.String("error", merr.Error()))
	}

	s.logger.Error("entity update failed",
		slog.String("symbol", job.Symbol),
		slog.String("interval", job.Interval),
		slog.String("operation", op),
		slog.String("error", err.Error()))
	return result
}

// abandon ends the attempt on cancellation without recording a failure.
// Nothing was half-written, so the entity simply runs again next time.
func (s *Syncer) abandon(job *models.SyncJob, result *EntityResult, err error) *EntityResult {
	_ = job.Fail(err.Error())
	result.Err = err
	s.logger.Debug("entity update abandoned",
		slog.String("symbol", job.Symbol),
		slog.String("interval", job.Interval),
		slog.String("error", err.Error()))
	return result
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// RunOptions control a sync run over many entities.
type RunOptions struct {
	// Symbols restricts the run; empty means every configured symbol.
	Symbols []string
	// Intervals restricts the grains; empty means the configured intervals.
	Intervals []string
	// TargetDate refetches exactly one day for every entity.
	TargetDate string
	DryRun     bool
	Force      bool
	// Workers overrides the configured pool size. One runs sequentially.
	Workers int
}

// RunStats aggregates a run's outcomes.
type RunStats struct {
	Total     int
	Updated   int
	Skipped   int
	Failed    int
	RowsAdded int
	Elapsed   time.Duration
}

func (st *RunStats) observe(res *EntityResult) {
	st.Total++
	switch {
	case res.Err != nil:
		st.Failed++
	case res.Skipped:
		st.Skipped++
	default:
		st.Updated++
		st.RowsAdded += res.RowsAdded
	}
}

// Summary returns a one-line digest for logs and CLI output.
func (st *RunStats) Summary() string {
	return fmt.Sprintf("%d entities: %d updated (+%d rows), %d skipped, %d failed in %s",
		st.Total, st.Updated, st.RowsAdded, st.Skipped, st.Failed, st.Elapsed.Round(time.Millisecond))
}

// Run synchronizes every requested entity and aggregates the outcomes.
// With more than one worker, entities run on a bounded pool; each entity
// still runs its own pipeline start to finish. An invalid target date
// aborts the whole run before any entity is touched. Cancellation stops
// dispatching new entities and lets in-flight ones wind down; the partial
// stats are returned alongside the context error.
func (s *Syncer) Run(ctx context.Context, opts RunOptions) (*RunStats, error) {
	if opts.TargetDate != "" {
		if _, err := s.planner.Plan(nil, opts.TargetDate, time.Now().UTC()); err != nil {
			return nil, err
		}
	}

	tasks := s.entityTasks(opts.Symbols, opts.Intervals)
	workers := s.resolveWorkers(opts.Workers)
	s.logger.Info("sync run starting",
		slog.Int("entities", len(tasks)),
		slog.Int("workers", workers),
		slog.Bool("dry_run", opts.DryRun),
		slog.Bool("force", opts.Force))

	entityOpts := EntityOptions{TargetDate: opts.TargetDate, Force: opts.Force, DryRun: opts.DryRun}
	stats := s.runTasks(ctx, tasks, workers, func(ctx context.Context, task entityTask) *EntityResult {
		return s.SyncEntity(ctx, task.Symbol, task.Interval, entityOpts)
	})

	s.logger.Info("sync run finished",
		slog.Int("total", stats.Total),
		slog.Int("updated", stats.Updated),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("rows_added", stats.RowsAdded),
		slog.Duration("elapsed", stats.Elapsed))
	return stats, ctx.Err()
}

// runTasks dispatches tasks sequentially or on a pool and tallies the
// results.
func (s *Syncer) runTasks(ctx context.Context, tasks []entityTask, workers int, fn taskFunc) *RunStats {
	start := time.Now()

	var results []*EntityResult
	if workers <= 1 {
		results = make([]*EntityResult, 0, len(tasks))
		for _, task := range tasks {
			if ctx.Err() != nil {
				break
			}
			results = append(results, fn(ctx, task))
		}
	} else {
		results = newPool(workers, s.logger).Run(ctx, tasks, fn)
	}

	stats := &RunStats{}
	for _, res := range results {
		stats.observe(res)
	}
	stats.Elapsed = time.Since(start)
	return stats
}

func (s *Syncer) resolveWorkers(override int) int {
	workers := override
	if workers <= 0 {
		workers = s.cfg.Sync.Workers
	}
	if workers <= 0 {
		workers = 1
	}
	return workers
}

// entityTasks expands the symbol and interval selections into the entity
// list, defaulting to the configured universe.
func (s *Syncer) entityTasks(symbols, intervals []string) []entityTask {
	if len(symbols) == 0 {
		for _, entry := range s.cfg.AllSymbols() {
			symbols = append(symbols, entry.Symbol)
		}
	}
	if len(intervals) == 0 {
		intervals = s.cfg.Sync.Intervals
	}
	tasks := make([]entityTask, 0, len(symbols)*len(intervals))
	for _, symbol := range symbols {
		for _, interval := range intervals {
			tasks = append(tasks, entityTask{Symbol: symbol, Interval: interval})
		}
	}
	return tasks
}
