package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/planner"
)

// GapOptions select the entities for gap analysis and repair.
type GapOptions struct {
	Symbols   []string
	Intervals []string
}

// GapStats aggregates a gap run. A fixable gap whose refetch fails counts
// under both Fixable and Unfixable.
type GapStats struct {
	Entities  int `json:"entities_checked"`
	Found     int `json:"gaps_found"`
	Expected  int `json:"expected_gaps"`
	Fixable   int `json:"fixable_gaps"`
	Fixed     int `json:"gaps_fixed"`
	Unfixable int `json:"unfixable_gaps"`
}

// EntityGaps lists the classified gaps of one entity.
type EntityGaps struct {
	Symbol   string             `json:"symbol"`
	Interval string             `json:"interval"`
	Gaps     []models.GapRecord `json:"gaps"`
}

// GapReport is the outcome of a gap analysis or repair run.
type GapReport struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Stats       GapStats     `json:"stats"`
	Entities    []EntityGaps `json:"entities,omitempty"`
}

// WriteJSON writes the report to path, creating parent directories.
func (r *GapReport) WriteJSON(path string) error {
	return writeJSON(path, r)
}

// AnalyzeGaps scans stored series for continuity holes and classifies each
// against the trading calendar. Nothing is fetched or modified. Entities
// whose analysis fails are logged and skipped.
func (s *Syncer) AnalyzeGaps(ctx context.Context, opts GapOptions) (*GapReport, error) {
	report := &GapReport{GeneratedAt: time.Now().UTC()}
	for _, task := range s.entityTasks(opts.Symbols, opts.Intervals) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		gaps, err := s.entityGaps(ctx, task.Symbol, task.Interval)
		if err != nil {
			s.logger.Warn("gap analysis failed",
				slog.String("symbol", task.Symbol),
				slog.String("interval", task.Interval),
				slog.String("error", err.Error()))
			continue
		}
		report.Stats.Entities++
		if len(gaps) == 0 {
			continue
		}
		report.Entities = append(report.Entities, EntityGaps{
			Symbol:   task.Symbol,
			Interval: task.Interval,
			Gaps:     gaps,
		})
		for i := range gaps {
			report.Stats.Found++
			switch {
			case gaps[i].Expected:
				report.Stats.Expected++
			case gaps[i].Fixable:
				report.Stats.Fixable++
			default:
				report.Stats.Unfixable++
			}
		}
	}
	s.logger.Info("gap analysis finished",
		slog.Int("entities", report.Stats.Entities),
		slog.Int("found", report.Stats.Found),
		slog.Int("expected", report.Stats.Expected),
		slog.Int("fixable", report.Stats.Fixable),
		slog.Int("unfixable", report.Stats.Unfixable))
	return report, nil
}

// entityGaps loads and classifies one entity's gaps. An entity without
// stored data has nothing to analyze.
func (s *Syncer) entityGaps(ctx context.Context, symbol, interval string) ([]models.GapRecord, error) {
	series, err := s.store.Load(ctx, symbol, interval)
	if err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return nil, nil
	}
	return s.classifier.FindGaps(ctx, series, interval)
}

// FixGaps analyzes gaps and refetches the window around every fixable one.
// Expected gaps are left alone: refetching a weekend would correctly return
// nothing. Failed fills are recorded in the ledger and counted unfixable.
func (s *Syncer) FixGaps(ctx context.Context, opts GapOptions) (*GapReport, error) {
	report, err := s.AnalyzeGaps(ctx, opts)
	if err != nil {
		return report, err
	}

	for _, entity := range report.Entities {
		for i := range entity.Gaps {
			gap := &entity.Gaps[i]
			if !gap.Fixable {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}
			res := s.fixGap(ctx, gap)
			if res.Err != nil {
				if canceled(res.Err) {
					return report, res.Err
				}
				report.Stats.Unfixable++
				continue
			}
			report.Stats.Fixed++
		}
	}

	s.logger.Info("gap repair finished",
		slog.Int("fixable", report.Stats.Fixable),
		slog.Int("fixed", report.Stats.Fixed),
		slog.Int("unfixable", report.Stats.Unfixable))
	return report, nil
}

// fixGap refetches the days around one fixable gap and merges the result
// into the stored series. The window includes the gap bounds, so the
// overlap deduplicates against rows already present. The metadata quality
// verdict stays untouched: the validation report covers only the fetched
// fragment, not the whole series.
func (s *Syncer) fixGap(ctx context.Context, gap *models.GapRecord) *EntityResult {
	result := &EntityResult{Symbol: gap.Symbol, Interval: gap.Interval}
	window := planner.Window{Start: gap.Start, End: gap.End.AddDate(0, 0, 1)}
	result.Window = window

	s.logger.Info("filling gap",
		slog.String("symbol", gap.Symbol),
		slog.String("interval", gap.Interval),
		slog.String("window", window.String()),
		slog.String("reason", string(gap.Reason)))

	job := models.NewSyncJob(gap.Symbol, gap.Interval)
	_ = job.MarkStale()

	_ = job.StartFetch()
	fetched, err := s.fetch(ctx, gap.Symbol, gap.Interval, window)
	if err != nil {
		if canceled(err) {
			return s.abandon(job, result, err)
		}
		return s.fail(job, result, "gap_fill", err)
	}
	if len(fetched) == 0 {
		return s.fail(job, result, "gap_fill", errors.New("no data returned for gap window"))
	}

	return s.finish(ctx, job, result, fetched, "gap_fill", false)
}
