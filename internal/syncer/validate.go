package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tsengine/go-marketsync/internal/metadata"
	"github.com/tsengine/go-marketsync/internal/models"
)

// ValidateOptions control a validation sweep over stored data.
type ValidateOptions struct {
	Symbols   []string
	Intervals []string
	// Fix repairs duplicate and ordering problems and re-saves the series.
	Fix bool
}

// redownloadThreshold is how many findings at error severity or above mark
// an entity's stored data as untrustworthy.
const redownloadThreshold = 5

// EntityValidation is one entity's outcome in a validation sweep.
type EntityValidation struct {
	Symbol          string         `json:"symbol"`
	Interval        string         `json:"interval"`
	Exists          bool           `json:"exists"`
	Valid           bool           `json:"valid"`
	Rows            int            `json:"rows"`
	Fixed           bool           `json:"fixed,omitempty"`
	NeedsRedownload bool           `json:"needs_redownload,omitempty"`
	Issues          []models.Issue `json:"issues,omitempty"`
}

// RedownloadItem points at an entity whose stored data cannot be trusted
// and should be fetched from scratch.
type RedownloadItem struct {
	Symbol   string   `json:"symbol"`
	Interval string   `json:"interval"`
	Reasons  []string `json:"reasons"`
}

// ValidationRunReport aggregates a validation sweep. Every entity lands in
// exactly one of Missing, ValidEntities, or WithIssues.
type ValidationRunReport struct {
	GeneratedAt      time.Time                    `json:"generated_at"`
	FixMode          bool                         `json:"fix_mode"`
	TotalEntities    int                          `json:"total_entities"`
	ValidEntities    int                          `json:"valid_entities"`
	WithIssues       int                          `json:"entities_with_issues"`
	Missing          int                          `json:"missing_entities"`
	FixedEntities    int                          `json:"fixed_entities"`
	IssuesByCategory map[models.IssueCategory]int `json:"issues_by_category"`
	Redownload       []RedownloadItem             `json:"needs_redownload,omitempty"`
	Results          []EntityValidation           `json:"results"`
}

// WriteJSON writes the report to path, creating parent directories.
func (r *ValidationRunReport) WriteJSON(path string) error {
	return writeJSON(path, r)
}

func (r *ValidationRunReport) observe(result EntityValidation) {
	r.TotalEntities++
	r.Results = append(r.Results, result)

	switch {
	case !result.Exists:
		r.Missing++
	case result.Valid:
		r.ValidEntities++
	default:
		r.WithIssues++
	}
	if result.Fixed {
		r.FixedEntities++
	}
	for _, issue := range result.Issues {
		r.IssuesByCategory[issue.Category]++
	}
	if result.NeedsRedownload {
		r.Redownload = append(r.Redownload, RedownloadItem{
			Symbol:   result.Symbol,
			Interval: result.Interval,
			Reasons:  issueMessages(result.Issues, 3),
		})
	}
}

// ValidateAll re-validates every stored series and cross-checks each
// against its metadata record. Entities with no stored data are reported
// for redownload, as are entities whose findings pass the error threshold.
// With Fix, repaired series are re-saved; their metadata row counts heal on
// the next sync.
func (s *Syncer) ValidateAll(ctx context.Context, opts ValidateOptions) (*ValidationRunReport, error) {
	report := &ValidationRunReport{
		GeneratedAt:      time.Now().UTC(),
		FixMode:          opts.Fix,
		IssuesByCategory: make(map[models.IssueCategory]int),
	}

	for _, task := range s.entityTasks(opts.Symbols, opts.Intervals) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.observe(s.validateEntity(ctx, task.Symbol, task.Interval, opts.Fix))
	}

	s.logger.Info("validation sweep finished",
		slog.Int("total", report.TotalEntities),
		slog.Int("valid", report.ValidEntities),
		slog.Int("with_issues", report.WithIssues),
		slog.Int("missing", report.Missing),
		slog.Int("fixed", report.FixedEntities),
		slog.Int("needs_redownload", len(report.Redownload)))
	return report, nil
}

// validateEntity checks one entity's stored series and its metadata record.
func (s *Syncer) validateEntity(ctx context.Context, symbol, interval string, fix bool) EntityValidation {
	result := EntityValidation{Symbol: symbol, Interval: interval}

	series, err := s.store.Load(ctx, symbol, interval)
	if err != nil {
		result.Issues = append(result.Issues, models.Issue{
			Category: models.CategoryStructure,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("cannot load stored series: %v", err),
		})
		result.NeedsRedownload = true
		return result
	}
	if len(series) == 0 {
		result.Issues = append(result.Issues, models.Issue{
			Category: models.CategoryStructure,
			Severity: models.SeverityError,
			Message:  "no stored data",
		})
		result.NeedsRedownload = true
		return result
	}
	result.Exists = true
	result.Rows = len(series)

	validated, report, err := s.validator.Validate(ctx, series, interval, fix)
	if err != nil {
		result.Issues = append(result.Issues, models.Issue{
			Category: models.CategoryStructure,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("validation aborted: %v", err),
		})
		return result
	}
	result.Valid = report.Valid
	result.Issues = append(result.Issues, report.Issues...)

	// Stored rows are the ground truth; a diverging metadata record is a
	// warning, not a data failure.
	result.Issues = append(result.Issues, metadata.ConsistencyIssues(s.metadata.Load(symbol, interval), series)...)

	// With fix enabled, duplicate and ordering repairs surface as warnings
	// in the duplicates category. Their presence means the validated series
	// differs from what is on disk.
	if fix && len(report.ByCategory(models.CategoryDuplicates)) > 0 {
		if err := s.store.Save(ctx, symbol, interval, validated); err != nil {
			result.Issues = append(result.Issues, models.Issue{
				Category: models.CategoryStructure,
				Severity: models.SeverityError,
				Message:  fmt.Sprintf("cannot save repaired series: %v", err),
			})
		} else {
			result.Fixed = true
			result.Rows = len(validated)
			s.logger.Info("repaired series saved",
				slog.String("symbol", symbol),
				slog.String("interval", interval),
				slog.Int("rows", len(validated)))
		}
	}

	if errorCount(result.Issues) > redownloadThreshold {
		result.NeedsRedownload = true
	}
	return result
}

// errorCount tallies issues at error severity or above.
func errorCount(issues []models.Issue) int {
	n := 0
	for _, issue := range issues {
		if issue.Severity.AtLeast(models.SeverityError) {
			n++
		}
	}
	return n
}

// issueMessages returns up to max issue messages.
func issueMessages(issues []models.Issue, max int) []string {
	out := make([]string, 0, min(len(issues), max))
	for _, issue := range issues {
		if len(out) == max {
			break
		}
		out = append(out, issue.Message)
	}
	return out
}

// writeJSON marshals v indented and writes it to path, creating parent
// directories.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
