// Package validator checks series integrity: structure, duplicates, price
// and volume quality, continuity gaps, and calendar consistency. Findings
// accumulate in a ValidationReport; only error or critical findings make a
// series invalid. Auto-fix repairs duplicates and ordering, never values.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tsengine/go-marketsync/internal/models"
)

// ValidationConfig tunes the continuity checks.
type ValidationConfig struct {
	// MaxDailyGapDays is the largest allowed spacing between daily rows
	// before a gap is flagged. Four days passes a normal weekend plus a
	// holiday cluster.
	MaxDailyGapDays int
	// IntradayGapFactor multiplies the interval grain; wider spacing within
	// one trading day is a gap.
	IntradayGapFactor int
	// Timezone is the market timezone used for day boundaries and the
	// calendar consistency check.
	Timezone string
}

// DefaultValidationConfig returns the standard tuning.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxDailyGapDays:   4,
		IntradayGapFactor: 2,
		Timezone:          "Asia/Kolkata",
	}
}

// Validator runs the check pipeline over a series.
type Validator struct {
	cfg    ValidationConfig
	logger *slog.Logger
}

// New creates a validator with the given tuning.
func New(cfg ValidationConfig, logger *slog.Logger) *Validator {
	if cfg.MaxDailyGapDays <= 0 {
		cfg.MaxDailyGapDays = 4
	}
	if cfg.IntradayGapFactor <= 0 {
		cfg.IntradayGapFactor = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, logger: logger}
}

// Validate runs all checks over the series and returns the checked series
// plus the report. With autoFix, duplicate timestamps are dropped (first
// occurrence wins) and out-of-order rows are re-sorted; both repairs are
// recorded as warnings. Without autoFix the series comes back unchanged and
// those findings are errors. Value-level problems are only ever reported.
func (v *Validator) Validate(ctx context.Context, series models.Series, interval string, autoFix bool) (models.Series, *models.ValidationReport, error) {
	if err := ctx.Err(); err != nil {
		return series, nil, err
	}

	symbol := ""
	if len(series) > 0 {
		symbol = series[0].Symbol
	}
	report := models.NewValidationReport(symbol, interval)
	report.Stats.TotalRows = len(series)

	if len(series) == 0 {
		report.Addf(models.CategoryStructure, models.SeverityCritical, "series is empty")
		return series, report.Finalize(), nil
	}

	if missing := countMissingFields(series); missing > 0 {
		report.Add(models.Issue{
			Category: models.CategoryStructure,
			Severity: models.SeverityCritical,
			Message:  fmt.Sprintf("%d rows are missing required fields", missing),
			Rows:     missing,
		})
		report.Stats.ValidatedRows = len(series)
		return series, report.Finalize(), nil
	}

	result := series
	result = v.checkDuplicates(result, autoFix, report)
	result = v.checkOrdering(result, autoFix, report)

	v.checkQuality(result, report)
	v.checkGapIssues(result, interval, report)
	v.checkTimezone(result, report)

	report.Stats.ValidatedRows = len(result)
	report.Stats.RowsRemoved = report.Stats.TotalRows - len(result)
	if start, end, ok := sortedView(result).Span(); ok {
		report.Stats.RangeStart = &start
		report.Stats.RangeEnd = &end
	}

	v.logger.Debug("validation finished",
		slog.String("symbol", symbol),
		slog.String("interval", interval),
		slog.Int("rows", len(result)),
		slog.Int("issues", len(report.Issues)),
		slog.String("max_severity", string(report.MaxSeverity)))
	return result, report.Finalize(), nil
}

// checkDuplicates finds rows sharing a timestamp. With autoFix the first
// occurrence wins and the resolved finding is a warning; otherwise it stays
// an error.
func (v *Validator) checkDuplicates(series models.Series, autoFix bool, report *models.ValidationReport) models.Series {
	seen := make(map[time.Time]bool, len(series))
	duplicates := 0
	for i := range series {
		ts := series[i].Timestamp
		if seen[ts] {
			duplicates++
			continue
		}
		seen[ts] = true
	}
	if duplicates == 0 {
		return series
	}

	if !autoFix {
		report.Add(models.Issue{
			Category: models.CategoryDuplicates,
			Severity: models.SeverityError,
			Message:  fmt.Sprintf("found %d duplicate timestamps", duplicates),
			Rows:     duplicates,
		})
		return series
	}

	fixed := make(models.Series, 0, len(series)-duplicates)
	kept := make(map[time.Time]bool, len(series))
	for i := range series {
		ts := series[i].Timestamp
		if kept[ts] {
			continue
		}
		kept[ts] = true
		fixed = append(fixed, series[i])
	}
	report.Add(models.Issue{
		Category: models.CategoryDuplicates,
		Severity: models.SeverityWarning,
		Message:  fmt.Sprintf("auto-fixed: removed %d duplicate timestamps", duplicates),
		Rows:     duplicates,
	})
	return fixed
}

// checkOrdering flags descending timestamp pairs. Equal timestamps are the
// duplicate check's business. With autoFix the series is re-sorted.
func (v *Validator) checkOrdering(series models.Series, autoFix bool, report *models.ValidationReport) models.Series {
	outOfOrder := false
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp.Before(series[i-1].Timestamp) {
			outOfOrder = true
			break
		}
	}
	if !outOfOrder {
		return series
	}

	if !autoFix {
		report.Addf(models.CategoryStructure, models.SeverityError, "timestamps are not in ascending order")
		return series
	}

	fixed := series.Clone()
	fixed.Sort()
	report.Addf(models.CategoryDuplicates, models.SeverityWarning, "auto-fixed: reordered out-of-order timestamps")
	return fixed
}

// checkQuality evaluates every value rule over every row and reports
// aggregate counts. Nothing is modified.
func (v *Validator) checkQuality(series models.Series, report *models.ValidationReport) {
	var negPrice, zeroPrice, negVolume, zeroVolume, highBelowLow, outOfRange, unparsable int

	for i := range series {
		rec := &series[i]
		open, openOK := parseField(rec.Open)
		high, highOK := parseField(rec.High)
		low, lowOK := parseField(rec.Low)
		close_, closeOK := parseField(rec.Close)
		volume, volumeOK := parseField(rec.Volume)

		if !openOK || !highOK || !lowOK || !closeOK || !volumeOK {
			unparsable++
		}

		prices := []struct {
			val decimal.Decimal
			ok  bool
		}{{open, openOK}, {high, highOK}, {low, lowOK}, {close_, closeOK}}

		for _, p := range prices {
			if p.ok && p.val.IsNegative() {
				negPrice++
				break
			}
		}
		for _, p := range prices {
			if p.ok && p.val.IsZero() {
				zeroPrice++
				break
			}
		}

		if volumeOK && volume.IsNegative() {
			negVolume++
		}
		if volumeOK && volume.IsZero() {
			zeroVolume++
		}
		if highOK && lowOK && high.LessThan(low) {
			highBelowLow++
		}
		if highOK && lowOK && !high.LessThan(low) {
			if openOK && (open.GreaterThan(high) || open.LessThan(low)) {
				outOfRange++
			} else if closeOK && (close_.GreaterThan(high) || close_.LessThan(low)) {
				outOfRange++
			}
		}
	}

	addCount := func(severity models.Severity, format string, rows int) {
		if rows == 0 {
			return
		}
		report.Add(models.Issue{
			Category: models.CategoryQuality,
			Severity: severity,
			Message:  fmt.Sprintf(format, rows),
			Rows:     rows,
		})
	}
	addCount(models.SeverityError, "negative prices in %d rows", negPrice)
	addCount(models.SeverityWarning, "zero prices in %d rows", zeroPrice)
	addCount(models.SeverityError, "negative volume in %d rows", negVolume)
	addCount(models.SeverityError, "high below low in %d rows", highBelowLow)
	addCount(models.SeverityWarning, "open or close outside the high-low range in %d rows", outOfRange)
	addCount(models.SeverityWarning, "unparsable numeric values in %d rows", unparsable)
	addCount(models.SeverityInfo, "zero volume in %d rows", zeroVolume)
}

// checkGapIssues summarizes continuity gaps as a single warning.
func (v *Validator) checkGapIssues(series models.Series, interval string, report *models.ValidationReport) {
	gaps, err := v.CheckGaps(series, interval)
	if err != nil {
		report.Addf(models.CategoryGaps, models.SeverityWarning, "gap check skipped: %v", err)
		return
	}
	if len(gaps) == 0 {
		return
	}
	report.Add(models.Issue{
		Category: models.CategoryGaps,
		Severity: models.SeverityWarning,
		Message:  fmt.Sprintf("found %d gaps exceeding the expected spacing", len(gaps)),
		Rows:     len(gaps),
	})
}

// CheckGaps scans a series for spacing wider than the interval allows and
// returns one record per hole. Sub-daily grains are only compared within a
// single market day; crossing a day boundary is normal overnight spacing.
// Daily series tolerate up to MaxDailyGapDays between rows.
func (v *Validator) CheckGaps(series models.Series, interval string) ([]models.GapRecord, error) {
	if len(series) < 2 {
		return nil, nil
	}
	grain, err := parseInterval(interval)
	if err != nil {
		return nil, err
	}

	sorted := sortedView(series)
	loc := v.location()

	var threshold time.Duration
	if interval == "1d" {
		threshold = time.Duration(v.cfg.MaxDailyGapDays) * 24 * time.Hour
	} else {
		threshold = time.Duration(v.cfg.IntradayGapFactor) * grain
	}
	intraday := grain < 24*time.Hour

	var gaps []models.GapRecord
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		delta := cur.Timestamp.Sub(prev.Timestamp)
		if delta <= threshold {
			continue
		}
		if intraday && !sameDay(prev.Timestamp, cur.Timestamp, loc) {
			continue
		}
		gap, err := models.NewGapRecord(cur.Symbol, interval, prev.Timestamp, cur.Timestamp)
		if err != nil {
			return nil, err
		}
		gaps = append(gaps, *gap)
	}
	return gaps, nil
}

// checkTimezone compares the series' UTC offset with the configured market
// timezone. UTC-normalized timestamps get an info note; any other mismatch
// is a warning. Neither flips validity.
func (v *Validator) checkTimezone(series models.Series, report *models.ValidationReport) {
	if v.cfg.Timezone == "" || len(series) == 0 {
		return
	}
	loc, err := time.LoadLocation(v.cfg.Timezone)
	if err != nil {
		report.Addf(models.CategoryCalendar, models.SeverityWarning, "unknown timezone %q", v.cfg.Timezone)
		return
	}

	ts := series[0].Timestamp
	_, gotOffset := ts.Zone()
	_, wantOffset := ts.In(loc).Zone()
	if gotOffset == wantOffset {
		return
	}
	if gotOffset == 0 {
		report.Addf(models.CategoryCalendar, models.SeverityInfo,
			"timestamps are stored in UTC; market timezone is %s", v.cfg.Timezone)
		return
	}
	report.Addf(models.CategoryCalendar, models.SeverityWarning,
		"timestamps use UTC offset %ds but market timezone %s uses %ds", gotOffset, v.cfg.Timezone, wantOffset)
}

func (v *Validator) location() *time.Location {
	if v.cfg.Timezone != "" {
		if loc, err := time.LoadLocation(v.cfg.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

func countMissingFields(series models.Series) int {
	missing := 0
	for i := range series {
		rec := &series[i]
		if rec.Timestamp.IsZero() ||
			strings.TrimSpace(rec.Open) == "" ||
			strings.TrimSpace(rec.High) == "" ||
			strings.TrimSpace(rec.Low) == "" ||
			strings.TrimSpace(rec.Close) == "" ||
			strings.TrimSpace(rec.Volume) == "" {
			missing++
		}
	}
	return missing
}

func parseField(value string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// sortedView returns the series itself when already ordered, otherwise a
// sorted copy. Gap math needs ascending rows without mutating the input.
func sortedView(series models.Series) models.Series {
	for i := 1; i < len(series); i++ {
		if series[i].Timestamp.Before(series[i-1].Timestamp) {
			sorted := series.Clone()
			sorted.Sort()
			return sorted
		}
	}
	return series
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// parseInterval maps an interval token to its grain duration.
func parseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "1m":
		return time.Minute, nil
	case "2m":
		return 2 * time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "60m", "1h":
		return time.Hour, nil
	case "90m":
		return 90 * time.Minute, nil
	case "1d":
		return 24 * time.Hour, nil
	case "5d":
		return 5 * 24 * time.Hour, nil
	case "1wk":
		return 7 * 24 * time.Hour, nil
	case "1mo":
		return 30 * 24 * time.Hour, nil
	case "3mo":
		return 90 * 24 * time.Hour, nil
	}

	// Suffix fallback for tokens like "45m" or "4h".
	for _, fallback := range []struct {
		suffix string
		unit   time.Duration
	}{
		{"mo", 30 * 24 * time.Hour},
		{"wk", 7 * 24 * time.Hour},
		{"m", time.Minute},
		{"h", time.Hour},
		{"d", 24 * time.Hour},
	} {
		if strings.HasSuffix(interval, fallback.suffix) {
			if n, err := strconv.Atoi(strings.TrimSuffix(interval, fallback.suffix)); err == nil && n > 0 {
				return time.Duration(n) * fallback.unit, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown interval %q", interval)
}
