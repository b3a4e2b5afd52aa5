package validator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsengine/go-marketsync/internal/logger"
	"github.com/tsengine/go-marketsync/internal/models"
)

const (
	testSymbol   = "RELIANCE"
	testInterval = "1d"
)

func newTestValidator() *Validator {
	return New(DefaultValidationConfig(), logger.Discard())
}

func dailyRecord(ts time.Time) models.Record {
	return models.Record{
		Timestamp: ts,
		Open:      "2900.50",
		High:      "2950.00",
		Low:       "2880.25",
		Close:     "2910.75",
		Volume:    "1500000",
		Symbol:    testSymbol,
		Interval:  testInterval,
	}
}

// tradingDays builds consecutive weekday rows starting at a Tuesday.
func tradingDays(n int) models.Series {
	series := make(models.Series, 0, n)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for len(series) < n {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			series = append(series, dailyRecord(day))
		}
		day = day.AddDate(0, 0, 1)
	}
	return series
}

func issueMessages(report *models.ValidationReport) []string {
	var msgs []string
	for _, issue := range report.Issues {
		msgs = append(msgs, issue.Message)
	}
	return msgs
}

func TestValidate_CleanSeries(t *testing.T) {
	v := newTestValidator()
	series := tradingDays(5)

	result, report, err := v.Validate(context.Background(), series, testInterval, false)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.False(t, report.HasSeverity(models.SeverityWarning))
	assert.Empty(t, report.ByCategory(models.CategoryDuplicates))
	assert.Empty(t, report.ByCategory(models.CategoryQuality))
	assert.Empty(t, report.ByCategory(models.CategoryGaps))
	assert.Equal(t, series, result)
	assert.Equal(t, 5, report.Stats.TotalRows)
	assert.Equal(t, 5, report.Stats.ValidatedRows)
	assert.Zero(t, report.Stats.RowsRemoved)
	require.NotNil(t, report.Stats.RangeStart)
	assert.True(t, report.Stats.RangeStart.Equal(series[0].Timestamp))
}

func TestValidate_TimezoneNotes(t *testing.T) {
	v := newTestValidator()

	t.Run("utc_series_gets_info_note", func(t *testing.T) {
		_, report, err := v.Validate(context.Background(), tradingDays(3), testInterval, false)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		notes := report.ByCategory(models.CategoryCalendar)
		require.Len(t, notes, 1)
		assert.Equal(t, models.SeverityInfo, notes[0].Severity)
		assert.Contains(t, notes[0].Message, "stored in UTC")
	})

	t.Run("market_timezone_series_is_silent", func(t *testing.T) {
		ist := time.FixedZone("IST", 5*3600+1800)
		series := models.Series{dailyRecord(time.Date(2024, 1, 2, 0, 0, 0, 0, ist))}
		_, report, err := v.Validate(context.Background(), series, testInterval, false)
		require.NoError(t, err)
		assert.Empty(t, report.ByCategory(models.CategoryCalendar))
	})

	t.Run("foreign_offset_gets_warning", func(t *testing.T) {
		est := time.FixedZone("EST", -5*3600)
		series := models.Series{dailyRecord(time.Date(2024, 1, 2, 0, 0, 0, 0, est))}
		_, report, err := v.Validate(context.Background(), series, testInterval, false)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		notes := report.ByCategory(models.CategoryCalendar)
		require.Len(t, notes, 1)
		assert.Equal(t, models.SeverityWarning, notes[0].Severity)
	})
}

func TestValidate_EmptySeriesIsCritical(t *testing.T) {
	v := newTestValidator()

	_, report, err := v.Validate(context.Background(), models.Series{}, testInterval, false)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, models.SeverityCritical, report.Issues[0].Severity)
	assert.Equal(t, models.CategoryStructure, report.Issues[0].Category)
}

func TestValidate_MissingFieldsStopPipeline(t *testing.T) {
	v := newTestValidator()
	series := tradingDays(3)
	series[1].Close = ""
	series[2].Volume = "  "

	result, report, err := v.Validate(context.Background(), series, testInterval, false)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, models.SeverityCritical, report.Issues[0].Severity)
	assert.Equal(t, 2, report.Issues[0].Rows)
	assert.Equal(t, series, result)
}

func TestValidate_Duplicates(t *testing.T) {
	v := newTestValidator()
	base := tradingDays(3)
	dup := base[1]
	dup.Close = "9999.00"
	series := append(models.Series{}, base[0], base[1], dup, base[2])

	t.Run("reported_as_error_without_autofix", func(t *testing.T) {
		result, report, err := v.Validate(context.Background(), series, testInterval, false)
		require.NoError(t, err)
		assert.False(t, report.Valid)
		assert.Len(t, result, 4)
		require.NotEmpty(t, report.Issues)
		issue := report.ByCategory(models.CategoryDuplicates)[0]
		assert.Equal(t, models.SeverityError, issue.Severity)
		assert.Equal(t, 1, issue.Rows)
	})

	t.Run("first_occurrence_wins_with_autofix", func(t *testing.T) {
		result, report, err := v.Validate(context.Background(), series, testInterval, true)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		require.Len(t, result, 3)
		assert.Equal(t, base[1].Close, result[1].Close)
		assert.Equal(t, 1, report.Stats.RowsRemoved)
		assert.Contains(t, issueMessages(report), "auto-fixed: removed 1 duplicate timestamps")
	})
}

func TestValidate_Ordering(t *testing.T) {
	v := newTestValidator()
	series := tradingDays(3)
	series[0], series[2] = series[2], series[0]

	t.Run("reported_as_error_without_autofix", func(t *testing.T) {
		result, report, err := v.Validate(context.Background(), series, testInterval, false)
		require.NoError(t, err)
		assert.False(t, report.Valid)
		assert.Contains(t, issueMessages(report), "timestamps are not in ascending order")
		assert.Equal(t, series, result)
	})

	t.Run("resorted_with_autofix", func(t *testing.T) {
		result, report, err := v.Validate(context.Background(), series, testInterval, true)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		assert.True(t, result.IsSorted())
		assert.Contains(t, issueMessages(report), "auto-fixed: reordered out-of-order timestamps")
	})
}

func TestValidate_QualityChecks(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*models.Record)
		severity models.Severity
		message  string
		valid    bool
	}{
		{
			name:     "negative_price_is_error",
			mutate:   func(r *models.Record) { r.Low = "-1.00" },
			severity: models.SeverityError,
			message:  "negative prices in 1 rows",
			valid:    false,
		},
		{
			name:     "zero_price_is_warning",
			mutate:   func(r *models.Record) { r.Open = "0" },
			severity: models.SeverityWarning,
			message:  "zero prices in 1 rows",
			valid:    true,
		},
		{
			name:     "negative_volume_is_error",
			mutate:   func(r *models.Record) { r.Volume = "-5" },
			severity: models.SeverityError,
			message:  "negative volume in 1 rows",
			valid:    false,
		},
		{
			name:     "high_below_low_is_error",
			mutate:   func(r *models.Record) { r.High = "100"; r.Low = "200" },
			severity: models.SeverityError,
			message:  "high below low in 1 rows",
			valid:    false,
		},
		{
			name:     "open_outside_range_is_warning",
			mutate:   func(r *models.Record) { r.Open = "5000" },
			severity: models.SeverityWarning,
			message:  "open or close outside the high-low range in 1 rows",
			valid:    true,
		},
		{
			name:     "unparsable_value_is_warning",
			mutate:   func(r *models.Record) { r.Close = "n/a" },
			severity: models.SeverityWarning,
			message:  "unparsable numeric values in 1 rows",
			valid:    true,
		},
		{
			name:     "zero_volume_is_info",
			mutate:   func(r *models.Record) { r.Volume = "0" },
			severity: models.SeverityInfo,
			message:  "zero volume in 1 rows",
			valid:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator()
			series := tradingDays(3)
			tt.mutate(&series[1])

			result, report, err := v.Validate(context.Background(), series, testInterval, true)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, report.Valid)
			assert.Contains(t, issueMessages(report), tt.message)
			assert.Len(t, result, 3, "quality findings must not drop rows")

			found := false
			for _, issue := range report.Issues {
				if issue.Message == tt.message {
					assert.Equal(t, tt.severity, issue.Severity)
					assert.Equal(t, models.CategoryQuality, issue.Category)
					found = true
				}
			}
			assert.True(t, found)
		})
	}
}

func TestValidate_AutoFixNeverAltersValues(t *testing.T) {
	v := newTestValidator()
	series := tradingDays(3)
	series[1].Low = "-1.00"

	result, report, err := v.Validate(context.Background(), series, testInterval, true)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "-1.00", result[1].Low)
}

func TestValidate_WeekendSpacingIsNotAGap(t *testing.T) {
	v := newTestValidator()
	series := tradingDays(10)

	_, report, err := v.Validate(context.Background(), series, testInterval, false)
	require.NoError(t, err)
	assert.Empty(t, report.ByCategory(models.CategoryGaps))
}

func TestCheckGaps_Daily(t *testing.T) {
	v := newTestValidator()
	series := models.Series{
		dailyRecord(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)),
		dailyRecord(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)),
		// 6 day hole
		dailyRecord(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)),
	}

	gaps, err := v.CheckGaps(series, "1d")
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Start.Equal(series[1].Timestamp))
	assert.True(t, gaps[0].End.Equal(series[2].Timestamp))
	assert.False(t, gaps[0].Classified())
}

func TestCheckGaps_DailyWithinTolerance(t *testing.T) {
	v := newTestValidator()
	series := models.Series{
		dailyRecord(time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)),
		// Friday to Tuesday is 4 days, inside the tolerance
		dailyRecord(time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)),
	}

	gaps, err := v.CheckGaps(series, "1d")
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestCheckGaps_IntradaySkipsDayBoundary(t *testing.T) {
	v := newTestValidator()
	ist := time.FixedZone("IST", 5*3600+1800)
	hour := func(day, h, m int) models.Record {
		rec := dailyRecord(time.Date(2024, 1, day, h, m, 0, 0, ist))
		rec.Interval = "1h"
		return rec
	}
	series := models.Series{
		hour(2, 9, 15),
		hour(2, 10, 15),
		// 3 hour hole inside the same session
		hour(2, 13, 15),
		hour(2, 14, 15),
		// overnight boundary, not a gap
		hour(3, 9, 15),
	}

	gaps, err := v.CheckGaps(series, "1h")
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.True(t, gaps[0].Start.Equal(series[1].Timestamp))
	assert.True(t, gaps[0].End.Equal(series[2].Timestamp))
}

func TestCheckGaps_UnknownInterval(t *testing.T) {
	v := newTestValidator()
	_, err := v.CheckGaps(tradingDays(3), "1q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown interval")
}

func TestValidate_UnknownIntervalSkipsGapCheck(t *testing.T) {
	v := newTestValidator()

	_, report, err := v.Validate(context.Background(), tradingDays(3), "1q", false)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	gapIssues := report.ByCategory(models.CategoryGaps)
	require.Len(t, gapIssues, 1)
	assert.Contains(t, gapIssues[0].Message, "gap check skipped")
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		interval string
		want     time.Duration
	}{
		{"1m", time.Minute},
		{"30m", 30 * time.Minute},
		{"90m", 90 * time.Minute},
		{"1h", time.Hour},
		{"60m", time.Hour},
		{"1d", 24 * time.Hour},
		{"1wk", 7 * 24 * time.Hour},
		{"1mo", 30 * 24 * time.Hour},
		{"3mo", 90 * 24 * time.Hour},
		{"45m", 45 * time.Minute},
		{"4h", 4 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.interval, func(t *testing.T) {
			got, err := parseInterval(tt.interval)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseInterval("eon")
	assert.Error(t, err)
}

func TestValidate_CancelledContext(t *testing.T) {
	v := newTestValidator()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := v.Validate(ctx, tradingDays(3), testInterval, false)
	assert.ErrorIs(t, err, context.Canceled)
}
