// Package planner computes the next fetch window for an entity from its
// metadata cursor and the provider's per-interval history limits.
package planner

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tsengine/go-marketsync/internal/metadata"
)

// dateLayout is the calendar-day format accepted for explicit target dates.
const dateLayout = "2006-01-02"

// ErrInvalidDateFormat reports a target date that does not parse as YYYY-MM-DD.
var ErrInvalidDateFormat = errors.New("invalid date format, expected YYYY-MM-DD")

// lookbackLimits caps how far back the provider serves each interval, in
// days. Intervals absent from the table have unlimited history.
var lookbackLimits = map[string]int{
	"1m":  7,
	"2m":  60,
	"5m":  60,
	"15m": 60,
	"30m": 60,
	"60m": 730,
	"90m": 60,
	"1h":  730,
}

// MaxLookback returns the provider's history cap for the interval in days.
// limited is false when the interval's history is unlimited.
func MaxLookback(interval string) (days int, limited bool) {
	days, limited = lookbackLimits[interval]
	return days, limited
}

// FullLookback returns the period token covering the interval's whole
// permitted history: "max" for unlimited intervals, "<N>d" for capped ones.
func FullLookback(interval string) string {
	if days, limited := MaxLookback(interval); limited {
		return fmt.Sprintf("%dd", days)
	}
	return "max"
}

// Window is one fetch request: either an absolute [Start, End) range or a
// relative lookback period, never both.
type Window struct {
	Start  time.Time
	End    time.Time
	Period string
}

// IsRange reports whether the window carries absolute bounds.
func (w Window) IsRange() bool {
	return w.Period == "" && !w.Start.IsZero()
}

// IsPeriod reports whether the window is a relative lookback token.
func (w Window) IsPeriod() bool {
	return w.Period != ""
}

// String returns a human-readable representation of the window.
func (w Window) String() string {
	if w.IsPeriod() {
		return fmt.Sprintf("period %s", w.Period)
	}
	return fmt.Sprintf("%s to %s", w.Start.Format(dateLayout), w.End.Format(dateLayout))
}

// Planner decides fetch windows.
type Planner struct {
	logger *slog.Logger
}

// New creates a planner.
func New(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "planner"))
	}
	return &Planner{logger: logger}
}

// Plan computes the next window for the entity described by meta.
//
// An explicit target date wins: the window is exactly that calendar day,
// cursor ignored. Without a cursor the window is the interval's full
// permitted lookback as a period token. With a cursor the window runs from
// the resume point to now; overlap with the last stored day is deliberate,
// merging deduplicates. The range may come out empty when the cursor already
// sits at today; the provider then returns no new data.
func (p *Planner) Plan(meta *metadata.Record, targetDate string, now time.Time) (Window, error) {
	if targetDate != "" {
		day, err := time.Parse(dateLayout, targetDate)
		if err != nil {
			return Window{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, targetDate)
		}
		return Window{Start: day, End: day.AddDate(0, 0, 1)}, nil
	}

	var next time.Time
	var ok bool
	interval := ""
	if meta != nil {
		next, ok = meta.NextFetchDate()
		interval = meta.Interval
	}
	if !ok {
		period := FullLookback(interval)
		p.logger.Debug("no cursor, planning full lookback",
			slog.String("interval", interval),
			slog.String("period", period))
		return Window{Period: period}, nil
	}

	window := Window{Start: truncateDay(next), End: truncateDay(now)}
	p.logger.Debug("incremental window planned",
		slog.String("symbol", meta.Symbol),
		slog.String("interval", interval),
		slog.String("window", window.String()))
	return window, nil
}

// ClampPeriod shrinks a requested period to the interval's history cap.
// Unlimited intervals pass the request through unchanged; "max" on a capped
// interval becomes the cap, and so does an unparsable token.
func (p *Planner) ClampPeriod(interval, period string) string {
	maxDays, limited := MaxLookback(interval)
	if !limited {
		return period
	}
	capped := fmt.Sprintf("%dd", maxDays)
	if period == "max" {
		return capped
	}

	requested, err := periodDays(period)
	if err != nil {
		p.logger.Warn("unparsable period, using the interval cap",
			slog.String("period", period),
			slog.String("interval", interval),
			slog.String("adjusted", capped))
		return capped
	}
	if requested > maxDays {
		p.logger.Warn("period exceeds the interval cap, clamping",
			slog.String("period", period),
			slog.String("interval", interval),
			slog.String("adjusted", capped))
		return capped
	}
	return period
}

// periodDays converts a relative period token to a day count.
func periodDays(period string) (int, error) {
	for _, unit := range []struct {
		suffix string
		days   int
	}{
		{"mo", 30},
		{"wk", 7},
		{"y", 365},
		{"d", 1},
	} {
		if !strings.HasSuffix(period, unit.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(period, unit.suffix))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid period %q", period)
		}
		return n * unit.days, nil
	}
	return 0, fmt.Errorf("invalid period %q", period)
}

func truncateDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
