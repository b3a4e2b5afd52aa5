package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GapReason explains why a stretch of missing rows exists.
// The set is closed; the zero value means the gap has not been classified.
type GapReason string

const (
	// GapReasonWeekend covers gaps that fall entirely on weekend days
	GapReasonWeekend GapReason = "weekend"
	// GapReasonHoliday covers gaps whose non-weekend days are all market holidays
	GapReasonHoliday GapReason = "holiday"
	// GapReasonTradingDay marks gaps that include at least one missed trading day
	GapReasonTradingDay GapReason = "trading_day"
)

// IsValid reports whether the reason is one of the defined constants.
// The empty string is not a valid reason; it marks an unclassified gap.
func (r GapReason) IsValid() bool {
	switch r {
	case GapReasonWeekend, GapReasonHoliday, GapReasonTradingDay:
		return true
	default:
		return false
	}
}

// GapRecord describes a stretch of missing rows between two observed
// timestamps of a series. Start and End are the observed rows on either side
// of the hole, so the missing period is the open interval (Start, End).
// Expected and Fixable are set by calendar classification: weekend and holiday
// gaps are expected and never fixable, missed trading days are fixable.
type GapRecord struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Interval   string    `json:"interval"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Expected   bool      `json:"expected"`
	Reason     GapReason `json:"reason,omitempty"`
	Fixable    bool      `json:"fixable"`
	Message    string    `json:"message,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// NewGapRecord creates an unclassified gap between two observed timestamps.
// Returns an error if the bounds are inconsistent.
func NewGapRecord(symbol, interval string, start, end time.Time) (*GapRecord, error) {
	gap := &GapRecord{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Interval:   interval,
		Start:      start,
		End:        end,
		DetectedAt: time.Now().UTC(),
	}

	if err := gap.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gap: %w", err)
	}

	return gap, nil
}

// Validate checks that the gap record is internally consistent.
func (g *GapRecord) Validate() error {
	if g.ID == "" {
		return errors.New("gap ID cannot be empty")
	}
	if g.Symbol == "" {
		return errors.New("gap symbol cannot be empty")
	}
	if g.Interval == "" {
		return errors.New("gap interval cannot be empty")
	}
	if g.Start.IsZero() {
		return errors.New("gap start time cannot be zero")
	}
	if g.End.IsZero() {
		return errors.New("gap end time cannot be zero")
	}
	if !g.End.After(g.Start) {
		return errors.New("gap end time must be after start time")
	}
	if g.Reason != "" && !g.Reason.IsValid() {
		return fmt.Errorf("invalid gap reason: %s", g.Reason)
	}

	// Expected gaps carry a reason and are never fixable.
	if g.Expected && !g.Reason.IsValid() {
		return errors.New("expected gaps must carry a reason")
	}
	if g.Expected && g.Fixable {
		return errors.New("expected gaps cannot be fixable")
	}

	return nil
}

// Classify stamps the gap with its calendar verdict.
// Weekend and holiday gaps are expected and not fixable; a gap containing a
// missed trading day is unexpected and fixable.
func (g *GapRecord) Classify(reason GapReason, message string) error {
	if !reason.IsValid() {
		return fmt.Errorf("invalid gap reason: %s", reason)
	}

	g.Reason = reason
	g.Message = message
	g.Expected = reason == GapReasonWeekend || reason == GapReasonHoliday
	g.Fixable = reason == GapReasonTradingDay

	return nil
}

// Classified reports whether the gap has been through calendar classification.
func (g *GapRecord) Classified() bool {
	return g.Reason.IsValid()
}

// Duration returns the time span between the observed rows bounding the gap.
func (g *GapRecord) Duration() time.Duration {
	return g.End.Sub(g.Start)
}

// MissingDays returns the calendar days strictly between Start and End,
// in the location of the bounding timestamps. These are the candidate days a
// daily-grain gap is judged on.
func (g *GapRecord) MissingDays() []time.Time {
	var days []time.Time
	loc := g.Start.Location()
	day := time.Date(g.Start.Year(), g.Start.Month(), g.Start.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	endDay := time.Date(g.End.Year(), g.End.Month(), g.End.Day(), 0, 0, 0, 0, loc)
	for day.Before(endDay) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// String returns a human-readable representation of the gap.
// This method implements the fmt.Stringer interface.
func (g *GapRecord) String() string {
	reason := string(g.Reason)
	if reason == "" {
		reason = "unclassified"
	}
	return fmt.Sprintf("Gap{Symbol: %s, Interval: %s, %s -> %s, Reason: %s, Fixable: %t}",
		g.Symbol, g.Interval, g.Start.Format("2006-01-02"), g.End.Format("2006-01-02"), reason, g.Fixable)
}
