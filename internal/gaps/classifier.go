package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tsengine/go-marketsync/internal/models"
)

// GapDetector finds raw continuity holes in a series.
type GapDetector interface {
	CheckGaps(series models.Series, interval string) ([]models.GapRecord, error)
}

// Classifier stamps detected gaps with a calendar verdict.
type Classifier struct {
	calendar *Calendar
	detector GapDetector
	logger   *slog.Logger
}

// NewClassifier creates a classifier over the given calendar and detector.
func NewClassifier(calendar *Calendar, detector GapDetector, logger *slog.Logger) *Classifier {
	if calendar == nil {
		calendar = DefaultCalendar()
	}
	if logger == nil {
		logger = slog.Default().With(slog.String("component", "gap_classifier"))
	}
	return &Classifier{calendar: calendar, detector: detector, logger: logger}
}

// FindGaps detects and classifies all gaps in the series.
func (c *Classifier) FindGaps(ctx context.Context, series models.Series, interval string) ([]models.GapRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gaps, err := c.detector.CheckGaps(series, interval)
	if err != nil {
		return nil, fmt.Errorf("gap detection failed: %w", err)
	}
	for i := range gaps {
		if err := c.Classify(&gaps[i]); err != nil {
			return nil, err
		}
	}
	if len(gaps) > 0 {
		c.logger.Debug("gaps classified",
			slog.String("interval", interval),
			slog.Int("total", len(gaps)),
			slog.Int("fixable", countFixable(gaps)))
	}
	return gaps, nil
}

// Classify inspects every missing calendar day inside the gap window.
// All weekend days → expected weekend gap. Weekend or holiday days →
// expected holiday gap. Any missed trading day → fixable gap. Only daily
// series get a verdict; other grains stay unclassified.
func (c *Classifier) Classify(gap *models.GapRecord) error {
	if gap.Interval != "1d" {
		return nil
	}
	days := gap.MissingDays()
	if len(days) == 0 {
		return nil
	}

	weekends := 0
	holidays := 0
	var missedTrading []string
	for _, day := range days {
		switch {
		case c.calendar.IsWeekend(day):
			weekends++
		case c.calendar.IsHoliday(day):
			holidays++
		default:
			missedTrading = append(missedTrading, day.Format(dateKeyLayout))
		}
	}

	switch {
	case len(missedTrading) > 0:
		return gap.Classify(models.GapReasonTradingDay,
			fmt.Sprintf("%d missed trading days: %s", len(missedTrading), strings.Join(missedTrading, ", ")))
	case holidays > 0:
		return gap.Classify(models.GapReasonHoliday,
			fmt.Sprintf("%d missing days are market holidays or weekends", len(days)))
	default:
		return gap.Classify(models.GapReasonWeekend,
			fmt.Sprintf("all %d missing days fall on weekends", len(days)))
	}
}

func countFixable(gaps []models.GapRecord) int {
	n := 0
	for i := range gaps {
		if gaps[i].Fixable {
			n++
		}
	}
	return n
}
