package gaps

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsengine/go-marketsync/internal/logger"
	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/validator"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newGap(t *testing.T, interval string, start, end time.Time) *models.GapRecord {
	t.Helper()
	gap, err := models.NewGapRecord("RELIANCE", interval, start, end)
	require.NoError(t, err)
	return gap
}

func TestCalendar_Weekend(t *testing.T) {
	cal := DefaultCalendar()

	assert.True(t, cal.IsWeekend(day(2024, time.January, 6)))  // Saturday
	assert.True(t, cal.IsWeekend(day(2024, time.January, 7)))  // Sunday
	assert.False(t, cal.IsWeekend(day(2024, time.January, 5))) // Friday
}

func TestCalendar_Holiday(t *testing.T) {
	cal := DefaultCalendar()

	assert.True(t, cal.IsHoliday(day(2024, time.January, 26)))  // Republic Day
	assert.True(t, cal.IsHoliday(day(2024, time.December, 25))) // Christmas
	assert.False(t, cal.IsHoliday(day(2024, time.January, 25)))
}

func TestCalendar_TradingDay(t *testing.T) {
	cal := DefaultCalendar()

	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{name: "regular_weekday", date: day(2024, time.January, 3), want: true},
		{name: "saturday", date: day(2024, time.January, 6), want: false},
		{name: "republic_day", date: day(2024, time.January, 26), want: false},
		{name: "diwali", date: day(2024, time.November, 1), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cal.IsTradingDay(tt.date))
		})
	}
}

func TestCalendar_CustomHolidays(t *testing.T) {
	cal := NewCalendar([]time.Time{day(2025, time.March, 14)})

	assert.True(t, cal.IsHoliday(day(2025, time.March, 14)))
	assert.False(t, cal.IsHoliday(day(2024, time.January, 26)))
}

func TestClassify_WeekendGap(t *testing.T) {
	c := NewClassifier(DefaultCalendar(), nil, logger.Discard())

	// Friday close to Monday open: Saturday and Sunday are the only missing days.
	gap := newGap(t, "1d", day(2024, time.January, 5), day(2024, time.January, 8))
	require.NoError(t, c.Classify(gap))

	assert.Equal(t, models.GapReasonWeekend, gap.Reason)
	assert.True(t, gap.Expected)
	assert.False(t, gap.Fixable)
}

func TestClassify_HolidayGap(t *testing.T) {
	c := NewClassifier(DefaultCalendar(), nil, logger.Discard())

	// Thursday Jan 25 to Monday Jan 29: missing Friday Jan 26 (Republic Day)
	// plus the weekend.
	gap := newGap(t, "1d", day(2024, time.January, 25), day(2024, time.January, 29))
	require.NoError(t, c.Classify(gap))

	assert.Equal(t, models.GapReasonHoliday, gap.Reason)
	assert.True(t, gap.Expected)
	assert.False(t, gap.Fixable)
}

func TestClassify_MissedTradingDays(t *testing.T) {
	c := NewClassifier(DefaultCalendar(), nil, logger.Discard())

	// Jan 2 to Jan 9 misses Wed Jan 3, Thu Jan 4, Fri Jan 5 and Mon Jan 8.
	gap := newGap(t, "1d", day(2024, time.January, 2), day(2024, time.January, 9))
	require.NoError(t, c.Classify(gap))

	assert.Equal(t, models.GapReasonTradingDay, gap.Reason)
	assert.False(t, gap.Expected)
	assert.True(t, gap.Fixable)
	assert.Contains(t, gap.Message, "4 missed trading days")
	assert.Contains(t, gap.Message, "2024-01-03")
	assert.Contains(t, gap.Message, "2024-01-08")
}

func TestClassify_SubDailyStaysUnclassified(t *testing.T) {
	c := NewClassifier(DefaultCalendar(), nil, logger.Discard())

	start := time.Date(2024, time.January, 3, 10, 0, 0, 0, time.UTC)
	gap := newGap(t, "5m", start, start.Add(30*time.Minute))
	require.NoError(t, c.Classify(gap))

	assert.False(t, gap.Classified())
	assert.False(t, gap.Expected)
	assert.False(t, gap.Fixable)
}

func TestClassify_AdjacentDaysHaveNoMissingDays(t *testing.T) {
	c := NewClassifier(DefaultCalendar(), nil, logger.Discard())

	// Consecutive calendar days leave nothing strictly between them.
	gap := newGap(t, "1d", day(2024, time.January, 3).Add(26*time.Hour), day(2024, time.January, 5))
	require.NoError(t, c.Classify(gap))

	assert.False(t, gap.Classified())
}

func TestFindGaps_EndToEnd(t *testing.T) {
	v := validator.New(validator.ValidationConfig{MaxDailyGapDays: 1}, logger.Discard())
	c := NewClassifier(DefaultCalendar(), v, logger.Discard())

	record := func(d time.Time) models.Record {
		return models.Record{
			Symbol:    "RELIANCE",
			Timestamp: d,
			Open:      "100",
			High:      "110",
			Low:       "90",
			Close:     "105",
			Volume:    "1000",
		}
	}

	series := models.Series{
		record(day(2024, time.January, 5)),  // Friday
		record(day(2024, time.January, 8)),  // Monday
		record(day(2024, time.January, 12)), // Friday, skipping Tue-Thu
	}

	gaps, err := c.FindGaps(context.Background(), series, "1d")
	require.NoError(t, err)
	require.Len(t, gaps, 2)

	assert.Equal(t, models.GapReasonWeekend, gaps[0].Reason)
	assert.True(t, gaps[0].Expected)

	assert.Equal(t, models.GapReasonTradingDay, gaps[1].Reason)
	assert.True(t, gaps[1].Fixable)
	assert.NotEmpty(t, gaps[1].ID)
	assert.Equal(t, "RELIANCE", gaps[1].Symbol)
}

func TestFindGaps_DetectorError(t *testing.T) {
	c := NewClassifier(DefaultCalendar(), failingDetector{}, logger.Discard())

	gaps, err := c.FindGaps(context.Background(), models.Series{}, "1d")
	require.Error(t, err)
	assert.Nil(t, gaps)
	assert.Contains(t, err.Error(), "gap detection failed")
}

func TestFindGaps_CancelledContext(t *testing.T) {
	c := NewClassifier(DefaultCalendar(), failingDetector{}, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FindGaps(ctx, models.Series{}, "1d")
	assert.ErrorIs(t, err, context.Canceled)
}

type failingDetector struct{}

func (failingDetector) CheckGaps(models.Series, string) ([]models.GapRecord, error) {
	return nil, fmt.Errorf("detector exploded")
}
