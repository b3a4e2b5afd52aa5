// Package gaps classifies series continuity holes against the trading
// calendar. Weekend and holiday gaps are expected; a missed trading day
// means data is genuinely absent and can be refetched.
package gaps

import (
	"time"
)

const dateKeyLayout = "2006-01-02"

// nseHolidays lists NSE trading holidays bundled as the default calendar.
// Extend per year as the exchange publishes them.
var nseHolidays = []string{
	"2024-01-26", // Republic Day
	"2024-03-08", // Mahashivratri
	"2024-03-25", // Holi
	"2024-03-29", // Good Friday
	"2024-04-11", // Eid al-Fitr
	"2024-04-17", // Ram Navami
	"2024-04-21", // Mahavir Jayanti
	"2024-05-01", // Maharashtra Day
	"2024-06-17", // Eid al-Adha
	"2024-07-17", // Muharram
	"2024-08-15", // Independence Day
	"2024-08-26", // Janmashtami
	"2024-10-02", // Gandhi Jayanti
	"2024-10-12", // Dussehra
	"2024-11-01", // Diwali
	"2024-11-15", // Guru Nanak Jayanti
	"2024-12-25", // Christmas
}

// Calendar answers whether a given day trades. Weekends are Saturday and
// Sunday; holidays are an explicit date set.
type Calendar struct {
	holidays map[string]bool
}

// NewCalendar builds a calendar from explicit holiday dates. The time of
// day is ignored; each date counts in its own location.
func NewCalendar(holidays []time.Time) *Calendar {
	set := make(map[string]bool, len(holidays))
	for _, day := range holidays {
		set[day.Format(dateKeyLayout)] = true
	}
	return &Calendar{holidays: set}
}

// DefaultCalendar returns a calendar preloaded with the bundled NSE
// holiday list.
func DefaultCalendar() *Calendar {
	days := make([]time.Time, 0, len(nseHolidays))
	for _, s := range nseHolidays {
		if day, err := time.Parse(dateKeyLayout, s); err == nil {
			days = append(days, day)
		}
	}
	return NewCalendar(days)
}

// IsWeekend reports whether the day is a Saturday or Sunday.
func (c *Calendar) IsWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// IsHoliday reports whether the day is in the holiday set.
func (c *Calendar) IsHoliday(day time.Time) bool {
	return c.holidays[day.Format(dateKeyLayout)]
}

// IsTradingDay reports whether the market is open on the day.
func (c *Calendar) IsTradingDay(day time.Time) bool {
	return !c.IsWeekend(day) && !c.IsHoliday(day)
}
