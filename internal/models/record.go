// Package models provides the core data structures for time-series market data:
// records and series, validation reports with severity classification, gap
// records, and the per-entity synchronization job state machine.
package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Record represents one OHLCV row for a symbol at a time interval.
// Prices and volume are kept as decimal strings to avoid float drift;
// use ParseValues for arithmetic.
type Record struct {
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Open      string    `json:"open" db:"open"`
	High      string    `json:"high" db:"high"`
	Low       string    `json:"low" db:"low"`
	Close     string    `json:"close" db:"close"`
	Volume    string    `json:"volume" db:"volume"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Interval  string    `json:"interval" db:"interval"`
}

// RecordValues holds the parsed numeric fields of a record.
type RecordValues struct {
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// ValidationError represents a record validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the failure
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate performs structural validation on the record: the timestamp must be
// set, symbol and interval must be non-empty, and every numeric field must
// parse as a decimal. Quality rules such as positive prices and high/low
// ordering are assessed by the validator package with severities, not rejected
// here, so that questionable rows survive long enough to be reported.
func (r *Record) Validate() error {
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be null or zero"}
	}

	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if r.Interval == "" {
		return &ValidationError{Field: "interval", Message: "interval cannot be empty"}
	}

	if _, err := decimal.NewFromString(r.Open); err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	if _, err := decimal.NewFromString(r.High); err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	if _, err := decimal.NewFromString(r.Low); err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	if _, err := decimal.NewFromString(r.Close); err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	if _, err := decimal.NewFromString(r.Volume); err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	return nil
}

// ParseValues parses all numeric fields into decimals.
// Returns a ValidationError naming the first field that fails to parse.
func (r *Record) ParseValues() (RecordValues, error) {
	var v RecordValues
	var err error

	if v.Open, err = decimal.NewFromString(r.Open); err != nil {
		return RecordValues{}, &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	if v.High, err = decimal.NewFromString(r.High); err != nil {
		return RecordValues{}, &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	if v.Low, err = decimal.NewFromString(r.Low); err != nil {
		return RecordValues{}, &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	if v.Close, err = decimal.NewFromString(r.Close); err != nil {
		return RecordValues{}, &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	if v.Volume, err = decimal.NewFromString(r.Volume); err != nil {
		return RecordValues{}, &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	return v, nil
}

// String returns a human-readable representation of the record.
// This method implements the fmt.Stringer interface.
func (r *Record) String() string {
	return fmt.Sprintf("Record{Symbol: %s, Interval: %s, Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		r.Symbol, r.Interval, r.Timestamp.Format(time.RFC3339), r.Open, r.High, r.Low, r.Close, r.Volume)
}

// NewRecord creates a Record from decimal strings and validates its structure.
//
// Example:
//
//	rec, err := NewRecord(ts, "100.50", "101.00", "100.00", "100.75", "1000", "RELIANCE", "1d")
func NewRecord(timestamp time.Time, open, high, low, close, volume, symbol, interval string) (*Record, error) {
	rec := &Record{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Symbol:    symbol,
		Interval:  interval,
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	return rec, nil
}

// Series is an ordered collection of records for one (symbol, interval) entity.
// A well-formed series is strictly ascending by timestamp with no duplicates;
// the merger and validator are responsible for establishing that shape.
type Series []Record

// Sort orders the series ascending by timestamp, in place.
// The sort is stable so that duplicate timestamps keep their relative order
// until a dedup pass decides which occurrence survives.
func (s Series) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Timestamp.Before(s[j].Timestamp)
	})
}

// IsSorted reports whether the series is strictly ascending by timestamp.
// Equal adjacent timestamps count as unsorted because a well-formed series
// holds at most one record per timestamp.
func (s Series) IsSorted() bool {
	for i := 1; i < len(s); i++ {
		if !s[i].Timestamp.After(s[i-1].Timestamp) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the series so callers can mutate the result
// without affecting the original backing array.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// Timestamps returns the timestamps of the series in their current order.
func (s Series) Timestamps() []time.Time {
	out := make([]time.Time, len(s))
	for i := range s {
		out[i] = s[i].Timestamp
	}
	return out
}

// Span returns the earliest and latest timestamps in the series.
// ok is false when the series is empty. The series does not need to be sorted.
func (s Series) Span() (start, end time.Time, ok bool) {
	if len(s) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end = s[0].Timestamp, s[0].Timestamp
	for i := 1; i < len(s); i++ {
		if s[i].Timestamp.Before(start) {
			start = s[i].Timestamp
		}
		if s[i].Timestamp.After(end) {
			end = s[i].Timestamp
		}
	}
	return start, end, true
}
