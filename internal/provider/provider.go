// Package provider defines the external market-data contract and its
// chart REST implementation. A provider returns raw OHLCV rows for a symbol
// and interval over either a relative lookback period or an absolute date
// range; an empty result means "no new data", not an error.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tsengine/go-marketsync/internal/models"
)

// FetchRequest describes one fetch: a symbol, an interval, and exactly one
// of a relative Period ("7d", "max") or an absolute [Start, End) range.
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
	Period   string
}

// Validate checks that the request carries a symbol, an interval, and
// exactly one window form.
func (r FetchRequest) Validate() error {
	if r.Symbol == "" {
		return errors.New("symbol is required")
	}
	if r.Interval == "" {
		return errors.New("interval is required")
	}
	if r.Period == "" && r.Start.IsZero() {
		return errors.New("either a period or a date range is required")
	}
	if r.Period != "" && !r.Start.IsZero() {
		return errors.New("period and date range are mutually exclusive")
	}
	if r.Period == "" && !r.End.After(r.Start) {
		return errors.New("range end must be after range start")
	}
	return nil
}

// Provider is the external market-data collaborator.
type Provider interface {
	// Fetch returns the rows available in the requested window. An empty
	// series with a nil error means the window holds no new data.
	Fetch(ctx context.Context, req FetchRequest) (models.Series, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}

// FetchError describes a failed provider request. Retryable distinguishes
// transient faults (network errors, 5xx, rate limiting) from permanent ones
// (4xx, malformed payloads).
type FetchError struct {
	Symbol     string
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s for %s failed with status %d: %v", e.Op, e.Symbol, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s for %s failed: %v", e.Op, e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether retrying the request could succeed.
func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

// NewFetchError creates a FetchError.
func NewFetchError(symbol, op string, statusCode int, retryable bool, err error) *FetchError {
	return &FetchError{
		Symbol:     symbol,
		Op:         op,
		StatusCode: statusCode,
		Retryable:  retryable,
		Err:        err,
	}
}
