// Package retry wraps transient operations in exponential backoff and keeps
// a durable ledger of download failures for later reporting.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tsengine/go-marketsync/internal/config"
)

// ErrRetryExhausted marks errors returned after all attempts failed.
// Match with errors.Is.
var ErrRetryExhausted = errors.New("retry attempts exhausted")

// Policy controls retry behavior. MaxRetries counts total attempts, so
// MaxRetries=3 means one initial try plus two retries.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Jitter        float64
}

// DefaultPolicy returns the standard policy: 3 attempts, 1s initial delay
// doubling up to 60s, no jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      time.Minute,
		Jitter:        0,
	}
}

// FromConfig builds a policy from the retry configuration section.
func FromConfig(cfg config.RetryConfig) Policy {
	policy := DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	policy.InitialDelay = cfg.InitialDelayDuration()
	if cfg.BackoffFactor > 0 {
		policy.BackoffFactor = cfg.BackoffFactor
	}
	policy.MaxDelay = cfg.MaxDelayDuration()
	if cfg.Jitter >= 0 && cfg.Jitter < 1 {
		policy.Jitter = cfg.Jitter
	}
	return policy
}

// ExhaustedError wraps the last error after all attempts failed.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetryExhausted
}

// retryable lets error types opt out of retries without this package
// knowing their concrete type.
type retryable interface {
	IsRetryable() bool
}

// Do runs op under the policy, retrying transient failures with exponential
// backoff. Errors implementing IsRetryable() false stop immediately and are
// returned unchanged, as are context errors. When every attempt fails the
// last error is wrapped in an ExhaustedError.
func Do(ctx context.Context, policy Policy, logger *slog.Logger, name string, op func() error) error {
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := policy.MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialDelay
	bo.Multiplier = policy.BackoffFactor
	bo.MaxInterval = policy.MaxDelay
	bo.RandomizationFactor = policy.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()

	attempts := 0
	permanent := false
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		var r retryable
		if errors.As(err, &r) && !r.IsRetryable() {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("operation failed, retrying",
			slog.String("operation", name),
			slog.Int("attempt", attempts),
			slog.Duration("next_delay", next),
			slog.String("error", err.Error()))
	}

	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(maxAttempts-1)), ctx)
	err := backoff.RetryNotify(wrapped, b, notify)
	if err == nil {
		return nil
	}
	if permanent {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ExhaustedError{Op: name, Attempts: attempts, Err: err}
}
