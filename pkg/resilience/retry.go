package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds configuration for the fixed-delay retry loop.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, including the first call.
	MaxAttempts int
	// Delay is the fixed pause between attempts.
	Delay time.Duration
	// RetryIf classifies an attempt error as retryable. Nil means every
	// non-nil error is retried. Kept pluggable so tightening the policy is a
	// one-line change at the call site.
	RetryIf func(error) bool
}

// DefaultRetryConfig returns the reply-generation retry policy: three
// attempts with a fixed one-second pause.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       1000 * time.Millisecond,
	}
}

// RetryableFunc is one attempt of the guarded operation.
type RetryableFunc func(ctx context.Context) error

// Retry executes fn up to cfg.MaxAttempts times with a fixed delay between
// attempts. It respects context cancellation before each attempt and during
// backoff.
func Retry(ctx context.Context, cfg RetryConfig, fn RetryableFunc) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = func(error) bool { return true }
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry: context cancelled: %w", ctx.Err())
		default:
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		if !retryIf(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry: context cancelled during backoff: %w", ctx.Err())
		case <-time.After(cfg.Delay):
		}
	}

	return fmt.Errorf("retry: %d attempts exhausted: %w", attempts, lastErr)
}
