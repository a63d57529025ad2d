package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/mwidz/offerlens/internal/model"
)

// Budget bounds how often an operation is re-attempted after a failure.
type Budget struct {
	MaxRetries int           // additional attempts after the first failure
	BaseDelay  time.Duration // delay before the first retry, doubled each retry
}

// Do runs fn, retrying failures that retryable accepts, with exponential
// backoff and ±30% jitter between attempts. The total number of attempts is
// 1 + b.MaxRetries. Context cancellation stops retrying immediately.
func Do(ctx context.Context, b Budget, logger *slog.Logger, retryable func(error) bool, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if !retryable(err) {
		return err
	}

	lastErr := err
	for attempt := 1; attempt <= b.MaxRetries; attempt++ {
		delay := backoffDelay(b.BaseDelay, attempt, lastErr)

		logger.Warn("retrying after transient error",
			"attempt", attempt,
			"max_retries", b.MaxRetries,
			"delay", delay,
			"error", lastErr,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}

		if err := fn(); err == nil {
			return nil
		} else if !retryable(err) {
			return err
		} else {
			lastErr = err
		}
	}

	return lastErr
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// If the error carries a Retry-After duration (HTTP 429), that takes precedence.
func backoffDelay(base time.Duration, attempt int, err error) time.Duration {
	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	// Exponential: base * 2^(attempt-1)
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// Transient reports whether err represents a transient failure worth retrying:
// HTTP 429 and 5xx, plus non-HTTP network errors. Context cancellation is
// never retried.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var httpErr *model.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 429 {
			return true
		}
		return httpErr.StatusCode >= 500
	}

	// Non-HTTP errors (network, DNS, etc.) are assumed transient.
	return true
}
