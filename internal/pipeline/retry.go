package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/set-night/scrapebot/internal/domain"
)

// RetryPolicy bounds a call to an external collaborator. Attempt n waits
// Backoff * 2^(n-1) before running; each attempt gets its own Timeout.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// retry runs fn until it succeeds, fails permanently or runs out of
// attempts. Only transient failures are retried. An attempt that hits its
// own timeout while ctx is still live counts as transient.
func retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	attempts := max(p.Attempts, 1)
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			wait := p.Backoff * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		v, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if !isTransient(err) {
			return zero, err
		}
		slog.Warn("transient failure, retrying", "op", op, "attempt", attempt+1, "error", err)
	}
	return zero, lastErr
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}
