package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/emilythestrangee/updown/backend/internal/metrics"
)

// RetryPolicy bounds how a job run is retried.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// BaseDelay is the wait after the first failure. It doubles after
	// every further failure.
	BaseDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: time.Second}
}

// Backoff is the wait after the failed attempt with the given zero-based
// index.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(1<<attempt)
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// runWithRetry calls fn until it succeeds or the policy is exhausted. Each
// failure is logged at error level; exhaustion is logged at fatal level
// without exiting the process. The returned error is for tests and
// metrics, callers on the schedule ignore it.
func runWithRetry(ctx context.Context, log zerolog.Logger, name string, p RetryPolicy, sleep sleepFunc, fn func(ctx context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == p.Attempts-1 {
			break
		}

		wait := p.Backoff(attempt)
		log.Error().Err(lastErr).
			Int("attempt", attempt+1).
			Int("attempts", p.Attempts).
			Dur("retry_in", wait).
			Msg("job attempt failed")
		metrics.RecordJobRetry(name)

		if err := sleep(ctx, wait); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.WithLevel(zerolog.FatalLevel).Err(lastErr).
					Int("attempts", attempt+1).
					Msg("job run out of time, waiting for next tick")
				return fmt.Errorf("job %s abandoned after %d attempts: %w", name, attempt+1, lastErr)
			}
			return err
		}
	}

	log.WithLevel(zerolog.FatalLevel).Err(lastErr).
		Int("attempts", p.Attempts).
		Msg("all job attempts failed, waiting for next tick")
	return fmt.Errorf("job %s failed after %d attempts: %w", name, p.Attempts, lastErr)
}
