package jobs

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/updown/backend/internal/metrics"
)

// recordSleep returns a sleepFunc that records waits without sleeping.
func recordSleep(waits *[]time.Duration) sleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, 2*time.Second, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(2))
}

func TestRunWithRetryRecovers(t *testing.T) {
	var (
		waits []time.Duration
		calls int
	)
	retries := testutil.ToFloat64(metrics.JobRetries.WithLabelValues("recovers"))

	err := runWithRetry(context.Background(), zerolog.Nop(), "recovers", DefaultRetryPolicy(), recordSleep(&waits), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
	assert.Equal(t, retries+2, testutil.ToFloat64(metrics.JobRetries.WithLabelValues("recovers")))
}

func TestRunWithRetryExhaustsAndLogsFatal(t *testing.T) {
	var (
		buf   bytes.Buffer
		waits []time.Duration
		calls int
	)
	cause := errors.New("store unreachable")

	err := runWithRetry(context.Background(), zerolog.New(&buf), "exhausts", DefaultRetryPolicy(), recordSleep(&waits), func(context.Context) error {
		calls++
		return cause
	})

	require.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
	assert.Len(t, waits, 2, "no wait after the last attempt")
	assert.Contains(t, buf.String(), `"level":"fatal"`)
	assert.Contains(t, buf.String(), "all job attempts failed")
}

func TestRunWithRetryStopsWaitingOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int

	err := runWithRetry(ctx, zerolog.Nop(), "cancelled", DefaultRetryPolicy(), func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	}, func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRunWithRetryAtLeastOneAttempt(t *testing.T) {
	var calls int
	err := runWithRetry(context.Background(), zerolog.Nop(), "zero", RetryPolicy{}, sleepCtx, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestSchedulerRunOnce(t *testing.T) {
	var waits []time.Duration
	failures := testutil.ToFloat64(metrics.JobRuns.WithLabelValues("always-fails", "failure"))

	s := NewScheduler(DefaultRetryPolicy(),
		Job{Name: "always-fails", Interval: time.Hour, Run: func(context.Context) error { return errors.New("nope") }},
		Job{Name: "ok", Interval: time.Hour, Run: func(context.Context) error { return nil }},
	)
	s.sleep = recordSleep(&waits)

	assert.Error(t, s.RunOnce(context.Background(), "always-fails"))
	assert.Equal(t, failures+1, testutil.ToFloat64(metrics.JobRuns.WithLabelValues("always-fails", "failure")))
	assert.NoError(t, s.RunOnce(context.Background(), "ok"))
	assert.Error(t, s.RunOnce(context.Background(), "missing"))
}

func TestSchedulerJobBodyOutlivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	s := NewScheduler(DefaultRetryPolicy(), Job{Name: "body", Interval: time.Hour, Run: func(ctx context.Context) error {
		seen = ctx.Err()
		return nil
	}})

	require.NoError(t, s.RunOnce(ctx, "body"))
	assert.NoError(t, seen)
}

func TestSchedulerFailingJobDoesNotBlockOthers(t *testing.T) {
	var healthy, failing atomic.Int32
	s := NewScheduler(RetryPolicy{Attempts: 1, BaseDelay: time.Millisecond},
		Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("down")
		}},
		Job{Name: "healthy", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
			healthy.Add(1)
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool {
		return healthy.Load() >= 3 && failing.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond, "failing job keeps its schedule and does not stop the other")

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewSchedulerRejectsDuplicateNames(t *testing.T) {
	job := Job{Name: "twice", Interval: time.Second, Run: func(context.Context) error { return nil }}
	assert.Panics(t, func() { NewScheduler(DefaultRetryPolicy(), job, job) })
}

func TestSchedulerString(t *testing.T) {
	assert.Equal(t, "reconciliation-scheduler", NewScheduler(DefaultRetryPolicy()).String())
}

func TestSchedulerHungRunDoesNotDisableJob(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	var runs atomic.Int32
	s := NewScheduler(RetryPolicy{Attempts: 1},
		Job{Name: "hangs-once", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			if runs.Add(1) == 1 {
				<-release
			}
			return nil
		}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 4 }, 2*time.Second, 5*time.Millisecond,
		"ticks after a stuck run still start new runs")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerAttemptHasDeadline(t *testing.T) {
	var (
		hasDeadline bool
		remaining   time.Duration
	)
	s := NewScheduler(DefaultRetryPolicy(), Job{Name: "deadline", Interval: time.Minute, Run: func(ctx context.Context) error {
		var d time.Time
		d, hasDeadline = ctx.Deadline()
		remaining = time.Until(d)
		return nil
	}})

	require.NoError(t, s.RunOnce(context.Background(), "deadline"))
	assert.True(t, hasDeadline)
	assert.LessOrEqual(t, remaining, time.Minute)
	assert.Greater(t, remaining, 50*time.Second)
}

func TestSchedulerAbandonedRunLogsFatal(t *testing.T) {
	var buf bytes.Buffer
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	err := runWithRetry(context.Background(), zerolog.New(&buf), "stuck", RetryPolicy{Attempts: 1}, sleepCtx, func(ctx context.Context) error {
		return attempt(ctx, time.Now().Add(20*time.Millisecond), func(context.Context) error {
			<-release
			return nil
		})
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, buf.String(), `"level":"fatal"`)
}

func TestSchedulerRecoversPanickingJob(t *testing.T) {
	var waits []time.Duration
	s := NewScheduler(DefaultRetryPolicy(), Job{Name: "panics", Interval: time.Hour, Run: func(context.Context) error {
		var m map[string]int
		m["boom"]++
		return nil
	}})
	s.sleep = recordSleep(&waits)

	var err error
	require.NotPanics(t, func() { err = s.RunOnce(context.Background(), "panics") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job panicked")
	assert.Len(t, waits, 2, "a panic is retried like any failure")
}
