package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emilythestrangee/updown/backend/internal/logging"
	"github.com/emilythestrangee/updown/backend/internal/metrics"
)

// Job is one periodic unit of work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives a fixed set of jobs, each on its own ticker. A run is
// bounded by its job's interval, so a stuck attempt costs at most one tick
// and never holds up another job.
//
// Scheduler implements suture.Service.
type Scheduler struct {
	jobs   map[string]Job
	order  []string
	policy RetryPolicy
	sleep  sleepFunc
}

func NewScheduler(policy RetryPolicy, jobs ...Job) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]Job, len(jobs)),
		policy: policy,
		sleep:  sleepCtx,
	}
	for _, j := range jobs {
		if _, dup := s.jobs[j.Name]; dup {
			panic(fmt.Sprintf("jobs: duplicate job %q", j.Name))
		}
		s.jobs[j.Name] = j
		s.order = append(s.order, j.Name)
	}
	return s
}

// Serve runs every job until ctx is done. The first run of each job
// happens one interval after start.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Strs("jobs", s.order).Msg("scheduler started")

	var wg sync.WaitGroup
	for _, name := range s.order {
		job := s.jobs[name]
		wg.Go(func() { s.loop(ctx, job) })
	}
	wg.Wait()

	logging.Info().Msg("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "reconciliation-scheduler"
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.run(ctx, job)
		}
	}
}

// RunOnce runs the named job through the retry policy and returns its
// final error.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("jobs: unknown job %q", name)
	}
	return s.run(ctx, job)
}

// run executes one retried run. The run must finish within one interval
// of the job; an attempt still going at that point is abandoned so the
// next tick is taken on time. Attempts see a context that is not cancelled
// with ctx, so shutdown lets an in-flight attempt finish its writes; the
// waits between attempts still stop on ctx.
func (s *Scheduler) run(ctx context.Context, job Job) error {
	log := logging.With().
		Str("job", job.Name).
		Str("run_id", uuid.NewString()[:8]).
		Logger()

	start := time.Now()
	deadline := start.Add(job.Interval)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	body := func(ctx context.Context) error {
		return attempt(ctx, deadline, job.Run)
	}
	err := runWithRetry(runCtx, log, job.Name, s.policy, s.sleep, body)
	elapsed := time.Since(start)
	metrics.RecordJobRun(job.Name, elapsed, err)

	if err == nil {
		log.Debug().Dur("elapsed", elapsed).Msg("job run finished")
	}
	return err
}

// attempt calls fn on its own goroutine and waits for it until deadline.
// An abandoned call keeps running in the background and its result is
// dropped. A panic in fn is returned as an error.
func attempt(ctx context.Context, deadline time.Time, fn func(ctx context.Context) error) error {
	actx, cancel := context.WithDeadline(context.WithoutCancel(ctx), deadline)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- recovered(actx, fn)
	}()

	select {
	case err := <-done:
		return err
	case <-actx.Done():
		return fmt.Errorf("attempt abandoned at deadline: %w", actx.Err())
	}
}

func recovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
