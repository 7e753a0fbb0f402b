package counters

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/emilythestrangee/updown/backend/internal/config"
	"github.com/emilythestrangee/updown/backend/internal/logging"
	"github.com/emilythestrangee/updown/backend/internal/metrics"
)

// Guard runs best-effort keyed store writes from request paths behind a
// circuit breaker. When the store is down the breaker opens and requests
// skip the write instead of waiting on it.
type Guard struct {
	cb   *gobreaker.CircuitBreaker[struct{}]
	name string
}

func NewGuard(name string, cfg config.BreakerConfig) *Guard {
	metrics.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})
	return &Guard{cb: cb, name: name}
}

// Do runs fn unless the breaker is open. Failures are logged and counted
// under op and returned so tests can observe them; callers on request paths
// discard the error.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if err == nil {
		return nil
	}

	metrics.RecordCacheFollowUpFailure(op)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Debug().Str("op", op).Str("breaker", g.name).Msg("cache write skipped, breaker open")
	} else {
		logging.Warn().Err(err).Str("op", op).Msg("best-effort cache write failed")
	}
	return err
}

func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
