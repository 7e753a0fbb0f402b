// Package metrics registers the Prometheus collectors for the reconciliation
// jobs, the ranking index and the like/comment request paths.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation jobs
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_job_runs_total",
			Help: "Reconciliation job runs by final result",
		},
		[]string{"job", "result"}, // "success", "failure"
	)

	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_job_retries_total",
			Help: "Failed job attempts that were retried",
		},
		[]string{"job"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "updown_job_duration_seconds",
			Help:    "Wall time of a job run including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// Ranking index
	RankingRemovals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "updown_ranking_removals_total",
			Help: "Debate ids dropped from the hot index because they were deleted or closed",
		},
	)

	RankingSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "updown_ranking_entries",
			Help: "Entries in the hot index after the last hot-score run",
		},
	)

	// Request paths
	LikeToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_comment_like_toggles_total",
			Help: "Committed like toggles",
		},
		[]string{"action"}, // "like", "unlike"
	)

	CacheFollowUpFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updown_cache_followup_failures_total",
			Help: "Best-effort cache writes that failed after a committed transaction",
		},
		[]string{"operation"},
	)

	BestCommentFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "updown_best_comment_fallbacks_total",
			Help: "Best comment lookups that missed the cache and read the database",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "updown_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordJobRun records a finished job run.
func RecordJobRun(job string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func RecordJobRetry(job string) {
	JobRetries.WithLabelValues(job).Inc()
}

func RecordRankingRemovals(n int) {
	if n > 0 {
		RankingRemovals.Add(float64(n))
	}
}

func RecordLikeToggle(liked bool) {
	if liked {
		LikeToggles.WithLabelValues("like").Inc()
		return
	}
	LikeToggles.WithLabelValues("unlike").Inc()
}

func RecordCacheFollowUpFailure(operation string) {
	CacheFollowUpFailures.WithLabelValues(operation).Inc()
}
