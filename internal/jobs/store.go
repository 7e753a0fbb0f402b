package jobs

import (
	"context"
	"time"

	"github.com/emilythestrangee/updown/backend/internal/models"
)

// DebateStore is the durable storage the reconciliation jobs fold counters
// into. Every write overwrites with the latest value, so overlapping runs
// are harmless.
type DebateStore interface {
	// AdvanceStatuses moves upcoming debates whose start has passed to
	// ongoing and ongoing debates whose deadline has passed to closed.
	AdvanceStatuses(ctx context.Context, now time.Time) (started, closed int64, err error)
	// LiveDebates returns debates that are not closed and whose deadline is
	// after now.
	LiveDebates(ctx context.Context, now time.Time) ([]models.Debate, error)
	DebatesByIDs(ctx context.Context, ids []string) ([]models.Debate, error)
	SetViewCounts(ctx context.Context, views map[string]int64) error
	SetSideLikes(ctx context.Context, likes map[string]models.SideLikes) error
	SetHotScores(ctx context.Context, scores map[string]float64) error
	// CommentLikes returns durable like counts keyed by comment id. Ids of
	// deleted comments are absent.
	CommentLikes(ctx context.Context, ids []string) (map[string]int64, error)
}
