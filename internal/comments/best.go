package comments

import (
	"context"
	"time"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/counters"
	"github.com/emilythestrangee/updown/backend/internal/metrics"
	"github.com/emilythestrangee/updown/backend/internal/models"
)

// BestRanker finds the most liked comments on one side of a debate from
// the per-side top set, rebuilding that set from durable storage when it
// is absent.
type BestRanker struct {
	store Store
	kv    *counters.Store
	guard *counters.Guard
	now   func() time.Time
}

func NewBestRanker(store Store, kv *counters.Store, guard *counters.Guard) *BestRanker {
	return &BestRanker{store: store, kv: kv, guard: guard, now: time.Now}
}

// TopForSide returns every comment tied at the highest like count on side,
// oldest first. A side without comments gives an empty slice.
func (r *BestRanker) TopForSide(ctx context.Context, debateID string, side models.Side) ([]models.Comment, error) {
	if !side.Valid() {
		return nil, apperr.Validation("invalid side %q", side)
	}
	key := counters.TopKey(side, debateID)

	head, err := r.kv.RevRange(ctx, key, 0, 0)
	if err != nil {
		return nil, apperr.Internal(err, "failed to read best comments")
	}

	var ids []string
	if len(head) == 0 {
		if ids, err = r.backfill(ctx, debateID, side); err != nil {
			return nil, err
		}
	} else {
		top := head[0].Score
		tied, err := r.kv.RevRangeByScore(ctx, key, top, top, 0, 0)
		if err != nil {
			return nil, apperr.Internal(err, "failed to read best comments")
		}
		ids = make([]string, len(tied))
		for i, m := range tied {
			ids[i] = m.ID
		}
	}

	out := []models.Comment{}
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.store.CommentsByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load best comments")
	}
	return append(out, rows...), nil
}

// backfill finds the comments tied at the durable maximum and seeds the
// top set with them while the debate is live.
func (r *BestRanker) backfill(ctx context.Context, debateID string, side models.Side) ([]string, error) {
	metrics.BestCommentFallbacks.Inc()

	d, err := r.store.Debate(ctx, debateID)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load debate")
	}
	top, ok, err := r.store.MaxSideLikes(ctx, debateID, side)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to read best comments")
	}
	if !ok {
		return nil, nil
	}
	ids, err := r.store.CommentIDsWithLikes(ctx, debateID, side, top)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to read best comments")
	}

	if len(ids) > 0 && d.Live(r.now()) {
		members := make([]counters.Member, len(ids))
		for i, id := range ids {
			members[i] = counters.Member{ID: id, Score: float64(top)}
		}
		key := counters.TopKey(side, debateID)
		_ = r.guard.Do(ctx, "best-comment-seed", func(ctx context.Context) error {
			return r.kv.Write(ctx, func(b *counters.Batch) {
				b.ZAdd(key, members...)
				b.ExpireAt(key, d.Deadline)
			})
		})
	}
	return ids, nil
}
