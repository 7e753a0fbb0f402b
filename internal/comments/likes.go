package comments

import (
	"context"
	"time"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/counters"
	"github.com/emilythestrangee/updown/backend/internal/metrics"
	"github.com/emilythestrangee/updown/backend/internal/models"
)

type ToggleResult struct {
	Liked bool  `json:"liked"`
	Likes int64 `json:"likes"`
}

// LikeCoordinator toggles comment likes. The durable transaction decides
// the outcome; the keyed store is updated afterwards on a best-effort
// basis and corrected by the next sync-comment-likes run if that fails.
type LikeCoordinator struct {
	store LikeStore
	kv    *counters.Store
	guard *counters.Guard
	now   func() time.Time
}

func NewLikeCoordinator(store LikeStore, kv *counters.Store, guard *counters.Guard) *LikeCoordinator {
	return &LikeCoordinator{store: store, kv: kv, guard: guard, now: time.Now}
}

// Toggle likes the comment for identityHash, or removes the like if one
// exists. A concurrent toggle that loses the race on the unique
// (comment, identity) pair fails with Conflict.
func (c *LikeCoordinator) Toggle(ctx context.Context, commentID, identityHash string) (*ToggleResult, error) {
	if identityHash == "" {
		return nil, apperr.Validation("missing client identity")
	}

	var (
		res     ToggleResult
		delta   int64
		comment models.Comment
		debate  models.Debate
	)
	err := c.store.InTx(ctx, func(tx LikeTx) error {
		cm, err := tx.Comment(ctx, commentID)
		if err != nil {
			return err
		}
		existing, err := tx.FindLike(ctx, cm.ID, identityHash)
		if err != nil {
			return err
		}

		if existing != nil {
			delta = -1
			if err := tx.DeleteLike(ctx, existing.ID); err != nil {
				return err
			}
		} else {
			delta = 1
			if err := tx.CreateLike(ctx, &models.CommentLike{CommentID: cm.ID, IdentityHash: identityHash}); err != nil {
				return err
			}
		}
		if err := tx.AdjustCommentLikes(ctx, cm.ID, delta); err != nil {
			return err
		}
		if err := tx.AdjustSideLikes(ctx, cm.DebateID, cm.Side, delta); err != nil {
			return err
		}
		d, err := tx.Debate(ctx, cm.DebateID)
		if err != nil {
			return err
		}

		comment, debate = *cm, *d
		res = ToggleResult{Liked: delta > 0, Likes: cm.Likes + delta}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(err, "failed to toggle like")
	}

	metrics.RecordLikeToggle(res.Liked)
	comment.Likes = res.Likes
	_ = c.followUp(ctx, comment, debate, delta)
	return &res, nil
}

// followUp mirrors a committed toggle into the side tally and the best
// comment set. Closed debates get no new keys. An absent tally is seeded
// from the committed durable totals rather than incremented from zero, and
// an absent best comment set is left for the ranker to rebuild.
//
// Follow-ups of concurrent toggles may land in any order, so existing
// entries only ever move by delta. A comment not yet in the set is first
// added at its like count before this toggle, then moved by delta in the
// same pipeline.
func (c *LikeCoordinator) followUp(ctx context.Context, cm models.Comment, d models.Debate, delta int64) error {
	if !d.Live(c.now()) {
		return nil
	}
	sideKey := counters.SideLikesKey(d.ID)
	topKey := counters.TopKey(cm.Side, d.ID)

	return c.guard.Do(context.WithoutCancel(ctx), "like-toggle", func(ctx context.Context) error {
		exists, err := c.kv.Existing(ctx, sideKey, topKey)
		if err != nil {
			return err
		}
		return c.kv.Write(ctx, func(b *counters.Batch) {
			if exists[sideKey] {
				b.HIncrBy(sideKey, cm.Side.Field(), delta)
			} else {
				b.HSet(sideKey, map[string]any{
					models.SidePro.Field(): d.ProCommentLikes,
					models.SideCon.Field(): d.ConCommentLikes,
				})
			}
			b.ExpireAt(sideKey, d.Deadline)
			if exists[topKey] {
				b.ZAddNX(topKey, counters.Member{ID: cm.ID, Score: float64(cm.Likes - delta)})
				b.ZIncrBy(topKey, cm.ID, float64(delta))
				b.ExpireAt(topKey, d.Deadline)
			}
		})
	})
}
