package ranking

import (
	"context"
	"math"

	"github.com/emilythestrangee/updown/backend/internal/counters"
)

// Index is the hot ranking sorted set. Only the hot-score job, debate
// creation and warm-up write to it; page reads never do.
type Index struct {
	store *counters.Store
}

func NewIndex(store *counters.Store) *Index {
	return &Index{store: store}
}

// IDs returns every ranked debate id.
func (ix *Index) IDs(ctx context.Context) ([]string, error) {
	return ix.store.Members(ctx, counters.HotKey)
}

func (ix *Index) Len(ctx context.Context) (int64, error) {
	return ix.store.Card(ctx, counters.HotKey)
}

// Set writes scores for the given debates.
func (ix *Index) Set(ctx context.Context, entries ...counters.Member) error {
	if len(entries) == 0 {
		return nil
	}
	return ix.store.Write(ctx, func(b *counters.Batch) {
		b.ZAdd(counters.HotKey, entries...)
	})
}

// Remove drops debates from the ranking and reports how many were present.
func (ix *Index) Remove(ctx context.Context, ids ...string) (int64, error) {
	return ix.store.Remove(ctx, counters.HotKey, ids...)
}

// Page returns up to limit entries ordered by score then id, both
// descending, strictly after cursor. A nil cursor starts at the top.
//
// Redis orders equal scores by member, so entries tied with the cursor
// score that sort at or before the cursor id are a contiguous run at the
// start of the range. They are counted and skipped with the offset.
func (ix *Index) Page(ctx context.Context, cursor *HotCursor, limit int) ([]counters.Member, error) {
	if cursor == nil {
		return ix.store.RevRangeByScore(ctx, counters.HotKey, math.Inf(1), math.Inf(-1), 0, int64(limit))
	}

	tied, err := ix.store.RevRangeByScore(ctx, counters.HotKey, cursor.Score, cursor.Score, 0, 0)
	if err != nil {
		return nil, err
	}
	var skip int64
	for _, m := range tied {
		if m.ID >= cursor.ID {
			skip++
		}
	}
	return ix.store.RevRangeByScore(ctx, counters.HotKey, cursor.Score, math.Inf(-1), skip, int64(limit))
}
