// Package jobs folds ephemeral counters from the keyed store into durable
// storage and keeps the hot ranking index current.
//
// Every job overwrites durable values with the latest cached value rather
// than adding to them, so a run that overlaps the next tick, or a run that
// is retried after a partial write, converges to the same state. Durable
// aggregates trail the keyed store by at most one cadence of the job that
// owns them.
package jobs

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/emilythestrangee/updown/backend/internal/counters"
	"github.com/emilythestrangee/updown/backend/internal/logging"
	"github.com/emilythestrangee/updown/backend/internal/metrics"
	"github.com/emilythestrangee/updown/backend/internal/models"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
)

const (
	JobStatusSwitch     = "status-switch"
	JobSyncViews        = "sync-views"
	JobSyncCommentLikes = "sync-comment-likes"
	JobHotScore         = "hot-score"
	JobKeywordNormalize = "keyword-index-normalize"
)

// Cadences are fixed.
const (
	StatusSwitchInterval     = 5 * time.Minute
	SyncViewsInterval        = time.Minute
	SyncCommentLikesInterval = 2 * time.Minute
	HotScoreInterval         = 15 * time.Second
	KeywordNormalizeInterval = time.Minute
)

// syncBatchSize bounds one pipelined read and one durable write.
const syncBatchSize = 500

type KeywordNormalizer interface {
	Normalize(ctx context.Context) error
}

// Reconciler holds the job bodies.
type Reconciler struct {
	store    DebateStore
	kv       *counters.Store
	index    *ranking.Index
	keywords KeywordNormalizer
	now      func() time.Time
}

func NewReconciler(store DebateStore, kv *counters.Store, index *ranking.Index, keywords KeywordNormalizer) *Reconciler {
	return &Reconciler{
		store:    store,
		kv:       kv,
		index:    index,
		keywords: keywords,
		now:      time.Now,
	}
}

// Jobs lists the reconciliation jobs with their cadences.
func (r *Reconciler) Jobs() []Job {
	jobs := []Job{
		{Name: JobStatusSwitch, Interval: StatusSwitchInterval, Run: r.SwitchStatus},
		{Name: JobSyncViews, Interval: SyncViewsInterval, Run: r.SyncViews},
		{Name: JobSyncCommentLikes, Interval: SyncCommentLikesInterval, Run: r.SyncCommentLikes},
		{Name: JobHotScore, Interval: HotScoreInterval, Run: r.RecomputeHotScores},
	}
	if r.keywords != nil {
		jobs = append(jobs, Job{Name: JobKeywordNormalize, Interval: KeywordNormalizeInterval, Run: r.keywords.Normalize})
	}
	return jobs
}

// SwitchStatus advances debate lifecycles against the current time.
func (r *Reconciler) SwitchStatus(ctx context.Context) error {
	started, closed, err := r.store.AdvanceStatuses(ctx, r.now().UTC())
	if err != nil {
		return fmt.Errorf("advance statuses: %w", err)
	}
	if started > 0 || closed > 0 {
		logging.Info().Int64("started", started).Int64("closed", closed).Msg("debate statuses advanced")
	}
	return nil
}

// SyncViews overwrites durable view counts with the cached counters of
// every live debate. A debate without a cached counter keeps its durable
// value.
func (r *Reconciler) SyncViews(ctx context.Context) error {
	ids, err := r.liveIDs(ctx)
	if err != nil {
		return err
	}

	var synced int
	for batch := range slices.Chunk(ids, syncBatchSize) {
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = counters.ViewsKey(id)
		}
		cached, err := r.kv.GetMany(ctx, keys)
		if err != nil {
			return err
		}

		views := make(map[string]int64, len(cached))
		for i, id := range batch {
			if v, ok := cached[keys[i]]; ok {
				views[id] = v
			}
		}
		if len(views) == 0 {
			continue
		}
		if err := r.store.SetViewCounts(ctx, views); err != nil {
			return fmt.Errorf("set view counts: %w", err)
		}
		synced += len(views)
	}

	logging.Debug().Int("live", len(ids)).Int("synced", synced).Msg("views synced")
	return nil
}

// SyncCommentLikes overwrites durable per-side like totals with the cached
// tallies of every live debate, then rescores each side's best comment set
// from durable comment likes and trims it to its top entries.
func (r *Reconciler) SyncCommentLikes(ctx context.Context) error {
	ids, err := r.liveIDs(ctx)
	if err != nil {
		return err
	}

	for batch := range slices.Chunk(ids, syncBatchSize) {
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = counters.SideLikesKey(id)
		}
		cached, err := r.kv.HGetAllMany(ctx, keys)
		if err != nil {
			return err
		}

		likes := make(map[string]models.SideLikes, len(cached))
		for i, id := range batch {
			h, ok := cached[keys[i]]
			if !ok {
				continue
			}
			tally, err := parseSideLikes(h)
			if err != nil {
				return fmt.Errorf("debate %s: %w", id, err)
			}
			likes[id] = tally
		}
		if len(likes) > 0 {
			if err := r.store.SetSideLikes(ctx, likes); err != nil {
				return fmt.Errorf("set side likes: %w", err)
			}
		}

		if err := r.rescoreBestComments(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// rescoreBestComments resets every entry of the best comment sets of
// debateIDs to its durable like count, drops entries whose comment is gone
// and trims each set to its top entries.
func (r *Reconciler) rescoreBestComments(ctx context.Context, debateIDs []string) error {
	topKeys := make([]string, 0, 2*len(debateIDs))
	for _, id := range debateIDs {
		topKeys = append(topKeys, counters.TopKey(models.SidePro, id), counters.TopKey(models.SideCon, id))
	}
	members, err := r.kv.MembersMany(ctx, topKeys)
	if err != nil {
		return err
	}

	var commentIDs []string
	for _, ids := range members {
		commentIDs = append(commentIDs, ids...)
	}
	durable, err := r.store.CommentLikes(ctx, commentIDs)
	if err != nil {
		return fmt.Errorf("load comment likes: %w", err)
	}

	err = r.kv.Write(ctx, func(b *counters.Batch) {
		for _, key := range topKeys {
			var keep []counters.Member
			var gone []string
			for _, id := range members[key] {
				if likes, ok := durable[id]; ok {
					keep = append(keep, counters.Member{ID: id, Score: float64(likes)})
				} else {
					gone = append(gone, id)
				}
			}
			b.ZAdd(key, keep...)
			b.ZRem(key, gone...)
			b.ZKeepTop(key, counters.TopK)
		}
	})
	if err != nil {
		return fmt.Errorf("rescore best comments: %w", err)
	}
	return nil
}

func parseSideLikes(h map[string]string) (models.SideLikes, error) {
	var (
		out models.SideLikes
		err error
	)
	if v, ok := h[models.SidePro.Field()]; ok {
		if out.Pro, err = strconv.ParseInt(v, 10, 64); err != nil {
			return out, fmt.Errorf("parse pro likes: %w", err)
		}
	}
	if v, ok := h[models.SideCon.Field()]; ok {
		if out.Con, err = strconv.ParseInt(v, 10, 64); err != nil {
			return out, fmt.Errorf("parse con likes: %w", err)
		}
	}
	return out, nil
}

// RecomputeHotScores rescores every ranked debate from one pipelined read
// of its counters. Ids whose debate was deleted or has closed are removed
// from the index instead.
func (r *Reconciler) RecomputeHotScores(ctx context.Context) error {
	ids, err := r.index.IDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		metrics.RankingSize.Set(0)
		return nil
	}

	byID := make(map[string]models.Debate, len(ids))
	for batch := range slices.Chunk(ids, syncBatchSize) {
		rows, err := r.store.DebatesByIDs(ctx, batch)
		if err != nil {
			return fmt.Errorf("load ranked debates: %w", err)
		}
		for _, d := range rows {
			byID[d.ID] = d
		}
	}

	var live, stale []string
	for _, id := range ids {
		if d, ok := byID[id]; ok && d.Status != models.StatusClosed {
			live = append(live, id)
		} else {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		n, err := r.index.Remove(ctx, stale...)
		if err != nil {
			return err
		}
		metrics.RecordRankingRemovals(int(n))
		logging.Info().Int64("removed", n).Msg("dropped deleted or closed debates from ranking")
	}
	if len(live) == 0 {
		metrics.RankingSize.Set(0)
		return nil
	}

	counts, err := r.kv.ReadCounters(ctx, live)
	if err != nil {
		return err
	}
	now := r.now()
	entries := make([]counters.Member, len(live))
	for i, id := range live {
		d := byID[id]
		entries[i] = counters.Member{ID: id, Score: ranking.Score(counts[i], d.RankedSince(), now)}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.index.Set(gctx, entries...) })
	g.Go(func() error {
		for batch := range slices.Chunk(entries, syncBatchSize) {
			scores := make(map[string]float64, len(batch))
			for _, e := range batch {
				scores[e.ID] = e.Score
			}
			if err := r.store.SetHotScores(gctx, scores); err != nil {
				return fmt.Errorf("set hot scores: %w", err)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	metrics.RankingSize.Set(float64(len(entries)))
	return nil
}

func (r *Reconciler) liveIDs(ctx context.Context) ([]string, error) {
	debates, err := r.store.LiveDebates(ctx, r.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list live debates: %w", err)
	}
	ids := make([]string, len(debates))
	for i, d := range debates {
		ids[i] = d.ID
	}
	return ids, nil
}
