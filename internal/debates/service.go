// Package debates implements debate creation, detail reads and listing on
// top of durable storage, the keyed counters and the hot ranking index.
package debates

import (
	"context"
	"strings"
	"time"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/counters"
	"github.com/emilythestrangee/updown/backend/internal/logging"
	"github.com/emilythestrangee/updown/backend/internal/models"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
)

const maxTitleLen = 200

type Page struct {
	Items      []models.DebateView `json:"items"`
	NextCursor *string             `json:"next_cursor"`
}

type Service struct {
	store    Store
	kv       *counters.Store
	guard    *counters.Guard
	index    *ranking.Index
	resolver *ranking.Resolver
	now      func() time.Time
}

func NewService(store Store, kv *counters.Store, guard *counters.Guard) *Service {
	index := ranking.NewIndex(kv)
	return &Service{
		store:    store,
		kv:       kv,
		guard:    guard,
		index:    index,
		resolver: ranking.NewResolver(index, store),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for status, expiry and scoring.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create stores a debate, then seeds its counters with expiry at the
// deadline and enters it in the hot ranking at score 0.
func (s *Service) Create(ctx context.Context, req models.CreateDebateRequest) (*models.DebateView, error) {
	now := s.now().UTC()
	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "" || len([]rune(req.Title)) > maxTitleLen:
		return nil, apperr.Validation("title must be 1 to %d characters", maxTitleLen)
	case !req.Deadline.After(now):
		return nil, apperr.Validation("deadline must be in the future")
	case req.StartAt != nil && !req.StartAt.Before(req.Deadline):
		return nil, apperr.Validation("start must be before the deadline")
	}

	d := &models.Debate{
		Title:      req.Title,
		Content:    req.Content,
		Status:     models.InitialStatus(req.StartAt, now),
		StartAt:    req.StartAt,
		Deadline:   req.Deadline.UTC(),
		CategoryID: req.CategoryID,
	}
	if err := s.store.CreateDebate(ctx, d); err != nil {
		return nil, apperr.Wrap(err, "failed to create debate")
	}

	err := s.kv.Atomic(ctx, func(b *counters.Batch) {
		b.Set(counters.ViewsKey(d.ID), 0)
		b.Set(counters.CommentsKey(d.ID), 0)
		b.ExpireAt(counters.ViewsKey(d.ID), d.Deadline)
		b.ExpireAt(counters.CommentsKey(d.ID), d.Deadline)
		b.Del(counters.VotesKey(d.ID), counters.ParticipantsKey(d.ID))
		b.ZAdd(counters.HotKey, counters.Member{ID: d.ID, Score: 0})
	})
	if err != nil {
		// The row is committed. The next warm-up enters it in the ranking.
		logging.Error().Err(err).Str("debate_id", d.ID).Msg("failed to seed debate counters")
	}

	view := models.NewDebateView(*d, now)
	return &view, nil
}

// Get returns one debate and counts the view while it is live.
func (s *Service) Get(ctx context.Context, id string) (*models.DebateView, error) {
	d, err := s.store.Debate(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load debate")
	}

	now := s.now()
	if d.Live(now) {
		_ = s.guard.Do(context.WithoutCancel(ctx), "debate-view", func(ctx context.Context) error {
			return s.kv.Write(ctx, func(b *counters.Batch) {
				b.IncrBy(counters.ViewsKey(d.ID), 1)
				b.ExpireAt(counters.ViewsKey(d.ID), d.Deadline)
			})
		})
	}

	view := models.NewDebateView(*d, now)
	return &view, nil
}

// List returns one page in the requested order.
func (s *Service) List(ctx context.Context, req ranking.PageRequest) (*Page, error) {
	p, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := &Page{Items: make([]models.DebateView, len(p.Items)), NextCursor: p.NextCursor}
	for i, d := range p.Items {
		out.Items[i] = models.NewDebateView(d, now)
	}
	return out, nil
}

// RecalcHot rescores one live debate immediately, outside the hot-score
// job's cadence.
func (s *Service) RecalcHot(ctx context.Context, id string) (float64, error) {
	d, err := s.store.Debate(ctx, id)
	if err != nil {
		return 0, apperr.Wrap(err, "failed to load debate")
	}
	if d.Status == models.StatusClosed {
		return 0, apperr.Validation("debate is closed")
	}

	counts, err := s.kv.ReadCounters(ctx, []string{d.ID})
	if err != nil {
		return 0, apperr.Internal(err, "failed to read counters")
	}
	score := ranking.Score(counts[0], d.RankedSince(), s.now())

	if err := s.index.Set(ctx, counters.Member{ID: d.ID, Score: score}); err != nil {
		return 0, apperr.Internal(err, "failed to update ranking")
	}
	if err := s.store.SetHotScores(ctx, map[string]float64{d.ID: score}); err != nil {
		return 0, apperr.Wrap(err, "failed to store hot score")
	}
	return score, nil
}

// WarmIndex enters every live debate missing from the hot ranking with its
// last durable score. Hot-score runs only rescore or remove ids, so this is
// what repopulates the ranking after the keyed store loses it.
func (s *Service) WarmIndex(ctx context.Context) (int, error) {
	ranked, err := s.index.IDs(ctx)
	if err != nil {
		return 0, err
	}
	present := make(map[string]bool, len(ranked))
	for _, id := range ranked {
		present[id] = true
	}

	live, err := s.store.LiveDebates(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	var missing []counters.Member
	for _, d := range live {
		if !present[d.ID] {
			missing = append(missing, counters.Member{ID: d.ID, Score: d.HotScore})
		}
	}
	if err := s.index.Set(ctx, missing...); err != nil {
		return 0, err
	}

	if len(missing) > 0 {
		logging.Info().Int("added", len(missing)).Int("ranked", len(ranked)).Msg("hot ranking warmed")
	}
	return len(missing), nil
}
