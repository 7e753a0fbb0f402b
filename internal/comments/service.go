package comments

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/counters"
	"github.com/emilythestrangee/updown/backend/internal/models"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 50
)

type ListRequest struct {
	Cursor string `form:"cursor" validate:"omitempty,uuid"`
	Limit  int    `form:"limit" validate:"gte=0,lte=50"`
}

type ListPage struct {
	Items      []models.CommentView `json:"items"`
	NextCursor *string              `json:"next_cursor"`
}

type Best struct {
	Pro []models.Comment `json:"pro"`
	Con []models.Comment `json:"con"`
}

// Service is the comment flow: creation, listing, likes and best comments.
type Service struct {
	store    Store
	kv       *counters.Store
	guard    *counters.Guard
	likes    *LikeCoordinator
	best     *BestRanker
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store Store, kv *counters.Store, guard *counters.Guard) *Service {
	return &Service{
		store:    store,
		kv:       kv,
		guard:    guard,
		likes:    NewLikeCoordinator(store, kv, guard),
		best:     NewBestRanker(store, kv, guard),
		validate: validator.New(),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for liveness checks.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.likes.now = now
	s.best.now = now
}

// Add stores a comment on a live debate, then bumps the cached comment
// counter and records the author as a participant.
func (s *Service) Add(ctx context.Context, req models.CreateCommentRequest, identityHash string) (*models.Comment, error) {
	req.Content = strings.TrimSpace(req.Content)
	req.Nickname = strings.TrimSpace(req.Nickname)
	switch {
	case identityHash == "":
		return nil, apperr.Validation("missing client identity")
	case !req.Side.Valid():
		return nil, apperr.Validation("side must be PRO or CON")
	case req.Content == "" || req.Nickname == "":
		return nil, apperr.Validation("nickname and content are required")
	}

	d, err := s.store.Debate(ctx, req.DebateID)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to load debate")
	}
	if !d.Live(s.now()) {
		return nil, apperr.Validation("debate is closed")
	}

	c := &models.Comment{
		DebateID:     d.ID,
		Side:         req.Side,
		Nickname:     req.Nickname,
		Content:      req.Content,
		IdentityHash: identityHash,
	}
	if err := s.store.CreateComment(ctx, c); err != nil {
		return nil, apperr.Wrap(err, "failed to create comment")
	}

	_ = s.guard.Do(context.WithoutCancel(ctx), "comment-add", func(ctx context.Context) error {
		return s.kv.Write(ctx, func(b *counters.Batch) {
			b.IncrBy(counters.CommentsKey(d.ID), 1)
			b.SAdd(counters.ParticipantsKey(d.ID), identityHash)
			b.ExpireAt(counters.CommentsKey(d.ID), d.Deadline)
			b.ExpireAt(counters.ParticipantsKey(d.ID), d.Deadline)
		})
	})
	return c, nil
}

// List returns one page of a debate's comments, newest first, each marked
// with whether identityHash liked it.
func (s *Service) List(ctx context.Context, debateID, identityHash string, req ListRequest) (*ListPage, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid page request: %v", err)
	}
	if req.Limit == 0 {
		req.Limit = DefaultListLimit
	}
	if _, err := s.store.Debate(ctx, debateID); err != nil {
		return nil, apperr.Wrap(err, "failed to load debate")
	}

	rows, err := s.store.ListComments(ctx, debateID, req.Cursor, req.Limit)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to list comments")
	}

	liked := map[string]bool{}
	if identityHash != "" && len(rows) > 0 {
		ids := make([]string, len(rows))
		for i, c := range rows {
			ids[i] = c.ID
		}
		if liked, err = s.store.LikedCommentIDs(ctx, identityHash, ids); err != nil {
			return nil, apperr.Wrap(err, "failed to list comments")
		}
	}

	page := &ListPage{Items: make([]models.CommentView, len(rows))}
	for i, c := range rows {
		page.Items[i] = models.CommentView{Comment: c, Liked: liked[c.ID]}
	}
	if len(rows) == req.Limit {
		next := rows[len(rows)-1].ID
		page.NextCursor = &next
	}
	return page, nil
}

// Best returns the top comments of both sides.
func (s *Service) Best(ctx context.Context, debateID string) (*Best, error) {
	var out Best
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Pro, err = s.best.TopForSide(gctx, debateID, models.SidePro)
		return err
	})
	g.Go(func() (err error) {
		out.Con, err = s.best.TopForSide(gctx, debateID, models.SideCon)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// ToggleLike likes or unlikes a comment for identityHash.
func (s *Service) ToggleLike(ctx context.Context, commentID, identityHash string) (*ToggleResult, error) {
	return s.likes.Toggle(ctx, commentID, identityHash)
}
