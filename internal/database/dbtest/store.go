// Package dbtest provides an in-memory implementation of the repository
// contracts for unit tests. It mirrors the postgres Repository's ordering
// rules and uniqueness constraint.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/comments"
	"github.com/emilythestrangee/updown/backend/internal/models"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
)

type Store struct {
	mu         sync.Mutex
	debates    map[string]models.Debate
	comments   map[string]models.Comment
	likes      map[string]models.CommentLike
	categories map[int]models.Category

	// Now stamps CreatedAt. Defaults to time.Now.
	Now func() time.Time
	// Err, when set, is returned by every call.
	Err error
}

func New() *Store {
	return &Store{
		debates:    map[string]models.Debate{},
		comments:   map[string]models.Comment{},
		likes:      map[string]models.CommentLike{},
		categories: map[int]models.Category{},
		Now:        time.Now,
	}
}

func (s *Store) now() time.Time {
	return s.Now().UTC().Truncate(time.Millisecond)
}

// PutDebate inserts or replaces a debate as is.
func (s *Store) PutDebate(d models.Debate) models.Debate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	s.debates[d.ID] = d
	return d
}

// PutComment inserts or replaces a comment as is.
func (s *Store) PutComment(c models.Comment) models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.comments[c.ID] = c
	return c
}

func (s *Store) PutCategory(c models.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[c.ID] = c
}

// DeleteDebate removes a debate out of band, the way an external delete
// would.
func (s *Store) DeleteDebate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.debates, id)
}

// GetDebate returns a copy of the stored debate.
func (s *Store) GetDebate(id string) (models.Debate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debates[id]
	return d, ok
}

func (s *Store) GetComment(id string) (models.Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.comments[id]
	return c, ok
}

// LikeCount is the number of like rows for a comment.
func (s *Store) LikeCount(commentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.likes {
		if l.CommentID == commentID {
			n++
		}
	}
	return n
}

// Debates

func (s *Store) CreateDebate(_ context.Context, d *models.Debate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if d.CategoryID != nil {
		if _, ok := s.categories[*d.CategoryID]; !ok {
			return apperr.NotFound("category not found")
		}
	}
	if err := d.BeforeCreate(nil); err != nil {
		return err
	}
	now := s.now()
	d.CreatedAt, d.UpdatedAt = now, now
	s.debates[d.ID] = *d
	return nil
}

func (s *Store) Debate(_ context.Context, id string) (*models.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	d, ok := s.debates[id]
	if !ok {
		return nil, apperr.NotFound("debate not found")
	}
	if d.CategoryID != nil {
		if c, ok := s.categories[*d.CategoryID]; ok {
			d.Category = &c
		}
	}
	return &d, nil
}

func (s *Store) DebatesByIDs(_ context.Context, ids []string) ([]models.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Debate
	for _, id := range ids {
		if d, ok := s.debates[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) CommentLikes(_ context.Context, ids []string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(map[string]int64, len(ids))
	for _, id := range ids {
		if c, ok := s.comments[id]; ok {
			out[id] = c.Likes
		}
	}
	return out, nil
}

func (s *Store) LiveDebates(_ context.Context, now time.Time) ([]models.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Debate
	for _, d := range s.debates {
		if d.Live(now) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DebateKeys(_ context.Context, order ranking.KeyOrder, afterKey *ranking.Keyset, limit int) ([]ranking.Keyset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	keys := make([]ranking.Keyset, 0, len(s.debates))
	for _, d := range s.debates {
		k := ranking.Keyset{ID: d.ID, At: d.Deadline}
		if order == ranking.ByCreatedDesc {
			k.At = d.CreatedAt
		}
		keys = append(keys, k)
	}
	asc := func(a, b ranking.Keyset) bool {
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		return a.ID < b.ID
	}
	// after(a, b) reports whether a comes strictly after b in the order.
	var after func(a, b ranking.Keyset) bool
	if order == ranking.ByDeadlineAsc {
		after = func(a, b ranking.Keyset) bool { return asc(b, a) }
	} else {
		after = func(a, b ranking.Keyset) bool { return asc(a, b) }
	}
	sort.Slice(keys, func(i, j int) bool { return after(keys[j], keys[i]) })

	out := make([]ranking.Keyset, 0, limit)
	for _, k := range keys {
		if afterKey != nil && !after(k, *afterKey) {
			continue
		}
		out = append(out, k)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) AdvanceStatuses(_ context.Context, now time.Time) (started, closed int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, 0, s.Err
	}
	for id, d := range s.debates {
		if d.Status == models.StatusUpcoming && d.StartAt != nil && !d.StartAt.After(now) {
			d.Status = models.StatusOngoing
			started++
		}
		if d.Status == models.StatusOngoing && !d.Deadline.After(now) {
			d.Status = models.StatusClosed
			closedAt := now
			d.ClosedAt = &closedAt
			closed++
		}
		s.debates[id] = d
	}
	return started, closed, nil
}

func (s *Store) SetViewCounts(_ context.Context, views map[string]int64) error {
	return s.update(func() {
		for id, v := range views {
			if d, ok := s.debates[id]; ok {
				d.ViewCount = v
				s.debates[id] = d
			}
		}
	})
}

func (s *Store) SetSideLikes(_ context.Context, likes map[string]models.SideLikes) error {
	return s.update(func() {
		for id, l := range likes {
			if d, ok := s.debates[id]; ok {
				d.ProCommentLikes, d.ConCommentLikes = l.Pro, l.Con
				s.debates[id] = d
			}
		}
	})
}

func (s *Store) SetHotScores(_ context.Context, scores map[string]float64) error {
	return s.update(func() {
		for id, v := range scores {
			if d, ok := s.debates[id]; ok {
				d.HotScore = v
				s.debates[id] = d
			}
		}
	})
}

func (s *Store) update(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	fn()
	return nil
}

// Comments

func (s *Store) CreateComment(_ context.Context, c *models.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	d, ok := s.debates[c.DebateID]
	if !ok {
		return apperr.NotFound("debate not found")
	}
	if err := c.BeforeCreate(nil); err != nil {
		return err
	}
	c.CreatedAt = s.now()
	s.comments[c.ID] = *c
	d.CommentCount++
	s.debates[d.ID] = d
	return nil
}

func (s *Store) ListComments(_ context.Context, debateID, afterID string, limit int) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	newer := func(a, b models.Comment) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	}
	var cursor *models.Comment
	if afterID != "" {
		c, ok := s.comments[afterID]
		if !ok || c.DebateID != debateID {
			return nil, apperr.NotFound("cursor comment not found")
		}
		cursor = &c
	}

	var all []models.Comment
	for _, c := range s.comments {
		if c.DebateID != debateID {
			continue
		}
		if cursor != nil && !newer(*cursor, c) {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return newer(all[i], all[j]) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) LikedCommentIDs(_ context.Context, identityHash string, commentIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	want := make(map[string]bool, len(commentIDs))
	for _, id := range commentIDs {
		want[id] = true
	}
	liked := map[string]bool{}
	for _, l := range s.likes {
		if l.IdentityHash == identityHash && want[l.CommentID] {
			liked[l.CommentID] = true
		}
	}
	return liked, nil
}

func (s *Store) MaxSideLikes(_ context.Context, debateID string, side models.Side) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, false, s.Err
	}
	var (
		top   int64
		found bool
	)
	for _, c := range s.comments {
		if c.DebateID == debateID && c.Side == side && (!found || c.Likes > top) {
			top, found = c.Likes, true
		}
	}
	return top, found, nil
}

func (s *Store) CommentIDsWithLikes(_ context.Context, debateID string, side models.Side, likes int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var ids []string
	for _, c := range s.comments {
		if c.DebateID == debateID && c.Side == side && c.Likes == likes {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) CommentsByIDs(_ context.Context, ids []string) ([]models.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.Comment
	for _, id := range ids {
		if c, ok := s.comments[id]; ok {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InTx holds the store lock for the whole of fn and restores the previous
// state when fn fails.
func (s *Store) InTx(_ context.Context, fn func(tx comments.LikeTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}

	debates := cloneMap(s.debates)
	cmts := cloneMap(s.comments)
	likes := cloneMap(s.likes)
	if err := fn(&likeTx{s: s}); err != nil {
		s.debates, s.comments, s.likes = debates, cmts, likes
		return err
	}
	return nil
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// likeTx runs with Store.mu already held.
type likeTx struct {
	s *Store
}

func (t *likeTx) Comment(_ context.Context, id string) (*models.Comment, error) {
	c, ok := t.s.comments[id]
	if !ok {
		return nil, apperr.NotFound("comment not found")
	}
	return &c, nil
}

func (t *likeTx) Debate(_ context.Context, id string) (*models.Debate, error) {
	d, ok := t.s.debates[id]
	if !ok {
		return nil, apperr.NotFound("debate not found")
	}
	return &d, nil
}

func (t *likeTx) FindLike(_ context.Context, commentID, identityHash string) (*models.CommentLike, error) {
	for _, l := range t.s.likes {
		if l.CommentID == commentID && l.IdentityHash == identityHash {
			return &l, nil
		}
	}
	return nil, nil
}

func (t *likeTx) CreateLike(_ context.Context, like *models.CommentLike) error {
	for _, l := range t.s.likes {
		if l.CommentID == like.CommentID && l.IdentityHash == like.IdentityHash {
			return apperr.Conflict("comment like already exists")
		}
	}
	if err := like.BeforeCreate(nil); err != nil {
		return err
	}
	like.CreatedAt = t.s.now()
	t.s.likes[like.ID] = *like
	return nil
}

func (t *likeTx) DeleteLike(_ context.Context, id string) error {
	delete(t.s.likes, id)
	return nil
}

func (t *likeTx) AdjustCommentLikes(_ context.Context, commentID string, delta int64) error {
	c, ok := t.s.comments[commentID]
	if !ok {
		return apperr.NotFound("comment not found")
	}
	c.Likes += delta
	t.s.comments[commentID] = c
	return nil
}

func (t *likeTx) AdjustSideLikes(_ context.Context, debateID string, side models.Side, delta int64) error {
	d, ok := t.s.debates[debateID]
	if !ok {
		return apperr.NotFound("debate not found")
	}
	switch side {
	case models.SidePro:
		d.ProCommentLikes += delta
	case models.SideCon:
		d.ConCommentLikes += delta
	default:
		return apperr.Validation("invalid side %q", side)
	}
	t.s.debates[debateID] = d
	return nil
}
