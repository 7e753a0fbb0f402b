package comments_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/comments"
	"github.com/emilythestrangee/updown/backend/internal/config"
	"github.com/emilythestrangee/updown/backend/internal/counters"
	"github.com/emilythestrangee/updown/backend/internal/database/dbtest"
	"github.com/emilythestrangee/updown/backend/internal/metrics"
	"github.com/emilythestrangee/updown/backend/internal/models"
)

var now = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

const identity = "i1-hash"

type fixture struct {
	svc    *comments.Service
	db     *dbtest.Store
	mr     *miniredis.Miniredis
	debate models.Debate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(now)
	kv := counters.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = kv.Close() })

	db := dbtest.New()
	db.Now = func() time.Time { return now }
	guard := counters.NewGuard("comments-test", config.BreakerConfig{Timeout: time.Second, FailureThreshold: 100})
	svc := comments.NewService(db, kv, guard)
	svc.SetClock(func() time.Time { return now })

	d := db.PutDebate(models.Debate{
		Title:    "Tabs or spaces",
		Status:   models.StatusOngoing,
		Deadline: now.Add(48 * time.Hour),
	})
	return &fixture{svc: svc, db: db, mr: mr, debate: d}
}

func (f *fixture) comment(side models.Side, likes int64, age time.Duration) models.Comment {
	return f.db.PutComment(models.Comment{
		DebateID:     f.debate.ID,
		Side:         side,
		Nickname:     "nick",
		Content:      "content",
		IdentityHash: "author",
		Likes:        likes,
		CreatedAt:    now.Add(-age),
	})
}

func TestToggleLikeTwiceRestoresState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.debate.ProCommentLikes = 2
	f.db.PutDebate(f.debate)
	c1 := f.comment(models.SidePro, 2, time.Hour)

	sideKey := counters.SideLikesKey(f.debate.ID)
	topKey := counters.TopKey(models.SidePro, f.debate.ID)
	f.mr.HSet(sideKey, "pro", "2", "con", "0")
	_, err := f.mr.ZAdd(topKey, 2, c1.ID)
	require.NoError(t, err)

	res, err := f.svc.ToggleLike(ctx, c1.ID, identity)
	require.NoError(t, err)
	assert.Equal(t, &comments.ToggleResult{Liked: true, Likes: 3}, res)
	assert.Equal(t, 1, f.db.LikeCount(c1.ID))
	assert.Equal(t, "3", f.mr.HGet(sideKey, "pro"))
	score, _ := f.mr.ZScore(topKey, c1.ID)
	assert.Equal(t, 3.0, score)
	assert.Positive(t, f.mr.TTL(sideKey))

	res, err = f.svc.ToggleLike(ctx, c1.ID, identity)
	require.NoError(t, err)
	assert.Equal(t, &comments.ToggleResult{Liked: false, Likes: 2}, res)

	got, _ := f.db.GetComment(c1.ID)
	assert.Equal(t, int64(2), got.Likes)
	assert.Zero(t, f.db.LikeCount(c1.ID))
	d, _ := f.db.GetDebate(f.debate.ID)
	assert.Equal(t, int64(2), d.ProCommentLikes)
	assert.Equal(t, "2", f.mr.HGet(sideKey, "pro"))
	score, _ = f.mr.ZScore(topKey, c1.ID)
	assert.Equal(t, 2.0, score)
}

func TestToggleLikeSeedsAbsentTallyFromDurableTotals(t *testing.T) {
	f := newFixture(t)
	f.debate.ProCommentLikes, f.debate.ConCommentLikes = 10, 4
	f.db.PutDebate(f.debate)
	c := f.comment(models.SideCon, 0, time.Hour)

	_, err := f.svc.ToggleLike(context.Background(), c.ID, identity)
	require.NoError(t, err)

	sideKey := counters.SideLikesKey(f.debate.ID)
	assert.Equal(t, "10", f.mr.HGet(sideKey, "pro"))
	assert.Equal(t, "5", f.mr.HGet(sideKey, "con"))
	assert.False(t, f.mr.Exists(counters.TopKey(models.SideCon, f.debate.ID)), "cold set is left for the ranker")
}

func TestToggleLikeOnClosedDebateWritesNoKeys(t *testing.T) {
	f := newFixture(t)
	f.debate.Status = models.StatusClosed
	f.db.PutDebate(f.debate)
	c := f.comment(models.SidePro, 0, time.Hour)

	res, err := f.svc.ToggleLike(context.Background(), c.ID, identity)
	require.NoError(t, err)
	assert.True(t, res.Liked)
	assert.Empty(t, f.mr.Keys())
}

func TestToggleLikeKeepsDurableChangeWhenCacheFails(t *testing.T) {
	f := newFixture(t)
	c := f.comment(models.SidePro, 0, time.Hour)
	failures := testutil.ToFloat64(metrics.CacheFollowUpFailures.WithLabelValues("like-toggle"))

	f.mr.SetError("LOADING redis is loading")
	res, err := f.svc.ToggleLike(context.Background(), c.ID, identity)
	require.NoError(t, err)
	assert.True(t, res.Liked)

	got, _ := f.db.GetComment(c.ID)
	assert.Equal(t, int64(1), got.Likes)
	assert.Equal(t, failures+1, testutil.ToFloat64(metrics.CacheFollowUpFailures.WithLabelValues("like-toggle")))
}

func TestToggleLikeErrors(t *testing.T) {
	f := newFixture(t)
	c := f.comment(models.SidePro, 0, time.Hour)

	_, err := f.svc.ToggleLike(context.Background(), "00000000-0000-0000-0000-000000000000", identity)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.ToggleLike(context.Background(), c.ID, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, f.db.LikeCount(c.ID))
}

func TestBestBackfillsColdCache(t *testing.T) {
	f := newFixture(t)
	older := f.comment(models.SidePro, 5, 2*time.Hour)
	newer := f.comment(models.SidePro, 5, time.Hour)
	f.comment(models.SidePro, 3, 3*time.Hour)
	fallbacks := testutil.ToFloat64(metrics.BestCommentFallbacks)

	best, err := f.svc.Best(context.Background(), f.debate.ID)
	require.NoError(t, err)

	require.Len(t, best.Pro, 2)
	assert.Equal(t, older.ID, best.Pro[0].ID, "ties oldest first")
	assert.Equal(t, newer.ID, best.Pro[1].ID)
	assert.Empty(t, best.Con)
	assert.NotNil(t, best.Con)
	assert.Equal(t, fallbacks+2, testutil.ToFloat64(metrics.BestCommentFallbacks))

	topKey := counters.TopKey(models.SidePro, f.debate.ID)
	members, err := f.mr.ZMembers(topKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{older.ID, newer.ID}, members)
	assert.Positive(t, f.mr.TTL(topKey))
	assert.False(t, f.mr.Exists(counters.TopKey(models.SideCon, f.debate.ID)))
}

func TestBestReadsWarmCache(t *testing.T) {
	f := newFixture(t)
	a := f.comment(models.SideCon, 0, time.Hour)
	b := f.comment(models.SideCon, 0, 2*time.Hour)
	low := f.comment(models.SideCon, 0, 3*time.Hour)

	topKey := counters.TopKey(models.SideCon, f.debate.ID)
	_, _ = f.mr.ZAdd(topKey, 9, a.ID)
	_, _ = f.mr.ZAdd(topKey, 9, b.ID)
	_, _ = f.mr.ZAdd(topKey, 1, low.ID)

	best, err := f.svc.Best(context.Background(), f.debate.ID)
	require.NoError(t, err)
	require.Len(t, best.Con, 2)
	assert.Equal(t, b.ID, best.Con[0].ID)
	assert.Equal(t, a.ID, best.Con[1].ID)
}

func TestBestDoesNotSeedClosedDebate(t *testing.T) {
	f := newFixture(t)
	f.debate.Status = models.StatusClosed
	f.db.PutDebate(f.debate)
	c := f.comment(models.SidePro, 1, time.Hour)

	best, err := f.svc.Best(context.Background(), f.debate.ID)
	require.NoError(t, err)
	require.Len(t, best.Pro, 1)
	assert.Equal(t, c.ID, best.Pro[0].ID)
	assert.Empty(t, f.mr.Keys())
}

func TestBestUnknownDebate(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Best(context.Background(), "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.svc.Add(ctx, models.CreateCommentRequest{
		DebateID: f.debate.ID,
		Side:     models.SidePro,
		Nickname: " ann ",
		Content:  "Spaces, always.",
	}, identity)
	require.NoError(t, err)
	assert.Equal(t, "ann", c.Nickname)

	stored, ok := f.db.GetComment(c.ID)
	require.True(t, ok)
	assert.Equal(t, identity, stored.IdentityHash)
	d, _ := f.db.GetDebate(f.debate.ID)
	assert.Equal(t, int64(1), d.CommentCount)

	commentsKey := counters.CommentsKey(f.debate.ID)
	participantsKey := counters.ParticipantsKey(f.debate.ID)
	v, err := f.mr.Get(commentsKey)
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	isMember, err := f.mr.SIsMember(participantsKey, identity)
	require.NoError(t, err)
	assert.True(t, isMember)
	assert.Positive(t, f.mr.TTL(commentsKey))
	assert.Positive(t, f.mr.TTL(participantsKey))
}

func TestAddRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	closed := f.db.PutDebate(models.Debate{Status: models.StatusClosed, Deadline: now.Add(time.Hour)})
	valid := models.CreateCommentRequest{DebateID: f.debate.ID, Side: models.SideCon, Nickname: "n", Content: "c"}

	tests := []struct {
		name     string
		mutate   func(r *models.CreateCommentRequest)
		identity string
		want     error
	}{
		{"closed debate", func(r *models.CreateCommentRequest) { r.DebateID = closed.ID }, identity, apperr.ErrValidation},
		{"missing debate", func(r *models.CreateCommentRequest) { r.DebateID = "00000000-0000-0000-0000-000000000000" }, identity, apperr.ErrNotFound},
		{"bad side", func(r *models.CreateCommentRequest) { r.Side = "MAYBE" }, identity, apperr.ErrValidation},
		{"blank content", func(r *models.CreateCommentRequest) { r.Content = "  " }, identity, apperr.ErrValidation},
		{"no identity", func(*models.CreateCommentRequest) {}, "", apperr.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := f.svc.Add(ctx, req, tt.identity)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.mr.Keys())
}

func TestListWalksNewestFirstWithLikedFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var want []string
	for i := range 5 {
		c := f.comment(models.SidePro, 0, time.Duration(i)*time.Minute)
		want = append(want, c.ID)
	}
	_, err := f.svc.ToggleLike(ctx, want[3], identity)
	require.NoError(t, err)

	var (
		got    []string
		liked  []string
		cursor string
		pages  int
	)
	for {
		page, err := f.svc.List(ctx, f.debate.ID, identity, comments.ListRequest{Cursor: cursor, Limit: 2})
		require.NoError(t, err)
		pages++
		for _, item := range page.Items {
			got = append(got, item.ID)
			if item.Liked {
				liked = append(liked, item.ID)
			}
		}
		if page.NextCursor == nil {
			break
		}
		cursor = *page.NextCursor
	}

	assert.Equal(t, want, got)
	assert.Equal(t, []string{want[3]}, liked)
	assert.Equal(t, 3, pages)
}

func TestListRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.List(ctx, f.debate.ID, identity, comments.ListRequest{Cursor: "not-a-uuid"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.List(ctx, f.debate.ID, identity, comments.ListRequest{Limit: 51})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.svc.List(ctx, "00000000-0000-0000-0000-000000000000", identity, comments.ListRequest{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	page, err := f.svc.List(ctx, f.debate.ID, "", comments.ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Nil(t, page.NextCursor)
}

func TestListStoreFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.db.Err = assert.AnError
	_, err := f.svc.List(context.Background(), f.debate.ID, identity, comments.ListRequest{})
	assert.ErrorIs(t, err, apperr.ErrInternal)
}
