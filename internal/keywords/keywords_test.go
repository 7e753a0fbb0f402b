package keywords

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/counters"
)

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	kv := counters.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = kv.Close() })
	return NewService(kv), mr
}

func TestNormalize(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestService(t)
	for word, score := range map[string]float64{"go": 40, "rust": 30, "zig": 10, "c": 3, "d": 1, "tail": 0.5} {
		_, err := mr.ZAdd(counters.KeywordKey, score, word)
		require.NoError(t, err)
	}

	require.NoError(t, s.Normalize(ctx))

	assert.Equal(t, "100", mr.HGet(counters.KeywordIndexKey, "go"))
	assert.Equal(t, "75", mr.HGet(counters.KeywordIndexKey, "rust"))
	assert.Equal(t, "25", mr.HGet(counters.KeywordIndexKey, "zig"))
	assert.Equal(t, "8", mr.HGet(counters.KeywordIndexKey, "c"))
	assert.Equal(t, "3", mr.HGet(counters.KeywordIndexKey, "d"))
	assert.Empty(t, mr.HGet(counters.KeywordIndexKey, "tail"), "outside the window")
}

func TestNormalizeZeroMaximum(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestService(t)
	_, _ = mr.ZAdd(counters.KeywordKey, 0, "quiet")

	require.NoError(t, s.Normalize(ctx))
	assert.Equal(t, "0", mr.HGet(counters.KeywordIndexKey, "quiet"))
}

func TestNormalizeEmptySetWritesNothing(t *testing.T) {
	s, mr := newTestService(t)
	require.NoError(t, s.Normalize(context.Background()))
	assert.False(t, mr.Exists(counters.KeywordIndexKey))
}

func TestTrackAndLive(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	require.NoError(t, s.Track(ctx, " Go "))
	require.NoError(t, s.Track(ctx, "go"))
	require.NoError(t, s.Track(ctx, "rust"))
	require.NoError(t, s.Normalize(ctx))
	require.NoError(t, s.Track(ctx, "zig"))

	got, err := s.Live(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []Keyword{
		{Word: "go", Score: 2, Index: 100},
		{Word: "zig", Score: 1, Index: 0},
		{Word: "rust", Score: 1, Index: 50},
	}, got)
}

func TestTrackRejectsBlank(t *testing.T) {
	s, _ := newTestService(t)
	assert.ErrorIs(t, s.Track(context.Background(), "   "), apperr.ErrValidation)
}

func TestLiveEmpty(t *testing.T) {
	s, _ := newTestService(t)
	got, err := s.Live(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Live(context.Background(), 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
