// Package counters is the access layer for the fast keyed store (Redis).
// It exposes the primitives the ranking, job and comment packages need and
// carries no policy of its own.
package counters

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/emilythestrangee/updown/backend/internal/config"
)

// Member is one sorted set entry.
type Member struct {
	ID    string
	Score float64
}

// Counters are the per-debate values the hot score is computed from.
type Counters struct {
	Views        int64
	Comments     int64
	Participants int64
}

type Store struct {
	rdb redis.UniversalClient
}

func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Open connects using a redis:// or rediss:// URL and verifies the
// connection with a PING.
func Open(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.TLSConfig != nil && cfg.InsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // managed providers with self-signed certs
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	s := New(redis.NewClient(opts))
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// Get reads an integer key. ok is false when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (n int64, ok bool, err error) {
	n, err = s.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", key, err)
	}
	return n, true, nil
}

// GetMany reads integer keys in one pipeline. Absent keys are left out of
// the result.
func (s *Store) GetMany(ctx context.Context, keys []string) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	cmds := make([]*redis.StringCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Get(ctx, k)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipelined get: %w", err)
	}

	out := make(map[string]int64, len(keys))
	for i, cmd := range cmds {
		n, err := cmd.Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", keys[i], err)
		}
		out[keys[i]] = n
	}
	return out, nil
}

// HGetAllMany reads hashes in one pipeline. Absent (empty) hashes are left
// out of the result.
func (s *Store) HGetAllMany(ctx context.Context, keys []string) (map[string]map[string]string, error) {
	if len(keys) == 0 {
		return map[string]map[string]string{}, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipelined hgetall: %w", err)
	}

	out := make(map[string]map[string]string, len(keys))
	for i, cmd := range cmds {
		if m := cmd.Val(); len(m) > 0 {
			out[keys[i]] = m
		}
	}
	return out, nil
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return m, nil
}

// ReadCounters reads views, comments and participant cardinality for every
// id from a single pipeline so one pass sees one snapshot. Missing keys
// count as zero.
func (s *Store) ReadCounters(ctx context.Context, ids []string) ([]Counters, error) {
	out := make([]Counters, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	views := make([]*redis.StringCmd, len(ids))
	comments := make([]*redis.StringCmd, len(ids))
	participants := make([]*redis.IntCmd, len(ids))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			views[i] = pipe.Get(ctx, ViewsKey(id))
			comments[i] = pipe.Get(ctx, CommentsKey(id))
			participants[i] = pipe.SCard(ctx, ParticipantsKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pipelined counters: %w", err)
	}

	for i := range ids {
		if out[i].Views, err = intOrZero(views[i]); err != nil {
			return nil, err
		}
		if out[i].Comments, err = intOrZero(comments[i]); err != nil {
			return nil, err
		}
		if out[i].Participants, err = participants[i].Result(); err != nil {
			return nil, fmt.Errorf("scard: %w", err)
		}
	}
	return out, nil
}

func intOrZero(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return n, nil
}

// Existing reports which of keys exist, from one pipeline.
func (s *Store) Existing(ctx context.Context, keys ...string) (map[string]bool, error) {
	cmds := make([]*redis.IntCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.Exists(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipelined exists: %w", err)
	}
	out := make(map[string]bool, len(keys))
	for i, cmd := range cmds {
		out[keys[i]] = cmd.Val() > 0
	}
	return out, nil
}

// MembersMany reads every member of several sorted sets in one pipeline.
// Absent sets are left out of the result.
func (s *Store) MembersMany(ctx context.Context, keys []string) (map[string][]string, error) {
	out := make(map[string][]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cmds := make([]*redis.StringSliceCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.ZRange(ctx, k, 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipelined zrange: %w", err)
	}
	for i, cmd := range cmds {
		if ids := cmd.Val(); len(ids) > 0 {
			out[keys[i]] = ids
		}
	}
	return out, nil
}

// Members returns every member of a sorted set in ascending score order.
func (s *Store) Members(ctx context.Context, key string) ([]string, error) {
	ids, err := s.rdb.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange %s: %w", key, err)
	}
	return ids, nil
}

func (s *Store) Card(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", key, err)
	}
	return n, nil
}

// RevRange returns entries by rank, highest score first. Equal scores come
// back in descending member order.
func (s *Store) RevRange(ctx context.Context, key string, start, stop int64) ([]Member, error) {
	zs, err := s.rdb.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange %s: %w", key, err)
	}
	return toMembers(zs), nil
}

// RevRangeByScore returns up to count entries with lo <= score <= hi,
// highest first, skipping offset entries. Infinite bounds are allowed.
func (s *Store) RevRangeByScore(ctx context.Context, key string, hi, lo float64, offset, count int64) ([]Member, error) {
	zs, err := s.rdb.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Max:    FormatScore(hi),
		Min:    FormatScore(lo),
		Offset: offset,
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrangebyscore %s: %w", key, err)
	}
	return toMembers(zs), nil
}

func (s *Store) Remove(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	n, err := s.rdb.ZRem(ctx, key, args...).Result()
	if err != nil {
		return 0, fmt.Errorf("zrem %s: %w", key, err)
	}
	return n, nil
}

// FormatScore renders a score the way Redis accepts it in range bounds.
func FormatScore(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "+inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

func toMembers(zs []redis.Z) []Member {
	out := make([]Member, len(zs))
	for i, z := range zs {
		id, _ := z.Member.(string)
		out[i] = Member{ID: id, Score: z.Score}
	}
	return out
}

// Batch queues writes. Nothing is sent until the surrounding Write or
// Atomic call returns.
type Batch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

func (b *Batch) Set(key string, value int64) {
	b.pipe.Set(b.ctx, key, value, 0)
}

func (b *Batch) IncrBy(key string, delta int64) {
	b.pipe.IncrBy(b.ctx, key, delta)
}

func (b *Batch) HSet(key string, values map[string]any) {
	b.pipe.HSet(b.ctx, key, values)
}

func (b *Batch) HIncrBy(key, field string, delta int64) {
	b.pipe.HIncrBy(b.ctx, key, field, delta)
}

func (b *Batch) SAdd(key, member string) {
	b.pipe.SAdd(b.ctx, key, member)
}

func (b *Batch) ZAdd(key string, members ...Member) {
	if len(members) == 0 {
		return
	}
	zs := make([]redis.Z, len(members))
	for i, m := range members {
		zs[i] = redis.Z{Score: m.Score, Member: m.ID}
	}
	b.pipe.ZAdd(b.ctx, key, zs...)
}

// ZAddNX adds m only if it is not already a member.
func (b *Batch) ZAddNX(key string, m Member) {
	b.pipe.ZAddNX(b.ctx, key, redis.Z{Score: m.Score, Member: m.ID})
}

func (b *Batch) ZRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	b.pipe.ZRem(b.ctx, key, args...)
}

func (b *Batch) ZIncrBy(key, member string, delta float64) {
	b.pipe.ZIncrBy(b.ctx, key, delta, member)
}

// ZKeepTop drops everything but the k highest entries.
func (b *Batch) ZKeepTop(key string, k int64) {
	b.pipe.ZRemRangeByRank(b.ctx, key, 0, -(k + 1))
}

func (b *Batch) ExpireAt(key string, at time.Time) {
	b.pipe.ExpireAt(b.ctx, key, at)
}

func (b *Batch) Del(keys ...string) {
	if len(keys) > 0 {
		b.pipe.Del(b.ctx, keys...)
	}
}

// Write sends the queued commands in one pipeline.
func (s *Store) Write(ctx context.Context, fn func(b *Batch)) error {
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(&Batch{ctx: ctx, pipe: pipe})
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipelined write: %w", err)
	}
	return nil
}

// Atomic sends the queued commands inside MULTI/EXEC.
func (s *Store) Atomic(ctx context.Context, fn func(b *Batch)) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fn(&Batch{ctx: ctx, pipe: pipe})
		return nil
	})
	if err != nil {
		return fmt.Errorf("transactional write: %w", err)
	}
	return nil
}
