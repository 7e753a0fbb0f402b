// Package keywords keeps the trending keyword set and its 0-100 display
// index. It shares nothing with debate ranking except the job scheduler.
package keywords

import (
	"context"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/counters"
)

// Window is how many of the top keywords get a display index.
const Window = 5

const maxWordLen = 40

type Keyword struct {
	Word  string  `json:"word"`
	Score float64 `json:"score"`
	Index int     `json:"index"`
}

type Service struct {
	kv *counters.Store
}

func NewService(kv *counters.Store) *Service {
	return &Service{kv: kv}
}

// Track bumps a keyword's score by one.
func (s *Service) Track(ctx context.Context, word string) error {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" || utf8.RuneCountInString(word) > maxWordLen {
		return apperr.Validation("keyword must be 1 to %d characters", maxWordLen)
	}
	err := s.kv.Write(ctx, func(b *counters.Batch) {
		b.ZIncrBy(counters.KeywordKey, word, 1)
	})
	if err != nil {
		return apperr.Internal(err, "failed to track keyword")
	}
	return nil
}

// Normalize stores, for each of the top Window keywords, its score as a
// percentage of the current maximum. A maximum of zero gives every word 0.
func (s *Service) Normalize(ctx context.Context) error {
	top, err := s.kv.RevRange(ctx, counters.KeywordKey, 0, Window-1)
	if err != nil {
		return err
	}
	if len(top) == 0 {
		return nil
	}

	var highest float64
	for _, m := range top {
		highest = math.Max(highest, m.Score)
	}
	index := make(map[string]any, len(top))
	for _, m := range top {
		index[m.ID] = percentOf(m.Score, highest)
	}
	return s.kv.Atomic(ctx, func(b *counters.Batch) {
		b.HSet(counters.KeywordIndexKey, index)
	})
}

func percentOf(score, highest float64) int {
	if highest == 0 {
		return 0
	}
	return int(math.Round(score / highest * 100))
}

// Live returns the top n keywords with their last normalised index.
// Words not yet normalised report 0.
func (s *Service) Live(ctx context.Context, n int) ([]Keyword, error) {
	if n < 1 || n > 50 {
		return nil, apperr.Validation("limit must be between 1 and 50")
	}
	top, err := s.kv.RevRange(ctx, counters.KeywordKey, 0, int64(n-1))
	if err != nil {
		return nil, apperr.Internal(err, "failed to read keywords")
	}
	out := make([]Keyword, 0, len(top))
	if len(top) == 0 {
		return out, nil
	}

	index, err := s.kv.HGetAll(ctx, counters.KeywordIndexKey)
	if err != nil {
		return nil, apperr.Internal(err, "failed to read keyword index")
	}
	for _, m := range top {
		idx, _ := strconv.Atoi(index[m.ID])
		out = append(out, Keyword{Word: m.ID, Score: m.Score, Index: idx})
	}
	return out, nil
}
