package ranking

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/counters"
)

// HotCursor is the last entry of a hot page.
type HotCursor struct {
	Score float64
	ID    string
}

func (c HotCursor) String() string {
	return counters.FormatScore(c.Score) + ":" + c.ID
}

// Keyset is the last row of an imminent or latest page: the ordering
// column and the id tie-break.
type Keyset struct {
	At time.Time
	ID string
}

func (k Keyset) String() string {
	return strconv.FormatInt(k.At.UnixMilli(), 10) + ":" + k.ID
}

func ParseHotCursor(s string) (HotCursor, error) {
	head, id, err := splitCursor(s)
	if err != nil {
		return HotCursor{}, err
	}
	score, err := strconv.ParseFloat(head, 64)
	if err != nil || math.IsInf(score, 0) || math.IsNaN(score) {
		return HotCursor{}, apperr.Validation("invalid cursor %q", s)
	}
	return HotCursor{Score: score, ID: id}, nil
}

func ParseKeyset(s string) (Keyset, error) {
	head, id, err := splitCursor(s)
	if err != nil {
		return Keyset{}, err
	}
	ms, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return Keyset{}, apperr.Validation("invalid cursor %q", s)
	}
	return Keyset{At: time.UnixMilli(ms).UTC(), ID: id}, nil
}

func splitCursor(s string) (head, id string, err error) {
	head, id, ok := strings.Cut(s, ":")
	if !ok || head == "" {
		return "", "", apperr.Validation("invalid cursor %q", s)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", apperr.Validation("invalid cursor %q", s)
	}
	return head, id, nil
}
