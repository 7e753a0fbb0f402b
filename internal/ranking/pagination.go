package ranking

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/models"
)

type Sort string

const (
	SortHot      Sort = "hot"
	SortImminent Sort = "imminent"
	SortLatest   Sort = "latest"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50
)

// KeyOrder selects the column and direction of a keyset scan.
type KeyOrder int

const (
	// ByDeadlineAsc orders by deadline ascending then id ascending.
	ByDeadlineAsc KeyOrder = iota
	// ByCreatedDesc orders by created_at descending then id descending.
	ByCreatedDesc
)

// DebateSource is the durable storage the resolver reads from.
type DebateSource interface {
	// DebateKeys returns up to limit (ordering column, id) pairs strictly
	// after the given keyset in order. A nil keyset starts at the beginning.
	DebateKeys(ctx context.Context, order KeyOrder, after *Keyset, limit int) ([]Keyset, error)
	// DebatesByIDs returns the rows that exist, in any order.
	DebatesByIDs(ctx context.Context, ids []string) ([]models.Debate, error)
}

type PageRequest struct {
	Sort   Sort   `form:"sort" validate:"omitempty,oneof=hot imminent latest"`
	Limit  int    `form:"limit" validate:"gte=0,lte=50"`
	Cursor string `form:"cursor" validate:"omitempty,max=128"`
}

type Page struct {
	Items      []models.Debate `json:"items"`
	NextCursor *string         `json:"next_cursor"`
}

// Resolver serves cursor paginated debate lists in three orders.
type Resolver struct {
	index    *Index
	source   DebateSource
	validate *validator.Validate
}

func NewResolver(index *Index, source DebateSource) *Resolver {
	return &Resolver{index: index, source: source, validate: validator.New()}
}

// Resolve returns one page. NextCursor is set only when the page came back
// full. Ids that vanished from durable storage between the two reads are
// dropped, so a page may hold fewer than limit items even when full.
func (r *Resolver) Resolve(ctx context.Context, req PageRequest) (*Page, error) {
	if err := r.validate.Struct(req); err != nil {
		return nil, apperr.Validation("invalid page request: %v", err)
	}
	if req.Sort == "" {
		req.Sort = SortHot
	}
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}

	var (
		ids  []string
		next string
		err  error
	)
	switch req.Sort {
	case SortHot:
		ids, next, err = r.hotIDs(ctx, req)
	case SortImminent:
		ids, next, err = r.keyedIDs(ctx, ByDeadlineAsc, req)
	case SortLatest:
		ids, next, err = r.keyedIDs(ctx, ByCreatedDesc, req)
	}
	if err != nil {
		return nil, err
	}

	page := &Page{Items: []models.Debate{}}
	if next != "" {
		page.NextCursor = &next
	}
	if len(ids) == 0 {
		return page, nil
	}

	rows, err := r.source.DebatesByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Internal(err, "failed to load debates")
	}
	byID := make(map[string]models.Debate, len(rows))
	for _, d := range rows {
		byID[d.ID] = d
	}
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			page.Items = append(page.Items, d)
		}
	}
	return page, nil
}

func (r *Resolver) hotIDs(ctx context.Context, req PageRequest) ([]string, string, error) {
	var cursor *HotCursor
	if req.Cursor != "" {
		c, err := ParseHotCursor(req.Cursor)
		if err != nil {
			return nil, "", err
		}
		cursor = &c
	}

	entries, err := r.index.Page(ctx, cursor, req.Limit)
	if err != nil {
		return nil, "", apperr.Internal(err, "failed to read ranking")
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	var next string
	if len(entries) == req.Limit {
		last := entries[len(entries)-1]
		next = HotCursor{Score: last.Score, ID: last.ID}.String()
	}
	return ids, next, nil
}

func (r *Resolver) keyedIDs(ctx context.Context, order KeyOrder, req PageRequest) ([]string, string, error) {
	var after *Keyset
	if req.Cursor != "" {
		k, err := ParseKeyset(req.Cursor)
		if err != nil {
			return nil, "", err
		}
		after = &k
	}

	keys, err := r.source.DebateKeys(ctx, order, after, req.Limit)
	if err != nil {
		return nil, "", apperr.Internal(fmt.Errorf("debate keys: %w", err), "failed to list debates")
	}
	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = k.ID
	}
	var next string
	if len(keys) == req.Limit {
		next = keys[len(keys)-1].String()
	}
	return ids, next, nil
}
