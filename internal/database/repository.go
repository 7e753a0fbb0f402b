package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/comments"
	"github.com/emilythestrangee/updown/backend/internal/models"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
)

// Postgres error codes the repository translates.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

// inBatchSize bounds the bind parameters of one IN query.
const inBatchSize = 1000

// Repository implements every durable access pattern on top of gorm.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// mapErr turns driver errors into typed failures. what names the entity
// for NotFound messages.
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("%s not found", what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Conflict("%s already exists", what)
		case pgForeignKeyViolation:
			return apperr.NotFound("referenced row for %s not found", what)
		case pgInvalidText:
			return apperr.Validation("malformed identifier for %s", what)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// Debates

func (r *Repository) CreateDebate(ctx context.Context, d *models.Debate) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return apperr.NotFound("category not found")
		}
		return mapErr(err, "debate")
	}
	return nil
}

func (r *Repository) Debate(ctx context.Context, id string) (*models.Debate, error) {
	var d models.Debate
	if err := r.db.WithContext(ctx).Preload("Category").First(&d, "id = ?", id).Error; err != nil {
		return nil, mapErr(err, "debate")
	}
	return &d, nil
}

func (r *Repository) DebatesByIDs(ctx context.Context, ids []string) ([]models.Debate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Debate
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, mapErr(err, "debates")
	}
	return out, nil
}

// CommentLikes returns the durable like count of each comment that still
// exists. Missing ids are absent from the result.
func (r *Repository) CommentLikes(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	for batch := range slices.Chunk(ids, inBatchSize) {
		var rows []struct {
			ID    string
			Likes int64
		}
		err := r.db.WithContext(ctx).
			Model(&models.Comment{}).
			Select("id", "likes").
			Where("id IN ?", batch).
			Find(&rows).Error
		if err != nil {
			return nil, mapErr(err, "comments")
		}
		for _, row := range rows {
			out[row.ID] = row.Likes
		}
	}
	return out, nil
}

func (r *Repository) LiveDebates(ctx context.Context, now time.Time) ([]models.Debate, error) {
	var out []models.Debate
	err := r.db.WithContext(ctx).
		Where("status <> ? AND deadline > ?", models.StatusClosed, now).
		Find(&out).Error
	if err != nil {
		return nil, mapErr(err, "debates")
	}
	return out, nil
}

// DebateKeys selects only the ordering column and id. Rows are fetched
// separately with DebatesByIDs.
func (r *Repository) DebateKeys(ctx context.Context, order ranking.KeyOrder, after *ranking.Keyset, limit int) ([]ranking.Keyset, error) {
	q := r.db.WithContext(ctx).Model(&models.Debate{}).Limit(limit)
	switch order {
	case ranking.ByDeadlineAsc:
		q = q.Select("id", "deadline").Order("deadline ASC, id ASC")
		if after != nil {
			q = q.Where("deadline > ? OR (deadline = ? AND id > ?)", after.At, after.At, after.ID)
		}
	case ranking.ByCreatedDesc:
		q = q.Select("id", "created_at").Order("created_at DESC, id DESC")
		if after != nil {
			q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", after.At, after.At, after.ID)
		}
	default:
		return nil, fmt.Errorf("unknown key order %d", order)
	}

	var rows []models.Debate
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err, "debates")
	}
	keys := make([]ranking.Keyset, len(rows))
	for i, d := range rows {
		keys[i] = ranking.Keyset{ID: d.ID, At: d.Deadline}
		if order == ranking.ByCreatedDesc {
			keys[i].At = d.CreatedAt
		}
	}
	return keys, nil
}

// AdvanceStatuses runs both transitions in one transaction. An upcoming
// debate whose deadline has also passed ends the run closed.
func (r *Repository) AdvanceStatuses(ctx context.Context, now time.Time) (started, closed int64, err error) {
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Debate{}).
			Where("status = ? AND start_at <= ?", models.StatusUpcoming, now).
			Update("status", models.StatusOngoing)
		if res.Error != nil {
			return res.Error
		}
		started = res.RowsAffected

		res = tx.Model(&models.Debate{}).
			Where("status = ? AND deadline <= ?", models.StatusOngoing, now).
			Updates(map[string]any{"status": models.StatusClosed, "closed_at": now})
		if res.Error != nil {
			return res.Error
		}
		closed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, mapErr(err, "debate status")
	}
	return started, closed, nil
}

func (r *Repository) SetViewCounts(ctx context.Context, views map[string]int64) error {
	return r.overwrite(ctx, "view counts", len(views), func(tx *gorm.DB) error {
		for id, v := range views {
			if err := tx.Model(&models.Debate{}).Where("id = ?", id).UpdateColumn("view_count", v).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) SetSideLikes(ctx context.Context, likes map[string]models.SideLikes) error {
	return r.overwrite(ctx, "side likes", len(likes), func(tx *gorm.DB) error {
		for id, l := range likes {
			err := tx.Model(&models.Debate{}).Where("id = ?", id).UpdateColumns(map[string]any{
				"pro_comment_likes": l.Pro,
				"con_comment_likes": l.Con,
			}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) SetHotScores(ctx context.Context, scores map[string]float64) error {
	return r.overwrite(ctx, "hot scores", len(scores), func(tx *gorm.DB) error {
		for id, s := range scores {
			if err := tx.Model(&models.Debate{}).Where("id = ?", id).UpdateColumn("hot_score", s).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) overwrite(ctx context.Context, what string, n int, fn func(tx *gorm.DB) error) error {
	if n == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Transaction(fn); err != nil {
		return mapErr(err, what)
	}
	return nil
}

// Comments

func (r *Repository) CreateComment(ctx context.Context, c *models.Comment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		return tx.Model(&models.Debate{}).Where("id = ?", c.DebateID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
	if err != nil {
		if isPgCode(err, pgForeignKeyViolation) {
			return apperr.NotFound("debate not found")
		}
		return mapErr(err, "comment")
	}
	return nil
}

func (r *Repository) ListComments(ctx context.Context, debateID, afterID string, limit int) ([]models.Comment, error) {
	q := r.db.WithContext(ctx).Where("debate_id = ?", debateID)
	if afterID != "" {
		var cur models.Comment
		err := r.db.WithContext(ctx).Select("id", "created_at").
			First(&cur, "id = ? AND debate_id = ?", afterID, debateID).Error
		if err != nil {
			return nil, mapErr(err, "cursor comment")
		}
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cur.CreatedAt, cur.CreatedAt, cur.ID)
	}

	var out []models.Comment
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, mapErr(err, "comments")
	}
	return out, nil
}

func (r *Repository) LikedCommentIDs(ctx context.Context, identityHash string, commentIDs []string) (map[string]bool, error) {
	liked := make(map[string]bool)
	if len(commentIDs) == 0 {
		return liked, nil
	}
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.CommentLike{}).
		Where("identity_hash = ? AND comment_id IN ?", identityHash, commentIDs).
		Pluck("comment_id", &ids).Error
	if err != nil {
		return nil, mapErr(err, "comment likes")
	}
	for _, id := range ids {
		liked[id] = true
	}
	return liked, nil
}

func (r *Repository) MaxSideLikes(ctx context.Context, debateID string, side models.Side) (int64, bool, error) {
	var top sql.NullInt64
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Select("MAX(likes)").
		Where("debate_id = ? AND side = ?", debateID, side).
		Row().Scan(&top)
	if err != nil {
		return 0, false, mapErr(err, "comments")
	}
	return top.Int64, top.Valid, nil
}

func (r *Repository) CommentIDsWithLikes(ctx context.Context, debateID string, side models.Side, likes int64) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.Comment{}).
		Where("debate_id = ? AND side = ? AND likes = ?", debateID, side, likes).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, mapErr(err, "comments")
	}
	return ids, nil
}

func (r *Repository) CommentsByIDs(ctx context.Context, ids []string) ([]models.Comment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.Comment
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("created_at ASC, id ASC").Find(&out).Error
	if err != nil {
		return nil, mapErr(err, "comments")
	}
	return out, nil
}

// InTx runs fn inside one database transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx comments.LikeTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&likeTx{db: tx})
	})
}

type likeTx struct {
	db *gorm.DB
}

// Comment locks the comment row until the transaction ends, so concurrent
// toggles of one comment run one after another and each sees the count the
// previous one committed.
func (t *likeTx) Comment(ctx context.Context, id string) (*models.Comment, error) {
	var c models.Comment
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, mapErr(err, "comment")
	}
	return &c, nil
}

func (t *likeTx) Debate(ctx context.Context, id string) (*models.Debate, error) {
	var d models.Debate
	if err := t.db.WithContext(ctx).First(&d, "id = ?", id).Error; err != nil {
		return nil, mapErr(err, "debate")
	}
	return &d, nil
}

func (t *likeTx) FindLike(ctx context.Context, commentID, identityHash string) (*models.CommentLike, error) {
	var like models.CommentLike
	err := t.db.WithContext(ctx).
		Where("comment_id = ? AND identity_hash = ?", commentID, identityHash).
		Take(&like).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err, "comment like")
	}
	return &like, nil
}

func (t *likeTx) CreateLike(ctx context.Context, like *models.CommentLike) error {
	return mapErr(t.db.WithContext(ctx).Create(like).Error, "comment like")
}

func (t *likeTx) DeleteLike(ctx context.Context, id string) error {
	return mapErr(t.db.WithContext(ctx).Delete(&models.CommentLike{}, "id = ?", id).Error, "comment like")
}

func (t *likeTx) AdjustCommentLikes(ctx context.Context, commentID string, delta int64) error {
	err := t.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", commentID).
		UpdateColumn("likes", gorm.Expr("likes + ?", delta)).Error
	return mapErr(err, "comment")
}

func (t *likeTx) AdjustSideLikes(ctx context.Context, debateID string, side models.Side, delta int64) error {
	if !side.Valid() {
		return apperr.Validation("invalid side %q", side)
	}
	column := side.Field() + "_comment_likes"
	err := t.db.WithContext(ctx).Model(&models.Debate{}).Where("id = ?", debateID).
		UpdateColumn(column, gorm.Expr(column+" + ?", delta)).Error
	return mapErr(err, "debate")
}
