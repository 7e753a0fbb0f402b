package comments

import (
	"context"

	"github.com/emilythestrangee/updown/backend/internal/models"
)

// LikeTx is the durable storage visible inside one like toggle transaction.
type LikeTx interface {
	// Comment returns apperr NotFound when the comment does not exist.
	Comment(ctx context.Context, id string) (*models.Comment, error)
	Debate(ctx context.Context, id string) (*models.Debate, error)
	// FindLike returns nil without error when the pair has no like.
	FindLike(ctx context.Context, commentID, identityHash string) (*models.CommentLike, error)
	// CreateLike returns apperr Conflict when the pair already has a like.
	CreateLike(ctx context.Context, like *models.CommentLike) error
	DeleteLike(ctx context.Context, id string) error
	AdjustCommentLikes(ctx context.Context, commentID string, delta int64) error
	AdjustSideLikes(ctx context.Context, debateID string, side models.Side, delta int64) error
}

// LikeStore runs fn in a single durable transaction. Returning an error
// from fn rolls it back.
type LikeStore interface {
	InTx(ctx context.Context, fn func(tx LikeTx) error) error
}

// Store is the durable storage the comment flows read and write outside
// the like transaction.
type Store interface {
	LikeStore
	Debate(ctx context.Context, id string) (*models.Debate, error)
	// CreateComment inserts c and bumps the debate's comment count.
	CreateComment(ctx context.Context, c *models.Comment) error
	// ListComments returns comments newest first (created_at, id), strictly
	// after the comment afterID when it is set.
	ListComments(ctx context.Context, debateID, afterID string, limit int) ([]models.Comment, error)
	LikedCommentIDs(ctx context.Context, identityHash string, commentIDs []string) (map[string]bool, error)
	// MaxSideLikes reports the highest like count on one side. ok is false
	// when the side has no comments.
	MaxSideLikes(ctx context.Context, debateID string, side models.Side) (top int64, ok bool, err error)
	CommentIDsWithLikes(ctx context.Context, debateID string, side models.Side, likes int64) ([]string, error)
	// CommentsByIDs returns the comments that exist, oldest first.
	CommentsByIDs(ctx context.Context, ids []string) ([]models.Comment, error)
}
