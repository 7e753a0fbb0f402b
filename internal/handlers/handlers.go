// Package handlers adapts the debate, comment and keyword services to gin.
// Handlers bind and translate; every rule lives in the services.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/updown/backend/internal/apperr"
	"github.com/emilythestrangee/updown/backend/internal/comments"
	"github.com/emilythestrangee/updown/backend/internal/debates"
	"github.com/emilythestrangee/updown/backend/internal/identity"
	"github.com/emilythestrangee/updown/backend/internal/keywords"
	"github.com/emilythestrangee/updown/backend/internal/logging"
	"github.com/emilythestrangee/updown/backend/internal/models"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
)

type DebateService interface {
	Create(ctx context.Context, req models.CreateDebateRequest) (*models.DebateView, error)
	Get(ctx context.Context, id string) (*models.DebateView, error)
	List(ctx context.Context, req ranking.PageRequest) (*debates.Page, error)
	RecalcHot(ctx context.Context, id string) (float64, error)
}

type CommentService interface {
	Add(ctx context.Context, req models.CreateCommentRequest, identityHash string) (*models.Comment, error)
	List(ctx context.Context, debateID, identityHash string, req comments.ListRequest) (*comments.ListPage, error)
	Best(ctx context.Context, debateID string) (*comments.Best, error)
	ToggleLike(ctx context.Context, commentID, identityHash string) (*comments.ToggleResult, error)
}

type KeywordService interface {
	Live(ctx context.Context, n int) ([]keywords.Keyword, error)
	Track(ctx context.Context, word string) error
}

// Handler combines all handler types
type Handler struct {
	Debate  *DebateHandler
	Comment *CommentHandler
	Keyword *KeywordHandler
	hasher  *identity.Hasher
}

func NewHandler(d DebateService, c CommentService, k KeywordService, hasher *identity.Hasher) *Handler {
	return &Handler{
		Debate:  &DebateHandler{svc: d},
		Comment: &CommentHandler{svc: c},
		Keyword: &KeywordHandler{svc: k},
		hasher:  hasher,
	}
}

const identityKey = "identity_hash"

// Identity hashes the client IP into the request's identity. Requests whose
// IP cannot be hashed carry no identity, which the services reject where
// one is required.
func (h *Handler) Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash, err := h.hasher.Hash(c.ClientIP()); err == nil {
			c.Set(identityKey, hash)
		}
		c.Next()
	}
}

func identityOf(c *gin.Context) string {
	return c.GetString(identityKey)
}

// respondError writes err as {"error": message} with the status of its
// code. Internal causes are logged, never sent.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logging.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("request failed")
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
