package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/updown/backend/internal/comments"
	"github.com/emilythestrangee/updown/backend/internal/models"
)

type CommentHandler struct {
	svc CommentService
}

// GetComments returns a debate's comments, newest first, flagged with
// whether the caller liked each one
func (h *CommentHandler) GetComments(c *gin.Context) {
	var req comments.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.svc.List(c.Request.Context(), c.Param("id"), identityOf(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *CommentHandler) GetBestComments(c *gin.Context) {
	best, err := h.svc.Best(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, best)
}

func (h *CommentHandler) CreateComment(c *gin.Context) {
	var input models.CreateCommentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	comment, err := h.svc.Add(c.Request.Context(), input, identityOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// ToggleLike likes the comment for the caller, or takes the like back
func (h *CommentHandler) ToggleLike(c *gin.Context) {
	res, err := h.svc.ToggleLike(c.Request.Context(), c.Param("commentId"), identityOf(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
