package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emilythestrangee/updown/backend/internal/models"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
)

type DebateHandler struct {
	svc DebateService
}

// GetDebates returns one page of debates: ?sort=hot|imminent|latest&limit&cursor
func (h *DebateHandler) GetDebates(c *gin.Context) {
	var req ranking.PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.svc.List(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// GetDebate returns a single debate and counts the view
func (h *DebateHandler) GetDebate(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *DebateHandler) CreateDebate(c *gin.Context) {
	var input models.CreateDebateRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	d, err := h.svc.Create(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// RecalcHot rescores one debate now instead of at the next hot-score run
func (h *DebateHandler) RecalcHot(c *gin.Context) {
	id := c.Param("id")
	score, err := h.svc.RecalcHot(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "hot_score": score})
}
