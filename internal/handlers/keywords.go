package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type KeywordHandler struct {
	svc KeywordService
}

func (h *KeywordHandler) GetKeywords(c *gin.Context) {
	var q struct {
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.Limit == 0 {
		q.Limit = 5
	}

	kws, err := h.svc.Live(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, kws)
}

func (h *KeywordHandler) TrackKeyword(c *gin.Context) {
	var input struct {
		Word string `json:"word" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.svc.Track(c.Request.Context(), input.Word); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
