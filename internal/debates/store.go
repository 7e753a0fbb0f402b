package debates

import (
	"context"
	"time"

	"github.com/emilythestrangee/updown/backend/internal/models"
	"github.com/emilythestrangee/updown/backend/internal/ranking"
)

type Store interface {
	ranking.DebateSource
	// CreateDebate returns apperr NotFound when the category does not exist.
	CreateDebate(ctx context.Context, d *models.Debate) error
	Debate(ctx context.Context, id string) (*models.Debate, error)
	LiveDebates(ctx context.Context, now time.Time) ([]models.Debate, error)
	SetHotScores(ctx context.Context, scores map[string]float64) error
}
