package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is a debate's lifecycle state. It only moves forward:
// upcoming -> ongoing -> closed.
type Status string

const (
	StatusUpcoming Status = "upcoming"
	StatusOngoing  Status = "ongoing"
	StatusClosed   Status = "closed"
)

type Category struct {
	ID   int    `gorm:"primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`
}

type Debate struct {
	ID               string     `gorm:"primaryKey;type:uuid;index:idx_debates_deadline_id,priority:2;index:idx_debates_created_id,priority:2" json:"id"`
	Title            string     `gorm:"not null" json:"title"`
	Content          string     `json:"content"`
	Status           Status     `gorm:"type:varchar(16);not null;default:ongoing;index" json:"status"`
	StartAt          *time.Time `json:"start_at,omitempty"`
	Deadline         time.Time  `gorm:"not null;index:idx_debates_deadline_id,priority:1" json:"deadline"`
	ProCount         int64      `gorm:"default:0" json:"pro_count"`
	ConCount         int64      `gorm:"default:0" json:"con_count"`
	CommentCount     int64      `gorm:"default:0" json:"comment_count"`
	ParticipantCount int64      `gorm:"default:0" json:"participant_count"`
	ViewCount        int64      `gorm:"default:0" json:"view_count"`
	ProCommentLikes  int64      `gorm:"default:0" json:"pro_comment_likes"`
	ConCommentLikes  int64      `gorm:"default:0" json:"con_comment_likes"`
	HotScore         float64    `gorm:"default:0" json:"hot_score"`
	CategoryID       *int       `json:"category_id,omitempty"`
	Category         *Category  `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	CreatedAt        time.Time  `gorm:"index:idx_debates_created_id,priority:1" json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BeforeCreate assigns an id and normalises timestamps to millisecond
// precision so keyset cursors (epoch millis) compare exactly.
func (d *Debate) BeforeCreate(_ *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Deadline = d.Deadline.Truncate(time.Millisecond)
	if d.StartAt != nil {
		t := d.StartAt.Truncate(time.Millisecond)
		d.StartAt = &t
	}
	return nil
}

// Live reports whether the debate still accepts activity at now.
func (d *Debate) Live(now time.Time) bool {
	return d.Status != StatusClosed && d.Deadline.After(now)
}

// RankedSince is the instant hot-score freshness decay is measured from.
func (d *Debate) RankedSince() time.Time {
	if d.StartAt != nil {
		return *d.StartAt
	}
	return d.CreatedAt
}

// InitialStatus picks the status a debate starts with.
func InitialStatus(startAt *time.Time, now time.Time) Status {
	if startAt != nil && startAt.After(now) {
		return StatusUpcoming
	}
	return StatusOngoing
}

type CreateDebateRequest struct {
	Title      string     `json:"title" binding:"required,max=200"`
	Content    string     `json:"content"`
	StartAt    *time.Time `json:"start_at"`
	Deadline   time.Time  `json:"deadline" binding:"required"`
	CategoryID *int       `json:"category_id"`
}

// SideLikes is the per-side comment like tally of one debate.
type SideLikes struct {
	Pro int64
	Con int64
}

// DebateView is a debate with the figures clients display next to it.
type DebateView struct {
	Debate
	ProRatio float64 `json:"pro_ratio"`
	ConRatio float64 `json:"con_ratio"`
	// DDay is the number of days until the deadline, rounded up.
	DDay int `json:"d_day"`
}

func NewDebateView(d Debate, now time.Time) DebateView {
	return DebateView{
		Debate:   d,
		ProRatio: ratio(d.ProCount, d.ConCount),
		ConRatio: ratio(d.ConCount, d.ProCount),
		DDay:     int(math.Ceil(d.Deadline.Sub(now).Hours() / 24)),
	}
}

func ratio(a, b int64) float64 {
	if a+b == 0 {
		return 0
	}
	return float64(a) / float64(a+b)
}
