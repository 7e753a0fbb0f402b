package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Side is the position a comment argues for.
type Side string

const (
	SidePro Side = "PRO"
	SideCon Side = "CON"
)

// Valid reports whether s is PRO or CON.
func (s Side) Valid() bool {
	return s == SidePro || s == SideCon
}

// Field is the lower-case name used as a hash field in the keyed store.
func (s Side) Field() string {
	return strings.ToLower(string(s))
}

type Comment struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	DebateID     string    `gorm:"type:uuid;not null;index:idx_comments_debate_side_likes,priority:1;index:idx_comments_debate_created,priority:1" json:"debate_id"`
	Debate       *Debate   `gorm:"foreignKey:DebateID;constraint:OnDelete:CASCADE" json:"-"`
	Side         Side      `gorm:"type:varchar(8);not null;index:idx_comments_debate_side_likes,priority:2" json:"side"`
	Nickname     string    `gorm:"size:30;not null" json:"nickname"`
	Content      string    `gorm:"not null" json:"content"`
	IdentityHash string    `gorm:"size:64;not null" json:"-"`
	Likes        int64     `gorm:"default:0;index:idx_comments_debate_side_likes,priority:3" json:"likes"`
	CreatedAt    time.Time `gorm:"index:idx_comments_debate_created,priority:2" json:"created_at"`
}

func (c *Comment) BeforeCreate(_ *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// CommentLike records that one identity liked one comment. The unique index
// on (comment_id, identity_hash) is what guarantees at most one like per pair.
type CommentLike struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	CommentID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_comment_likes_comment_identity,priority:1" json:"comment_id"`
	Comment      *Comment  `gorm:"foreignKey:CommentID;constraint:OnDelete:CASCADE" json:"-"`
	IdentityHash string    `gorm:"size:64;not null;uniqueIndex:idx_comment_likes_comment_identity,priority:2" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (l *CommentLike) BeforeCreate(_ *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

type CreateCommentRequest struct {
	DebateID string `json:"debate_id" binding:"required,uuid"`
	Side     Side   `json:"side" binding:"required,oneof=PRO CON"`
	Nickname string `json:"nickname" binding:"required,min=1,max=20"`
	Content  string `json:"content" binding:"required"`
}

// CommentView is a comment as seen by one identity.
type CommentView struct {
	Comment
	Liked bool `json:"liked"`
}
