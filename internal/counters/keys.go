package counters

import "github.com/emilythestrangee/updown/backend/internal/models"

// HotKey is the global ranking index. It never expires.
const HotKey = "debate:hot"

const (
	KeywordKey      = "live:kw"
	KeywordIndexKey = "live:kw:index"
)

// TopK is how many entries each per-side best comment set keeps after a trim.
const TopK = 5

func ViewsKey(debateID string) string        { return "debate:views:" + debateID }
func CommentsKey(debateID string) string     { return "debate:comments:" + debateID }
func VotesKey(debateID string) string        { return "debate:votes:" + debateID }
func ParticipantsKey(debateID string) string { return "debate:participants:" + debateID }
func SideLikesKey(debateID string) string    { return "debate:sideLikes:" + debateID }

// TopKey is the best comment set for one side of a debate.
func TopKey(side models.Side, debateID string) string {
	return "debate:top:" + side.Field() + ":" + debateID
}
