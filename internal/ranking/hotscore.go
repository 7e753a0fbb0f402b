package ranking

import (
	"math"
	"time"

	"github.com/emilythestrangee/updown/backend/internal/counters"
)

// decayHours is how many hours of age cost one point of score.
const decayHours = 12

// Score is the hot score for a debate with counters c that started at
// since, evaluated at now:
//
//	log10(views+1) + 2*comments + participants - hoursSinceStart/12
//
// It never touches I/O; callers pass the clock.
func Score(c counters.Counters, since, now time.Time) float64 {
	hours := now.Sub(since).Hours()
	return math.Log10(float64(c.Views)+1) +
		2*float64(c.Comments) +
		float64(c.Participants) -
		hours/decayHours
}
