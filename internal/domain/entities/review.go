package entities

import (
	"math"
	"time"
)

// Rating is the qualitative recall rating submitted after a card review.
type Rating string

const (
	RatingCorrect       Rating = "correct"        // recalled without trouble
	RatingStillLearning Rating = "still_learning" // recalled with effort
	RatingIncorrect     Rating = "incorrect"      // failed to recall
)

// SM-2 tuning. The quality mapping and thresholds are fixed product
// constants, not user configuration.
const (
	SeedEaseFactor   = 2.5
	MinEaseFactor    = 1.3
	PassQuality      = 3 // quality below this resets the card
	RelearnInterval  = 1 // days until retry after a failed recall
	MasteryThreshold = 3 // repetitions at which a card counts as mastered
)

// qualityByRating maps each rating onto the 0-5 SM-2 quality scale.
var qualityByRating = map[Rating]int{
	RatingCorrect:       5,
	RatingStillLearning: 3,
	RatingIncorrect:     0,
}

// Valid reports whether the rating is one of the known values.
func (r Rating) Valid() bool {
	_, ok := qualityByRating[r]
	return ok
}

// Quality returns the numeric SM-2 quality for the rating.
func (r Rating) Quality() int {
	return qualityByRating[r]
}

// CardReview is one append-only review record for a (card, user) pair.
// History is never mutated; only the most recent record per card seeds
// the next scheduling step.
type CardReview struct {
	ID           int64
	CardID       string
	UserID       string
	Rating       Rating
	TimeSpentSec float64 // analytics only, does not affect scheduling

	// SRS state after this review.
	Repetitions  int
	EaseFactor   float64
	IntervalDays int
	ReviewedAt   time.Time
	NextReviewAt time.Time
}

// NewCardReview seeds SRS state for a card that has never been reviewed.
func NewCardReview(cardID, userID string) *CardReview {
	return &CardReview{
		CardID:      cardID,
		UserID:      userID,
		EaseFactor:  SeedEaseFactor,
		Repetitions: 0,
	}
}

// Schedule is the scheduling outcome of a single review.
type Schedule struct {
	Repetitions  int
	EaseFactor   float64
	IntervalDays int
	NextReviewAt time.Time
}

// Advance applies one SM-2 step to the state carried by r and returns the
// next record to append. The ease factor update runs on every review and is
// floored at MinEaseFactor; a failed recall resets repetitions and schedules
// a short relearning interval.
func (r *CardReview) Advance(rating Rating, timeSpentSec float64, now time.Time) *CardReview {
	q := float64(rating.Quality())

	ease := r.EaseFactor + (0.1 - (5-q)*(0.08+(5-q)*0.02))
	if ease < MinEaseFactor {
		ease = MinEaseFactor
	}

	var reps, interval int
	if rating.Quality() < PassQuality {
		reps = 0
		interval = RelearnInterval
	} else {
		reps = r.Repetitions + 1
		switch reps {
		case 1:
			interval = 1
		case 2:
			interval = 6
		default:
			interval = int(math.Round(float64(r.IntervalDays) * ease))
		}
	}

	return &CardReview{
		CardID:       r.CardID,
		UserID:       r.UserID,
		Rating:       rating,
		TimeSpentSec: timeSpentSec,
		Repetitions:  reps,
		EaseFactor:   ease,
		IntervalDays: interval,
		ReviewedAt:   now,
		NextReviewAt: now.AddDate(0, 0, interval),
	}
}

// Schedule returns the scheduling fields of the record.
func (r *CardReview) Schedule() Schedule {
	return Schedule{
		Repetitions:  r.Repetitions,
		EaseFactor:   r.EaseFactor,
		IntervalDays: r.IntervalDays,
		NextReviewAt: r.NextReviewAt,
	}
}

// Mastered reports whether the card counts as mastered at this record.
func (r *CardReview) Mastered() bool {
	return r.Repetitions >= MasteryThreshold
}

// Due reports whether the card is due for review at the given time.
func (r *CardReview) Due(now time.Time) bool {
	return !r.NextReviewAt.After(now)
}
