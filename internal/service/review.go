package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studymesh/recall/internal/domain/entities"
	"github.com/studymesh/recall/internal/repository"
)

var (
	ErrMissingIdentifier = errors.New("card id and user id are required")
	ErrInvalidRating     = errors.New("invalid rating")
	ErrNegativeTimeSpent = errors.New("time spent must be non-negative")
)

const defaultReviewLimit = 20

// ReviewOutcome is what the caller gets back after submitting a review:
// the persisted record and the schedule computed from it.
type ReviewOutcome struct {
	Review   *entities.CardReview
	Schedule entities.Schedule
}

// ReviewService runs the spaced-repetition scheduling on the synchronous
// request path. It does not retry storage failures; fast failure is
// preferable while the user is waiting for the next-review confirmation.
type ReviewService struct {
	repository       ReviewRepository
	masteryThreshold int
	now              func() time.Time
}

func NewReviewService(repository ReviewRepository, masteryThreshold int) *ReviewService {
	if masteryThreshold <= 0 {
		masteryThreshold = entities.MasteryThreshold
	}
	return &ReviewService{
		repository:       repository,
		masteryThreshold: masteryThreshold,
		now:              time.Now,
	}
}

// ScheduleReview applies one SM-2 step for a card and appends the outcome
// to the review history. The previous record seeds the computation; a card
// with no history starts from the seed ease factor.
func (s *ReviewService) ScheduleReview(ctx context.Context, cardID, userID string, rating entities.Rating, timeSpentSec float64) (*ReviewOutcome, error) {
	if cardID == "" || userID == "" {
		return nil, ErrMissingIdentifier
	}
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRating, rating)
	}
	if timeSpentSec < 0 {
		return nil, ErrNegativeTimeSpent
	}

	prev, err := s.repository.FindLatest(ctx, cardID, userID)
	if err != nil && !errors.Is(err, repository.ErrReviewNotFound) {
		return nil, fmt.Errorf("load latest review: %w", err)
	}
	if prev == nil {
		prev = entities.NewCardReview(cardID, userID)
	}

	next := prev.Advance(rating, timeSpentSec, s.now())
	if err := s.repository.Create(ctx, next); err != nil {
		return nil, fmt.Errorf("save review: %w", err)
	}

	return &ReviewOutcome{Review: next, Schedule: next.Schedule()}, nil
}

// CardsForReview returns the cards due for review, earliest due first.
// Only the latest record per card is considered.
func (s *ReviewService) CardsForReview(ctx context.Context, userID string, limit int) ([]*entities.CardReview, error) {
	if userID == "" {
		return nil, ErrMissingIdentifier
	}
	if limit <= 0 {
		limit = defaultReviewLimit
	}
	return s.repository.FindDue(ctx, userID, s.now(), limit)
}

// Stats returns mastery counters for a user. Mastered and learning are
// computed from the latest record per card; the total counts every
// historical row.
func (s *ReviewService) Stats(ctx context.Context, userID string) (*repository.ReviewStats, error) {
	if userID == "" {
		return nil, ErrMissingIdentifier
	}
	return s.repository.Stats(ctx, userID, s.now(), s.masteryThreshold)
}
