package service

import (
	"context"
	"time"

	"github.com/studymesh/recall/internal/domain/entities"
	"github.com/studymesh/recall/internal/repository"
)

// ReviewRepository persists the append-only card review history.
type ReviewRepository interface {
	// FindLatest returns the most recent review record for a card, or
	// repository.ErrReviewNotFound if the card has never been reviewed.
	FindLatest(ctx context.Context, cardID, userID string) (*entities.CardReview, error)

	// Create appends a new review record. History rows are never updated.
	Create(ctx context.Context, review *entities.CardReview) error

	// FindDue returns the latest record per distinct card whose next review
	// is at or before now, earliest due first, at most limit records.
	FindDue(ctx context.Context, userID string, now time.Time, limit int) ([]*entities.CardReview, error)

	// Stats aggregates mastery counters over the user's review history.
	Stats(ctx context.Context, userID string, now time.Time, masteryThreshold int) (*repository.ReviewStats, error)
}

var _ ReviewRepository = (*repository.ReviewRepository)(nil)
