package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studymesh/recall/internal/domain/entities"
)

var ErrReviewNotFound = errors.New("review not found")

// ReviewStats contains aggregate mastery counters for a user.
// Mastered and learning are disjoint and computed from the latest record
// per card; TotalReviews counts every historical row.
type ReviewStats struct {
	MasteredCount int
	LearningCount int
	DueCount      int
	TotalReviews  int
}

type ReviewRepository struct {
	db *pgxpool.Pool
}

func NewReviewRepository(db *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{db: db}
}

// Create appends a review record. The history table is append-only.
func (r *ReviewRepository) Create(ctx context.Context, review *entities.CardReview) error {
	query := `
		INSERT INTO card_reviews (
			card_id, user_id, rating, time_spent_sec,
			repetitions, ease_factor, interval_days,
			reviewed_at, next_review_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := r.db.QueryRow(
		ctx, query,
		review.CardID,
		review.UserID,
		review.Rating,
		review.TimeSpentSec,
		review.Repetitions,
		review.EaseFactor,
		review.IntervalDays,
		review.ReviewedAt,
		review.NextReviewAt,
	).Scan(&review.ID)
	if err != nil {
		return fmt.Errorf("create review: %w", err)
	}

	return nil
}

// FindLatest retrieves the most recent review record for a card.
// Returns ErrReviewNotFound if the card has never been reviewed.
func (r *ReviewRepository) FindLatest(ctx context.Context, cardID, userID string) (*entities.CardReview, error) {
	query := `
		SELECT id, card_id, user_id, rating, time_spent_sec,
		       repetitions, ease_factor, interval_days,
		       reviewed_at, next_review_at
		FROM card_reviews
		WHERE card_id = $1 AND user_id = $2
		ORDER BY reviewed_at DESC, id DESC
		LIMIT 1
	`

	var review entities.CardReview
	err := r.db.QueryRow(ctx, query, cardID, userID).Scan(
		&review.ID,
		&review.CardID,
		&review.UserID,
		&review.Rating,
		&review.TimeSpentSec,
		&review.Repetitions,
		&review.EaseFactor,
		&review.IntervalDays,
		&review.ReviewedAt,
		&review.NextReviewAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}

		return nil, fmt.Errorf("find latest: %w", err)
	}

	return &review, nil
}

// FindDue returns the latest record per distinct card that is due at now,
// earliest due first.
func (r *ReviewRepository) FindDue(ctx context.Context, userID string, now time.Time, limit int) ([]*entities.CardReview, error) {
	query := `
		SELECT id, card_id, user_id, rating, time_spent_sec,
		       repetitions, ease_factor, interval_days,
		       reviewed_at, next_review_at
		FROM (
			SELECT DISTINCT ON (card_id) *
			FROM card_reviews
			WHERE user_id = $1
			ORDER BY card_id, reviewed_at DESC, id DESC
		) latest
		WHERE next_review_at <= $2
		ORDER BY next_review_at ASC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due: %w", err)
	}
	defer rows.Close()

	var reviews []*entities.CardReview
	for rows.Next() {
		var review entities.CardReview
		err = rows.Scan(
			&review.ID,
			&review.CardID,
			&review.UserID,
			&review.Rating,
			&review.TimeSpentSec,
			&review.Repetitions,
			&review.EaseFactor,
			&review.IntervalDays,
			&review.ReviewedAt,
			&review.NextReviewAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan due review: %w", err)
		}
		reviews = append(reviews, &review)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due reviews: %w", err)
	}

	return reviews, nil
}

// Stats aggregates mastery counters in a single round trip.
func (r *ReviewRepository) Stats(ctx context.Context, userID string, now time.Time, masteryThreshold int) (*ReviewStats, error) {
	query := `
		WITH latest AS (
			SELECT DISTINCT ON (card_id) repetitions, next_review_at
			FROM card_reviews
			WHERE user_id = $1
			ORDER BY card_id, reviewed_at DESC, id DESC
		)
		SELECT
			COUNT(*) FILTER (WHERE repetitions >= $3) AS mastered,
			COUNT(*) FILTER (WHERE repetitions > 0 AND repetitions < $3) AS learning,
			COUNT(*) FILTER (WHERE next_review_at <= $2) AS due,
			(SELECT COUNT(*) FROM card_reviews WHERE user_id = $1) AS total
		FROM latest
	`

	var stats ReviewStats
	err := r.db.QueryRow(ctx, query, userID, now, masteryThreshold).Scan(
		&stats.MasteredCount,
		&stats.LearningCount,
		&stats.DueCount,
		&stats.TotalReviews,
	)
	if err != nil {
		return nil, fmt.Errorf("review stats: %w", err)
	}

	return &stats, nil
}
