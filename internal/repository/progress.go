package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studymesh/recall/internal/domain/entities"
	"github.com/studymesh/recall/internal/infra/postgres"
)

var ErrProgressNotFound = errors.New("progress not found")

// ProgressRepository persists coalesced progress snapshots. One row exists
// per (user, course, chapter, kind); bulk writes from the pipeline upsert
// into it transactionally.
type ProgressRepository struct {
	db *pgxpool.Pool
	tx *postgres.Transactor
}

func NewProgressRepository(db *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{db: db, tx: postgres.NewTransactor(db)}
}

// WriteBatch upserts one partition's coalesced updates in a single
// transaction. Progress never moves backwards unless the update is a
// completion or final marker; the completed flag is sticky.
func (r *ProgressRepository) WriteBatch(ctx context.Context, updates []entities.ProgressUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	query := `
		INSERT INTO course_progress (
			user_id, course_id, chapter_id, kind,
			progress, completed, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, course_id, chapter_id, kind)
		DO UPDATE SET
			progress = CASE
				WHEN $8 OR excluded.completed THEN excluded.progress
				ELSE GREATEST(course_progress.progress, excluded.progress)
			END,
			completed = course_progress.completed OR excluded.completed,
			updated_at = excluded.updated_at
	`

	err := r.tx.WithinTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, u := range updates {
			batch.Queue(query,
				u.UserID,
				u.CourseID,
				u.ChapterID,
				u.Kind,
				u.Progress,
				u.Completed,
				u.OccurredAt,
				u.Final,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer func() { _ = results.Close() }()

		for range updates {
			if _, err := results.Exec(); err != nil {
				return fmt.Errorf("upsert progress: %w", err)
			}
		}

		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}

	return nil
}

// Get retrieves one progress row, mostly for verification and tooling.
func (r *ProgressRepository) Get(ctx context.Context, key entities.PartitionKey, chapterID string, kind entities.ProgressKind) (*entities.ProgressUpdate, error) {
	query := `
		SELECT user_id, course_id, chapter_id, kind, progress, completed, updated_at
		FROM course_progress
		WHERE user_id = $1 AND course_id = $2 AND chapter_id = $3 AND kind = $4
	`

	var u entities.ProgressUpdate
	err := r.db.QueryRow(ctx, query, key.UserID, key.CourseID, chapterID, kind).Scan(
		&u.UserID,
		&u.CourseID,
		&u.ChapterID,
		&u.Kind,
		&u.Progress,
		&u.Completed,
		&u.OccurredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProgressNotFound
		}

		return nil, fmt.Errorf("get progress: %w", err)
	}

	return &u, nil
}
