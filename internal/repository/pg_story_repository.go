package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"fable-server/internal/models"
)

type pgStoryRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryRepository creates the PostgreSQL StoryRepository.
func NewPgStoryRepository(db *pgxpool.Pool, logger *zap.Logger) StoryRepository {
	return &pgStoryRepository{db: db, logger: logger.Named("PgStoryRepository")}
}

func (r *pgStoryRepository) Create(ctx context.Context, story *models.Story) error {
	charactersJSON, err := json.Marshal(story.Characters)
	if err != nil {
		return fmt.Errorf("failed to marshal characters: %w", err)
	}

	query := `
        INSERT INTO stories
        (id, user_id, title, age_bracket, genre, theme, setting, characters,
         words_per_segment, max_segments, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	_, err = r.db.Exec(ctx, query,
		story.ID, story.UserID, story.Title, story.AgeBracket, story.Genre,
		story.Theme, story.Setting, charactersJSON, story.WordsPerSegment,
		story.MaxSegments, story.Status, story.CreatedAt, story.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to insert story", zap.Stringer("storyID", story.ID), zap.Error(err))
		return fmt.Errorf("failed to insert story '%s': %w", story.ID, err)
	}
	return nil
}

func (r *pgStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	query := `
        SELECT id, user_id, title, age_bracket, genre, theme, setting, characters,
               words_per_segment, max_segments, status, created_at, updated_at
        FROM stories WHERE id = $1
    `
	var story models.Story
	var charactersJSON []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&story.ID, &story.UserID, &story.Title, &story.AgeBracket, &story.Genre,
		&story.Theme, &story.Setting, &charactersJSON, &story.WordsPerSegment,
		&story.MaxSegments, &story.Status, &story.CreatedAt, &story.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrStoryNotFound
		}
		return nil, fmt.Errorf("failed to get story '%s': %w", id, err)
	}
	if len(charactersJSON) > 0 {
		if err := json.Unmarshal(charactersJSON, &story.Characters); err != nil {
			return nil, fmt.Errorf("failed to unmarshal characters for story '%s': %w", id, err)
		}
	}
	return &story, nil
}

func (r *pgStoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE stories SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update status of story '%s': %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrStoryNotFound
	}
	return nil
}

func (r *pgStoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM stories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete story '%s': %w", id, err)
	}
	return nil
}
