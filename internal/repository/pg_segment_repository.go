package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"fable-server/internal/models"
)

// uniqueViolation is the PostgreSQL error code raised when the
// (story_id, position) index rejects a concurrent duplicate insert.
const uniqueViolation = "23505"

type pgSegmentRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgSegmentRepository creates the PostgreSQL SegmentRepository.
func NewPgSegmentRepository(db *pgxpool.Pool, logger *zap.Logger) SegmentRepository {
	return &pgSegmentRepository{db: db, logger: logger.Named("PgSegmentRepository")}
}

func (r *pgSegmentRepository) Create(ctx context.Context, segment *models.Segment, link *models.ChoiceLink) error {
	choicesJSON, err := json.Marshal(segment.Choices)
	if err != nil {
		return fmt.Errorf("failed to marshal choices: %w", err)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
        INSERT INTO segments
        (id, story_id, position, narrative, word_count, choices, is_ending,
         image_prompt, image_job_id, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err = tx.Exec(ctx, insertQuery,
		segment.ID, segment.StoryID, segment.Position, segment.Narrative,
		segment.WordCount, choicesJSON, segment.IsEnding, segment.ImagePrompt,
		segment.ImageJobID, segment.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			r.logger.Warn("Concurrent segment insert rejected by position index",
				zap.Stringer("storyID", segment.StoryID),
				zap.Int("position", segment.Position))
			return fmt.Errorf("%w: position %d already exists", models.ErrConcurrencyConflict, segment.Position)
		}
		return fmt.Errorf("failed to insert segment '%s': %w", segment.ID, err)
	}

	if link != nil {
		if err := r.linkChoice(ctx, tx, link, segment.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit segment insert: %w", err)
	}
	return nil
}

// linkChoice rewrites the prior segment's choices JSON so the selected choice
// points at the new successor.
func (r *pgSegmentRepository) linkChoice(ctx context.Context, tx pgx.Tx, link *models.ChoiceLink, nextSegmentID uuid.UUID) error {
	var choicesJSON []byte
	err := tx.QueryRow(ctx, `SELECT choices FROM segments WHERE id = $1 FOR UPDATE`, link.SegmentID).Scan(&choicesJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrSegmentNotFound
		}
		return fmt.Errorf("failed to load choices of segment '%s': %w", link.SegmentID, err)
	}

	var choices []models.Choice
	if err := json.Unmarshal(choicesJSON, &choices); err != nil {
		return fmt.Errorf("failed to unmarshal choices of segment '%s': %w", link.SegmentID, err)
	}

	found := false
	for i := range choices {
		if choices[i].ID == link.ChoiceID {
			next := nextSegmentID
			choices[i].NextSegmentID = &next
			found = true
			break
		}
	}
	if !found {
		return models.ErrChoiceInvalid
	}

	updated, err := json.Marshal(choices)
	if err != nil {
		return fmt.Errorf("failed to marshal updated choices: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE segments SET choices = $1 WHERE id = $2`, updated, link.SegmentID); err != nil {
		return fmt.Errorf("failed to link choice on segment '%s': %w", link.SegmentID, err)
	}
	return nil
}

func (r *pgSegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	return r.scanOne(ctx, `
        SELECT id, story_id, position, narrative, word_count, choices,
               is_ending, image_prompt, image_job_id, created_at
        FROM segments WHERE id = $1
    `, id)
}

func (r *pgSegmentRepository) GetLatestByStoryID(ctx context.Context, storyID uuid.UUID) (*models.Segment, error) {
	return r.scanOne(ctx, `
        SELECT id, story_id, position, narrative, word_count, choices,
               is_ending, image_prompt, image_job_id, created_at
        FROM segments WHERE story_id = $1
        ORDER BY position DESC LIMIT 1
    `, storyID)
}

func (r *pgSegmentRepository) ListByStoryID(ctx context.Context, storyID uuid.UUID) ([]*models.Segment, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, story_id, position, narrative, word_count, choices,
               is_ending, image_prompt, image_job_id, created_at
        FROM segments WHERE story_id = $1
        ORDER BY position ASC
    `, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list segments of story '%s': %w", storyID, err)
	}
	defer rows.Close()

	var segments []*models.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func (r *pgSegmentRepository) scanOne(ctx context.Context, query string, arg any) (*models.Segment, error) {
	row := r.db.QueryRow(ctx, query, arg)
	seg, err := scanSegment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrSegmentNotFound
		}
		return nil, err
	}
	return seg, nil
}

func scanSegment(row pgx.Row) (*models.Segment, error) {
	var seg models.Segment
	var choicesJSON []byte
	err := row.Scan(
		&seg.ID, &seg.StoryID, &seg.Position, &seg.Narrative, &seg.WordCount,
		&choicesJSON, &seg.IsEnding, &seg.ImagePrompt, &seg.ImageJobID, &seg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(choicesJSON) > 0 {
		if err := json.Unmarshal(choicesJSON, &seg.Choices); err != nil {
			return nil, fmt.Errorf("failed to unmarshal choices of segment '%s': %w", seg.ID, err)
		}
	}
	return &seg, nil
}
