package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"fable-server/internal/models"
)

type pgImageJobRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewPgImageJobRepository creates the PostgreSQL ImageJobRepository.
func NewPgImageJobRepository(db *pgxpool.Pool, logger *zap.Logger) ImageJobRepository {
	return &pgImageJobRepository{db: db, logger: logger.Named("PgImageJobRepository")}
}

func (r *pgImageJobRepository) Create(ctx context.Context, job *models.ImageJob) error {
	query := `
        INSERT INTO image_jobs
        (id, segment_id, status, image_url, error_detail, retry_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.db.Exec(ctx, query,
		job.ID, job.SegmentID, job.Status, job.ImageURL, job.ErrorDetail,
		job.RetryCount, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert image job '%s': %w", job.ID, err)
	}
	return nil
}

func (r *pgImageJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImageJob, error) {
	return r.scanOne(ctx, `
        SELECT id, segment_id, status, image_url, error_detail, retry_count, created_at, updated_at
        FROM image_jobs WHERE id = $1
    `, id)
}

func (r *pgImageJobRepository) GetBySegmentID(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error) {
	return r.scanOne(ctx, `
        SELECT id, segment_id, status, image_url, error_detail, retry_count, created_at, updated_at
        FROM image_jobs WHERE segment_id = $1
    `, segmentID)
}

func (r *pgImageJobRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.ImageJobStatus, imageURL, errorDetail string) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE image_jobs
        SET status = $1, image_url = $2, error_detail = $3, updated_at = $4
        WHERE id = $5
    `, status, imageURL, errorDetail, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update image job '%s': %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrImageJobNotFound
	}
	r.logger.Debug("Image job status updated",
		zap.Stringer("jobID", id),
		zap.String("status", string(status)))
	return nil
}

func (r *pgImageJobRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE image_jobs
        SET retry_count = retry_count + 1, status = $1, error_detail = '', updated_at = $2
        WHERE id = $3
    `, models.ImageJobStatusPending, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to bump retry count of image job '%s': %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrImageJobNotFound
	}
	return nil
}

func (r *pgImageJobRepository) scanOne(ctx context.Context, query string, arg any) (*models.ImageJob, error) {
	var job models.ImageJob
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&job.ID, &job.SegmentID, &job.Status, &job.ImageURL, &job.ErrorDetail,
		&job.RetryCount, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrImageJobNotFound
		}
		return nil, fmt.Errorf("failed to get image job: %w", err)
	}
	return &job, nil
}
