package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fable-server/internal/messaging"
	"fable-server/internal/models"
	"fable-server/internal/repository"
)

// ImageCoordinator runs the illustration side channel. Image state never
// blocks or mutates segment text: Enqueue is best-effort, and failures
// surface only through job status polling.
type ImageCoordinator interface {
	// Enqueue creates a pending job with the given id and hands it to the
	// worker queue. Errors are returned for logging but callers must not
	// fail segment delivery on them.
	Enqueue(ctx context.Context, jobID, segmentID uuid.UUID, imagePrompt string) error
	// GetStatus returns the job tracking the segment's illustration.
	GetStatus(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error)
	// Retry re-queues a failed job. Only failed jobs are retryable.
	Retry(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error)
	// HandleCallback applies a provider-side completion notification.
	HandleCallback(ctx context.Context, segmentID uuid.UUID, success bool, imageURL, errorDetail string) error
}

type imageCoordinator struct {
	jobRepo     repository.ImageJobRepository
	segmentRepo repository.SegmentRepository
	publisher   messaging.ImageTaskPublisher
	styleSuffix string
	logger      *zap.Logger
}

// NewImageCoordinator creates the coordinator. styleSuffix is appended to
// every prompt so all illustrations of the service share one visual style.
func NewImageCoordinator(
	jobRepo repository.ImageJobRepository,
	segmentRepo repository.SegmentRepository,
	publisher messaging.ImageTaskPublisher,
	styleSuffix string,
	logger *zap.Logger,
) ImageCoordinator {
	return &imageCoordinator{
		jobRepo:     jobRepo,
		segmentRepo: segmentRepo,
		publisher:   publisher,
		styleSuffix: styleSuffix,
		logger:      logger.Named("ImageCoordinator"),
	}
}

func (c *imageCoordinator) Enqueue(ctx context.Context, jobID, segmentID uuid.UUID, imagePrompt string) error {
	now := time.Now().UTC()
	job := &models.ImageJob{
		ID:        jobID,
		SegmentID: segmentID,
		Status:    models.ImageJobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.jobRepo.Create(ctx, job); err != nil {
		return fmt.Errorf("failed to create image job for segment '%s': %w", segmentID, err)
	}

	if err := c.publish(ctx, job, imagePrompt); err != nil {
		// The job row stays pending; a periodic re-publish or manual retry
		// can pick it up later.
		return err
	}
	return nil
}

func (c *imageCoordinator) publish(ctx context.Context, job *models.ImageJob, imagePrompt string) error {
	payload := messaging.ImageTaskPayload{
		TaskID:    uuid.NewString(),
		JobID:     job.ID,
		SegmentID: job.SegmentID,
		Prompt:    imagePrompt + c.styleSuffix,
		Ratio:     "1:1",
	}
	if err := c.publisher.Publish(ctx, payload); err != nil {
		return fmt.Errorf("failed to publish image task for job '%s': %w", job.ID, err)
	}
	c.logger.Info("Image task enqueued",
		zap.Stringer("jobID", job.ID),
		zap.Stringer("segmentID", job.SegmentID))
	return nil
}

func (c *imageCoordinator) GetStatus(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error) {
	return c.jobRepo.GetBySegmentID(ctx, segmentID)
}

func (c *imageCoordinator) Retry(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error) {
	job, err := c.jobRepo.GetBySegmentID(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ImageJobStatusFailed {
		return nil, fmt.Errorf("%w: job '%s' is %s, only failed jobs can be retried",
			models.ErrValidation, job.ID, job.Status)
	}

	// The prompt travels with the queue message, not the job row, so the
	// retry re-reads it from the segment.
	segment, err := c.segmentRepo.GetByID(ctx, segmentID)
	if err != nil {
		return nil, err
	}

	if err := c.jobRepo.IncrementRetry(ctx, job.ID); err != nil {
		return nil, err
	}
	job.Status = models.ImageJobStatusPending
	job.RetryCount++
	job.ErrorDetail = ""

	if err := c.publish(ctx, job, segment.ImagePrompt); err != nil {
		return nil, err
	}
	return job, nil
}

func (c *imageCoordinator) HandleCallback(ctx context.Context, segmentID uuid.UUID, success bool, imageURL, errorDetail string) error {
	job, err := c.jobRepo.GetBySegmentID(ctx, segmentID)
	if err != nil {
		return err
	}
	// Duplicate or late callbacks must not flip a job that already settled.
	if job.Status == models.ImageJobStatusCompleted || job.Status == models.ImageJobStatusFailed {
		c.logger.Warn("Ignoring callback for settled image job",
			zap.Stringer("jobID", job.ID),
			zap.Stringer("segmentID", segmentID),
			zap.String("status", string(job.Status)))
		return nil
	}
	if success {
		return c.jobRepo.SetStatus(ctx, job.ID, models.ImageJobStatusCompleted, imageURL, "")
	}
	return c.jobRepo.SetStatus(ctx, job.ID, models.ImageJobStatusFailed, "", errorDetail)
}
