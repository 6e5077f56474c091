// Package worker consumes illustration tasks and drives image jobs through
// their lifecycle. It only ever touches image_jobs rows: segment text is
// immutable from this side.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fable-server/internal/imagegen"
	"fable-server/internal/messaging"
	"fable-server/internal/models"
	"fable-server/internal/repository"
)

// Handler processes one illustration task per delivery.
type Handler struct {
	jobRepo  repository.ImageJobRepository
	renderer imagegen.Renderer
	logger   *zap.Logger
}

// NewHandler creates the task handler.
func NewHandler(jobRepo repository.ImageJobRepository, renderer imagegen.Renderer, logger *zap.Logger) *Handler {
	return &Handler{jobRepo: jobRepo, renderer: renderer, logger: logger.Named("ImageWorker")}
}

// Handle implements messaging.DeliveryHandler. A render failure marks the job
// failed and acks the delivery: retries are user-driven through the retry
// endpoint, not broker-driven, so a bad prompt can't loop forever.
func (h *Handler) Handle(ctx context.Context, body []byte) (bool, error) {
	var payload messaging.ImageTaskPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Malformed payloads go straight to the DLQ for inspection.
		return false, fmt.Errorf("failed to unmarshal image task: %w", err)
	}

	log := h.logger.With(
		zap.String("taskID", payload.TaskID),
		zap.Stringer("jobID", payload.JobID),
		zap.Stringer("segmentID", payload.SegmentID))
	log.Info("Image task received")

	if err := h.jobRepo.SetStatus(ctx, payload.JobID, models.ImageJobStatusGenerating, "", ""); err != nil {
		if errors.Is(err, models.ErrImageJobNotFound) {
			// The job row never landed (e.g. the API crashed mid-create);
			// nothing to track, drop the task.
			log.Warn("Image task references unknown job, dropping")
			return false, err
		}
		// Transient DB trouble: requeue so the task survives.
		return true, err
	}

	imageURL, err := h.renderer.RenderAndStore(ctx, payload.SegmentID, payload.Prompt, payload.Ratio)
	if err != nil {
		log.Error("Image render failed", zap.Error(err))
		if setErr := h.jobRepo.SetStatus(ctx, payload.JobID, models.ImageJobStatusFailed, "", err.Error()); setErr != nil {
			log.Error("Failed to mark image job failed", zap.Error(setErr))
		}
		// The failure is recorded on the job; the delivery itself is done.
		return false, nil
	}

	if err := h.jobRepo.SetStatus(ctx, payload.JobID, models.ImageJobStatusCompleted, imageURL, ""); err != nil {
		return true, fmt.Errorf("failed to mark image job completed: %w", err)
	}

	log.Info("Image job completed", zap.String("imageURL", imageURL))
	return false, nil
}
