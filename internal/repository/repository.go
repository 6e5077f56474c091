// Package repository defines the persistence contracts of the engine and
// their PostgreSQL implementations. The engine assumes read-after-write
// consistency within a single story.
package repository

import (
	"context"

	"github.com/google/uuid"

	"fable-server/internal/models"
)

// StoryRepository persists Story aggregates.
type StoryRepository interface {
	Create(ctx context.Context, story *models.Story) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error
	// Delete removes a story row. Used only to compensate a draft whose
	// opening generation failed, so no partial state survives.
	Delete(ctx context.Context, id uuid.UUID) error
}

// SegmentRepository persists Segments. Create enforces the serialization
// invariant through the unique (story_id, position) index: a concurrent
// second insert of the same position fails with
// models.ErrConcurrencyConflict.
type SegmentRepository interface {
	// Create inserts a segment and, when link is non-nil, atomically sets
	// the linked choice's successor reference on the prior segment.
	Create(ctx context.Context, segment *models.Segment, link *models.ChoiceLink) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Segment, error)
	// GetLatestByStoryID returns the segment with the highest position,
	// or models.ErrSegmentNotFound when the story has none.
	GetLatestByStoryID(ctx context.Context, storyID uuid.UUID) (*models.Segment, error)
	ListByStoryID(ctx context.Context, storyID uuid.UUID) ([]*models.Segment, error)
}

// ImageJobRepository persists illustration jobs. Jobs are mutated only by the
// image pipeline and never deleted.
type ImageJobRepository interface {
	Create(ctx context.Context, job *models.ImageJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ImageJob, error)
	GetBySegmentID(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error)
	// SetStatus transitions a job. imageURL is stored only with
	// completed, errorDetail only with failed.
	SetStatus(ctx context.Context, id uuid.UUID, status models.ImageJobStatus, imageURL, errorDetail string) error
	// IncrementRetry bumps the retry counter and resets the job to pending.
	IncrementRetry(ctx context.Context, id uuid.UUID) error
}
