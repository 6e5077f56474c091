package models

import (
	"time"

	"github.com/google/uuid"
)

// ImageJobStatus is the state of a per-segment illustration job.
type ImageJobStatus string

const (
	ImageJobStatusNone       ImageJobStatus = "none"
	ImageJobStatusPending    ImageJobStatus = "pending"
	ImageJobStatusGenerating ImageJobStatus = "generating"
	ImageJobStatusCompleted  ImageJobStatus = "completed"
	ImageJobStatusFailed     ImageJobStatus = "failed"
)

// ImageJob tracks the illustration lifecycle for exactly one segment.
// Jobs are never deleted: failed jobs remain inspectable and retryable.
// Job state never feeds back into the segment's narrative content.
type ImageJob struct {
	ID          uuid.UUID      `json:"id"`
	SegmentID   uuid.UUID      `json:"segmentId"`
	Status      ImageJobStatus `json:"status"`
	ImageURL    string         `json:"imageUrl,omitempty"`    // set only on completed
	ErrorDetail string         `json:"errorDetail,omitempty"` // set only on failed
	RetryCount  int            `json:"retryCount"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
