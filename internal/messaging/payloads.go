package messaging

import "github.com/google/uuid"

// Queue topology shared by the publisher (API process) and the consumer
// (image worker). Parameters must match on both sides.
const (
	ImageTaskQueue      = "image_generation_tasks"
	ImageTaskDLX        = "image_generation_tasks_dlx"
	ImageTaskDLQ        = "image_generation_tasks_dlq"
	ImageTaskDLQRouting = "dlq"
)

// ImageTaskPayload is one illustration job handed to the worker. The segment
// whose text it illustrates has already been delivered to the caller; the
// worker's success or failure never flows back into the segment.
type ImageTaskPayload struct {
	TaskID    string    `json:"taskId"`
	JobID     uuid.UUID `json:"jobId"`
	SegmentID uuid.UUID `json:"segmentId"`
	Prompt    string    `json:"prompt"`
	Ratio     string    `json:"ratio,omitempty"`
}
