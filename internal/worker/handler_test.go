package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	imgmocks "fable-server/internal/imagegen/mocks"
	"fable-server/internal/messaging"
	"fable-server/internal/models"
	repomocks "fable-server/internal/repository/mocks"
	"fable-server/internal/worker"
)

func encodedTask(t *testing.T, payload messaging.ImageTaskPayload) []byte {
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return body
}

func TestHandle_Success(t *testing.T) {
	jobRepo := new(repomocks.MockImageJobRepository)
	renderer := new(imgmocks.MockRenderer)
	h := worker.NewHandler(jobRepo, renderer, zap.NewNop())

	payload := messaging.ImageTaskPayload{
		TaskID:    uuid.NewString(),
		JobID:     uuid.New(),
		SegmentID: uuid.New(),
		Prompt:    "a fox under a lantern",
		Ratio:     "1:1",
	}

	jobRepo.On("SetStatus", mock.Anything, payload.JobID, models.ImageJobStatusGenerating, "", "").Return(nil).Once()
	renderer.On("RenderAndStore", mock.Anything, payload.SegmentID, payload.Prompt, "1:1").
		Return("https://img.example.com/x.jpg", nil).Once()
	jobRepo.On("SetStatus", mock.Anything, payload.JobID, models.ImageJobStatusCompleted,
		"https://img.example.com/x.jpg", "").Return(nil).Once()

	requeue, err := h.Handle(context.Background(), encodedTask(t, payload))

	require.NoError(t, err)
	assert.False(t, requeue)
	jobRepo.AssertExpectations(t)
	renderer.AssertExpectations(t)
}

func TestHandle_RenderFailureMarksJobFailed(t *testing.T) {
	jobRepo := new(repomocks.MockImageJobRepository)
	renderer := new(imgmocks.MockRenderer)
	h := worker.NewHandler(jobRepo, renderer, zap.NewNop())

	payload := messaging.ImageTaskPayload{
		TaskID:    uuid.NewString(),
		JobID:     uuid.New(),
		SegmentID: uuid.New(),
		Prompt:    "prompt",
	}

	jobRepo.On("SetStatus", mock.Anything, payload.JobID, models.ImageJobStatusGenerating, "", "").Return(nil).Once()
	renderer.On("RenderAndStore", mock.Anything, payload.SegmentID, payload.Prompt, mock.Anything).
		Return("", errors.New("provider returned status 500")).Once()
	jobRepo.On("SetStatus", mock.Anything, payload.JobID, models.ImageJobStatusFailed,
		"", "provider returned status 500").Return(nil).Once()

	requeue, err := h.Handle(context.Background(), encodedTask(t, payload))

	assert.NoError(t, err, "a recorded render failure completes the delivery")
	assert.False(t, requeue)
	jobRepo.AssertExpectations(t)
}

func TestHandle_MalformedPayloadGoesToDLQ(t *testing.T) {
	jobRepo := new(repomocks.MockImageJobRepository)
	renderer := new(imgmocks.MockRenderer)
	h := worker.NewHandler(jobRepo, renderer, zap.NewNop())

	requeue, err := h.Handle(context.Background(), []byte("{not json"))

	assert.Error(t, err)
	assert.False(t, requeue, "malformed payloads must not be requeued")
	jobRepo.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_UnknownJobIsDropped(t *testing.T) {
	jobRepo := new(repomocks.MockImageJobRepository)
	renderer := new(imgmocks.MockRenderer)
	h := worker.NewHandler(jobRepo, renderer, zap.NewNop())

	payload := messaging.ImageTaskPayload{
		TaskID:    uuid.NewString(),
		JobID:     uuid.New(),
		SegmentID: uuid.New(),
		Prompt:    "prompt",
	}

	jobRepo.On("SetStatus", mock.Anything, payload.JobID, models.ImageJobStatusGenerating, "", "").
		Return(models.ErrImageJobNotFound).Once()

	requeue, err := h.Handle(context.Background(), encodedTask(t, payload))

	assert.Error(t, err)
	assert.False(t, requeue)
	renderer.AssertNotCalled(t, "RenderAndStore", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandle_TransientDBErrorRequeues(t *testing.T) {
	jobRepo := new(repomocks.MockImageJobRepository)
	renderer := new(imgmocks.MockRenderer)
	h := worker.NewHandler(jobRepo, renderer, zap.NewNop())

	payload := messaging.ImageTaskPayload{
		TaskID:    uuid.NewString(),
		JobID:     uuid.New(),
		SegmentID: uuid.New(),
		Prompt:    "prompt",
	}

	jobRepo.On("SetStatus", mock.Anything, payload.JobID, models.ImageJobStatusGenerating, "", "").
		Return(errors.New("connection reset")).Once()

	requeue, err := h.Handle(context.Background(), encodedTask(t, payload))

	assert.Error(t, err)
	assert.True(t, requeue)
}
