package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"fable-server/internal/models"
	"fable-server/internal/repository"
)

// MockStoryRepository is a mock type for the StoryRepository type
type MockStoryRepository struct {
	mock.Mock
}

func (_m *MockStoryRepository) Create(ctx context.Context, story *models.Story) error {
	ret := _m.Called(ctx, story)
	return ret.Error(0)
}

func (_m *MockStoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Story, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Story)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.StoryStatus) error {
	ret := _m.Called(ctx, id, status)
	return ret.Error(0)
}

func (_m *MockStoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ret := _m.Called(ctx, id)
	return ret.Error(0)
}

var _ repository.StoryRepository = (*MockStoryRepository)(nil)

// MockSegmentRepository is a mock type for the SegmentRepository type
type MockSegmentRepository struct {
	mock.Mock
}

func (_m *MockSegmentRepository) Create(ctx context.Context, segment *models.Segment, link *models.ChoiceLink) error {
	ret := _m.Called(ctx, segment, link)
	return ret.Error(0)
}

func (_m *MockSegmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Segment, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.Segment
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Segment)
	}
	return r0, ret.Error(1)
}

func (_m *MockSegmentRepository) GetLatestByStoryID(ctx context.Context, storyID uuid.UUID) (*models.Segment, error) {
	ret := _m.Called(ctx, storyID)

	var r0 *models.Segment
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Segment)
	}
	return r0, ret.Error(1)
}

func (_m *MockSegmentRepository) ListByStoryID(ctx context.Context, storyID uuid.UUID) ([]*models.Segment, error) {
	ret := _m.Called(ctx, storyID)

	var r0 []*models.Segment
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]*models.Segment)
	}
	return r0, ret.Error(1)
}

var _ repository.SegmentRepository = (*MockSegmentRepository)(nil)

// MockImageJobRepository is a mock type for the ImageJobRepository type
type MockImageJobRepository struct {
	mock.Mock
}

func (_m *MockImageJobRepository) Create(ctx context.Context, job *models.ImageJob) error {
	ret := _m.Called(ctx, job)
	return ret.Error(0)
}

func (_m *MockImageJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ImageJob, error) {
	ret := _m.Called(ctx, id)

	var r0 *models.ImageJob
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ImageJob)
	}
	return r0, ret.Error(1)
}

func (_m *MockImageJobRepository) GetBySegmentID(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error) {
	ret := _m.Called(ctx, segmentID)

	var r0 *models.ImageJob
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ImageJob)
	}
	return r0, ret.Error(1)
}

func (_m *MockImageJobRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.ImageJobStatus, imageURL string, errorDetail string) error {
	ret := _m.Called(ctx, id, status, imageURL, errorDetail)
	return ret.Error(0)
}

func (_m *MockImageJobRepository) IncrementRetry(ctx context.Context, id uuid.UUID) error {
	ret := _m.Called(ctx, id)
	return ret.Error(0)
}

var _ repository.ImageJobRepository = (*MockImageJobRepository)(nil)
