package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"fable-server/internal/models"
	"fable-server/internal/service"
)

// MockStoryLocker is a mock type for the StoryLocker type
type MockStoryLocker struct {
	mock.Mock
}

func (_m *MockStoryLocker) Acquire(ctx context.Context, storyID uuid.UUID) (string, error) {
	ret := _m.Called(ctx, storyID)
	return ret.String(0), ret.Error(1)
}

func (_m *MockStoryLocker) Release(ctx context.Context, storyID uuid.UUID, token string) {
	_m.Called(ctx, storyID, token)
}

var _ service.StoryLocker = (*MockStoryLocker)(nil)

// MockCreditService is a mock type for the CreditService type
type MockCreditService struct {
	mock.Mock
}

func (_m *MockCreditService) Authorize(ctx context.Context, userID uuid.UUID, amountUSD float64) error {
	ret := _m.Called(ctx, userID, amountUSD)
	return ret.Error(0)
}

func (_m *MockCreditService) Charge(ctx context.Context, userID, storyID uuid.UUID, amountUSD float64, reason string) error {
	ret := _m.Called(ctx, userID, storyID, amountUSD, reason)
	return ret.Error(0)
}

var _ service.CreditService = (*MockCreditService)(nil)

// MockImageCoordinator is a mock type for the ImageCoordinator type
type MockImageCoordinator struct {
	mock.Mock
}

func (_m *MockImageCoordinator) Enqueue(ctx context.Context, jobID uuid.UUID, segmentID uuid.UUID, imagePrompt string) error {
	ret := _m.Called(ctx, jobID, segmentID, imagePrompt)
	return ret.Error(0)
}

func (_m *MockImageCoordinator) GetStatus(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error) {
	ret := _m.Called(ctx, segmentID)

	var r0 *models.ImageJob
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ImageJob)
	}
	return r0, ret.Error(1)
}

func (_m *MockImageCoordinator) Retry(ctx context.Context, segmentID uuid.UUID) (*models.ImageJob, error) {
	ret := _m.Called(ctx, segmentID)

	var r0 *models.ImageJob
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.ImageJob)
	}
	return r0, ret.Error(1)
}

func (_m *MockImageCoordinator) HandleCallback(ctx context.Context, segmentID uuid.UUID, success bool, imageURL string, errorDetail string) error {
	ret := _m.Called(ctx, segmentID, success, imageURL, errorDetail)
	return ret.Error(0)
}

var _ service.ImageCoordinator = (*MockImageCoordinator)(nil)

// MockStoryService is a mock type for the StoryService type
type MockStoryService struct {
	mock.Mock
}

func (_m *MockStoryService) CreateStory(ctx context.Context, req service.CreateStoryRequest) (*service.StoryResult, error) {
	ret := _m.Called(ctx, req)

	var r0 *service.StoryResult
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*service.StoryResult)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) ContinueStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID, choiceID uuid.UUID) (*models.Segment, error) {
	ret := _m.Called(ctx, userID, storyID, choiceID)

	var r0 *models.Segment
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Segment)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) EndStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.Segment, error) {
	ret := _m.Called(ctx, userID, storyID)

	var r0 *models.Segment
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Segment)
	}
	return r0, ret.Error(1)
}

func (_m *MockStoryService) GetStory(ctx context.Context, userID uuid.UUID, storyID uuid.UUID) (*models.Story, []*models.Segment, error) {
	ret := _m.Called(ctx, userID, storyID)

	var r0 *models.Story
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Story)
	}
	var r1 []*models.Segment
	if ret.Get(1) != nil {
		r1 = ret.Get(1).([]*models.Segment)
	}
	return r0, r1, ret.Error(2)
}

var _ service.StoryService = (*MockStoryService)(nil)
