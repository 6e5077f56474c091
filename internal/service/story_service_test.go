package service_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fable-server/internal/ai"
	aimocks "fable-server/internal/ai/mocks"
	"fable-server/internal/models"
	repomocks "fable-server/internal/repository/mocks"
	"fable-server/internal/service"
	svcmocks "fable-server/internal/service/mocks"
)

const rawContinuation = `Mila stepped deeper into the whispering woods.
A tiny lantern glowed between the roots of an old tree.

CHOICES:
1. Pick up the lantern
2. Call out to ask who lost it
3. Tiptoe past the tree
IMAGE: A fox cub looking at a glowing lantern between tree roots`

const rawEnding = `Mila carried the lantern home and its light kept everyone warm all winter.

THE END
IMAGE: A cozy den lit by a small lantern`

type serviceFixture struct {
	storyRepo   *repomocks.MockStoryRepository
	segmentRepo *repomocks.MockSegmentRepository
	generator   *aimocks.MockGenerator
	locker      *svcmocks.MockStoryLocker
	credits     *svcmocks.MockCreditService
	images      *svcmocks.MockImageCoordinator
	svc         service.StoryService
}

func newFixture(t *testing.T) *serviceFixture {
	f := &serviceFixture{
		storyRepo:   new(repomocks.MockStoryRepository),
		segmentRepo: new(repomocks.MockSegmentRepository),
		generator:   new(aimocks.MockGenerator),
		locker:      new(svcmocks.MockStoryLocker),
		credits:     new(svcmocks.MockCreditService),
		images:      new(svcmocks.MockImageCoordinator),
	}
	f.svc = service.NewStoryService(
		f.storyRepo, f.segmentRepo, f.generator, f.locker, f.credits, f.images,
		service.GenerationSettings{
			Temperature:        0.7,
			MaxTokens:          900,
			DefaultMaxSegments: 10,
			SegmentCostUSD:     0.01,
		}, zap.NewNop())
	return f
}

func (f *serviceFixture) assertAll(t *testing.T) {
	f.storyRepo.AssertExpectations(t)
	f.segmentRepo.AssertExpectations(t)
	f.generator.AssertExpectations(t)
	f.locker.AssertExpectations(t)
	f.credits.AssertExpectations(t)
	f.images.AssertExpectations(t)
}

func validCreateRequest(userID uuid.UUID) service.CreateStoryRequest {
	return service.CreateStoryRequest{
		UserID:     userID,
		Title:      "Mila and the Lantern",
		AgeBracket: models.AgeBracket4to6,
		Genre:      "fantasy",
		Theme:      "kindness",
		Setting:    "the whispering woods",
		Characters: []models.Character{{Name: "Mila"}},
	}
}

func inProgressStory(userID uuid.UUID) *models.Story {
	return &models.Story{
		ID:              uuid.New(),
		UserID:          userID,
		AgeBracket:      models.AgeBracket4to6,
		Theme:           "kindness",
		Setting:         "the whispering woods",
		Characters:      []models.Character{{Name: "Mila"}},
		WordsPerSegment: 60,
		MaxSegments:     10,
		Status:          models.StoryStatusInProgress,
	}
}

func openSegment(storyID uuid.UUID, position int) *models.Segment {
	return &models.Segment{
		ID:        uuid.New(),
		StoryID:   storyID,
		Position:  position,
		Narrative: "Mila found a glowing path.",
		Choices: []models.Choice{
			{ID: uuid.New(), Text: "Follow the path"},
			{ID: uuid.New(), Text: "Turn back home"},
		},
	}
}

func TestCreateStory_Success(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.storyRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Story")).Return(nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{Text: rawContinuation, ProviderUsed: "primary",
			Usage: ai.UsageInfo{TotalTokens: 420, EstimatedCostUSD: 0.0042}}, nil).Once()
	f.segmentRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Segment"), (*models.ChoiceLink)(nil)).Return(nil).Once()
	f.storyRepo.On("UpdateStatus", mock.Anything, mock.Anything, models.StoryStatusInProgress).Return(nil).Once()
	f.images.On("Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.credits.On("Charge", mock.Anything, userID, mock.Anything, 0.0042, mock.Anything).Return(nil).Once()

	result, err := f.svc.CreateStory(context.Background(), validCreateRequest(userID))

	require.NoError(t, err)
	assert.Equal(t, models.StoryStatusInProgress, result.Story.Status)
	assert.Equal(t, 60, result.Story.WordsPerSegment, "word target comes from the age bracket")
	assert.Equal(t, 10, result.Story.MaxSegments, "max segments falls back to the default")

	seg := result.Segment
	assert.Equal(t, 1, seg.Position)
	assert.False(t, seg.IsEnding)
	assert.Len(t, seg.Choices, 3)
	for _, c := range seg.Choices {
		assert.NotEqual(t, uuid.Nil, c.ID)
		assert.Nil(t, c.NextSegmentID)
	}
	assert.Equal(t, "A fox cub looking at a glowing lantern between tree roots", seg.ImagePrompt)
	assert.Greater(t, seg.WordCount, 0)
	require.NotNil(t, seg.ImageJobID)

	f.assertAll(t)
}

func TestCreateStory_ZeroReportedCostChargesFlatRate(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	// Local providers report no cost; the charge falls back to the flat rate.
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.storyRepo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{Text: rawContinuation, ProviderUsed: "fallback"}, nil).Once()
	f.segmentRepo.On("Create", mock.Anything, mock.Anything, (*models.ChoiceLink)(nil)).Return(nil).Once()
	f.storyRepo.On("UpdateStatus", mock.Anything, mock.Anything, models.StoryStatusInProgress).Return(nil).Once()
	f.images.On("Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.credits.On("Charge", mock.Anything, userID, mock.Anything, 0.01, mock.Anything).Return(nil).Once()

	_, err := f.svc.CreateStory(context.Background(), validCreateRequest(userID))

	require.NoError(t, err)
	f.assertAll(t)
}

func TestCreateStory_BareModelOutputStillYieldsChoices(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	// No theme, setting or characters, and the model returns plain prose with
	// no choice block. The synthesized choices must lean on the same placeholder
	// scene the prompt was built with instead of failing or going generic.
	req := service.CreateStoryRequest{
		UserID:     userID,
		Title:      "An Evening Walk",
		AgeBracket: models.AgeBracket4to6,
	}

	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.storyRepo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{Text: "A soft wind crossed the meadow at dusk.", ProviderUsed: "primary",
			Usage: ai.UsageInfo{TotalTokens: 90, EstimatedCostUSD: 0.0009}}, nil).Once()
	f.segmentRepo.On("Create", mock.Anything, mock.Anything, (*models.ChoiceLink)(nil)).Return(nil).Once()
	f.storyRepo.On("UpdateStatus", mock.Anything, mock.Anything, models.StoryStatusInProgress).Return(nil).Once()
	f.images.On("Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.credits.On("Charge", mock.Anything, userID, mock.Anything, 0.0009, mock.Anything).Return(nil).Once()

	result, err := f.svc.CreateStory(context.Background(), req)

	require.NoError(t, err)
	seg := result.Segment
	assert.False(t, seg.IsEnding)
	require.GreaterOrEqual(t, len(seg.Choices), 2)
	for _, c := range seg.Choices {
		assert.NotEmpty(t, c.Text)
	}
	f.assertAll(t)
}

func TestCreateStory_GenerationFailureRollsBackDraft(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.storyRepo.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{}, models.ErrProviderUnavailable).Once()
	f.storyRepo.On("Delete", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.svc.CreateStory(context.Background(), validCreateRequest(userID))

	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	f.storyRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	f.credits.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestCreateStory_InvalidAgeBracket(t *testing.T) {
	f := newFixture(t)

	req := validCreateRequest(uuid.New())
	req.AgeBracket = "13-99"
	_, err := f.svc.CreateStory(context.Background(), req)

	assert.ErrorIs(t, err, models.ErrValidation)
	f.storyRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateStory_InsufficientCredits(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	f.credits.On("Authorize", mock.Anything, userID, 0.01).
		Return(models.ErrInsufficientCredits).Once()

	_, err := f.svc.CreateStory(context.Background(), validCreateRequest(userID))

	assert.ErrorIs(t, err, models.ErrInsufficientCredits)
	f.storyRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
}

func TestContinueStory_Success(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)
	latest := openSegment(story.ID, 1)
	chosen := latest.Choices[0]

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.locker.On("Acquire", mock.Anything, story.ID).Return("token-1", nil).Once()
	f.locker.On("Release", mock.Anything, story.ID, "token-1").Once()
	f.segmentRepo.On("GetLatestByStoryID", mock.Anything, story.ID).Return(latest, nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{Text: rawContinuation, ProviderUsed: "primary",
			Usage: ai.UsageInfo{TotalTokens: 420, EstimatedCostUSD: 0.0042}}, nil).Once()
	f.segmentRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Segment"),
		&models.ChoiceLink{SegmentID: latest.ID, ChoiceID: chosen.ID}).Return(nil).Once()
	f.images.On("Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.credits.On("Charge", mock.Anything, userID, story.ID, 0.0042, mock.Anything).Return(nil).Once()

	segment, err := f.svc.ContinueStory(context.Background(), userID, story.ID, chosen.ID)

	require.NoError(t, err)
	assert.Equal(t, 2, segment.Position)
	assert.False(t, segment.IsEnding)
	assert.Len(t, segment.Choices, 3)
	f.assertAll(t)
}

func TestContinueStory_LockBusy(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.locker.On("Acquire", mock.Anything, story.ID).
		Return("", models.ErrConcurrencyConflict).Once()

	_, err := f.svc.ContinueStory(context.Background(), userID, story.ID, uuid.New())

	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestContinueStory_InvalidChoice(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)
	latest := openSegment(story.ID, 1)

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.locker.On("Acquire", mock.Anything, story.ID).Return("token-1", nil).Once()
	f.locker.On("Release", mock.Anything, story.ID, "token-1").Once()
	f.segmentRepo.On("GetLatestByStoryID", mock.Anything, story.ID).Return(latest, nil).Once()

	_, err := f.svc.ContinueStory(context.Background(), userID, story.ID, uuid.New())

	assert.ErrorIs(t, err, models.ErrChoiceInvalid)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestContinueStory_CompletedStory(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)
	story.Status = models.StoryStatusCompleted

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()

	_, err := f.svc.ContinueStory(context.Background(), userID, story.ID, uuid.New())

	assert.ErrorIs(t, err, models.ErrStoryCompleted)
	f.credits.AssertNotCalled(t, "Authorize", mock.Anything, mock.Anything, mock.Anything)
}

func TestContinueStory_ReplayReturnsExistingSuccessor(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)
	latest := openSegment(story.ID, 1)
	successorID := uuid.New()
	latest.Choices[0].NextSegmentID = &successorID
	successor := &models.Segment{ID: successorID, StoryID: story.ID, Position: 2}

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.locker.On("Acquire", mock.Anything, story.ID).Return("token-1", nil).Once()
	f.locker.On("Release", mock.Anything, story.ID, "token-1").Once()
	f.segmentRepo.On("GetLatestByStoryID", mock.Anything, story.ID).Return(latest, nil).Once()
	f.segmentRepo.On("GetByID", mock.Anything, successorID).Return(successor, nil).Once()

	segment, err := f.svc.ContinueStory(context.Background(), userID, story.ID, latest.Choices[0].ID)

	require.NoError(t, err)
	assert.Equal(t, successorID, segment.ID)
	f.generator.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything, mock.Anything)
	f.credits.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestContinueStory_MaxSegmentsForcesEnding(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)
	story.MaxSegments = 2
	latest := openSegment(story.ID, 1)
	chosen := latest.Choices[0]

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.locker.On("Acquire", mock.Anything, story.ID).Return("token-1", nil).Once()
	f.locker.On("Release", mock.Anything, story.ID, "token-1").Once()
	f.segmentRepo.On("GetLatestByStoryID", mock.Anything, story.ID).Return(latest, nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{Text: rawEnding, ProviderUsed: "primary",
			Usage: ai.UsageInfo{TotalTokens: 380, EstimatedCostUSD: 0.0038}}, nil).Once()
	f.segmentRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Segment"), mock.Anything).Return(nil).Once()
	f.storyRepo.On("UpdateStatus", mock.Anything, story.ID, models.StoryStatusCompleted).Return(nil).Once()
	f.images.On("Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.credits.On("Charge", mock.Anything, userID, story.ID, 0.0038, mock.Anything).Return(nil).Once()

	segment, err := f.svc.ContinueStory(context.Background(), userID, story.ID, chosen.ID)

	require.NoError(t, err)
	assert.True(t, segment.IsEnding)
	assert.Empty(t, segment.Choices)
	f.assertAll(t)
}

func TestContinueStory_ConcurrencyConflictFromIndex(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)
	latest := openSegment(story.ID, 1)
	chosen := latest.Choices[0]

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.locker.On("Acquire", mock.Anything, story.ID).Return("token-1", nil).Once()
	f.locker.On("Release", mock.Anything, story.ID, "token-1").Once()
	f.segmentRepo.On("GetLatestByStoryID", mock.Anything, story.ID).Return(latest, nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{Text: rawContinuation}, nil).Once()
	f.segmentRepo.On("Create", mock.Anything, mock.Anything, mock.Anything).
		Return(models.ErrConcurrencyConflict).Once()

	_, err := f.svc.ContinueStory(context.Background(), userID, story.ID, chosen.ID)

	assert.ErrorIs(t, err, models.ErrConcurrencyConflict)
	f.credits.AssertNotCalled(t, "Charge", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestEndStory_ForcesEnding(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	story := inProgressStory(userID)
	latest := openSegment(story.ID, 3)

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()
	f.credits.On("Authorize", mock.Anything, userID, 0.01).Return(nil).Once()
	f.locker.On("Acquire", mock.Anything, story.ID).Return("token-1", nil).Once()
	f.locker.On("Release", mock.Anything, story.ID, "token-1").Once()
	f.segmentRepo.On("GetLatestByStoryID", mock.Anything, story.ID).Return(latest, nil).Once()
	f.generator.On("Generate", mock.Anything, mock.Anything, mock.Anything).
		Return(ai.RawModelOutput{Text: rawEnding, ProviderUsed: "primary",
			Usage: ai.UsageInfo{TotalTokens: 380, EstimatedCostUSD: 0.0038}}, nil).Once()
	f.segmentRepo.On("Create", mock.Anything, mock.AnythingOfType("*models.Segment"), (*models.ChoiceLink)(nil)).Return(nil).Once()
	f.storyRepo.On("UpdateStatus", mock.Anything, story.ID, models.StoryStatusCompleted).Return(nil).Once()
	f.images.On("Enqueue", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	f.credits.On("Charge", mock.Anything, userID, story.ID, 0.0038, mock.Anything).Return(nil).Once()

	segment, err := f.svc.EndStory(context.Background(), userID, story.ID)

	require.NoError(t, err)
	assert.True(t, segment.IsEnding)
	assert.Empty(t, segment.Choices)
	assert.Equal(t, 4, segment.Position)
	f.assertAll(t)
}

func TestGetStory_OtherUsersStoryHidden(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	story := inProgressStory(owner)

	f.storyRepo.On("GetByID", mock.Anything, story.ID).Return(story, nil).Once()

	_, _, err := f.svc.GetStory(context.Background(), uuid.New(), story.ID)

	assert.ErrorIs(t, err, models.ErrStoryNotFound)
	f.segmentRepo.AssertNotCalled(t, "ListByStoryID", mock.Anything, mock.Anything)
}
