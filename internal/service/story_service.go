package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fable-server/internal/ai"
	"fable-server/internal/models"
	"fable-server/internal/parser"
	"fable-server/internal/prompt"
	"fable-server/internal/repository"
)

// CreateStoryRequest is the validated input of CreateStory. WordsPerSegment
// and MaxSegments fall back to the age-bracket target and the configured
// default when zero.
type CreateStoryRequest struct {
	UserID          uuid.UUID
	Title           string
	AgeBracket      models.AgeBracket
	Genre           string
	Theme           string
	Setting         string
	Characters      []models.Character
	WordsPerSegment int
	MaxSegments     int
}

// StoryResult bundles a story with its newly generated segment.
type StoryResult struct {
	Story   *models.Story
	Segment *models.Segment
}

// StoryService drives the story lifecycle: opening generation, choice-driven
// continuation and explicit ending. Every successful call delivers exactly
// one new segment; every failed call leaves the story untouched.
type StoryService interface {
	CreateStory(ctx context.Context, req CreateStoryRequest) (*StoryResult, error)
	// ContinueStory generates the successor of the story's latest segment
	// from the selected choice. Re-selecting an already linked choice
	// returns the existing successor without generating or charging.
	ContinueStory(ctx context.Context, userID, storyID, choiceID uuid.UUID) (*models.Segment, error)
	// EndStory forces a concluding segment regardless of what the model
	// would otherwise offer, and completes the story.
	EndStory(ctx context.Context, userID, storyID uuid.UUID) (*models.Segment, error)
	// GetStory returns the story and all its segments in order.
	GetStory(ctx context.Context, userID, storyID uuid.UUID) (*models.Story, []*models.Segment, error)
}

// GenerationSettings are the per-call model parameters and pricing the
// service applies to every segment.
type GenerationSettings struct {
	Temperature        float64
	MaxTokens          int
	DefaultMaxSegments int
	SegmentCostUSD     float64
}

type storyService struct {
	storyRepo   repository.StoryRepository
	segmentRepo repository.SegmentRepository
	generator   ai.Generator
	locker      StoryLocker
	credits     CreditService
	images      ImageCoordinator
	settings    GenerationSettings
	logger      *zap.Logger
}

// NewStoryService wires the continuation controller.
func NewStoryService(
	storyRepo repository.StoryRepository,
	segmentRepo repository.SegmentRepository,
	generator ai.Generator,
	locker StoryLocker,
	credits CreditService,
	images ImageCoordinator,
	settings GenerationSettings,
	logger *zap.Logger,
) StoryService {
	return &storyService{
		storyRepo:   storyRepo,
		segmentRepo: segmentRepo,
		generator:   generator,
		locker:      locker,
		credits:     credits,
		images:      images,
		settings:    settings,
		logger:      logger.Named("StoryService"),
	}
}

func (s *storyService) CreateStory(ctx context.Context, req CreateStoryRequest) (*StoryResult, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}
	if err := s.credits.Authorize(ctx, req.UserID, s.settings.SegmentCostUSD); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	story := &models.Story{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Title:           strings.TrimSpace(req.Title),
		AgeBracket:      req.AgeBracket,
		Genre:           strings.TrimSpace(req.Genre),
		Theme:           strings.TrimSpace(req.Theme),
		Setting:         strings.TrimSpace(req.Setting),
		Characters:      req.Characters,
		WordsPerSegment: req.WordsPerSegment,
		MaxSegments:     req.MaxSegments,
		Status:          models.StoryStatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if story.WordsPerSegment <= 0 {
		story.WordsPerSegment = req.AgeBracket.WordTarget()
	}
	if story.MaxSegments <= 0 {
		story.MaxSegments = s.settings.DefaultMaxSegments
	}

	if err := s.storyRepo.Create(ctx, story); err != nil {
		return nil, err
	}

	segment, usage, err := s.generateSegment(ctx, story, nil, "", prompt.KindOpening, false, nil)
	if err != nil {
		// Roll the draft back so a failed opening leaves no trace.
		if delErr := s.storyRepo.Delete(ctx, story.ID); delErr != nil {
			s.logger.Error("Failed to delete draft story after generation failure",
				zap.Stringer("storyID", story.ID), zap.Error(delErr))
		}
		return nil, err
	}

	status := models.StoryStatusInProgress
	if segment.IsEnding {
		status = models.StoryStatusCompleted
	}
	if err := s.storyRepo.UpdateStatus(ctx, story.ID, status); err != nil {
		s.logger.Error("Failed to update story status after opening",
			zap.Stringer("storyID", story.ID), zap.Error(err))
	} else {
		story.Status = status
	}

	s.chargeSegment(ctx, story, segment, usage, "opening segment")
	return &StoryResult{Story: story, Segment: segment}, nil
}

func (s *storyService) ContinueStory(ctx context.Context, userID, storyID, choiceID uuid.UUID) (*models.Segment, error) {
	story, err := s.loadOwnedStory(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status == models.StoryStatusCompleted {
		return nil, models.ErrStoryCompleted
	}
	if err := s.credits.Authorize(ctx, userID, s.settings.SegmentCostUSD); err != nil {
		return nil, err
	}

	token, err := s.locker.Acquire(ctx, storyID)
	if err != nil {
		return nil, err
	}
	defer s.locker.Release(ctx, storyID, token)

	latest, err := s.segmentRepo.GetLatestByStoryID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if latest.IsEnding {
		return nil, models.ErrStoryCompleted
	}

	choice := latest.ChoiceByID(choiceID)
	if choice == nil {
		return nil, fmt.Errorf("%w: choice '%s' not on segment %d",
			models.ErrChoiceInvalid, choiceID, latest.Position)
	}
	if choice.NextSegmentID != nil {
		// Idempotent replay of an already taken choice.
		return s.segmentRepo.GetByID(ctx, *choice.NextSegmentID)
	}

	forceEnding := latest.Position+1 >= story.MaxSegments
	kind := prompt.KindContinuation
	if forceEnding {
		kind = prompt.KindEnding
	}

	link := &models.ChoiceLink{SegmentID: latest.ID, ChoiceID: choiceID}
	segment, usage, err := s.generateSegment(ctx, story, latest, choice.Text, kind, forceEnding, link)
	if err != nil {
		return nil, err
	}

	if segment.IsEnding {
		if err := s.storyRepo.UpdateStatus(ctx, storyID, models.StoryStatusCompleted); err != nil {
			s.logger.Error("Failed to mark story completed",
				zap.Stringer("storyID", storyID), zap.Error(err))
		}
	}

	s.chargeSegment(ctx, story, segment, usage, "continuation segment")
	return segment, nil
}

func (s *storyService) EndStory(ctx context.Context, userID, storyID uuid.UUID) (*models.Segment, error) {
	story, err := s.loadOwnedStory(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}
	if story.Status == models.StoryStatusCompleted {
		return nil, models.ErrStoryCompleted
	}
	if err := s.credits.Authorize(ctx, userID, s.settings.SegmentCostUSD); err != nil {
		return nil, err
	}

	token, err := s.locker.Acquire(ctx, storyID)
	if err != nil {
		return nil, err
	}
	defer s.locker.Release(ctx, storyID, token)

	latest, err := s.segmentRepo.GetLatestByStoryID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if latest.IsEnding {
		return nil, models.ErrStoryCompleted
	}

	segment, usage, err := s.generateSegment(ctx, story, latest, "", prompt.KindEnding, true, nil)
	if err != nil {
		return nil, err
	}

	if err := s.storyRepo.UpdateStatus(ctx, storyID, models.StoryStatusCompleted); err != nil {
		s.logger.Error("Failed to mark story completed",
			zap.Stringer("storyID", storyID), zap.Error(err))
	}

	s.chargeSegment(ctx, story, segment, usage, "ending segment")
	return segment, nil
}

func (s *storyService) GetStory(ctx context.Context, userID, storyID uuid.UUID) (*models.Story, []*models.Segment, error) {
	story, err := s.loadOwnedStory(ctx, userID, storyID)
	if err != nil {
		return nil, nil, err
	}
	segments, err := s.segmentRepo.ListByStoryID(ctx, storyID)
	if err != nil {
		return nil, nil, err
	}
	return story, segments, nil
}

// generateSegment runs the prompt -> provider -> parse -> persist pipeline
// shared by all three operations. prior is nil for the opening segment;
// forceEnding is the explicit user end request.
func (s *storyService) generateSegment(
	ctx context.Context,
	story *models.Story,
	prior *models.Segment,
	selectedChoiceText string,
	kind prompt.Kind,
	forceEnding bool,
	link *models.ChoiceLink,
) (*models.Segment, ai.UsageInfo, error) {
	promptSet := prompt.Build(prompt.BuildRequest{
		Story:              story,
		Prior:              prior,
		SelectedChoiceText: selectedChoiceText,
		Kind:               kind,
	})
	if promptSet.Degraded {
		s.logger.Warn("Prompt built with placeholder fields",
			zap.Stringer("storyID", story.ID))
	}

	params := ai.GenerationParams{
		Temperature: &s.settings.Temperature,
		MaxTokens:   &s.settings.MaxTokens,
	}
	output, err := s.generator.Generate(ctx, promptSet, params)
	if err != nil {
		return nil, ai.UsageInfo{}, err
	}

	position := 1
	if prior != nil {
		position = prior.Position + 1
	}
	// The parser gets the same scene words the prompt was built with, so
	// synthesized choices stay anchored even when story fields degraded to
	// placeholders.
	parsed, err := parser.Parse(output.Text, parser.StoryContext{
		CharacterNames: characterNames(story.Characters),
		Setting:        promptSet.Setting,
		Theme:          promptSet.Theme,
		MaxReached:     position >= story.MaxSegments,
		ForceEnding:    forceEnding,
	})
	if err != nil {
		return nil, ai.UsageInfo{}, err
	}

	imagePrompt := parsed.ImagePrompt
	if imagePrompt == "" {
		imagePrompt = promptSet.ImagePrompt
	}

	jobID := uuid.New()
	segment := &models.Segment{
		ID:          uuid.New(),
		StoryID:     story.ID,
		Position:    position,
		Narrative:   parsed.Narrative,
		WordCount:   parser.CountWords(parsed.Narrative),
		Choices:     newChoices(parsed.Choices),
		IsEnding:    parsed.IsEnding,
		ImagePrompt: imagePrompt,
		ImageJobID:  &jobID,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.segmentRepo.Create(ctx, segment, link); err != nil {
		return nil, ai.UsageInfo{}, err
	}

	s.logger.Info("Segment created",
		zap.Stringer("storyID", story.ID),
		zap.Int("position", segment.Position),
		zap.Int("wordCount", segment.WordCount),
		zap.Bool("isEnding", segment.IsEnding),
		zap.String("provider", output.ProviderUsed))

	// Illustration is a side channel: a queue outage must never fail the
	// segment the user is already reading.
	if err := s.images.Enqueue(ctx, jobID, segment.ID, imagePrompt); err != nil {
		s.logger.Error("Failed to enqueue illustration",
			zap.Stringer("segmentID", segment.ID), zap.Error(err))
	}

	return segment, output.Usage, nil
}

func (s *storyService) loadOwnedStory(ctx context.Context, userID, storyID uuid.UUID) (*models.Story, error) {
	story, err := s.storyRepo.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	// Do not reveal whether the story exists to other users.
	if story.UserID != userID {
		return nil, models.ErrStoryNotFound
	}
	return story, nil
}

// chargeSegment debits the actual estimated generation cost of the delivered
// segment. Providers that report no cost (local models) are charged at the
// configured flat rate instead.
func (s *storyService) chargeSegment(ctx context.Context, story *models.Story, segment *models.Segment, usage ai.UsageInfo, reason string) {
	amount := usage.EstimatedCostUSD
	if amount <= 0 {
		amount = s.settings.SegmentCostUSD
	}
	if err := s.credits.Charge(ctx, story.UserID, story.ID, amount, reason); err != nil {
		// The segment is already delivered; billing reconciles later.
		s.logger.Error("Failed to charge for segment",
			zap.Stringer("storyID", story.ID),
			zap.Int("position", segment.Position),
			zap.Float64("amountUSD", amount),
			zap.Error(err))
	}
}

func validateCreateRequest(req CreateStoryRequest) error {
	if req.UserID == uuid.Nil {
		return fmt.Errorf("%w: userId is required", models.ErrValidation)
	}
	if !req.AgeBracket.Valid() {
		return fmt.Errorf("%w: unsupported age bracket '%s'", models.ErrValidation, req.AgeBracket)
	}
	if req.MaxSegments < 0 || req.MaxSegments > 50 {
		return fmt.Errorf("%w: maxSegments must be at most 50", models.ErrValidation)
	}
	if req.WordsPerSegment < 0 || req.WordsPerSegment > 500 {
		return fmt.Errorf("%w: wordsPerSegment must be at most 500", models.ErrValidation)
	}
	for _, c := range req.Characters {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: character name must not be empty", models.ErrValidation)
		}
	}
	return nil
}

func characterNames(chars []models.Character) []string {
	names := make([]string, 0, len(chars))
	for _, c := range chars {
		if n := strings.TrimSpace(c.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

func newChoices(texts []string) []models.Choice {
	if len(texts) == 0 {
		return nil
	}
	choices := make([]models.Choice, 0, len(texts))
	for _, t := range texts {
		choices = append(choices, models.Choice{ID: uuid.New(), Text: t})
	}
	return choices
}
