package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fable-server/internal/handler"
	"fable-server/internal/models"
	"fable-server/internal/service"
	svcmocks "fable-server/internal/service/mocks"
)

type routerFixture struct {
	stories *svcmocks.MockStoryService
	images  *svcmocks.MockImageCoordinator
	router  *gin.Engine
}

func newRouter(t *testing.T) *routerFixture {
	gin.SetMode(gin.TestMode)
	f := &routerFixture{
		stories: new(svcmocks.MockStoryService),
		images:  new(svcmocks.MockImageCoordinator),
	}
	f.router = gin.New()
	h := handler.NewStoryHandler(f.stories, f.images, zap.NewNop())
	h.RegisterRoutes(f.router, zap.NewNop())
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, userID string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestCreateStory_Created(t *testing.T) {
	f := newRouter(t)
	userID := uuid.New()

	story := &models.Story{ID: uuid.New(), UserID: userID, Status: models.StoryStatusInProgress}
	segment := &models.Segment{ID: uuid.New(), StoryID: story.ID, Position: 1}
	f.stories.On("CreateStory", mock.Anything, mock.MatchedBy(func(req service.CreateStoryRequest) bool {
		return req.UserID == userID && req.AgeBracket == models.AgeBracket4to6
	})).Return(&service.StoryResult{Story: story, Segment: segment}, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/stories", userID.String(), gin.H{
		"ageBracket": "4-6",
		"theme":      "kindness",
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	f.stories.AssertExpectations(t)
}

func TestCreateStory_MissingUserHeader(t *testing.T) {
	f := newRouter(t)

	rec := f.do(t, http.MethodPost, "/api/stories", "", gin.H{"ageBracket": "4-6"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	f.stories.AssertNotCalled(t, "CreateStory", mock.Anything, mock.Anything)
}

func TestContinueStory_ConflictMapsTo409(t *testing.T) {
	f := newRouter(t)
	userID, storyID, choiceID := uuid.New(), uuid.New(), uuid.New()

	f.stories.On("ContinueStory", mock.Anything, userID, storyID, choiceID).
		Return(nil, models.ErrConcurrencyConflict).Once()

	rec := f.do(t, http.MethodPost,
		"/api/stories/"+storyID.String()+"/choices/"+choiceID.String(), userID.String(), nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestContinueStory_ProviderFailureMapsTo502(t *testing.T) {
	f := newRouter(t)
	userID, storyID, choiceID := uuid.New(), uuid.New(), uuid.New()

	f.stories.On("ContinueStory", mock.Anything, userID, storyID, choiceID).
		Return(nil, models.ErrProviderUnavailable).Once()

	rec := f.do(t, http.MethodPost,
		"/api/stories/"+storyID.String()+"/choices/"+choiceID.String(), userID.String(), nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestEndStory_CompletedMapsTo409(t *testing.T) {
	f := newRouter(t)
	userID, storyID := uuid.New(), uuid.New()

	f.stories.On("EndStory", mock.Anything, userID, storyID).
		Return(nil, models.ErrStoryCompleted).Once()

	rec := f.do(t, http.MethodPost, "/api/stories/"+storyID.String()+"/end", userID.String(), nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetStory_NotFound(t *testing.T) {
	f := newRouter(t)
	userID, storyID := uuid.New(), uuid.New()

	f.stories.On("GetStory", mock.Anything, userID, storyID).
		Return(nil, nil, models.ErrStoryNotFound).Once()

	rec := f.do(t, http.MethodGet, "/api/stories/"+storyID.String(), userID.String(), nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetImageStatus_OK(t *testing.T) {
	f := newRouter(t)
	segmentID := uuid.New()
	job := &models.ImageJob{ID: uuid.New(), SegmentID: segmentID, Status: models.ImageJobStatusCompleted}

	f.images.On("GetStatus", mock.Anything, segmentID).Return(job, nil).Once()

	rec := f.do(t, http.MethodGet, "/api/segments/"+segmentID.String()+"/image", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got models.ImageJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.ImageJobStatusCompleted, got.Status)
}

func TestImageCallback_NoContent(t *testing.T) {
	f := newRouter(t)
	segmentID := uuid.New()

	f.images.On("HandleCallback", mock.Anything, segmentID, true, "https://img/x.jpg", "").
		Return(nil).Once()

	rec := f.do(t, http.MethodPost, "/internal/image-callback/"+segmentID.String(), "", gin.H{
		"success":  true,
		"imageUrl": "https://img/x.jpg",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestInvalidUUIDParam(t *testing.T) {
	f := newRouter(t)
	rec := f.do(t, http.MethodPost, "/api/stories/not-a-uuid/end", uuid.NewString(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
