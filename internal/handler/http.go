// Package handler exposes the story engine over HTTP. Authentication is
// delegated to the gateway, which injects the authenticated user id in the
// X-User-ID header.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"fable-server/internal/models"
	"fable-server/internal/service"
)

// StoryHandler binds the story and image endpoints to gin.
type StoryHandler struct {
	stories service.StoryService
	images  service.ImageCoordinator
	logger  *zap.Logger
}

// NewStoryHandler creates the handler.
func NewStoryHandler(stories service.StoryService, images service.ImageCoordinator, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{stories: stories, images: images, logger: logger.Named("StoryHandler")}
}

// RegisterRoutes wires all routes onto the engine.
func (h *StoryHandler) RegisterRoutes(router *gin.Engine, log *zap.Logger) {
	router.Use(ZapLogging(log))
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-User-ID", "X-Request-ID"},
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/stories", h.createStory)
		api.GET("/stories/:id", h.getStory)
		api.POST("/stories/:id/choices/:choiceID", h.continueStory)
		api.POST("/stories/:id/end", h.endStory)

		api.GET("/segments/:id/image", h.getImageStatus)
		api.POST("/segments/:id/image/retry", h.retryImage)
	}

	router.POST("/internal/image-callback/:segmentID", h.imageCallback)
}

func (h *StoryHandler) createStory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}

	var req createStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	result, err := h.stories.CreateStory(c.Request.Context(), service.CreateStoryRequest{
		UserID:          userID,
		Title:           req.Title,
		AgeBracket:      models.AgeBracket(req.AgeBracket),
		Genre:           req.Genre,
		Theme:           req.Theme,
		Setting:         req.Setting,
		Characters:      req.Characters,
		WordsPerSegment: req.WordsPerSegment,
		MaxSegments:     req.MaxSegments,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, storyResponse{Story: result.Story, Segment: result.Segment})
}

func (h *StoryHandler) getStory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	story, segments, err := h.stories.GetStory(c.Request.Context(), userID, storyID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, storyWithSegmentsResponse{Story: story, Segments: segments})
}

func (h *StoryHandler) continueStory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}
	choiceID, ok := h.pathUUID(c, "choiceID")
	if !ok {
		return
	}

	segment, err := h.stories.ContinueStory(c.Request.Context(), userID, storyID, choiceID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, segment)
}

func (h *StoryHandler) endStory(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	storyID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	segment, err := h.stories.EndStory(c.Request.Context(), userID, storyID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, segment)
}

func (h *StoryHandler) getImageStatus(c *gin.Context) {
	segmentID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	job, err := h.images.GetStatus(c.Request.Context(), segmentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *StoryHandler) retryImage(c *gin.Context) {
	segmentID, ok := h.pathUUID(c, "id")
	if !ok {
		return
	}

	job, err := h.images.Retry(c.Request.Context(), segmentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *StoryHandler) imageCallback(c *gin.Context) {
	segmentID, ok := h.pathUUID(c, "segmentID")
	if !ok {
		return
	}

	var req imageCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	if err := h.images.HandleCallback(c.Request.Context(), segmentID, req.Success, req.ImageURL, req.ErrorDetail); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// userID extracts the gateway-authenticated user id. Writes 401 and returns
// ok=false when missing or malformed.
func (h *StoryHandler) userID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "missing X-User-ID header"})
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid X-User-ID header"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *StoryHandler) pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid " + name + " parameter"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain errors to HTTP statuses. Unknown errors become 500
// without leaking internals.
func (h *StoryHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrChoiceInvalid):
		status, message = http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrStoryNotFound),
		errors.Is(err, models.ErrSegmentNotFound),
		errors.Is(err, models.ErrImageJobNotFound),
		errors.Is(err, models.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrStoryCompleted), errors.Is(err, models.ErrConcurrencyConflict):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrInsufficientCredits):
		status, message = http.StatusPaymentRequired, err.Error()
	case errors.Is(err, models.ErrProviderUnavailable), errors.Is(err, models.ErrParseFailure):
		status, message = http.StatusBadGateway, err.Error()
	default:
		h.logger.Error("Unhandled error", zap.Error(err))
	}

	c.Error(err) //nolint:errcheck
	c.JSON(status, errorResponse{Error: message})
}
