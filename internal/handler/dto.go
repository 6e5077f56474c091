package handler

import (
	"fable-server/internal/models"
)

// createStoryRequest is the JSON body of POST /api/stories.
type createStoryRequest struct {
	Title           string             `json:"title"`
	AgeBracket      string             `json:"ageBracket" binding:"required"`
	Genre           string             `json:"genre"`
	Theme           string             `json:"theme"`
	Setting         string             `json:"setting"`
	Characters      []models.Character `json:"characters"`
	WordsPerSegment int                `json:"wordsPerSegment"`
	MaxSegments     int                `json:"maxSegments"`
}

// imageCallbackRequest is the JSON body the image provider posts back.
type imageCallbackRequest struct {
	Success     bool   `json:"success"`
	ImageURL    string `json:"imageUrl"`
	ErrorDetail string `json:"errorDetail"`
}

type storyResponse struct {
	Story   *models.Story   `json:"story"`
	Segment *models.Segment `json:"segment,omitempty"`
}

type storyWithSegmentsResponse struct {
	Story    *models.Story     `json:"story"`
	Segments []*models.Segment `json:"segments"`
}

type errorResponse struct {
	Error string `json:"error"`
}
