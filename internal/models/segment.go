package models

import (
	"time"

	"github.com/google/uuid"
)

// Choice is a user-selectable branch label ending a segment. NextSegmentID is
// populated only after the user selects it and a successor segment is created.
type Choice struct {
	ID            uuid.UUID  `json:"id"`
	Text          string     `json:"text"`
	NextSegmentID *uuid.UUID `json:"nextSegmentId,omitempty"`
}

// Segment is one unit of story text plus its choices, the atomic increment of
// a story. Narrative content is immutable once created; corrections happen by
// creating a new segment.
//
// Invariant: a non-ending segment carries 2-4 choices with non-empty,
// case-insensitively distinct text; an ending segment carries none.
type Segment struct {
	ID          uuid.UUID  `json:"id"`
	StoryID     uuid.UUID  `json:"storyId"`
	Position    int        `json:"position"`
	Narrative   string     `json:"narrative"`
	WordCount   int        `json:"wordCount"`
	Choices     []Choice   `json:"choices"`
	IsEnding    bool       `json:"isEnding"`
	ImagePrompt string     `json:"imagePrompt"`
	ImageJobID  *uuid.UUID `json:"imageJobId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// ChoiceByID returns the choice with the given id, or nil.
func (s *Segment) ChoiceByID(id uuid.UUID) *Choice {
	for i := range s.Choices {
		if s.Choices[i].ID == id {
			return &s.Choices[i]
		}
	}
	return nil
}

// HasSuccessor reports whether any choice of the segment already leads to a
// created segment. At most one segment per story may lack a successor (the
// "open" segment).
func (s *Segment) HasSuccessor() bool {
	for i := range s.Choices {
		if s.Choices[i].NextSegmentID != nil {
			return true
		}
	}
	return false
}

// ChoiceLink identifies the prior segment's choice to link with a newly
// created successor segment.
type ChoiceLink struct {
	SegmentID uuid.UUID
	ChoiceID  uuid.UUID
}
