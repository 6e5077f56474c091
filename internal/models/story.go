package models

import (
	"time"

	"github.com/google/uuid"
)

// AgeBracket is the reader age range a story is written for. It selects the
// target word count and vocabulary complexity of every segment.
type AgeBracket string

const (
	AgeBracket3to4   AgeBracket = "3-4"
	AgeBracket4to6   AgeBracket = "4-6"
	AgeBracket7to9   AgeBracket = "7-9"
	AgeBracket10to12 AgeBracket = "10-12"
)

// Valid reports whether the bracket is one of the supported ranges.
func (a AgeBracket) Valid() bool {
	switch a {
	case AgeBracket3to4, AgeBracket4to6, AgeBracket7to9, AgeBracket10to12:
		return true
	}
	return false
}

// WordTarget returns the approximate words-per-segment for the bracket.
func (a AgeBracket) WordTarget() int {
	switch a {
	case AgeBracket3to4:
		return 30
	case AgeBracket4to6:
		return 60
	case AgeBracket7to9:
		return 120
	case AgeBracket10to12:
		return 180
	default:
		return 60
	}
}

// StoryStatus is the lifecycle state of a story.
type StoryStatus string

const (
	StoryStatusDraft      StoryStatus = "draft"
	StoryStatusInProgress StoryStatus = "in_progress"
	StoryStatusCompleted  StoryStatus = "completed"
)

// Character is one named participant of a story.
type Character struct {
	Name   string   `json:"name"`
	Role   string   `json:"role,omitempty"`
	Traits []string `json:"traits,omitempty"`
}

// Story is the root aggregate. It is created once and mutated only by the
// continuation controller (status transitions) until completion.
type Story struct {
	ID              uuid.UUID   `json:"id"`
	UserID          uuid.UUID   `json:"userId"`
	Title           string      `json:"title"`
	AgeBracket      AgeBracket  `json:"ageBracket"`
	Genre           string      `json:"genre"`
	Theme           string      `json:"theme"`
	Setting         string      `json:"setting"`
	Characters      []Character `json:"characters"`
	WordsPerSegment int         `json:"wordsPerSegment"`
	MaxSegments     int         `json:"maxSegments"`
	Status          StoryStatus `json:"status"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}
