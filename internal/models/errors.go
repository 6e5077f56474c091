package models

import "errors"

// Application-wide standard errors
var (
	// Common resource errors
	ErrNotFound        = errors.New("resource not found")
	ErrStoryNotFound   = errors.New("story not found")
	ErrSegmentNotFound = errors.New("segment not found")

	// Request validation
	ErrValidation    = errors.New("invalid input data")
	ErrChoiceInvalid = errors.New("choice does not belong to the current segment")

	// Generation errors
	ErrProviderUnavailable = errors.New("all text providers failed")
	ErrParseFailure        = errors.New("model output contained no usable narrative")
	ErrStoryCompleted      = errors.New("story is already completed")

	// Concurrency
	ErrConcurrencyConflict = errors.New("another generation is already in flight for this story")

	// Billing
	ErrInsufficientCredits = errors.New("credit authorization declined")

	// Image pipeline (surfaced only via job status polling, never as a
	// story-generation failure)
	ErrImageJobNotFound = errors.New("image job not found")
	ErrImageJobFailed   = errors.New("image generation failed")
)
