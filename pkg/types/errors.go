package types

import "errors"

// Domain errors for type validation
var (
	// Citation errors
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrMissingDocument       = errors.New("document id is required")
	ErrEmptyContent          = errors.New("content cannot be empty")

	// Chunk errors
	ErrInvalidPageRange = errors.New("page_start must be >= 1 and <= page_end")

	// State machine errors
	ErrInvalidTransition = errors.New("invalid processing status transition")
)
