package memory

import "errors"

var (
	// ErrEmbeddingsUnavailable indicates the embedding service failed its
	// health check or is disabled; semantic features degrade to keyword-only.
	ErrEmbeddingsUnavailable = errors.New("embedding service unavailable")

	// ErrInvalidEntityName rejects entity names outside the external format:
	// leading letter, then letters/digits/underscore/dot, 2-60 chars.
	ErrInvalidEntityName = errors.New("invalid entity name")
)
