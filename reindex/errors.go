package reindex

import "errors"

var (
	// ErrJobNotCompleted is returned when reindexing a job that has no stored chunks yet.
	ErrJobNotCompleted = errors.New("job has not completed")

	// ErrEmbeddingCountMismatch is returned when the embedder returns the wrong number of vectors.
	ErrEmbeddingCountMismatch = errors.New("embedding count mismatch")
)
