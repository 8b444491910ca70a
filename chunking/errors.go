package chunking

import "errors"

var (
	// ErrInvalidChunkSize is returned when the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidChunkOverlap is returned when the overlap is negative or not smaller than the chunk size.
	ErrInvalidChunkOverlap = errors.New("chunk overlap must be non-negative and smaller than chunk size")

	// ErrUnknownIDStrategy is returned for an unrecognized IDStrategy.
	ErrUnknownIDStrategy = errors.New("unknown chunk id strategy")

	// errInvalidEncoding signals that the structural split cannot run.
	errInvalidEncoding = errors.New("markdown is not valid UTF-8")
)
