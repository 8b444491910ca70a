package storage

import (
	"context"
	"time"

	"github.com/poiesic/webrag/core"
)

// JobRepository provides operations for ingestion job records.
// The job record is the source of truth for status; the queue only transports it.
type JobRepository interface {
	// CreateJob stores a new job.
	// Returns ErrDuplicateKey if a job with the same ID exists.
	CreateJob(ctx context.Context, job *core.Job) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.Job, error)

	// UpdateStatus moves a job to the next status.
	// errMsg is recorded only when moving to failed; chunkCount only when moving to completed.
	// Returns ErrInvalidTransition for backward or sideways moves.
	UpdateStatus(ctx context.Context, id string, next core.JobStatus, errMsg string, chunkCount int) (*core.Job, error)

	// ListJobs returns jobs ordered by submission time, newest first.
	// A non-empty status restricts the result to that status.
	ListJobs(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error)

	Close() error
}

// ChunkRepository is the content store: chunk text and metadata keyed by chunk ID.
type ChunkRepository interface {
	// AddChunks stores chunks and their job/url index entries.
	// Chunks are write-once; an existing ID yields ErrDuplicateKey.
	AddChunks(ctx context.Context, chunks ...*core.Chunk) error

	// GetChunk retrieves a chunk by ID.
	// Returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, id string) (*core.Chunk, error)

	// GetChunks retrieves several chunks, silently skipping missing IDs.
	GetChunks(ctx context.Context, ids ...string) ([]*core.Chunk, error)

	// GetChunksByJob returns a job's chunks ordered by chunk index.
	GetChunksByJob(ctx context.Context, jobID string) ([]*core.Chunk, error)

	// GetChunksByURL returns all chunks ingested from url.
	GetChunksByURL(ctx context.Context, url string) ([]*core.Chunk, error)

	// DeleteChunksByJob removes a job's chunks and index entries.
	// Returns the number of chunks removed.
	DeleteChunksByJob(ctx context.Context, jobID string) (int, error)

	Close() error
}

// SessionRepository stores conversation history.
type SessionRepository interface {
	// GetOrCreateSession returns the session, creating an empty one if absent.
	GetOrCreateSession(ctx context.Context, id string) (*core.Session, error)

	// GetSession returns an existing session or ErrNotFound.
	GetSession(ctx context.Context, id string) (*core.Session, error)

	// AppendMessage atomically appends msg and bumps UpdatedAt.
	// The session is created if it doesn't exist.
	AppendMessage(ctx context.Context, id string, msg core.Message) error

	// RecentMessages returns up to limit of the latest messages in chronological order.
	// A non-positive limit yields an empty slice.
	// Unknown sessions yield an empty slice.
	RecentMessages(ctx context.Context, id string, limit int) ([]core.Message, error)

	// ClearSession removes all messages but keeps the session.
	ClearSession(ctx context.Context, id string) error

	// DeleteSession removes the session.
	// Returns ErrNotFound if the session doesn't exist.
	DeleteSession(ctx context.Context, id string) error

	Close() error
}

// Queue is a durable FIFO handoff of jobs between submitters and workers.
// Delivery is at-least-once at best; pops are destructive with no acknowledgement.
type Queue interface {
	// Enqueue appends a job to the tail.
	Enqueue(ctx context.Context, job *core.Job) error

	// Dequeue pops the head, blocking up to timeout.
	// Returns nil, nil when the timeout elapses with the queue empty.
	Dequeue(ctx context.Context, timeout time.Duration) (*core.Job, error)

	// Len returns the number of queued entries.
	Len(ctx context.Context) (int, error)

	Close() error
}

// VectorIndex stores embedding vectors with restricted metadata and answers
// nearest-neighbor queries by cosine similarity.
type VectorIndex interface {
	// Upsert inserts or replaces vectors by chunk ID.
	// A vector whose length differs from the index dimension yields ErrDimensionMismatch.
	Upsert(ctx context.Context, records ...*core.EmbeddingRecord) error

	// Search returns up to topK matches ranked by descending score.
	Search(ctx context.Context, vector []float32, topK int, filter core.Filter) ([]core.Match, error)

	// Delete removes every vector matching filter. An empty filter is rejected.
	Delete(ctx context.Context, filter core.Filter) (int, error)

	// Dimension returns the fixed vector dimension of the index.
	Dimension() int

	Close() error
}
