package core

import (
	"encoding/hex"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// NewID returns a new random identifier for jobs, sessions and chunks.
func NewID() string {
	return uuid.NewString()
}

// IDFromContent generates a deterministic ID from the given parts using BLAKE2b hashing.
// Identical parts always produce identical IDs.
func IDFromContent(parts ...string) string {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits
	for _, p := range parts {
		h.Write([]byte(strconv.Itoa(len(p))))
		h.Write([]byte{':'})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from s to next.
// Status only moves forward: pending -> processing -> {completed, failed}.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is one unit of ingestion work for exactly one URL.
type Job struct {
	ID          string    `json:"job_id"`
	URL         string    `json:"url"`
	Status      JobStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	ChunkCount  int       `json:"chunk_count,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChunkMetadata describes where a chunk came from.
// SectionIndex is nil for fallback chunks; SubChunkIndex is set only when a
// section had to be split further.
type ChunkMetadata struct {
	URL           string            `json:"url"`
	JobID         string            `json:"job_id"`
	ChunkIndex    int               `json:"chunk_index"`
	SectionIndex  *int              `json:"section_index,omitempty"`
	SubChunkIndex *int              `json:"sub_chunk_index,omitempty"`
	ChunkSize     int               `json:"chunk_size"`
	Fallback      bool              `json:"fallback,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Chunk is one bounded, indexed segment of a document.
// Content is immutable once created.
type Chunk struct {
	ID       string        `json:"chunk_id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// EmbeddingRecord is a chunk's vector plus the minimal metadata kept in the vector index.
type EmbeddingRecord struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
	URL     string    `json:"url"`
	JobID   string    `json:"job_id"`
}

// Metadata returns the restricted metadata stored alongside the vector.
// Empty fields are omitted.
func (r EmbeddingRecord) Metadata() map[string]string {
	md := make(map[string]string, 3)
	if r.ChunkID != "" {
		md["chunk_id"] = r.ChunkID
	}
	if r.URL != "" {
		md["url"] = r.URL
	}
	if r.JobID != "" {
		md["job_id"] = r.JobID
	}
	return md
}

// Match is a single vector search hit.
type Match struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Filter restricts vector search and deletion by metadata.
// Zero-valued fields are ignored.
type Filter struct {
	JobID string
	URL   string
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return f.JobID == "" && f.URL == ""
}

// Matches reports whether the metadata satisfies the filter.
func (f Filter) Matches(md map[string]string) bool {
	if f.JobID != "" && md["job_id"] != f.JobID {
		return false
	}
	if f.URL != "" && md["url"] != f.URL {
		return false
	}
	return true
}

// Role identifies the author of a session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Source is a citation attached to an assistant message.
type Source struct {
	ChunkID  string            `json:"chunk_id"`
	URL      string            `json:"url"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Message is a single entry in a session.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`
}

// Session is one conversation's ordered message history.
type Session struct {
	ID        string    `json:"session_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
