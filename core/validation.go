// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"net/url"
)

// ValidateJob validates a Job according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - URL must be an absolute http(s) URL
//   - Status must be a known value
func ValidateJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}
	if job.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptyID)
	}
	if err := ValidateURL(job.URL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	if err := ValidateStatus(job.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return nil
}

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - ID must not be empty
//   - Content must not be empty
//   - ChunkIndex must not be negative
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyID)
	}
	if chunk.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if chunk.Metadata.ChunkIndex < 0 {
		return fmt.Errorf("%w: negative chunk index %d", ErrInvalidChunk, chunk.Metadata.ChunkIndex)
	}
	return nil
}

// ValidateMessage validates a session Message.
// Sources are only allowed on assistant messages.
func ValidateMessage(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidMessage)
	}
	if msg.Role != RoleUser && msg.Role != RoleAssistant {
		return fmt.Errorf("%w: %w: %q", ErrInvalidMessage, ErrInvalidRole, msg.Role)
	}
	if msg.Role == RoleUser && len(msg.Sources) > 0 {
		return fmt.Errorf("%w: user messages cannot carry sources", ErrInvalidMessage)
	}
	return nil
}

// ValidateEmbedding validates an EmbeddingRecord.
func ValidateEmbedding(rec *EmbeddingRecord) error {
	if rec == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidEmbedding)
	}
	if rec.ChunkID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidEmbedding, ErrEmptyID)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEmbedding, ErrEmptyVector)
	}
	return nil
}

// ValidateStatus validates that a JobStatus has a known value.
func ValidateStatus(status JobStatus) error {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
}

// ValidateURL checks that raw is an absolute http or https URL with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}
