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


package reindex

import (
	"context"
	"fmt"

	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// DefaultBatchSize is the default number of chunks handed to fn at once.
const DefaultBatchSize = 64

// ChunkIterator walks stored chunks job by job.
type ChunkIterator struct {
	jobs      storage.JobRepository
	chunks    storage.ChunkRepository
	batchSize int
}

// NewChunkIterator creates an iterator. A non-positive batchSize selects DefaultBatchSize.
func NewChunkIterator(jobs storage.JobRepository, chunks storage.ChunkRepository, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{jobs: jobs, chunks: chunks, batchSize: batchSize}
}

// Jobs returns the jobs to walk: the named one, or every completed job when jobID is empty.
func (it *ChunkIterator) Jobs(ctx context.Context, jobID string) ([]*core.Job, error) {
	if jobID != "" {
		job, err := it.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status != core.JobStatusCompleted {
			return nil, fmt.Errorf("%w: %s is %s", ErrJobNotCompleted, job.ID, job.Status)
		}
		return []*core.Job{job}, nil
	}
	return it.jobs.ListJobs(ctx, core.JobStatusCompleted, 0)
}

// ForEach calls fn with batches of each job's chunks in chunk index order.
// Iteration stops on the first error from fn. Context cancellation is
// checked between batches.
func (it *ChunkIterator) ForEach(ctx context.Context, jobs []*core.Job, fn func([]*core.Chunk) error) error {
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		chunks, err := it.chunks.GetChunksByJob(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("load chunks for job %s: %w", job.ID, err)
		}

		for i := 0; i < len(chunks); i += it.batchSize {
			end := min(i+it.batchSize, len(chunks))
			if err := fn(chunks[i:end]); err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
