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
	"io"
	"time"

	"github.com/poiesic/webrag/ai"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of chunks embedded per request
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for a failed batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// Report summarizes a finished run.
type Report struct {
	Jobs    int
	Chunks  int
	Elapsed time.Duration
}

// Reindexer re-embeds stored chunks into the vector index.
type Reindexer struct {
	jobs      storage.JobRepository
	chunks    storage.ChunkRepository
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *ChunkIterator
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(jobs storage.JobRepository, chunks storage.ChunkRepository, vectors storage.VectorIndex, embedder ai.Embedder, config *Config, progress io.Writer) *Reindexer {
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reindexer{
		jobs:      jobs,
		chunks:    chunks,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(vectors, embedder, config.MaxRetries, config.RetryDelay),
		iterator:  NewChunkIterator(jobs, chunks, config.BatchSize),
	}
}

// Run reindexes one job, or every completed job when jobID is empty.
func (r *Reindexer) Run(ctx context.Context, jobID string) (*Report, error) {
	jobs, err := r.iterator.Jobs(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	total := 0
	for _, job := range jobs {
		total += job.ChunkCount
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks to reindex (%d jobs)\n", len(jobs))
		return &Report{Jobs: len(jobs)}, nil
	}

	fmt.Fprintf(r.progress, "Reindexing %d chunks from %d jobs (batch size: %d)\n",
		total, len(jobs), r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	processed := 0
	err = r.iterator.ForEach(ctx, jobs, func(chunks []*core.Chunk) error {
		if err := r.processor.Process(ctx, chunks); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		processed += len(chunks)
		tracker.Increment(len(chunks))
		return nil
	})
	if err != nil {
		return nil, err
	}

	tracker.Finish()
	elapsed := tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reindex complete. Processed %d chunks in %v\n", processed, elapsed.Round(time.Millisecond))

	return &Report{Jobs: len(jobs), Chunks: processed, Elapsed: elapsed}, nil
}
