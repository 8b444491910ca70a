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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/webrag/ai"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/scrape"
	"github.com/poiesic/webrag/storage"
)

const (
	DefaultIdleInterval   = 5 * time.Second
	DefaultDequeueTimeout = 10 * time.Second
	DefaultErrorBackoff   = 5 * time.Second
)

// Chunker splits a scraped document. An empty result means nothing usable
// was produced.
type Chunker interface {
	Chunk(text, url, jobID string) []core.Chunk
}

// Dependencies are the collaborators a Worker drives.
type Dependencies struct {
	Jobs     storage.JobRepository
	Chunks   storage.ChunkRepository
	Vectors  storage.VectorIndex
	Queue    storage.Queue
	Scraper  scrape.Scraper
	Chunker  Chunker
	Embedder ai.Embedder
}

func (d Dependencies) validate() error {
	switch {
	case d.Jobs == nil:
		return ErrJobRepositoryRequired
	case d.Chunks == nil:
		return ErrChunkRepositoryRequired
	case d.Vectors == nil:
		return ErrVectorIndexRequired
	case d.Queue == nil:
		return ErrQueueRequired
	case d.Scraper == nil:
		return ErrScraperRequired
	case d.Chunker == nil:
		return ErrChunkerRequired
	case d.Embedder == nil:
		return ErrEmbedderRequired
	}
	return nil
}

// Stats counts jobs handled since the worker was created.
type Stats struct {
	Processed int64
	Completed int64
	Failed    int64
	Aborted   int64
}

// Worker consumes the job queue and runs the ingestion pipeline.
type Worker struct {
	deps Dependencies

	idleInterval   time.Duration
	dequeueTimeout time.Duration
	errorBackoff   time.Duration
	concurrency    int
	failOnEmpty    bool
	skipExisting   bool

	pool   *ants.Pool
	logger *slog.Logger

	processed atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	aborted   atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker) error

// WithIdleInterval sets how long the worker sleeps when the queue is empty.
// Default is 5s.
func WithIdleInterval(d time.Duration) Option {
	return func(w *Worker) error {
		if d <= 0 {
			return fmt.Errorf("idle interval must be positive")
		}
		w.idleInterval = d
		return nil
	}
}

// WithDequeueTimeout bounds each blocking pop.
// Default is 10s.
func WithDequeueTimeout(d time.Duration) Option {
	return func(w *Worker) error {
		if d <= 0 {
			return fmt.Errorf("dequeue timeout must be positive")
		}
		w.dequeueTimeout = d
		return nil
	}
}

// WithErrorBackoff sets the pause after an unexpected loop error.
// Default is 5s.
func WithErrorBackoff(d time.Duration) Option {
	return func(w *Worker) error {
		if d <= 0 {
			return fmt.Errorf("error backoff must be positive")
		}
		w.errorBackoff = d
		return nil
	}
}

// WithConcurrency sets the number of consumer loops.
// Each loop processes one job at a time. Default is 1.
func WithConcurrency(n int) Option {
	return func(w *Worker) error {
		if n < 1 {
			n = 1
		}
		w.concurrency = n
		return nil
	}
}

// WithFailOnEmptyStage controls whether an aborted job is marked failed.
// When false an aborted job stays in processing. Default is true.
func WithFailOnEmptyStage(fail bool) Option {
	return func(w *Worker) error {
		w.failOnEmpty = fail
		return nil
	}
}

// WithSkipExistingChunks makes the worker skip chunks whose id is already
// stored. Only useful with content-addressed chunk ids, where an unchanged
// page maps to the same ids on every ingestion.
func WithSkipExistingChunks(skip bool) Option {
	return func(w *Worker) error {
		w.skipExisting = skip
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// NewWorker creates a worker. Call Release when done.
func NewWorker(deps Dependencies, opts ...Option) (*Worker, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	w := &Worker{
		deps:           deps,
		idleInterval:   DefaultIdleInterval,
		dequeueTimeout: DefaultDequeueTimeout,
		errorBackoff:   DefaultErrorBackoff,
		concurrency:    1,
		failOnEmpty:    true,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "worker")

	pool, err := ants.NewPool(w.concurrency)
	if err != nil {
		return nil, err
	}
	w.pool = pool
	return w, nil
}

// Run starts the consumer loops and blocks until ctx is cancelled and every
// in-flight job has finished.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.concurrency, "failOnEmptyStage", w.failOnEmpty)

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		consumer := i
		if err := w.pool.Submit(func() {
			defer wg.Done()
			w.consume(ctx, consumer)
		}); err != nil {
			// Loops already started exit once ctx is cancelled.
			wg.Done()
			return fmt.Errorf("start consumer %d: %w", consumer, err)
		}
	}
	wg.Wait()

	stats := w.Stats()
	w.logger.Info("worker stopped", "processed", stats.Processed, "completed", stats.Completed, "failed", stats.Failed, "aborted", stats.Aborted)
	return nil
}

// consume is one polling loop. It checks the queue length first so an idle
// worker only logs a heartbeat instead of holding a blocking pop.
func (w *Worker) consume(ctx context.Context, consumer int) {
	logger := w.logger.With("consumer", consumer)

	for ctx.Err() == nil {
		n, err := w.deps.Queue.Len(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("error checking queue", "err", err)
			sleep(ctx, w.errorBackoff)
			continue
		}
		if n == 0 {
			logger.Debug("queue empty, waiting", "interval", w.idleInterval)
			sleep(ctx, w.idleInterval)
			continue
		}

		job, err := w.deps.Queue.Dequeue(ctx, w.dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("error dequeuing job", "err", err)
			sleep(ctx, w.errorBackoff)
			continue
		}
		if job == nil {
			// Another consumer won the race
			continue
		}

		logger.Info("received job", "jobId", job.ID, "url", job.URL, "queued", n)
		// A dequeued job runs to completion even during shutdown.
		_ = w.ProcessJob(context.WithoutCancel(ctx), job)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ProcessJob runs the pipeline for one job. The returned error describes why
// the job was aborted; it is nil when the job completed. Panics are recovered
// and reported as errors.
func (w *Worker) ProcessJob(ctx context.Context, job *core.Job) (err error) {
	w.processed.Add(1)
	logger := w.logger.With("jobId", job.ID, "url", job.URL)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = w.abort(ctx, logger, job, "pipeline", fmt.Errorf("panic: %v", r))
		}
	}()

	// 1. processing
	if _, err := w.deps.Jobs.UpdateStatus(ctx, job.ID, core.JobStatusProcessing, "", 0); err != nil {
		w.aborted.Add(1)
		logger.Error("failed to mark job processing", "err", err)
		return fmt.Errorf("mark job processing: %w", err)
	}

	// 2. scrape
	logger.Debug("scraping")
	markdown, err := w.deps.Scraper.Scrape(ctx, job.URL)
	if err != nil {
		return w.abort(ctx, logger, job, "scrape", err)
	}
	if strings.TrimSpace(markdown) == "" {
		return w.abort(ctx, logger, job, "scrape", ErrEmptyStage)
	}

	// 3. chunk
	chunks := w.deps.Chunker.Chunk(markdown, job.URL, job.ID)
	if len(chunks) == 0 {
		return w.abort(ctx, logger, job, "chunk", ErrEmptyStage)
	}
	logger.Debug("chunked", "chunks", len(chunks))

	pending, err := w.newChunks(ctx, chunks)
	if err != nil {
		return w.abort(ctx, logger, job, "chunk", err)
	}

	if len(pending) > 0 {
		// 4. embed
		texts := make([]string, len(pending))
		for i, chunk := range pending {
			texts[i] = chunk.Content
		}
		vectors, err := w.deps.Embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return w.abort(ctx, logger, job, "embed", err)
		}
		if len(vectors) != len(pending) {
			return w.abort(ctx, logger, job, "embed",
				fmt.Errorf("%w: %d vectors for %d chunks", ErrEmptyStage, len(vectors), len(pending)))
		}

		// 5. index: content first so every vector resolves to stored content
		if err := w.deps.Chunks.AddChunks(ctx, pending...); err != nil {
			return w.abort(ctx, logger, job, "store", err)
		}
		records := make([]*core.EmbeddingRecord, len(pending))
		for i, chunk := range pending {
			records[i] = &core.EmbeddingRecord{
				ChunkID: chunk.ID,
				Vector:  vectors[i],
				URL:     chunk.Metadata.URL,
				JobID:   chunk.Metadata.JobID,
			}
		}
		if err := w.deps.Vectors.Upsert(ctx, records...); err != nil {
			return w.abort(ctx, logger, job, "index", err)
		}
	} else {
		logger.Info("all chunks already indexed")
	}

	// 6. completed
	if _, err := w.deps.Jobs.UpdateStatus(ctx, job.ID, core.JobStatusCompleted, "", len(chunks)); err != nil {
		w.aborted.Add(1)
		logger.Error("failed to mark job completed", "err", err)
		return fmt.Errorf("mark job completed: %w", err)
	}

	w.completed.Add(1)
	logger.Info("job completed", "chunks", len(chunks), "new", len(pending), "elapsed", time.Since(start))
	return nil
}

// newChunks returns the chunks that still need embedding and storage.
func (w *Worker) newChunks(ctx context.Context, chunks []core.Chunk) ([]*core.Chunk, error) {
	all := make([]*core.Chunk, len(chunks))
	for i := range chunks {
		all[i] = &chunks[i]
	}
	if !w.skipExisting {
		return all, nil
	}

	ids := make([]string, len(all))
	for i, chunk := range all {
		ids[i] = chunk.ID
	}
	existing, err := w.deps.Chunks.GetChunks(ctx, ids...)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return all, nil
	}

	seen := make(map[string]struct{}, len(existing))
	for _, chunk := range existing {
		seen[chunk.ID] = struct{}{}
	}
	pending := make([]*core.Chunk, 0, len(all)-len(existing))
	for _, chunk := range all {
		if _, ok := seen[chunk.ID]; !ok {
			pending = append(pending, chunk)
		}
	}
	return pending, nil
}

// abort stops the pipeline at stage. With failOnEmpty the job is marked
// failed, otherwise it stays in processing.
func (w *Worker) abort(ctx context.Context, logger *slog.Logger, job *core.Job, stage string, cause error) error {
	err := fmt.Errorf("%s stage: %w", stage, cause)
	if errors.Is(cause, ErrEmptyStage) {
		logger.Warn("stage produced no output, aborting job", "stage", stage)
	} else {
		logger.Error("stage failed, aborting job", "stage", stage, "err", cause)
	}

	if !w.failOnEmpty {
		w.aborted.Add(1)
		return err
	}

	if _, updateErr := w.deps.Jobs.UpdateStatus(ctx, job.ID, core.JobStatusFailed, err.Error(), 0); updateErr != nil {
		w.aborted.Add(1)
		logger.Error("failed to mark job failed", "err", updateErr)
		return errors.Join(err, updateErr)
	}
	w.failed.Add(1)
	return err
}

// Stats returns a snapshot of the job counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Completed: w.completed.Load(),
		Failed:    w.failed.Load(),
		Aborted:   w.aborted.Load(),
	}
}

// Release frees the consumer pool. The worker must not be used afterwards.
func (w *Worker) Release() {
	if w.pool != nil {
		w.pool.Release()
	}
}
