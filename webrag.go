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


// Package webrag wires storage, AI providers and the ingestion and query
// pipelines into a single Engine.
package webrag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/poiesic/webrag/ai"
	"github.com/poiesic/webrag/ai/openai"
	"github.com/poiesic/webrag/chunking"
	"github.com/poiesic/webrag/config"
	"github.com/poiesic/webrag/ingestion"
	"github.com/poiesic/webrag/query"
	"github.com/poiesic/webrag/reindex"
	"github.com/poiesic/webrag/scrape"
	"github.com/poiesic/webrag/storage"
	"github.com/poiesic/webrag/storage/badger"
	"github.com/poiesic/webrag/storage/postgres"
)

// Engine owns every long-lived collaborator of the system.
type Engine struct {
	config   *config.Config
	stores   *badger.Stores
	pool     *pgxpool.Pool
	jobs     storage.JobRepository
	chunks   storage.ChunkRepository
	sessions storage.SessionRepository
	vectors  storage.VectorIndex
	queue    storage.Queue
	external []io.Closer
	provider ai.AIProvider
	scraper  scrape.Scraper
	chunker  *chunking.Chunker
	base     *slog.Logger
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions) error

type engineOptions struct {
	provider ai.AIProvider
	scraper  scrape.Scraper
	inMemory bool
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the config.
// The engine takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) error {
		if provider == nil {
			return fmt.Errorf("provider cannot be nil")
		}
		o.provider = provider
		return nil
	}
}

// WithScraper replaces the Firecrawl client built from the config.
func WithScraper(scraper scrape.Scraper) Option {
	return func(o *engineOptions) error {
		if scraper == nil {
			return fmt.Errorf("scraper cannot be nil")
		}
		o.scraper = scraper
		return nil
	}
}

// WithInMemory keeps the badger store in memory. Intended for tests.
func WithInMemory() Option {
	return func(o *engineOptions) error {
		o.inMemory = true
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// Open validates cfg and opens every backend it names.
// Everything opened so far is closed again on failure.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(options); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		config: cfg,
		base:   options.logger,
		logger: options.logger.With("component", "engine"),
	}
	if err := e.open(ctx, options); err != nil {
		return nil, errors.Join(err, e.Close())
	}
	return e, nil
}

func (e *Engine) open(ctx context.Context, options *engineOptions) error {
	cfg := e.config

	e.provider = options.provider
	if e.provider == nil {
		provider, err := openai.NewProvider(cfg.AI())
		if err != nil {
			return fmt.Errorf("create ai provider: %w", err)
		}
		e.provider = provider
	}
	dim := e.provider.Embedder().Dimension()

	// Badger locks its directory, so the store is only opened when some
	// backend lives there.
	dataDir := cfg.Storage.DataDir
	if options.inMemory {
		dataDir = ""
	}
	if cfg.UsesBadger() {
		backend, err := badger.OpenBackend(dataDir, options.inMemory)
		if err != nil {
			return fmt.Errorf("open badger backend: %w", err)
		}
		stores, err := badger.OpenStores(backend, cfg.Storage.QueueName, dim)
		if err != nil {
			backend.Close()
			return fmt.Errorf("open badger stores: %w", err)
		}
		e.stores = stores
		e.jobs = stores.Jobs
		e.chunks = stores.Chunks
		e.sessions = stores.Sessions
		e.vectors = stores.Vectors
		e.queue = stores.Queue
	}

	if cfg.UsesPostgres() {
		if err := e.openPostgres(ctx, dim); err != nil {
			return err
		}
	}

	strategy, err := chunking.ParseIDStrategy(cfg.Chunking.IDStrategy)
	if err != nil {
		return err
	}
	e.chunker, err = chunking.New(
		chunking.WithChunkSize(cfg.Chunking.Size),
		chunking.WithChunkOverlap(cfg.Chunking.Overlap),
		chunking.WithIDStrategy(strategy),
		chunking.WithLogger(e.base),
	)
	if err != nil {
		return fmt.Errorf("create chunker: %w", err)
	}

	e.scraper = options.scraper
	if e.scraper == nil {
		e.scraper, err = scrape.NewFirecrawlClient(
			scrape.WithEndpoint(cfg.Scraper.URL),
			scrape.WithAPIKey(cfg.Scraper.APIKey),
			scrape.WithTimeout(cfg.Scraper.Timeout),
			scrape.WithRateLimit(cfg.Scraper.RateLimit, cfg.Scraper.Burst),
			scrape.WithLogger(e.base),
		)
		if err != nil {
			return fmt.Errorf("create scraper: %w", err)
		}
	}

	e.logger.Info("engine opened",
		"data_dir", dataDir,
		"document_backend", cfg.Storage.DocumentBackend,
		"vector_backend", cfg.Storage.VectorBackend,
		"queue_backend", cfg.Storage.QueueBackend,
		"dimension", dim)
	return nil
}

// openPostgres connects the pool and replaces every store configured to
// live in PostgreSQL.
func (e *Engine) openPostgres(ctx context.Context, dim int) error {
	sc := e.config.Storage
	var err error
	e.pool, err = postgres.Open(ctx, sc.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	if sc.DocumentBackend == config.BackendPostgres {
		jobs, err := postgres.NewJobRepository(e.pool, sc.JobTable)
		if err != nil {
			return fmt.Errorf("open postgres jobs: %w", err)
		}
		chunks, err := postgres.NewChunkRepository(e.pool, sc.ChunkTable)
		if err != nil {
			return fmt.Errorf("open postgres chunks: %w", err)
		}
		sessions, err := postgres.NewSessionRepository(e.pool, sc.SessionTable)
		if err != nil {
			return fmt.Errorf("open postgres sessions: %w", err)
		}
		e.jobs, e.chunks, e.sessions = jobs, chunks, sessions
		e.external = append(e.external, jobs, chunks, sessions)
	}
	if sc.VectorBackend == config.BackendPgvector {
		vectors, err := postgres.NewVectorIndex(e.pool, sc.VectorTable, dim)
		if err != nil {
			return fmt.Errorf("open pgvector index: %w", err)
		}
		e.vectors = vectors
		e.external = append(e.external, vectors)
	}
	if sc.QueueBackend == config.BackendPostgres {
		queue, err := postgres.NewQueue(e.pool, sc.QueueTable, sc.QueueName, 0)
		if err != nil {
			return fmt.Errorf("open postgres queue: %w", err)
		}
		e.queue = queue
		e.external = append(e.external, queue)
	}
	return nil
}

// Close releases everything the engine opened.
func (e *Engine) Close() error {
	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	for _, c := range e.external {
		errs = append(errs, c.Close())
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.stores != nil {
		if err := e.stores.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) Config() *config.Config {
	return e.config
}

func (e *Engine) Jobs() storage.JobRepository {
	return e.jobs
}

func (e *Engine) Chunks() storage.ChunkRepository {
	return e.chunks
}

func (e *Engine) Sessions() storage.SessionRepository {
	return e.sessions
}

func (e *Engine) Vectors() storage.VectorIndex {
	return e.vectors
}

func (e *Engine) Queue() storage.Queue {
	return e.queue
}

func (e *Engine) Provider() ai.AIProvider {
	return e.provider
}

// NewSubmitter returns a submitter over the engine's job store and queue.
func (e *Engine) NewSubmitter(opts ...ingestion.SubmitterOption) (*ingestion.Submitter, error) {
	return ingestion.NewSubmitter(e.jobs, e.queue, opts...)
}

// NewWorker returns a worker configured from the engine's config.
// opts are applied after the config-derived options.
func (e *Engine) NewWorker(opts ...ingestion.Option) (*ingestion.Worker, error) {
	wc := e.config.Worker
	base := []ingestion.Option{
		ingestion.WithIdleInterval(wc.IdleInterval),
		ingestion.WithDequeueTimeout(wc.DequeueTimeout),
		ingestion.WithErrorBackoff(wc.ErrorBackoff),
		ingestion.WithConcurrency(wc.Concurrency),
		ingestion.WithFailOnEmptyStage(wc.FailOnEmptyStage),
		ingestion.WithSkipExistingChunks(e.config.Chunking.IDStrategy == string(chunking.IDStrategyContent)),
		ingestion.WithLogger(e.base),
	}

	deps := ingestion.Dependencies{
		Jobs:     e.jobs,
		Chunks:   e.chunks,
		Vectors:  e.vectors,
		Queue:    e.queue,
		Scraper:  e.scraper,
		Chunker:  e.chunker,
		Embedder: e.provider.Embedder(),
	}
	return ingestion.NewWorker(deps, append(base, opts...)...)
}

// NewOrchestrator returns a query orchestrator over the engine's stores.
func (e *Engine) NewOrchestrator(opts ...query.Option) (*query.Orchestrator, error) {
	base := []query.Option{query.WithLogger(e.base)}
	return query.NewOrchestrator(e.vectors, e.chunks, e.sessions, e.provider, append(base, opts...)...)
}

// NewReindexer returns a reindexer writing progress to progress.
func (e *Engine) NewReindexer(cfg *reindex.Config, progress io.Writer) *reindex.Reindexer {
	return reindex.NewReindexer(e.jobs, e.chunks, e.vectors, e.provider.Embedder(), cfg, progress)
}
