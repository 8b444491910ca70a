package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/webrag/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const retryBaseDelay = 500 * time.Millisecond

// ErrDimensionMismatch is returned when the service produces a vector of
// unexpected length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
// Large inputs are split into sub-batches that run concurrently on a
// bounded worker pool.
type Embedder struct {
	embedder    embeddings.Embedder
	pool        *ants.Pool
	batchSize   int
	dimension   int
	maxAttempts int
	timeout     time.Duration
	logger      *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config, opts ...openai.Option) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientOpts := append([]openai.Option{
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	}, opts...)
	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.BatchSize),
	)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(config.Concurrency)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder:    embedder,
		pool:        pool,
		batchSize:   config.BatchSize,
		dimension:   config.Dimension,
		maxAttempts: config.MaxAttempts,
		timeout:     config.Timeout,
		logger:      slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// Dimension returns the configured vector length.
func (e *Embedder) Dimension() int {
	return e.dimension
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vectors, err := e.embedBatch(ctx, []string{text})
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings.
// The result preserves input order regardless of how sub-batches complete.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	result := make([][]float32, len(texts))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		offset, batch := start, texts[start:end]

		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			vectors, err := e.embedBatch(ctx, batch)
			if err != nil {
				setErr(err)
				return
			}
			copy(result[offset:], vectors)
		})
		if err != nil {
			wg.Done()
			setErr(fmt.Errorf("submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", firstErr)
		return nil, firstErr
	}
	return result, nil
}

// embedBatch sends one request with retry and verifies the response shape.
func (e *Embedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var vectors [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		out, err := e.embedder.EmbedDocuments(callCtx, batch)
		if err != nil {
			return err
		}
		// A wrong shape is a model or configuration problem, not a transient one.
		if len(out) != len(batch) {
			return ai.Permanent(fmt.Errorf("embedding service returned %d vectors for %d texts", len(out), len(batch)))
		}
		for _, v := range out {
			if len(v) != e.dimension {
				return ai.Permanent(fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, e.dimension, len(v)))
			}
		}
		vectors = out
		return nil
	}, e.maxAttempts, retryBaseDelay)
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// Close releases the worker pool.
func (e *Embedder) Close() {
	e.pool.Release()
}
