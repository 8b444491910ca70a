package reindex

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/webrag/ai"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

// BatchProcessor embeds a batch of chunks and upserts the vectors.
type BatchProcessor struct {
	vectors        storage.VectorIndex
	embedder       ai.Embedder
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(vectors storage.VectorIndex, embedder ai.Embedder, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		vectors:        vectors,
		embedder:       embedder,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process re-embeds chunks and replaces their index entries.
func (bp *BatchProcessor) Process(ctx context.Context, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	var embeddings [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		out, err := bp.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return err
		}
		if len(out) != len(chunks) {
			return ai.Permanent(fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(chunks), len(out)))
		}
		embeddings = out
		return nil
	}, bp.maxRetries, bp.retryBaseDelay)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}

	records := make([]*core.EmbeddingRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = &core.EmbeddingRecord{
			ChunkID: chunk.ID,
			Vector:  embeddings[i],
			URL:     chunk.Metadata.URL,
			JobID:   chunk.Metadata.JobID,
		}
	}
	return bp.vectors.Upsert(ctx, records...)
}
