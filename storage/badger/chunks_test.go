package badger

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChunks(jobID, url string, n int) []*core.Chunk {
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		chunks[i] = &core.Chunk{
			ID:      fmt.Sprintf("%s-c%d", jobID, i),
			Content: fmt.Sprintf("chunk %d of %s", i, url),
			Metadata: core.ChunkMetadata{
				URL:        url,
				JobID:      jobID,
				ChunkIndex: i,
			},
		}
	}
	return chunks
}

func TestChunkRepository_AddAndGet(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	chunks := makeChunks("j1", "https://example.com", 3)
	require.NoError(t, stores.Chunks.AddChunks(ctx, chunks...))

	got, err := stores.Chunks.GetChunk(ctx, "j1-c1")
	require.NoError(t, err)
	assert.Equal(t, chunks[1].Content, got.Content)
	assert.Equal(t, 1, got.Metadata.ChunkIndex)

	_, err = stores.Chunks.GetChunk(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkRepository_WriteOnce(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	chunks := makeChunks("j1", "https://example.com", 2)
	require.NoError(t, stores.Chunks.AddChunks(ctx, chunks...))

	// A batch containing one duplicate stores nothing
	fresh := &core.Chunk{ID: "fresh", Content: "x", Metadata: core.ChunkMetadata{JobID: "j1", ChunkIndex: 9}}
	err := stores.Chunks.AddChunks(ctx, fresh, chunks[0])
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = stores.Chunks.GetChunk(ctx, "fresh")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkRepository_ByJobOrdered(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	// Insert out of order; more than 255 to exercise multi-byte index keys
	chunks := makeChunks("j1", "https://example.com", 300)
	reversed := make([]*core.Chunk, len(chunks))
	for i, c := range chunks {
		reversed[len(chunks)-1-i] = c
	}
	require.NoError(t, stores.Chunks.AddChunks(ctx, reversed...))
	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("j2", "https://other.com", 2)...))

	got, err := stores.Chunks.GetChunksByJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, got, 300)
	for i, c := range got {
		assert.Equal(t, i, c.Metadata.ChunkIndex)
	}
}

func TestChunkRepository_ByJobPrefixIsolation(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("job", "https://a.com", 1)...))
	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("job2", "https://a.com/x", 1)...))

	got, err := stores.Chunks.GetChunksByJob(ctx, "job")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	byURL, err := stores.Chunks.GetChunksByURL(ctx, "https://a.com")
	require.NoError(t, err)
	assert.Len(t, byURL, 1)
}

func TestChunkRepository_ByURLAcrossJobs(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("j1", "https://example.com", 2)...))
	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("j2", "https://example.com", 3)...))

	got, err := stores.Chunks.GetChunksByURL(ctx, "https://example.com")
	require.NoError(t, err)
	assert.Len(t, got, 5)

	none, err := stores.Chunks.GetChunksByURL(ctx, "https://unknown.com")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestChunkRepository_GetChunksSkipsMissing(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("j1", "https://example.com", 2)...))

	got, err := stores.Chunks.GetChunks(ctx, "j1-c1", "missing", "j1-c0")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "j1-c1", got[0].ID)
	assert.Equal(t, "j1-c0", got[1].ID)
}

func TestChunkRepository_DeleteByJob(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()
	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("j1", "https://example.com", 4)...))
	require.NoError(t, stores.Chunks.AddChunks(ctx, makeChunks("j2", "https://example.com", 1)...))

	n, err := stores.Chunks.DeleteChunksByJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	left, err := stores.Chunks.GetChunksByJob(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, left)

	byURL, err := stores.Chunks.GetChunksByURL(ctx, "https://example.com")
	require.NoError(t, err)
	require.Len(t, byURL, 1)
	assert.Equal(t, "j2", byURL[0].Metadata.JobID)
}

func newSmallTxnStores(t *testing.T, dimension int) *Stores {
	t.Helper()
	backend, err := OpenBackend("", true, WithMemTableSize(1<<20))
	require.NoError(t, err)
	stores, err := OpenStores(backend, "", dimension)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func TestChunkRepository_LargeBatchSpansTransactions(t *testing.T) {
	stores := newSmallTxnStores(t, 3)
	ctx := context.Background()

	chunks := makeChunks("big", "https://example.com/long", 1000)
	for _, chunk := range chunks {
		chunk.Content = strings.Repeat("lorem ipsum ", 84)
	}
	require.NoError(t, stores.Chunks.AddChunks(ctx, chunks...))

	got, err := stores.Chunks.GetChunksByJob(ctx, "big")
	require.NoError(t, err)
	require.Len(t, got, 1000)
	for i, chunk := range got {
		assert.Equal(t, i, chunk.Metadata.ChunkIndex)
	}

	byURL, err := stores.Chunks.GetChunksByURL(ctx, "https://example.com/long")
	require.NoError(t, err)
	assert.Len(t, byURL, 1000)
}

func TestChunkRepository_RepeatedIDInBatch(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	chunks := makeChunks("j1", "https://example.com", 2)
	chunks[1].ID = chunks[0].ID
	err := stores.Chunks.AddChunks(ctx, chunks...)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	got, err := stores.Chunks.GetChunksByJob(ctx, "j1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
