package reindex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/poiesic/webrag/ai/mock"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
	"github.com/poiesic/webrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

func newStores(t *testing.T) *badger.Stores {
	t.Helper()
	stores, err := badger.NewMemoryStores(testDim)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

// seedJob stores a job that has moved to status with n chunks.
func seedJob(t *testing.T, stores *badger.Stores, url string, n int, status core.JobStatus) *core.Job {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	job := &core.Job{
		ID:          core.NewID(),
		URL:         url,
		Status:      core.JobStatusPending,
		SubmittedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, stores.Jobs.CreateJob(ctx, job))
	if status == core.JobStatusPending {
		return job
	}

	_, err := stores.Jobs.UpdateStatus(ctx, job.ID, core.JobStatusProcessing, "", 0)
	require.NoError(t, err)

	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		content := fmt.Sprintf("%s chunk %d", url, i)
		chunks[i] = &core.Chunk{
			ID:      core.IDFromContent(url, fmt.Sprint(i), content),
			Content: content,
			Metadata: core.ChunkMetadata{
				URL:        url,
				JobID:      job.ID,
				ChunkIndex: i,
				ChunkSize:  len(content),
			},
		}
	}
	if n > 0 {
		require.NoError(t, stores.Chunks.AddChunks(ctx, chunks...))
	}

	updated, err := stores.Jobs.UpdateStatus(ctx, job.ID, status, "", n)
	require.NoError(t, err)
	return updated
}

func testConfig() *Config {
	return &Config{
		BatchSize:      3,
		ReportInterval: 2,
		MaxRetries:     2,
		RetryDelay:     time.Millisecond,
	}
}

func TestReindexer_AllCompletedJobs(t *testing.T) {
	stores := newStores(t)
	first := seedJob(t, stores, "https://a.example.com", 4, core.JobStatusCompleted)
	seedJob(t, stores, "https://b.example.com", 3, core.JobStatusCompleted)
	seedJob(t, stores, "https://pending.example.com", 0, core.JobStatusPending)

	embedder := mock.NewMockEmbedderWithDimension(testDim)
	var out bytes.Buffer
	r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, embedder, testConfig(), &out)

	report, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Jobs)
	assert.Equal(t, 7, report.Chunks)

	// Batches never span jobs: 4 -> 3+1, 3 -> 3.
	assert.Equal(t, 3, embedder.CallCount())
	assert.Contains(t, out.String(), "Reindex complete. Processed 7 chunks")

	content := "https://a.example.com chunk 2"
	matches, err := stores.Vectors.Search(context.Background(), mock.Vector(content, testDim), 1, core.Filter{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, core.IDFromContent("https://a.example.com", "2", content), matches[0].ID)
	assert.Equal(t, first.ID, matches[0].Metadata["job_id"])
	assert.InDelta(t, 1.0, matches[0].Score, 1e-4)
}

func TestReindexer_SingleJob(t *testing.T) {
	stores := newStores(t)
	job := seedJob(t, stores, "https://a.example.com", 2, core.JobStatusCompleted)
	seedJob(t, stores, "https://b.example.com", 5, core.JobStatusCompleted)

	embedder := mock.NewMockEmbedderWithDimension(testDim)
	r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, embedder, testConfig(), nil)

	report, err := r.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Jobs)
	assert.Equal(t, 2, report.Chunks)

	matches, err := stores.Vectors.Search(context.Background(), mock.Vector("x", testDim), 10, core.Filter{})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestReindexer_Errors(t *testing.T) {
	t.Run("unknown job", func(t *testing.T) {
		stores := newStores(t)
		r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, mock.NewMockEmbedderWithDimension(testDim), testConfig(), nil)

		_, err := r.Run(context.Background(), "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("job not completed", func(t *testing.T) {
		stores := newStores(t)
		job := seedJob(t, stores, "https://a.example.com", 0, core.JobStatusPending)
		r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, mock.NewMockEmbedderWithDimension(testDim), testConfig(), nil)

		_, err := r.Run(context.Background(), job.ID)
		assert.ErrorIs(t, err, ErrJobNotCompleted)
	})

	t.Run("embedder keeps failing", func(t *testing.T) {
		stores := newStores(t)
		seedJob(t, stores, "https://a.example.com", 2, core.JobStatusCompleted)

		embedder := mock.NewMockEmbedderWithDimension(testDim)
		boom := errors.New("provider down")
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, boom
		}
		r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, embedder, testConfig(), nil)

		_, err := r.Run(context.Background(), "")
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, embedder.CallCount())
	})

	t.Run("wrong vector count", func(t *testing.T) {
		stores := newStores(t)
		seedJob(t, stores, "https://a.example.com", 2, core.JobStatusCompleted)

		embedder := mock.NewMockEmbedderWithDimension(testDim)
		embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
			return [][]float32{mock.Vector(texts[0], testDim)}, nil
		}
		r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, embedder, testConfig(), nil)

		_, err := r.Run(context.Background(), "")
		assert.ErrorIs(t, err, ErrEmbeddingCountMismatch)
		assert.Equal(t, 1, embedder.CallCount(), "a count mismatch is not retried")
	})

	t.Run("cancelled context", func(t *testing.T) {
		stores := newStores(t)
		seedJob(t, stores, "https://a.example.com", 2, core.JobStatusCompleted)
		r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, mock.NewMockEmbedderWithDimension(testDim), testConfig(), nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Run(ctx, "")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReindexer_NothingToDo(t *testing.T) {
	stores := newStores(t)
	var out bytes.Buffer
	r := NewReindexer(stores.Jobs, stores.Chunks, stores.Vectors, mock.NewMockEmbedderWithDimension(testDim), nil, &out)

	report, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Chunks)
	assert.Contains(t, out.String(), "No chunks to reindex")
}

func TestChunkIterator_Batches(t *testing.T) {
	stores := newStores(t)
	job := seedJob(t, stores, "https://a.example.com", 5, core.JobStatusCompleted)

	it := NewChunkIterator(stores.Jobs, stores.Chunks, 2)
	var sizes []int
	var indexes []int
	err := it.ForEach(context.Background(), []*core.Job{job}, func(chunks []*core.Chunk) error {
		sizes = append(sizes, len(chunks))
		for _, c := range chunks {
			indexes = append(indexes, c.Metadata.ChunkIndex)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, indexes)
}

func TestChunkIterator_StopsOnError(t *testing.T) {
	stores := newStores(t)
	job := seedJob(t, stores, "https://a.example.com", 5, core.JobStatusCompleted)

	it := NewChunkIterator(stores.Jobs, stores.Chunks, 2)
	stop := errors.New("stop")
	calls := 0
	err := it.ForEach(context.Background(), []*core.Job{job}, func(chunks []*core.Chunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestChunkIterator_DefaultBatchSize(t *testing.T) {
	it := NewChunkIterator(nil, nil, 0)
	assert.Equal(t, DefaultBatchSize, it.batchSize)
}
