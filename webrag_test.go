package webrag

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/webrag/ai/mock"
	"github.com/poiesic/webrag/config"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/query"
	"github.com/poiesic/webrag/reindex"
	"github.com/poiesic/webrag/scrape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = "# Webrag\n\nWebrag ingests pages and answers questions about them."

func openTestEngine(t *testing.T, cfg *config.Config) (*Engine, *mock.MockProvider) {
	t.Helper()
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedderWithDimension(8), mock.NewMockGenerator()).(*mock.MockProvider)
	scraper := scrape.ScraperFunc(func(ctx context.Context, url string) (string, error) {
		return testPage, nil
	})

	e, err := Open(context.Background(), cfg, WithInMemory(), WithProvider(provider), WithScraper(scraper))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, provider
}

func TestOpen(t *testing.T) {
	t.Run("in memory with defaults", func(t *testing.T) {
		e, _ := openTestEngine(t, nil)

		assert.NotNil(t, e.Jobs())
		assert.NotNil(t, e.Chunks())
		assert.NotNil(t, e.Sessions())
		assert.NotNil(t, e.Queue())
		assert.Equal(t, 8, e.Vectors().Dimension())
		assert.Equal(t, config.BackendBadger, e.Config().Storage.VectorBackend)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.VectorBackend = "qdrant"

		e, err := Open(context.Background(), cfg, WithInMemory())
		assert.ErrorIs(t, err, config.ErrInvalidConfig)
		assert.Nil(t, e)
	})

	t.Run("nil options rejected", func(t *testing.T) {
		_, err := Open(context.Background(), nil, WithInMemory(), WithProvider(nil))
		assert.Error(t, err)

		_, err = Open(context.Background(), nil, WithInMemory(), WithScraper(nil))
		assert.Error(t, err)
	})

	t.Run("all postgres leaves data dir untouched", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.DataDir = filepath.Join(t.TempDir(), "webrag.db")
		cfg.Storage.DocumentBackend = config.BackendPostgres
		cfg.Storage.VectorBackend = config.BackendPgvector
		cfg.Storage.QueueBackend = config.BackendPostgres
		cfg.Storage.PostgresDSN = "postgres://webrag@127.0.0.1:1/webrag?connect_timeout=1"
		require.False(t, cfg.UsesBadger())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := Open(ctx, cfg, WithProvider(mock.NewMockProvider()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connect postgres")
		assert.NoDirExists(t, cfg.Storage.DataDir)
	})

	t.Run("on disk", func(t *testing.T) {
		cfg := config.Default()
		cfg.Storage.DataDir = t.TempDir()
		provider := mock.NewMockProvider()

		e, err := Open(context.Background(), cfg, WithProvider(provider))
		require.NoError(t, err)
		require.NoError(t, e.Close())
		assert.True(t, provider.(*mock.MockProvider).Closed())
	})
}

func TestEngine_IngestAndQuery(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.DequeueTimeout = time.Second
	e, provider := openTestEngine(t, cfg)
	ctx := context.Background()

	submitter, err := e.NewSubmitter()
	require.NoError(t, err)
	sub, err := submitter.Submit(ctx, "https://example.com/docs")
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusPending, sub.Status)

	job, err := e.Queue().Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)

	worker, err := e.NewWorker()
	require.NoError(t, err)
	defer worker.Release()
	require.NoError(t, worker.ProcessJob(ctx, job))

	stored, err := e.Jobs().GetJob(ctx, sub.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.ChunkCount)

	orchestrator, err := e.NewOrchestrator()
	require.NoError(t, err)
	result, err := orchestrator.Answer(ctx, query.Request{Query: testPage, SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "mock answer", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "https://example.com/docs", result.Sources[0].URL)

	prompt := provider.GetMockGenerator().LastPrompt()
	assert.Contains(t, prompt, "Source: https://example.com/docs")

	session, err := e.Sessions().GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, session.Messages, 2)
}

func TestEngine_Reindex(t *testing.T) {
	e, provider := openTestEngine(t, nil)
	ctx := context.Background()

	submitter, err := e.NewSubmitter()
	require.NoError(t, err)
	_, err = submitter.Submit(ctx, "https://example.com/a")
	require.NoError(t, err)

	job, err := e.Queue().Dequeue(ctx, time.Second)
	require.NoError(t, err)
	worker, err := e.NewWorker()
	require.NoError(t, err)
	defer worker.Release()
	require.NoError(t, worker.ProcessJob(ctx, job))

	before := provider.GetMockEmbedder().CallCount()

	var out bytes.Buffer
	report, err := e.NewReindexer(reindex.DefaultConfig(), &out).Run(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, before+1, provider.GetMockEmbedder().CallCount())
}

func TestEngine_ContentIDsSkipExisting(t *testing.T) {
	cfg := config.Default()
	cfg.Chunking.IDStrategy = "content"
	e, provider := openTestEngine(t, cfg)
	ctx := context.Background()

	submitter, err := e.NewSubmitter()
	require.NoError(t, err)
	worker, err := e.NewWorker()
	require.NoError(t, err)
	defer worker.Release()

	for range 2 {
		_, err = submitter.Submit(ctx, "https://example.com/same")
		require.NoError(t, err)
		job, err := e.Queue().Dequeue(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, worker.ProcessJob(ctx, job))
	}

	// The second run finds every chunk already stored and embeds nothing.
	assert.Equal(t, 1, provider.GetMockEmbedder().CallCount())
}
