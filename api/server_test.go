package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/poiesic/webrag/ai/mock"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/ingestion"
	"github.com/poiesic/webrag/query"
	"github.com/poiesic/webrag/storage"
	"github.com/poiesic/webrag/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	server *Server
	stores *badger.Stores
	gen    *mock.MockGenerator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	stores, err := badger.NewMemoryStores(8)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	gen := mock.NewMockGenerator()
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedderWithDimension(8), gen)

	submitter, err := ingestion.NewSubmitter(stores.Jobs, stores.Queue)
	require.NoError(t, err)
	orchestrator, err := query.NewOrchestrator(stores.Vectors, stores.Chunks, stores.Sessions, provider)
	require.NoError(t, err)

	server, err := NewServer(Services{
		Submitter:    submitter,
		Orchestrator: orchestrator,
		Jobs:         stores.Jobs,
		Chunks:       stores.Chunks,
		Sessions:     stores.Sessions,
		Queue:        stores.Queue,
	})
	require.NoError(t, err)
	return &testServer{server: server, stores: stores, gen: gen}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

// seedChunk stores a completed job with one indexed chunk.
func (ts *testServer) seedChunk(t *testing.T, url, content string) *core.Job {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	job := &core.Job{ID: core.NewID(), URL: url, Status: core.JobStatusPending, SubmittedAt: now, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, ts.stores.Jobs.CreateJob(ctx, job))
	_, err := ts.stores.Jobs.UpdateStatus(ctx, job.ID, core.JobStatusProcessing, "", 0)
	require.NoError(t, err)

	chunk := &core.Chunk{
		ID:       core.NewID(),
		Content:  content,
		Metadata: core.ChunkMetadata{URL: url, JobID: job.ID, ChunkSize: len(content)},
	}
	require.NoError(t, ts.stores.Chunks.AddChunks(ctx, chunk))
	require.NoError(t, ts.stores.Vectors.Upsert(ctx, &core.EmbeddingRecord{
		ChunkID: chunk.ID, Vector: mock.Vector(content, 8), URL: url, JobID: job.ID,
	}))
	job, err = ts.stores.Jobs.UpdateStatus(ctx, job.ID, core.JobStatusCompleted, "", 1)
	require.NoError(t, err)
	return job
}

func TestNewServer_RequiresServices(t *testing.T) {
	_, err := NewServer(Services{})
	assert.Error(t, err)
}

func TestHealthAndRoot(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/check/healthy", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"result":"ok"}`, string(body))

	code, body = ts.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "Welcome")
}

func TestIngestURL(t *testing.T) {
	ts := newTestServer(t)

	t.Run("accepted", func(t *testing.T) {
		code, body := ts.do(t, http.MethodPost, "/api/v1/ingest-url", `{"url":"https://example.com/page"}`)
		require.Equal(t, http.StatusAccepted, code, string(body))

		sub := decode[ingestion.Submission](t, body)
		assert.NotEmpty(t, sub.JobID)
		assert.Equal(t, core.JobStatusPending, sub.Status)
		assert.Equal(t, ingestion.SubmittedMessage, sub.Message)

		n, err := ts.stores.Queue.Len(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		code, body = ts.do(t, http.MethodGet, "/api/v1/jobs/"+sub.JobID, "")
		require.Equal(t, http.StatusOK, code)
		job := decode[core.Job](t, body)
		assert.Equal(t, "https://example.com/page", job.URL)

		code, body = ts.do(t, http.MethodGet, "/api/v1/queue", "")
		require.Equal(t, http.StatusOK, code)
		assert.JSONEq(t, `{"length":1}`, string(body))
	})

	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"url":`, http.StatusBadRequest},
		{"missing url", `{}`, http.StatusBadRequest},
		{"not http", `{"url":"ftp://example.com/file"}`, http.StatusBadRequest},
		{"relative", `{"url":"/just/a/path"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := ts.do(t, http.MethodPost, "/api/v1/ingest-url", tt.body)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestQuery(t *testing.T) {
	ts := newTestServer(t)
	content := "Badger is an embeddable key-value store written in Go."
	ts.seedChunk(t, "https://example.com/badger", content)

	t.Run("answer with sources", func(t *testing.T) {
		code, body := ts.do(t, http.MethodPost, "/api/v1/query", `{"query":"`+content+`","session_id":"abc"}`)
		require.Equal(t, http.StatusOK, code, string(body))

		result := decode[query.Result](t, body)
		assert.Equal(t, "mock answer", result.Answer)
		require.NotEmpty(t, result.Sources)
		assert.Equal(t, "https://example.com/badger", result.Sources[0].URL)
		assert.Contains(t, ts.gen.LastPrompt(), content)

		code, body = ts.do(t, http.MethodGet, "/api/v1/sessions/abc", "")
		require.Equal(t, http.StatusOK, code)
		session := decode[core.Session](t, body)
		assert.Len(t, session.Messages, 2)
	})

	t.Run("validation", func(t *testing.T) {
		code, body := ts.do(t, http.MethodPost, "/api/v1/query", `{"top_k":3}`)
		assert.Equal(t, http.StatusBadRequest, code)
		errs := decode[ValidationError](t, body)
		assert.Contains(t, errs.Errors, "Query")

		code, _ = ts.do(t, http.MethodPost, "/api/v1/query", `{"query":"hi","top_k":1000}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("blank query", func(t *testing.T) {
		code, _ := ts.do(t, http.MethodPost, "/api/v1/query", `{"query":"   "}`)
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestJobChunks(t *testing.T) {
	ts := newTestServer(t)
	job := ts.seedChunk(t, "https://example.com/a", "some content")

	code, body := ts.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/chunks", "")
	require.Equal(t, http.StatusOK, code)
	resp := decode[ChunksResponse](t, body)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "some content", resp.Chunks[0].Content)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/jobs/missing/chunks", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(t, http.MethodGet, "/api/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), "job missing not found")
}

func TestSessions(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.stores.Sessions.AppendMessage(ctx, "s1", core.Message{
		Role: core.RoleUser, Content: "hello", Timestamp: time.Now(),
	}))

	code, _ := ts.do(t, http.MethodPost, "/api/v1/sessions/s1/clear", "")
	assert.Equal(t, http.StatusNoContent, code)
	session, err := ts.stores.Sessions.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, session.Messages)

	code, _ = ts.do(t, http.MethodDelete, "/api/v1/sessions/s1", "")
	assert.Equal(t, http.StatusNoContent, code)
	_, err = ts.stores.Sessions.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions/s1"},
		{http.MethodDelete, "/api/v1/sessions/s1"},
		{http.MethodPost, "/api/v1/sessions/s1/clear"},
	} {
		code, _ := ts.do(t, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, code, tc.method+" "+tc.path)
	}
}

type failingQueue struct {
	storage.Queue
}

func (failingQueue) Len(context.Context) (int, error) {
	return 0, errors.New("connection refused")
}

func TestBackendFailureIs503(t *testing.T) {
	ts := newTestServer(t)
	submitter, err := ingestion.NewSubmitter(ts.stores.Jobs, ts.stores.Queue)
	require.NoError(t, err)
	orchestrator, err := query.NewOrchestrator(ts.stores.Vectors, ts.stores.Chunks, ts.stores.Sessions, mock.NewMockProvider())
	require.NoError(t, err)
	ts.server, err = NewServer(Services{
		Submitter:    submitter,
		Orchestrator: orchestrator,
		Jobs:         ts.stores.Jobs,
		Chunks:       ts.stores.Chunks,
		Sessions:     ts.stores.Sessions,
		Queue:        failingQueue{ts.stores.Queue},
	})
	require.NoError(t, err)

	code, body := ts.do(t, http.MethodGet, "/api/v1/queue", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	apiErr := decode[Error](t, body)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Code)
	assert.Contains(t, apiErr.Message, "connection refused")
}

func TestErrorHandler_Mapping(t *testing.T) {
	ts := newTestServer(t)
	app := ts.server.App()
	app.Get("/boom/notfound", func(c *fiber.Ctx) error { return storage.ErrNotFound })
	app.Get("/boom/other", func(c *fiber.Ctx) error { return errors.New("disk on fire") })

	code, _ := ts.do(t, http.MethodGet, "/boom/notfound", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, body := ts.do(t, http.MethodGet, "/boom/other", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, string(body), "disk on fire")

	code, _ = ts.do(t, http.MethodGet, "/no/such/route", "")
	assert.Equal(t, http.StatusNotFound, code)
}
