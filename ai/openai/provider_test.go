package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/webrag/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks enough of the OpenAI wire protocol for the embedder and generator.
type fakeServer struct {
	dim         int
	embedCalls  atomic.Int32
	failFirst   atomic.Int32
	lastAuth    atomic.Value
	lastPrompt  atomic.Value
	completion  string
	embedStatus int
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		f.embedCalls.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		if f.failFirst.Load() > 0 {
			f.failFirst.Add(-1)
			http.Error(w, `{"error":{"message":"busy"}}`, http.StatusServiceUnavailable)
			return
		}
		if f.embedStatus != 0 {
			http.Error(w, `{"error":{"message":"bad"}}`, f.embedStatus)
			return
		}
		var req struct {
			Input []string `json:"input"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, text := range req.Input {
			vec := make([]float32, f.dim)
			vec[0] = float32(len(text))
			data[i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "test"})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content any    `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			f.lastPrompt.Store(req.Messages[len(req.Messages)-1].Role)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": f.completion},
				"finish_reason": "stop",
			}},
		})
	})
	return mux
}

func newTestProvider(t *testing.T, f *fakeServer, opts ...ai.ConfigOption) (ai.AIProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfgOpts := append([]ai.ConfigOption{
		ai.WithHost(srv.URL),
		ai.WithAPIKey("secret"),
		ai.WithDimension(f.dim),
		ai.WithBatchSize(2),
		ai.WithConcurrency(2),
		ai.WithTimeout(5 * time.Second),
	}, opts...)
	provider, err := NewProvider(ai.NewConfig(cfgOpts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return provider, srv
}

func TestEmbedder_SubBatchesPreserveOrder(t *testing.T) {
	f := &fakeServer{dim: 4}
	provider, _ := newTestProvider(t, f)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := provider.Embedder().EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "vector %d out of order", i)
	}
	assert.Equal(t, int32(3), f.embedCalls.Load())
	assert.Equal(t, "Bearer secret", f.lastAuth.Load())
}

func TestEmbedder_EmptyInput(t *testing.T) {
	f := &fakeServer{dim: 4}
	provider, _ := newTestProvider(t, f)

	vectors, err := provider.Embedder().EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, f.embedCalls.Load())
}

func TestEmbedder_RetriesTransientFailure(t *testing.T) {
	f := &fakeServer{dim: 4}
	f.failFirst.Store(1)
	provider, _ := newTestProvider(t, f)

	vec, err := provider.Embedder().EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int32(2), f.embedCalls.Load())
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	f := &fakeServer{dim: 4}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	embedder, err := NewEmbedder(ai.NewConfig(ai.WithHost(srv.URL), ai.WithDimension(8)))
	require.NoError(t, err)

	_, err = embedder.EmbedText(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, int32(1), f.embedCalls.Load(), "a dimension mismatch is not retried")
}

func TestGenerator_Generate(t *testing.T) {
	f := &fakeServer{dim: 4, completion: "Paris is the capital of France."}
	provider, _ := newTestProvider(t, f)

	answer, err := provider.Generator().Generate(context.Background(), "What is the capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", answer)
	assert.Equal(t, "user", f.lastPrompt.Load())
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	cfg := ai.NewConfig(ai.WithDimension(0))
	_, err := NewProvider(cfg)
	assert.Error(t, err)
}
