package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/webrag/ai"
	"github.com/poiesic/webrag/core"
	"github.com/poiesic/webrag/storage"
)

const (
	// DefaultTopK is the number of chunks retrieved when a request doesn't say.
	DefaultTopK = 5

	// HistoryLimit is how many recent session messages are read per query.
	HistoryLimit = 10

	// PreviewLength caps the content preview of a cited source, in runes.
	PreviewLength = 200
)

// Fixed answers for queries that cannot be grounded.
const (
	AnswerCouldNotProcess = "I'm sorry, I couldn't process your query. Please try again."
	AnswerNoRelevantInfo  = "I couldn't find any relevant information in the knowledge base to answer your question."
	AnswerNoContent       = "I found relevant documents but couldn't retrieve their content. Please try again later."
)

// Request is one question, optionally within a conversation.
type Request struct {
	Query     string `json:"query" validate:"required"`
	SessionID string `json:"session_id,omitempty"`
	TopK      int    `json:"top_k,omitempty" validate:"gte=0,lte=100"`
}

// Result is the answer and the sources it was grounded on.
type Result struct {
	Answer    string        `json:"answer"`
	Sources   []core.Source `json:"sources"`
	Query     string        `json:"query"`
	SessionID string        `json:"session_id,omitempty"`
}

// Orchestrator runs retrieval-augmented generation over the knowledge base.
type Orchestrator struct {
	vectors   storage.VectorIndex
	chunks    storage.ChunkRepository
	sessions  storage.SessionRepository
	embedder  ai.Embedder
	generator ai.Generator
	topK      int
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithDefaultTopK sets the top-k used when a request leaves it at zero.
func WithDefaultTopK(k int) Option {
	return func(o *Orchestrator) error {
		if k < 1 {
			return fmt.Errorf("default top-k must be positive")
		}
		o.topK = k
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(
	vectors storage.VectorIndex,
	chunks storage.ChunkRepository,
	sessions storage.SessionRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Orchestrator, error) {
	if vectors == nil {
		return nil, ErrVectorIndexRequired
	}
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if sessions == nil {
		return nil, ErrSessionRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	o := &Orchestrator{
		vectors:   vectors,
		chunks:    chunks,
		sessions:  sessions,
		embedder:  provider.Embedder(),
		generator: provider.Generator(),
		topK:      DefaultTopK,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "query")
	return o, nil
}

// Answer answers req. See AnswerWithMonitor.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Result, error) {
	return o.AnswerWithMonitor(ctx, req, nil)
}

// AnswerWithMonitor answers req, reporting each stage to monitor.
// A non-nil error means the question was blank or the session store failed.
func (o *Orchestrator) AnswerWithMonitor(ctx context.Context, req Request, monitor Monitor) (*Result, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	topK := req.TopK
	if topK <= 0 {
		topK = o.topK
	}
	logger := o.logger.With("sessionId", req.SessionID)
	monitor.Start(req)

	// 1. Conversation history
	transcript, err := o.history(ctx, req)
	if err != nil {
		return nil, err
	}
	monitor.AfterHistory(transcript)

	// 2. Embed the question
	vector, err := o.embedder.EmbedText(ctx, req.Query)
	if err != nil {
		logger.Error("error generating embedding for query", "err", err)
	}
	if len(vector) == 0 {
		return o.finish(ctx, req, monitor, AnswerCouldNotProcess, nil)
	}
	monitor.AfterEmbedding(len(vector))

	// 3. Nearest chunks
	matches, err := o.vectors.Search(ctx, vector, topK, core.Filter{})
	if err != nil {
		logger.Error("error searching vector index", "err", err)
	}
	monitor.AfterSearch(matches)
	if len(matches) == 0 {
		return o.finish(ctx, req, monitor, AnswerNoRelevantInfo, nil)
	}

	// 4. Hydrate content; misses are dropped
	chunks := make([]*core.Chunk, 0, len(matches))
	hits := make([]core.Match, 0, len(matches))
	for _, match := range matches {
		chunk, err := o.chunks.GetChunk(ctx, match.ID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				logger.Warn("error loading chunk", "chunkId", match.ID, "err", err)
			} else {
				logger.Debug("chunk missing from content store", "chunkId", match.ID)
			}
			continue
		}
		chunks = append(chunks, chunk)
		hits = append(hits, match)
	}
	monitor.AfterHydration(chunks)
	if len(chunks) == 0 {
		return o.finish(ctx, req, monitor, AnswerNoContent, nil)
	}

	// 5-6. Grounded generation
	prompt := buildPrompt(transcript, buildContext(chunks), req.Query)
	answer, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		logger.Error("error generating answer", "err", err)
		answer = "Error generating response: " + err.Error()
	} else if strings.TrimSpace(answer) == "" {
		logger.Warn("generator returned an empty answer")
		answer = "Error generating response: empty completion"
	}

	return o.finish(ctx, req, monitor, answer, sources(chunks, hits))
}

// history records the question and returns the transcript of the
// conversation before it. Without a session the transcript is empty.
func (o *Orchestrator) history(ctx context.Context, req Request) (string, error) {
	if req.SessionID == "" {
		return "", nil
	}

	if _, err := o.sessions.GetOrCreateSession(ctx, req.SessionID); err != nil {
		return "", fmt.Errorf("load session %s: %w", req.SessionID, err)
	}
	msg := core.Message{Role: core.RoleUser, Content: req.Query, Timestamp: time.Now().UTC()}
	if err := o.sessions.AppendMessage(ctx, req.SessionID, msg); err != nil {
		return "", fmt.Errorf("record question in session %s: %w", req.SessionID, err)
	}

	recent, err := o.sessions.RecentMessages(ctx, req.SessionID, HistoryLimit)
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", req.SessionID, err)
	}
	if len(recent) < 2 {
		return "", nil
	}
	return formatTranscript(recent[:len(recent)-1]), nil
}

// finish records the answer in the session, when there is one, and builds the result.
func (o *Orchestrator) finish(ctx context.Context, req Request, monitor Monitor, answer string, srcs []core.Source) (*Result, error) {
	if srcs == nil {
		srcs = []core.Source{}
	}

	if req.SessionID != "" {
		msg := core.Message{
			Role:      core.RoleAssistant,
			Content:   answer,
			Timestamp: time.Now().UTC(),
			Sources:   srcs,
		}
		if err := o.sessions.AppendMessage(ctx, req.SessionID, msg); err != nil {
			return nil, fmt.Errorf("record answer in session %s: %w", req.SessionID, err)
		}
	}

	result := &Result{
		Answer:    answer,
		Sources:   srcs,
		Query:     req.Query,
		SessionID: req.SessionID,
	}
	monitor.Finish(result)
	return result, nil
}

// sources builds citations in ranking order.
func sources(chunks []*core.Chunk, hits []core.Match) []core.Source {
	out := make([]core.Source, len(chunks))
	for i, chunk := range chunks {
		md := make(map[string]string, len(hits[i].Metadata)+1)
		for k, v := range hits[i].Metadata {
			md[k] = v
		}
		md["chunk_index"] = strconv.Itoa(chunk.Metadata.ChunkIndex)

		out[i] = core.Source{
			ChunkID:  chunk.ID,
			URL:      chunk.Metadata.URL,
			Content:  preview(chunk.Content, PreviewLength),
			Score:    hits[i].Score,
			Metadata: md,
		}
	}
	return out
}
