package chunking

import (
	"fmt"
	"log/slog"
	"strconv"
	"unicode/utf8"

	"github.com/poiesic/webrag/core"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	// DefaultChunkSize is the maximum chunk length in runes.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is the number of runes shared by adjacent sub-chunks.
	DefaultChunkOverlap = 200
)

// IDStrategy selects how chunk ids are assigned.
type IDStrategy string

const (
	// IDStrategyRandom assigns a fresh uuid to every chunk.
	IDStrategyRandom IDStrategy = "random"

	// IDStrategyContent derives ids from url, chunk index and content so that
	// re-ingesting an unchanged page yields the same ids.
	IDStrategyContent IDStrategy = "content"
)

// ParseIDStrategy converts a configuration value into an IDStrategy.
// The empty string selects IDStrategyRandom.
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch IDStrategy(s) {
	case "", IDStrategyRandom:
		return IDStrategyRandom, nil
	case IDStrategyContent:
		return IDStrategyContent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIDStrategy, s)
	}
}

// separators are tried in order: paragraphs, lines, words, characters.
var separators = []string{"\n\n", "\n", " ", ""}

// Chunker turns markdown documents into core.Chunk values.
// A Chunker is immutable after construction and safe for concurrent use.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	idStrategy   IDStrategy
	splitter     textsplitter.TextSplitter
	tight        textsplitter.TextSplitter
	logger       *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithChunkSize sets the maximum chunk length in runes.
func WithChunkSize(size int) Option {
	return func(c *Chunker) error {
		if size <= 0 {
			return ErrInvalidChunkSize
		}
		c.chunkSize = size
		return nil
	}
}

// WithChunkOverlap sets the overlap between adjacent sub-chunks in runes.
func WithChunkOverlap(overlap int) Option {
	return func(c *Chunker) error {
		if overlap < 0 {
			return ErrInvalidChunkOverlap
		}
		c.chunkOverlap = overlap
		return nil
	}
}

// WithIDStrategy selects how chunk ids are generated.
func WithIDStrategy(strategy IDStrategy) Option {
	return func(c *Chunker) error {
		if _, err := ParseIDStrategy(string(strategy)); err != nil {
			return err
		}
		c.idStrategy = strategy
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// New creates a Chunker. Defaults are 1000 rune chunks with 200 runes of overlap.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		idStrategy:   IDStrategyRandom,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.chunkOverlap >= c.chunkSize {
		return nil, ErrInvalidChunkOverlap
	}

	c.splitter = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.chunkSize),
		textsplitter.WithChunkOverlap(c.chunkOverlap),
		textsplitter.WithSeparators(separators),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	// The overlapping merge can overshoot by one separator. Without overlap
	// every merge is checked against the limit, so this one never does.
	c.tight = textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(c.chunkSize),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators(separators),
		textsplitter.WithLenFunc(utf8.RuneCountInString),
	)
	c.logger = c.logger.With("component", "chunker")
	return c, nil
}

// ChunkSize returns the configured maximum chunk length in runes.
func (c *Chunker) ChunkSize() int {
	return c.chunkSize
}

// Chunk splits text scraped from url for job jobID.
// It never returns an error: when both splitting strategies fail the result
// is an empty slice and the caller treats the stage as empty.
func (c *Chunker) Chunk(text, url, jobID string) []core.Chunk {
	c.logger.Debug("chunking document", "url", url, "jobId", jobID, "length", utf8.RuneCountInString(text))

	chunks, err := c.chunkStructured(text, url, jobID)
	if err == nil {
		c.logger.Debug("chunked document", "jobId", jobID, "chunks", len(chunks))
		return chunks
	}

	c.logger.Warn("structured chunking failed, using fallback", "jobId", jobID, "err", err)
	chunks, err = c.chunkFallback(text, url, jobID)
	if err != nil {
		c.logger.Error("fallback chunking failed", "jobId", jobID, "err", err)
		return []core.Chunk{}
	}
	return chunks
}

func (c *Chunker) chunkStructured(text, url, jobID string) ([]core.Chunk, error) {
	sections, err := splitSections(text)
	if err != nil {
		return nil, err
	}

	chunks := make([]core.Chunk, 0, len(sections))
	for i, sec := range sections {
		sectionIndex := i
		if utf8.RuneCountInString(sec.content) <= c.chunkSize {
			chunk := c.newChunk(sec.content, url, jobID, len(chunks))
			chunk.Metadata.SectionIndex = &sectionIndex
			chunk.Metadata.Headers = copyHeaders(sec.headers)
			chunks = append(chunks, chunk)
			continue
		}

		parts, err := c.split(sec.content)
		if err != nil {
			return nil, fmt.Errorf("split section %d: %w", i, err)
		}
		for j, part := range parts {
			subIndex := j
			chunk := c.newChunk(part, url, jobID, len(chunks))
			chunk.Metadata.SectionIndex = &sectionIndex
			chunk.Metadata.SubChunkIndex = &subIndex
			chunk.Metadata.Headers = copyHeaders(sec.headers)
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func (c *Chunker) chunkFallback(text, url, jobID string) ([]core.Chunk, error) {
	parts, err := c.split(text)
	if err != nil {
		return nil, err
	}
	chunks := make([]core.Chunk, 0, len(parts))
	for _, part := range parts {
		chunk := c.newChunk(part, url, jobID, len(chunks))
		chunk.Metadata.Fallback = true
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// split runs the overlapping splitter and re-splits whatever it left longer
// than chunkSize, so every part fits.
func (c *Chunker) split(text string) ([]string, error) {
	parts, err := c.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if utf8.RuneCountInString(part) <= c.chunkSize {
			out = append(out, part)
			continue
		}
		c.logger.Debug("re-splitting oversize part", "length", utf8.RuneCountInString(part))
		sub, err := c.tight.SplitText(part)
		if err != nil {
			return nil, err
		}
		for _, piece := range sub {
			out = append(out, cutRunes(piece, c.chunkSize)...)
		}
	}
	return out, nil
}

// cutRunes slices s into pieces of at most n runes.
func cutRunes(s string, n int) []string {
	if utf8.RuneCountInString(s) <= n {
		return []string{s}
	}
	var pieces []string
	for s != "" {
		end, count := 0, 0
		for end < len(s) && count < n {
			_, size := utf8.DecodeRuneInString(s[end:])
			end += size
			count++
		}
		pieces = append(pieces, s[:end])
		s = s[end:]
	}
	return pieces
}

func (c *Chunker) newChunk(content, url, jobID string, index int) core.Chunk {
	return core.Chunk{
		ID:      c.chunkID(content, url, index),
		Content: content,
		Metadata: core.ChunkMetadata{
			URL:        url,
			JobID:      jobID,
			ChunkIndex: index,
			ChunkSize:  utf8.RuneCountInString(content),
		},
	}
}

func (c *Chunker) chunkID(content, url string, index int) string {
	if c.idStrategy == IDStrategyContent {
		return core.IDFromContent(url, strconv.Itoa(index), content)
	}
	return core.NewID()
}

func copyHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}
