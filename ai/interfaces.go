package ai

import "context"

// Embedder maps text to vectors of a fixed Dimension. Implementations are
// safe for concurrent use.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts returns one vector per input, in input order. A partial
	// result is never returned: either every text is embedded or err is set.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	Dimension() int
}

// Generator completes a single-turn prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// AIProvider owns an Embedder and a Generator and whatever clients or
// pools back them. Neither service may be used after Close.
type AIProvider interface {
	Embedder() Embedder
	Generator() Generator
	Close() error
}
