package mock

import (
	"context"
	"sync"

	"github.com/poiesic/webrag/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate returns Response, or "mock answer" when Response is empty.
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	// Response is the canned completion for the default behavior.
	Response string

	mu      sync.Mutex
	prompts []string
}

// NewMockGenerator creates a mock generator with a fixed default answer.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Response: "mock answer"}
}

// Generate records prompt and returns the configured completion.
func (g *MockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.GenerateFunc != nil {
		return g.GenerateFunc(ctx, prompt)
	}
	if g.Response == "" {
		return "mock answer", nil
	}
	return g.Response, nil
}

// CallCount returns the number of Generate calls.
func (g *MockGenerator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

// LastPrompt returns the most recent prompt, or "" if Generate was never called.
func (g *MockGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

var _ ai.Generator = (*MockGenerator)(nil)
