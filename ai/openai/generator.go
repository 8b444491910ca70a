package openai

import (
	"context"
	"log/slog"
	"time"

	"github.com/poiesic/webrag/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator with a single-turn chat completion.
type Generator struct {
	llm         llms.Model
	maxAttempts int
	timeout     time.Duration
	logger      *slog.Logger
}

func newGenerator(config *ai.Config, opts ...openai.Option) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	clientOpts := append([]openai.Option{
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.GenerationModel),
	}, opts...)
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, err
	}

	return &Generator{
		llm:         llm,
		maxAttempts: config.MaxAttempts,
		timeout:     config.Timeout,
		logger:      slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate sends prompt as one user message and returns the completion text.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	g.logger.Debug("generating completion", "promptLength", len(prompt))

	var answer string
	err := ai.RetryWithBackoff(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		out, err := llms.GenerateFromSinglePrompt(callCtx, g.llm, prompt)
		if err != nil {
			return err
		}
		answer = out
		return nil
	}, g.maxAttempts, retryBaseDelay)
	if err != nil {
		g.logger.Error("failed to generate completion", "err", err)
		return "", err
	}
	return answer, nil
}
