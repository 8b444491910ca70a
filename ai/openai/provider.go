// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package openai

import (
	"log/slog"

	"github.com/poiesic/webrag/ai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider pairs an Embedder and a Generator built from one ai.Config.
type Provider struct {
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

var _ ai.AIProvider = (*Provider)(nil)

// NewProvider validates cfg and builds both services. opts are passed to
// every langchaingo client the provider creates, which is how tests point
// it at an httptest server.
func NewProvider(cfg *ai.Config, opts ...openai.Option) (ai.AIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg, opts...)
	if err != nil {
		return nil, err
	}
	gen, err := newGenerator(cfg, opts...)
	if err != nil {
		emb.Close()
		return nil, err
	}

	logger := slog.Default().With("component", "openai-provider")
	logger.Debug("provider ready",
		"embeddingModel", cfg.EmbeddingModel, "generationModel", cfg.GenerationModel)
	return &Provider{embedder: emb, generator: gen, logger: logger}, nil
}

func (p *Provider) Embedder() ai.Embedder   { return p.embedder }
func (p *Provider) Generator() ai.Generator { return p.generator }

// Close stops the embedder's worker pool. The generator holds nothing.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider")
	p.embedder.Close()
	return nil
}
