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


// Package ai defines the two model capabilities webrag depends on:
// turning text into vectors (Embedder) and answering a prompt (Generator).
// AIProvider bundles both so a single value can be injected into the
// ingestion worker, the query orchestrator and the reindexer.
//
// ai/openai talks to any OpenAI-compatible endpoint; embeddings and
// completions may live on different hosts. ai/mock is deterministic and
// needs no network, which is what the package tests use.
//
// Config carries hosts, models, dimension, batch size and timeouts:
//
//	cfg := ai.NewConfig(
//	    ai.WithEmbeddingHost("http://localhost:11434"),
//	    ai.WithGenerationModel("llama-3.1-8b-instant"),
//	)
//	provider, err := openai.NewProvider(cfg)
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
// RetryWithBackoff wraps calls to flaky providers; errors marked with
// Permanent stop it early.
package ai
