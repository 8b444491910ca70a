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


// Package storage provides the storage abstraction layer for webrag.
//
// This package defines repository interfaces that decouple storage implementation
// from ingestion and query logic. Backends live in subpackages:
//
//   - storage/badger: embedded BadgerDB backend for jobs, chunks, sessions,
//     the job queue and a brute-force vector index
//   - storage/postgres: PostgreSQL backend for the job queue and a pgvector index
//
// # Architecture
//
//   - JobRepository: job records, the source of truth for ingestion status
//   - ChunkRepository: chunk text and metadata, indexed by job and url
//   - SessionRepository: append-only conversation history
//   - Queue: durable FIFO handoff of jobs to workers
//   - VectorIndex: embedding vectors with restricted metadata
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	jobs, err := badger.NewJobRepository(backend)
//
// In tests use in-memory storage:
//
//	stores, err := badger.NewMemoryStores(384)
//	defer stores.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Serialization
//
// Records are stored as JSON documents. Marshal and Unmarshal helpers wrap
// failures in ErrSerializationFailed.
package storage
