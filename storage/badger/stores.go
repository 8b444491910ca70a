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


package badger

import (
	"errors"
)

// Stores bundles every badger-backed store over one backend.
type Stores struct {
	Backend  *Backend
	Jobs     *JobRepository
	Chunks   *ChunkRepository
	Sessions *SessionRepository
	Queue    *Queue
	Vectors  *VectorIndex
}

// OpenStores creates every store on an already opened backend.
// The backend is not closed on failure.
func OpenStores(backend *Backend, queueName string, dimension int, queueOpts ...QueueOption) (*Stores, error) {
	jobs, err := NewJobRepository(backend)
	if err != nil {
		return nil, err
	}
	chunks, err := NewChunkRepository(backend)
	if err != nil {
		return nil, err
	}
	sessions, err := NewSessionRepository(backend)
	if err != nil {
		return nil, err
	}
	vectors, err := NewVectorIndex(backend, dimension)
	if err != nil {
		return nil, err
	}
	queue, err := NewQueue(backend, queueName, queueOpts...)
	if err != nil {
		return nil, err
	}

	return &Stores{
		Backend:  backend,
		Jobs:     jobs,
		Chunks:   chunks,
		Sessions: sessions,
		Queue:    queue,
		Vectors:  vectors,
	}, nil
}

// NewMemoryStores creates in-memory stores for testing.
// Caller must Close the result when done.
func NewMemoryStores(dimension int) (*Stores, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, err
	}

	stores, err := OpenStores(backend, DefaultQueueName, dimension)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return stores, nil
}

// Close closes every store and then the backend.
func (s *Stores) Close() error {
	return errors.Join(
		s.Queue.Close(),
		s.Vectors.Close(),
		s.Sessions.Close(),
		s.Chunks.Close(),
		s.Jobs.Close(),
		s.Backend.Close(),
	)
}
