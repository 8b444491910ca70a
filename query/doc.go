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


// Package query answers natural-language questions from the indexed content.
//
// The Orchestrator embeds the question, finds the nearest chunks in the
// vector index, loads their content, and asks the generator for an answer
// grounded in that content and in the recent conversation. Retrieval misses
// and provider failures produce a fixed, user-facing answer rather than an
// error; only session store failures are returned to the caller.
package query
