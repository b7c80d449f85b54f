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

// Package ai provides the embedding abstraction used by vector sinks.
//
// Sinks depend on the Embedder interface rather than on a concrete client, so
// chunk storage can be tested without a running model server.
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible embedding APIs through langchaingo
//   - ai/mock: deterministic test double
//
// Public constructors (openai.NewEmbedder) return the ai.Embedder interface.
// Test constructors (mock.NewMockEmbedder) return concrete types so tests can
// inject behavior and assert on call counts.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text"))
//	embedder, err := openai.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vectors, err := embedder.EmbedTexts(ctx, []string{"first chunk", "second chunk"})
package ai
