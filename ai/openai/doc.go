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

// Package openai implements ai.Embedder on OpenAI-compatible embedding APIs.
//
// It uses the langchaingo client, so it works against OpenAI itself as well
// as Ollama, LocalAI or vLLM.
//
// # Usage
//
//	cfg := ai.NewConfig(
//	    ai.WithEmbeddingHost("http://localhost:11434"), // /v1 added automatically
//	    ai.WithEmbeddingModel("nomic-embed-text"),
//	)
//	embedder, err := openai.NewEmbedder(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	vector, err := embedder.EmbedText(ctx, "sample text")
package openai
