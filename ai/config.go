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

package ai

import (
	"fmt"
	"strings"

	"github.com/poiesic/prepdocs/core"
)

// Defaults for a local OpenAI-compatible embedding server.
const (
	DefaultEmbeddingHost  = "http://localhost:11434/v1"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultBatchSize      = 64
)

// Config holds configuration for the embedding service.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// APIKey authenticates against hosted services. Local servers ignore it.
	APIKey string

	// BatchSize is the number of texts sent per embedding request.
	// Default: 64
	BatchSize int
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBatchSize sets the number of texts per embedding request.
func WithBatchSize(n int) ConfigOption {
	return func(c *Config) {
		c.BatchSize = n
	}
}

// DefaultConfig returns a Config with sensible defaults for local OpenAI-compatible services.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingHost:  DefaultEmbeddingHost,
		EmbeddingModel: DefaultEmbeddingModel,
		BatchSize:      DefaultBatchSize,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithEmbeddingHost("https://api.openai.com"),
//	    WithEmbeddingModel("text-embedding-3-small"),
//	    WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// It automatically adds the /v1 suffix to the host if missing, which is required
// by most OpenAI-compatible APIs (Ollama, LocalAI, vLLM, etc).
func (c *Config) Normalize() {
	if c.EmbeddingHost != "" && !strings.HasSuffix(c.EmbeddingHost, "/v1") {
		// Remove trailing slash if present before adding /v1
		c.EmbeddingHost = strings.TrimSuffix(c.EmbeddingHost, "/")
		c.EmbeddingHost = c.EmbeddingHost + "/v1"
	}
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return fmt.Errorf("%w: ai config: EmbeddingHost is required", core.ErrConfiguration)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: ai config: EmbeddingModel is required", core.ErrConfiguration)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: ai config: BatchSize must be positive", core.ErrConfiguration)
	}
	return nil
}
