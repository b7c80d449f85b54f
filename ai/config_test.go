package ai

import (
	"testing"

	"github.com/poiesic/prepdocs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Empty(t, cfg.APIKey)
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()

		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://custom:8080/v1"),
			WithEmbeddingModel("text-embedding-3-small"),
			WithAPIKey("sk-test"),
			WithBatchSize(16),
		)

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "text-embedding-3-small", cfg.EmbeddingModel)
		assert.Equal(t, "sk-test", cfg.APIKey)
		assert.Equal(t, 16, cfg.BatchSize)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		expected string
	}{
		{"already has /v1", "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"missing /v1", "http://localhost:11434", "http://localhost:11434/v1"},
		{"has trailing slash", "http://localhost:11434/", "http://localhost:11434/v1"},
		{"empty host", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{EmbeddingHost: tt.host}
			cfg.Normalize()
			assert.Equal(t, tt.expected, cfg.EmbeddingHost)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := &Config{
			EmbeddingHost:  "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			BatchSize:      8,
		}

		require.NoError(t, cfg.Validate())
		// Should also normalize
		assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	})

	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"missing embedding host", Config{EmbeddingModel: "m", BatchSize: 1}, "EmbeddingHost"},
		{"missing embedding model", Config{EmbeddingHost: "http://h/v1", BatchSize: 1}, "EmbeddingModel"},
		{"zero batch size", Config{EmbeddingHost: "http://h/v1", EmbeddingModel: "m"}, "BatchSize"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfigValidate_Integration(t *testing.T) {
	require.NoError(t, NewConfig().Validate())
	require.NoError(t, DefaultConfig().Validate())
}
