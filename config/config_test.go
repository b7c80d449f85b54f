package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/prepdocs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prepdocs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 500, cfg.MaxTokensPerChunk)
	assert.Equal(t, "data/pdfs", cfg.SourceFolder)
	assert.Equal(t, []string{"pdf", "csv", "xls", "xlsx", "ppt", "pptx"}, cfg.AllowedExtensions)
	assert.False(t, cfg.Recreate)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, "cl100k_base", cfg.Encoding)
	assert.Equal(t, LedgerBadger, cfg.Ledger.Backend)
	assert.Equal(t, SinkChromem, cfg.Sink.Kind)
	assert.Equal(t, 60*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
max_tokens_per_chunk: 800
source_folder: /srv/docs
urls:
  - https://example.com/a.pdf
allowed_extensions: [pdf, CSV]
recreate: true
ledger:
  backend: sidecar
  path: /var/lib/prepdocs
sink:
  kind: jsonfile
  path: /tmp/chunks
fetch:
  timeout: 15s
  proxy: http://proxy:3128
retry:
  max_attempts: 5
  base_delay: 250ms
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.MaxTokensPerChunk)
	assert.Equal(t, "/srv/docs", cfg.SourceFolder)
	assert.Equal(t, []string{"https://example.com/a.pdf"}, cfg.URLs)
	assert.Equal(t, []string{".pdf", ".csv"}, cfg.Extensions())
	assert.True(t, cfg.Recreate)
	assert.Equal(t, LedgerSidecar, cfg.Ledger.Backend)
	assert.Equal(t, SinkJSONFile, cfg.Sink.Kind)
	assert.Equal(t, 15*time.Second, cfg.Fetch.Timeout)
	assert.Equal(t, "http://proxy:3128", cfg.Fetch.Proxy)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)

	// Untouched keys keep their defaults
	assert.Equal(t, "cl100k_base", cfg.Encoding)
	assert.Equal(t, DefaultCollection, cfg.Sink.Collection)
	assert.False(t, cfg.NeedsEmbedder())
	require.NoError(t, cfg.Validate())
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeConfig(t, "max_token: 10\n"))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, ""))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvDatabaseURL, "postgres://localhost/docs")
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvEmbeddingHost, "https://api.openai.com")
	t.Setenv(EnvEmbeddingModel, "")

	cfg := Default()
	cfg.ApplyEnv()

	assert.Equal(t, "postgres://localhost/docs", cfg.Sink.DatabaseURL)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "https://api.openai.com", cfg.Embedding.Host)
	assert.Equal(t, Default().Embedding.Model, cfg.Embedding.Model, "empty variables are ignored")

	aiCfg := cfg.AI()
	require.NoError(t, aiCfg.Validate())
	assert.Equal(t, "https://api.openai.com/v1", aiCfg.EmbeddingHost)
}

func TestNew(t *testing.T) {
	cfg := New(
		WithMaxTokens(200),
		WithSourceFolder("/docs"),
		WithURLs("https://example.com/x.pdf"),
		WithAllowedExtensions("pdf"),
		WithRecreate(true),
		WithWorkers(3),
		WithLedger(LedgerSidecar, "/state"),
		WithSink(SinkJSONFile, "/out"),
		WithEmbedding("http://embed:8080", "bge-small"),
	)

	assert.Equal(t, 200, cfg.MaxTokensPerChunk)
	assert.Equal(t, "/docs", cfg.SourceFolder)
	assert.Equal(t, []string{"https://example.com/x.pdf"}, cfg.URLs)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, "bge-small", cfg.Embedding.Model)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero max tokens", func(c *Config) { c.MaxTokensPerChunk = 0 }},
		{"negative max tokens", func(c *Config) { c.MaxTokensPerChunk = -5 }},
		{"no sources", func(c *Config) { c.SourceFolder = "" }},
		{"bad URL", func(c *Config) { c.URLs = []string{"ftp://example.com/a.pdf"} }},
		{"empty extensions", func(c *Config) { c.AllowedExtensions = nil }},
		{"unknown extension", func(c *Config) { c.AllowedExtensions = []string{"pdf", "txt"} }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"no encoding", func(c *Config) { c.Encoding = "" }},
		{"unknown ledger", func(c *Config) { c.Ledger.Backend = "sqlite" }},
		{"badger without path", func(c *Config) { c.Ledger.Path = "" }},
		{"sidecar URLs without state dir", func(c *Config) {
			c.Ledger.Backend, c.Ledger.Path = LedgerSidecar, ""
			c.URLs = []string{"https://example.com/a.pdf"}
		}},
		{"unknown sink", func(c *Config) { c.Sink.Kind = "qdrant" }},
		{"pgvector without DSN", func(c *Config) { c.Sink.Kind = SinkPgvector }},
		{"pgvector without dimensions", func(c *Config) {
			c.Sink.Kind = SinkPgvector
			c.Sink.DatabaseURL = "postgres://x"
			c.Sink.Dimensions = 0
		}},
		{"jsonfile without path", func(c *Config) { c.Sink.Kind, c.Sink.Path = SinkJSONFile, "" }},
		{"no embedding model", func(c *Config) { c.Embedding.Model = "" }},
		{"zero fetch timeout", func(c *Config) { c.Fetch.Timeout = 0 }},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), core.ErrConfiguration)
		})
	}

	t.Run("jsonfile needs no embedder", func(t *testing.T) {
		cfg := New(WithSink(SinkJSONFile, "/out"))
		cfg.Embedding.Model = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestFolder(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.Equal(t, DefaultSourceFolder, Default().Folder(), "no URLs keeps the default")
	assert.Empty(t, New(WithURLs("https://example.com/a.pdf")).Folder(), "missing default is dropped for URL runs")

	explicit := New(WithSourceFolder("docs"), WithURLs("https://example.com/a.pdf"))
	assert.Equal(t, "docs", explicit.Folder(), "an explicit folder is always enumerated")

	require.NoError(t, os.MkdirAll(DefaultSourceFolder, 0755))
	assert.Equal(t, DefaultSourceFolder, New(WithURLs("https://example.com/a.pdf")).Folder(),
		"an existing default folder is still used")
}
