// Package config holds the settings of an ingestion run.
//
// A Config starts from Default, is optionally overlaid with a YAML file and
// environment variables, and is validated once before any work starts.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/prepdocs/ai"
	"github.com/poiesic/prepdocs/chunker"
	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/extract"
	"github.com/poiesic/prepdocs/ingestion"
	"github.com/poiesic/prepdocs/source"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultMaxTokens    = chunker.DefaultMaxTokens
	DefaultSourceFolder = "data/pdfs"
	DefaultLedgerPath   = ".prepdocs/ledger"
	DefaultSinkPath     = ".prepdocs/vectors"
	DefaultCollection   = "documents"
	DefaultDimensions   = 768
)

// Ledger backends.
const (
	LedgerBadger  = "badger"
	LedgerSidecar = "sidecar"
)

// Sink kinds.
const (
	SinkChromem  = "chromem"
	SinkPgvector = "pgvector"
	SinkJSONFile = "jsonfile"
)

// Environment variables read by ApplyEnv.
const (
	EnvDatabaseURL    = "DATABASE_URL"
	EnvAPIKey         = "OPENAI_API_KEY"
	EnvEmbeddingHost  = "EMBEDDING_HOST"
	EnvEmbeddingModel = "EMBEDDING_MODEL"
)

// Config is the full set of run settings.
type Config struct {
	MaxTokensPerChunk int      `yaml:"max_tokens_per_chunk"`
	SourceFolder      string   `yaml:"source_folder"`
	URLs              []string `yaml:"urls"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	Recreate          bool     `yaml:"recreate"`
	Workers           int      `yaml:"workers"`
	Encoding          string   `yaml:"encoding"`

	Ledger    LedgerConfig    `yaml:"ledger"`
	Sink      SinkConfig      `yaml:"sink"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Retry     RetryConfig     `yaml:"retry"`
}

// LedgerConfig selects where fingerprints are kept.
type LedgerConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"` // badger directory or sidecar state directory
}

// SinkConfig selects where chunks go.
type SinkConfig struct {
	Kind        string `yaml:"kind"`
	Path        string `yaml:"path"`       // chromem directory or jsonfile output directory
	Collection  string `yaml:"collection"` // chromem collection or pgvector table
	DatabaseURL string `yaml:"database_url"`
	Dimensions  int    `yaml:"dimensions"`
}

// EmbeddingConfig mirrors ai.Config.
type EmbeddingConfig struct {
	Host      string `yaml:"host"`
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BatchSize int    `yaml:"batch_size"`
}

// FetchConfig controls URL downloads.
type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Proxy    string        `yaml:"proxy"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// RetryConfig controls sink retries.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Option modifies a Config.
type Option func(*Config)

// WithMaxTokens sets the chunk token budget.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokensPerChunk = n }
}

// WithSourceFolder sets the folder or single file to ingest.
func WithSourceFolder(path string) Option {
	return func(c *Config) { c.SourceFolder = path }
}

// WithURLs adds URL sources.
func WithURLs(urls ...string) Option {
	return func(c *Config) { c.URLs = append(c.URLs, urls...) }
}

// WithAllowedExtensions replaces the extension allow-list.
func WithAllowedExtensions(exts ...string) Option {
	return func(c *Config) { c.AllowedExtensions = exts }
}

// WithRecreate ignores recorded fingerprints and resets the sink.
func WithRecreate(recreate bool) Option {
	return func(c *Config) { c.Recreate = recreate }
}

// WithWorkers sets the number of sources processed concurrently.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithLedger selects the ledger backend and its path.
func WithLedger(backend, path string) Option {
	return func(c *Config) {
		c.Ledger.Backend = backend
		c.Ledger.Path = path
	}
}

// WithSink selects the sink kind and its path.
func WithSink(kind, path string) Option {
	return func(c *Config) {
		c.Sink.Kind = kind
		c.Sink.Path = path
	}
}

// WithEmbedding sets the embedding service host and model.
func WithEmbedding(host, model string) Option {
	return func(c *Config) {
		c.Embedding.Host = host
		c.Embedding.Model = model
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	exts := make([]string, len(extract.DefaultExtensions))
	for i, ext := range extract.DefaultExtensions {
		exts[i] = strings.TrimPrefix(ext, ".")
	}
	aiDefaults := ai.DefaultConfig()

	return &Config{
		MaxTokensPerChunk: DefaultMaxTokens,
		SourceFolder:      DefaultSourceFolder,
		AllowedExtensions: exts,
		Workers:           workers,
		Encoding:          chunker.DefaultEncoding,
		Ledger: LedgerConfig{
			Backend: LedgerBadger,
			Path:    DefaultLedgerPath,
		},
		Sink: SinkConfig{
			Kind:       SinkChromem,
			Path:       DefaultSinkPath,
			Collection: DefaultCollection,
			Dimensions: DefaultDimensions,
		},
		Embedding: EmbeddingConfig{
			Host:      aiDefaults.EmbeddingHost,
			Model:     aiDefaults.EmbeddingModel,
			BatchSize: aiDefaults.BatchSize,
		},
		Fetch: FetchConfig{
			Timeout:  source.DefaultFetchTimeout,
			MaxBytes: source.DefaultMaxBytes,
		},
		Retry: RetryConfig{
			MaxAttempts: ingestion.DefaultMaxAttempts,
			BaseDelay:   ingestion.DefaultBaseDelay,
		},
	}
}

// New returns the defaults with opts applied.
func New(opts ...Option) *Config {
	cfg := Default()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrConfiguration, path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides settings with any of the recognized environment
// variables that are set.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvDatabaseURL); ok && v != "" {
		c.Sink.DatabaseURL = v
	}
	if v, ok := os.LookupEnv(EnvAPIKey); ok && v != "" {
		c.Embedding.APIKey = v
	}
	if v, ok := os.LookupEnv(EnvEmbeddingHost); ok && v != "" {
		c.Embedding.Host = v
	}
	if v, ok := os.LookupEnv(EnvEmbeddingModel); ok && v != "" {
		c.Embedding.Model = v
	}
}

// AI returns the embedding settings as an ai.Config.
func (c *Config) AI() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Embedding.Host),
		ai.WithEmbeddingModel(c.Embedding.Model),
		ai.WithAPIKey(c.Embedding.APIKey),
		ai.WithBatchSize(c.Embedding.BatchSize),
	)
}

// NeedsEmbedder reports whether the configured sink embeds chunks.
func (c *Config) NeedsEmbedder() bool {
	return c.Sink.Kind != SinkJSONFile
}

// Folder returns the folder to enumerate, or "" when there is none. The
// built-in default folder is dropped when URLs are configured and it does not
// exist, so URL-only runs need no local folder.
func (c *Config) Folder() string {
	if c.SourceFolder == DefaultSourceFolder && len(c.URLs) > 0 {
		if _, err := os.Stat(c.SourceFolder); err != nil {
			return ""
		}
	}
	return c.SourceFolder
}

// Extensions returns the allow-list with leading dots.
func (c *Config) Extensions() []string {
	exts := make([]string, len(c.AllowedExtensions))
	for i, ext := range c.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[i] = ext
	}
	return exts
}

// Validate checks every setting. Errors wrap core.ErrConfiguration.
func (c *Config) Validate() error {
	if err := core.ValidateMaxTokens(c.MaxTokensPerChunk); err != nil {
		return err
	}
	if c.SourceFolder == "" && len(c.URLs) == 0 {
		return invalid("a source folder or at least one URL is required")
	}
	if _, err := source.FromURLs(c.URLs); err != nil {
		return err
	}
	if len(c.AllowedExtensions) == 0 {
		return invalid("allowed extensions must not be empty")
	}
	for _, ext := range c.Extensions() {
		if !slices.Contains(extract.DefaultExtensions, ext) {
			return invalid("unsupported extension %q", ext)
		}
	}
	if c.Workers < 1 {
		return invalid("workers must be positive, got %d", c.Workers)
	}
	if c.Encoding == "" {
		return invalid("encoding is required")
	}

	switch c.Ledger.Backend {
	case LedgerBadger:
		if c.Ledger.Path == "" {
			return invalid("ledger path is required for the badger backend")
		}
	case LedgerSidecar:
		if c.Ledger.Path == "" && len(c.URLs) > 0 {
			return invalid("ledger path is required for URL sources with the sidecar backend")
		}
	default:
		return invalid("unknown ledger backend %q", c.Ledger.Backend)
	}

	switch c.Sink.Kind {
	case SinkChromem:
		if c.Sink.Collection == "" {
			return invalid("sink collection is required")
		}
	case SinkPgvector:
		if c.Sink.DatabaseURL == "" {
			return invalid("sink database URL is required for pgvector (set %s)", EnvDatabaseURL)
		}
		if c.Sink.Collection == "" {
			return invalid("sink collection is required")
		}
		if c.Sink.Dimensions < 1 {
			return invalid("sink dimensions must be positive, got %d", c.Sink.Dimensions)
		}
	case SinkJSONFile:
		if c.Sink.Path == "" {
			return invalid("sink path is required for jsonfile output")
		}
	default:
		return invalid("unknown sink kind %q", c.Sink.Kind)
	}

	if c.NeedsEmbedder() {
		if err := c.AI().Validate(); err != nil {
			return err
		}
	}

	if c.Fetch.Timeout <= 0 {
		return invalid("fetch timeout must be positive")
	}
	if c.Fetch.MaxBytes <= 0 {
		return invalid("fetch max bytes must be positive")
	}
	if err := (ingestion.RetryPolicy{MaxAttempts: c.Retry.MaxAttempts, BaseDelay: c.Retry.BaseDelay}).Validate(); err != nil {
		return fmt.Errorf("%w: retry: %w", core.ErrConfiguration, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfiguration, fmt.Sprintf(format, args...))
}
