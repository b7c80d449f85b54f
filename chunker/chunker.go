// Package chunker packs extracted units into token-bounded chunks.
package chunker

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/prepdocs/core"
)

// DefaultMaxTokens is the chunk budget used when none is configured.
const DefaultMaxTokens = 500

// ErrTokenizerRequired is returned when New is called without a tokenizer.
var ErrTokenizerRequired = errors.New("tokenizer is required")

// Chunker groups consecutive units so that each chunk stays within a token
// budget. A Chunker is safe for concurrent use if its Tokenizer is.
type Chunker struct {
	tokenizer Tokenizer
	maxTokens int
	logger    *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMaxTokens sets the per-chunk token budget.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) error {
		if err := core.ValidateMaxTokens(n); err != nil {
			return err
		}
		c.maxTokens = n
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// New creates a chunker.
func New(tokenizer Tokenizer, opts ...Option) (*Chunker, error) {
	if tokenizer == nil {
		return nil, ErrTokenizerRequired
	}
	c := &Chunker{
		tokenizer: tokenizer,
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default().With("component", "chunker"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MaxTokens returns the configured budget.
func (c *Chunker) MaxTokens() int {
	return c.maxTokens
}

// Count returns the token count of a unit's canonical form.
func (c *Chunker) Count(u core.Unit) (int, error) {
	canonical, err := u.Canonical()
	if err != nil {
		return 0, fmt.Errorf("%w: encode unit %d: %w", core.ErrExtraction, u.Ordinal, err)
	}
	return c.tokenizer.Count(canonical), nil
}

// Chunk packs units greedily in one pass. The open chunk is closed when it is
// non-empty and the next unit would push it over budget. A unit larger than
// the budget is placed alone in its own chunk.
func (c *Chunker) Chunk(units []core.Unit) ([]core.Chunk, error) {
	var (
		chunks  []core.Chunk
		open    []core.Unit
		running int
	)

	flush := func() {
		chunks = append(chunks, core.Chunk{
			Index:  len(chunks),
			Units:  open,
			Tokens: running,
		})
		open = nil
		running = 0
	}

	for _, u := range units {
		tokens, err := c.Count(u)
		if err != nil {
			return nil, err
		}
		if len(open) > 0 && running+tokens > c.maxTokens {
			flush()
		}
		if tokens > c.maxTokens {
			c.logger.Warn("unit exceeds token budget",
				"file", u.Metadata.FileName,
				"ordinal", u.Ordinal,
				"tokens", tokens,
				"max_tokens", c.maxTokens)
		}
		open = append(open, u)
		running += tokens
	}
	if len(open) > 0 {
		flush()
	}

	if err := core.ValidateChunks(units, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}
