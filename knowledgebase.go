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


package prepdocs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/prepdocs/ai"
	"github.com/poiesic/prepdocs/ai/openai"
	"github.com/poiesic/prepdocs/chunker"
	"github.com/poiesic/prepdocs/config"
	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/extract"
	"github.com/poiesic/prepdocs/ingestion"
	"github.com/poiesic/prepdocs/sink"
	"github.com/poiesic/prepdocs/sink/chromem"
	"github.com/poiesic/prepdocs/sink/jsonfile"
	"github.com/poiesic/prepdocs/sink/pgvector"
	"github.com/poiesic/prepdocs/source"
	"github.com/poiesic/prepdocs/storage"
	"github.com/poiesic/prepdocs/storage/badger"
	"github.com/poiesic/prepdocs/storage/sidecar"
)

// connectTimeout bounds opening a remote sink.
const connectTimeout = 30 * time.Second

// KnowledgeBase wires a ledger, a sink and the ingestion pipeline from a Config.
type KnowledgeBase struct {
	cfg        *config.Config
	ledger     storage.Ledger
	ownsLedger bool
	sink       sink.Sink
	ownsSink   bool
	pipeline   *ingestion.Pipeline
	logger     *slog.Logger
}

// Option configures a KnowledgeBase.
type Option func(*options)

type options struct {
	ledger    storage.Ledger
	sink      sink.Sink
	embedder  ai.Embedder
	tokenizer chunker.Tokenizer
	logger    *slog.Logger
	progress  io.Writer
}

// WithLedger uses ledger instead of the configured backend. The caller keeps
// ownership of it.
func WithLedger(ledger storage.Ledger) Option {
	return func(o *options) { o.ledger = ledger }
}

// WithSink uses s instead of the configured sink. The caller keeps ownership of it.
func WithSink(s sink.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithEmbedder uses embedder for vector sinks instead of the configured service.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}

// WithTokenizer replaces the tiktoken tokenizer.
func WithTokenizer(t chunker.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProgress writes a progress line to w during Ingest.
func WithProgress(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// Open validates cfg and builds every collaborator it names. A nil cfg means
// config.Default().
func Open(cfg *config.Config, opts ...Option) (*KnowledgeBase, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	kb := &KnowledgeBase{
		cfg:    cfg,
		logger: o.logger.With("component", "knowledgebase"),
	}

	tokenizer := o.tokenizer
	if tokenizer == nil {
		t, err := chunker.NewTiktoken(cfg.Encoding)
		if err != nil {
			return nil, err
		}
		tokenizer = t
	}
	c, err := chunker.New(tokenizer,
		chunker.WithMaxTokens(cfg.MaxTokensPerChunk),
		chunker.WithLogger(o.logger.With("component", "chunker")))
	if err != nil {
		return nil, err
	}

	dispatcher, err := extract.NewDispatcher(
		extract.WithAllowedExtensions(cfg.Extensions()...),
		extract.WithLogger(o.logger.With("component", "extract")))
	if err != nil {
		return nil, err
	}

	fetcher, err := source.NewFetcher(
		source.WithTimeout(cfg.Fetch.Timeout),
		source.WithProxy(cfg.Fetch.Proxy),
		source.WithMaxBytes(cfg.Fetch.MaxBytes),
		source.WithFetchLogger(o.logger.With("component", "fetch")))
	if err != nil {
		return nil, err
	}

	kb.ledger = o.ledger
	if kb.ledger == nil {
		if kb.ledger, err = openLedger(cfg); err != nil {
			return nil, err
		}
		kb.ownsLedger = true
	}

	kb.sink = o.sink
	if kb.sink == nil {
		if kb.sink, err = openSink(cfg, o.embedder, o.logger); err != nil {
			kb.Close()
			return nil, err
		}
		kb.ownsSink = true
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithPoolSize(cfg.Workers),
		ingestion.WithLogger(o.logger.With("component", "pipeline")),
		ingestion.WithDispatcher(dispatcher),
		ingestion.WithFetcher(fetcher),
		ingestion.WithRecreate(cfg.Recreate),
		ingestion.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay),
	}
	if o.progress != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithProgress(o.progress))
	}
	if kb.pipeline, err = ingestion.NewPipeline(kb.ledger, kb.sink, c, pipelineOpts...); err != nil {
		kb.Close()
		return nil, err
	}

	return kb, nil
}

func openLedger(cfg *config.Config) (storage.Ledger, error) {
	switch cfg.Ledger.Backend {
	case config.LedgerSidecar:
		return sidecar.NewLedger(cfg.Ledger.Path, sidecar.WithFolder(cfg.Folder()))
	default:
		return badger.OpenLedger(cfg.Ledger.Path)
	}
}

func openSink(cfg *config.Config, embedder ai.Embedder, logger *slog.Logger) (sink.Sink, error) {
	if cfg.Sink.Kind == config.SinkJSONFile {
		return jsonfile.New(cfg.Sink.Path, logger.With("component", "jsonfile-sink"))
	}

	if embedder == nil {
		var err error
		if embedder, err = openai.NewEmbedder(cfg.AI()); err != nil {
			return nil, err
		}
	}

	switch cfg.Sink.Kind {
	case config.SinkPgvector:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		return pgvector.Open(ctx, cfg.Sink.DatabaseURL, cfg.Sink.Collection, cfg.Sink.Dimensions, embedder,
			pgvector.WithLogger(logger.With("component", "pgvector-sink")))
	default:
		return chromem.Open(cfg.Sink.Path, cfg.Sink.Collection, embedder,
			chromem.WithLogger(logger.With("component", "chromem-sink")))
	}
}

// Sources enumerates the configured folder and URLs. Hidden files and
// sidecar fingerprint files are left out.
func (kb *KnowledgeBase) Sources() ([]core.Source, error) {
	var sources []core.Source
	if folder := kb.cfg.Folder(); folder != "" {
		files, err := source.Enumerate(folder,
			source.WithSkip(source.IsHidden),
			source.WithSkip(sidecar.IsSidecar))
		if err != nil {
			return nil, err
		}
		sources = append(sources, files...)
	}
	urls, err := source.FromURLs(kb.cfg.URLs)
	if err != nil {
		return nil, err
	}
	return append(sources, urls...), nil
}

// Ingest runs every configured source through the pipeline. With recreate
// set, a sink that supports it is emptied first and the ledger is cleared, so
// no source can be skipped against chunks that no longer exist.
func (kb *KnowledgeBase) Ingest(ctx context.Context) (*ingestion.Summary, error) {
	sources, err := kb.Sources()
	if err != nil {
		return nil, err
	}

	if kb.cfg.Recreate {
		if r, ok := kb.sink.(sink.Resetter); ok {
			if err := r.Reset(ctx); err != nil {
				return nil, fmt.Errorf("%w: reset: %w", core.ErrSink, err)
			}
			kb.logger.Info("sink reset")
		}
		if err := kb.resetLedger(ctx, sources); err != nil {
			return nil, fmt.Errorf("%w: reset: %w", core.ErrLedger, err)
		}
	}

	kb.logger.Info("ingesting", "sources", len(sources), "max_tokens", kb.cfg.MaxTokensPerChunk)
	return kb.pipeline.Run(ctx, sources)
}

// resetLedger forgets every entry the ledger can reach: all of them when it
// supports Reset or listing, and always the sources of this run.
func (kb *KnowledgeBase) resetLedger(ctx context.Context, sources []core.Source) error {
	switch l := kb.ledger.(type) {
	case storage.Resetter:
		if err := l.Reset(ctx); err != nil {
			return err
		}
	case storage.Lister:
		entries, err := l.Entries(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := kb.ledger.Forget(ctx, e.SourceID); err != nil {
				return err
			}
		}
	}
	for _, src := range sources {
		if err := kb.ledger.Forget(ctx, src.ID); err != nil {
			return err
		}
	}
	kb.logger.Info("ledger reset")
	return nil
}

// Config returns the configuration the knowledge base was opened with.
func (kb *KnowledgeBase) Config() *config.Config {
	return kb.cfg
}

// Ledger returns the fingerprint ledger.
func (kb *KnowledgeBase) Ledger() storage.Ledger {
	return kb.ledger
}

// Sink returns the sink chunks are written to.
func (kb *KnowledgeBase) Sink() sink.Sink {
	return kb.sink
}

// Close releases the pipeline and closes the ledger and sink it opened.
func (kb *KnowledgeBase) Close() error {
	if kb.pipeline != nil {
		kb.pipeline.Release()
	}

	var firstErr error
	if kb.ownsSink {
		if closer, ok := kb.sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				kb.logger.Error("error closing sink", "err", err)
				firstErr = err
			}
		}
	}
	if kb.ownsLedger && kb.ledger != nil {
		if err := kb.ledger.Close(); err != nil {
			kb.logger.Error("error closing ledger", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
