package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/extract"
	"github.com/poiesic/prepdocs/sink"
	"github.com/poiesic/prepdocs/source"
	"github.com/poiesic/prepdocs/storage"
)

// Chunker packs extracted units into chunks.
type Chunker interface {
	Chunk(units []core.Unit) ([]core.Chunk, error)
}

// Fetcher downloads remote sources.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Pipeline runs sources through ledger, dispatcher, extractor, chunker and sink.
type Pipeline struct {
	ledger     storage.Ledger
	sink       sink.Sink
	chunker    Chunker
	dispatcher *extract.Dispatcher
	fetcher    Fetcher
	pool       *ants.Pool
	recreate   bool
	retry      RetryPolicy
	progress   io.Writer
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of sources processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		if p.pool != nil {
			p.pool.Release()
			p.pool = nil
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger != nil {
			p.logger = logger
		}
		return nil
	}
}

// WithDispatcher replaces the default dispatcher.
func WithDispatcher(d *extract.Dispatcher) Option {
	return func(p *Pipeline) error {
		if d == nil {
			return fmt.Errorf("%w: nil dispatcher", core.ErrConfiguration)
		}
		p.dispatcher = d
		return nil
	}
}

// WithFetcher replaces the default HTTP fetcher used for URL sources.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) error {
		if f == nil {
			return fmt.Errorf("%w: nil fetcher", core.ErrConfiguration)
		}
		p.fetcher = f
		return nil
	}
}

// WithRecreate makes the pipeline ignore recorded fingerprints and
// reprocess every source.
func WithRecreate(recreate bool) Option {
	return func(p *Pipeline) error {
		p.recreate = recreate
		return nil
	}
}

// WithRetry sets how often a failing sink call is attempted.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		policy := RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
		if err := policy.Validate(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrConfiguration, err)
		}
		p.retry = policy
		return nil
	}
}

// WithProgress writes a progress line to w as sources finish.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
		return nil
	}
}

// NewPipeline creates a pipeline. The caller keeps ownership of ledger and sink.
func NewPipeline(ledger storage.Ledger, s sink.Sink, chunker Chunker, opts ...Option) (*Pipeline, error) {
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if s == nil {
		return nil, ErrSinkRequired
	}
	if chunker == nil {
		return nil, ErrChunkerRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		ledger:  ledger,
		sink:    s,
		chunker: chunker,
		pool:    pool,
		retry:   DefaultRetryPolicy(),
		logger:  slog.Default().With("component", "pipeline"),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	if p.dispatcher == nil {
		if p.dispatcher, err = extract.NewDispatcher(extract.WithLogger(p.logger)); err != nil {
			p.Release()
			return nil, err
		}
	}
	if p.fetcher == nil {
		f, err := source.NewFetcher(source.WithFetchLogger(p.logger))
		if err != nil {
			p.Release()
			return nil, err
		}
		p.fetcher = f
	}

	return p, nil
}

// Run processes sources concurrently and waits for all of them.
// Per-source failures are recorded in the summary. When ctx is cancelled,
// sources not yet started fail with kind Canceled and the context error is
// returned together with the summary.
func (p *Pipeline) Run(ctx context.Context, sources []core.Source) (*Summary, error) {
	start := time.Now()
	results := make([]Result, len(sources))

	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, len(sources))
		tracker.Start()
	}
	record := func(i int, r Result) {
		results[i] = r
		if tracker != nil {
			tracker.Record(r.Status)
		}
	}

	var wg sync.WaitGroup
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			record(i, failed(src, err))
			continue
		}

		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			record(i, p.Process(ctx, src))
		})
		if err != nil {
			wg.Done()
			record(i, failed(src, fmt.Errorf("schedule %s: %w", src.ID, err)))
		}
	}
	wg.Wait()

	if tracker != nil {
		tracker.Finish()
	}

	summary := newSummary(results, time.Since(start))
	p.logger.Info("run complete", "summary", summary)
	return summary, ctx.Err()
}

// Process runs a single source to completion and returns its result.
func (p *Pipeline) Process(ctx context.Context, src core.Source) Result {
	start := time.Now()
	res := p.process(ctx, src)
	res.Duration = time.Since(start)

	switch res.Status {
	case StatusProcessed:
		p.logger.Info("processed source", "source", src.ID, "units", res.Units, "chunks", len(res.Chunks), "duration", res.Duration)
	case StatusSkipped:
		p.logger.Info("skipping unchanged source", "source", src.ID)
	default:
		p.logger.Warn("source failed", "source", src.ID, "kind", res.Kind, "err", res.Err)
	}
	return res
}

func (p *Pipeline) process(ctx context.Context, src core.Source) Result {
	if err := ctx.Err(); err != nil {
		return failed(src, err)
	}

	format, extractor, err := p.dispatcher.Dispatch(src)
	if err != nil {
		return failed(src, err)
	}
	p.logger.Debug("processing", "source", src.ID, "format", format)

	var (
		content []byte
		digest  core.Digest
	)
	if src.Remote {
		if content, err = p.fetcher.Fetch(ctx, src.URL); err != nil {
			return failed(src, err)
		}
		digest = core.FingerprintBytes(content)
	} else if digest, err = fingerprintFile(src.Path); err != nil {
		return failed(src, err)
	}

	unchanged, err := p.unchanged(ctx, src, digest)
	if err != nil {
		return failed(src, err)
	}
	if unchanged {
		return Result{Source: src, Status: StatusSkipped, Format: format, Digest: digest}
	}

	if content == nil {
		if content, err = os.ReadFile(src.Path); err != nil {
			return failed(src, fmt.Errorf("%w: %w", core.ErrSource, err))
		}
		// Commit what was actually extracted, even if the file changed since it was fingerprinted.
		digest = core.FingerprintBytes(content)
	}

	units, err := extractor.Extract(ctx, content, src.Name)
	if err != nil {
		if core.KindOf(err) == core.KindUnknown {
			err = fmt.Errorf("%w: %s: %w", core.ErrExtraction, src.Name, err)
		}
		return failed(src, err)
	}
	if err := core.ValidateUnits(units); err != nil {
		return failed(src, err)
	}

	chunks, err := p.chunker.Chunk(units)
	if err != nil {
		return failed(src, err)
	}

	err = RetryWithBackoff(ctx, p.logger, func() error {
		return p.sink.Add(ctx, src, chunks)
	}, p.retry.MaxAttempts, p.retry.BaseDelay)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", core.ErrSink, err)
		}
		return failed(src, err)
	}

	entry := core.LedgerEntry{SourceID: src.ID, Digest: digest, Units: len(units), Chunks: len(chunks)}
	if err := p.ledger.Commit(ctx, entry); err != nil {
		return failed(src, fmt.Errorf("%w: commit: %w", core.ErrLedger, err))
	}

	return Result{
		Source: src,
		Status: StatusProcessed,
		Format: format,
		Digest: digest,
		Chunks: chunks,
		Units:  len(units),
	}
}

// unchanged reports whether the ledger already holds digest for src.
// With recreate set the entry is forgotten instead.
func (p *Pipeline) unchanged(ctx context.Context, src core.Source, digest core.Digest) (bool, error) {
	if p.recreate {
		if err := p.ledger.Forget(ctx, src.ID); err != nil {
			return false, fmt.Errorf("%w: forget: %w", core.ErrLedger, err)
		}
		return false, nil
	}

	recorded, ok, err := p.ledger.Lookup(ctx, src.ID)
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %w", core.ErrLedger, err)
	}
	return ok && recorded == digest, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

func fingerprintFile(path string) (core.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Digest{}, fmt.Errorf("%w: %w", core.ErrSource, err)
	}
	defer f.Close()

	digest, err := core.Fingerprint(f)
	if err != nil {
		return core.Digest{}, fmt.Errorf("%w: %w", core.ErrSource, err)
	}
	return digest, nil
}
