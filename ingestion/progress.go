package ingestion

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker reports how many sources of a run have finished.
type ProgressTracker struct {
	writer    io.Writer
	total     int
	processed int
	skipped   int
	failed    int
	startTime time.Time
	started   bool
	mu        sync.Mutex
}

// NewProgressTracker creates a tracker for total sources writing to writer,
// typically os.Stderr.
func NewProgressTracker(writer io.Writer, total int) *ProgressTracker {
	return &ProgressTracker{
		writer: writer,
		total:  total,
	}
}

// Start begins tracking progress.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.processed, p.skipped, p.failed = 0, 0, 0
}

// Record counts one finished source and reports the new totals.
func (p *ProgressTracker) Record(status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	switch status {
	case StatusProcessed:
		p.processed++
	case StatusSkipped:
		p.skipped++
	default:
		p.failed++
	}
	p.report()
}

// Finish prints the final line followed by a newline.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.report()
	fmt.Fprintln(p.writer)
	p.started = false
}

// Elapsed returns the time elapsed since Start was called.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return 0
	}

	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressTracker) report() {
	done := p.processed + p.skipped + p.failed
	elapsed := time.Since(p.startTime)

	rate := 0.0
	if elapsed > 0 {
		rate = float64(done) / elapsed.Seconds()
	}

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(done) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rSources: %d/%d (%.1f%%) processed=%d skipped=%d failed=%d - %.1f sources/s",
		done, p.total, percentage, p.processed, p.skipped, p.failed, rate)
}
