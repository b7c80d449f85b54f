package ingestion

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/prepdocs/core"
)

// Status is the outcome of one source in a run.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped-unchanged"
	StatusFailed    Status = "failed"
)

// Result describes what happened to one source.
type Result struct {
	Source   core.Source
	Status   Status
	Format   core.Format
	Digest   core.Digest  // Set when the source was processed or skipped
	Chunks   []core.Chunk // Set when the source was processed
	Units    int
	Kind     core.ErrorKind // Set when the source failed
	Err      error
	Duration time.Duration
}

// Reason returns the failure message, or an empty string.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func failed(src core.Source, err error) Result {
	return Result{Source: src, Status: StatusFailed, Kind: core.KindOf(err), Err: err}
}

// Summary is the outcome of a run. Results are in input order.
type Summary struct {
	Results   []Result
	Processed int
	Skipped   int
	Failed    int
	Duration  time.Duration
}

func newSummary(results []Result, elapsed time.Duration) *Summary {
	s := &Summary{Results: results, Duration: elapsed}
	for _, r := range results {
		switch r.Status {
		case StatusProcessed:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// Failures returns the failed results in input order.
func (s *Summary) Failures() []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}

// ByKind returns the failed results of one error kind.
func (s *Summary) ByKind(kind core.ErrorKind) []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Status == StatusFailed && r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Result returns the result for a source ID.
func (s *Summary) Result(sourceID string) (Result, bool) {
	for _, r := range s.Results {
		if r.Source.ID == sourceID {
			return r, true
		}
	}
	return Result{}, false
}

// String renders the one-line counts.
func (s *Summary) String() string {
	return fmt.Sprintf("%d processed, %d skipped, %d failed in %s",
		s.Processed, s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
}

// LogValue implements slog.LogValuer.
func (s *Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("processed", s.Processed),
		slog.Int("skipped", s.Skipped),
		slog.Int("failed", s.Failed),
		slog.Duration("duration", s.Duration),
	)
}
