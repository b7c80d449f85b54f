// Package jsonfile writes chunks as indented JSON files for inspection.
// It needs no embedder and is used for dry runs.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/sink"
)

// chunkFile matches dump files and captures the per-source stem.
var chunkFile = regexp.MustCompile(`^(.+)_chunk_\d+\.json$`)

// Sink writes <stem>_chunk_<n>.json files into a directory, where the stem is
// the source name followed by a short hash of the source ID.
type Sink struct {
	dir    string
	logger *slog.Logger
}

var (
	_ sink.Sink     = (*Sink)(nil)
	_ sink.Resetter = (*Sink)(nil)
)

// Record is the on-disk form of one chunk.
type Record struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Tokens   int               `json:"tokens"`
	Metadata map[string]string `json:"metadata"`
	Units    []RecordUnit      `json:"units"`
}

// RecordUnit is one unit inside a Record.
type RecordUnit struct {
	Ordinal  int           `json:"ordinal"`
	Content  string        `json:"content"`
	Metadata core.Metadata `json:"metadata"`
}

// New returns a sink writing into dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Sink, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: output directory is required", core.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default().With("component", "jsonfile-sink")
	}
	return &Sink{dir: dir, logger: logger}, nil
}

// Dir returns the output directory.
func (s *Sink) Dir() string {
	return s.dir
}

// Stem returns the file name prefix shared by a source's dump files. Sources
// with the same base name get different stems.
func Stem(src core.Source) string {
	return src.Name + "-" + core.FingerprintBytes([]byte(src.ID)).String()[:12]
}

// FileName returns the dump file name for chunk index of a source.
func FileName(src core.Source, index int) string {
	return fmt.Sprintf("%s_chunk_%d.json", Stem(src), index)
}

// Add replaces the source's dump files with one file per chunk.
func (s *Sink) Add(ctx context.Context, src core.Source, chunks []core.Chunk) error {
	if err := s.remove(Stem(src)); err != nil {
		return err
	}

	docs := sink.Documents(src, chunks)
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := Record{
			ID:       docs[i].ID,
			Source:   src.ID,
			Tokens:   c.Tokens,
			Metadata: docs[i].Metadata,
			Units:    make([]RecordUnit, len(c.Units)),
		}
		for j, u := range c.Units {
			rec.Units[j] = RecordUnit{Ordinal: u.Ordinal, Content: u.Content, Metadata: u.Metadata}
		}

		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(s.dir, FileName(src, c.Index)), data, 0644); err != nil {
			return err
		}
	}
	s.logger.Debug("wrote chunk files", "source", src.ID, "files", len(chunks))
	return nil
}

// Reset deletes every dump file in the directory.
func (s *Sink) Reset(ctx context.Context) error {
	return s.remove("")
}

// remove deletes dump files with the given stem, or all dump files when stem is empty.
func (s *Sink) remove(stem string) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := chunkFile.FindStringSubmatch(e.Name())
		if m == nil || (stem != "" && m[1] != stem) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// ReadRecord loads a dump file.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &rec, nil
}
