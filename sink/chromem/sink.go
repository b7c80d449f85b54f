// Package chromem stores chunk embeddings in an embedded chromem-go database.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/prepdocs/ai"
	"github.com/poiesic/prepdocs/core"
	"github.com/poiesic/prepdocs/sink"
)

// Sink writes chunks into a chromem collection. Each source's documents are
// tagged with its ID in the "source" metadata key and replaced on every Add.
type Sink struct {
	db          *chromem.DB
	collection  *chromem.Collection
	name        string
	embedder    ai.Embedder
	concurrency int
	logger      *slog.Logger

	// chromem collections are not safe for concurrent delete and add.
	mu sync.Mutex
}

var (
	_ sink.Sink     = (*Sink)(nil)
	_ sink.Resetter = (*Sink)(nil)
)

// Option configures a Sink.
type Option func(*Sink) error

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithConcurrency sets how many goroutines chromem uses to add documents.
// Default is runtime.NumCPU().
func WithConcurrency(n int) Option {
	return func(s *Sink) error {
		if n < 1 {
			n = 1
		}
		s.concurrency = n
		return nil
	}
}

// Open opens a persistent database at path, or an in-memory one when path is
// empty, and returns a sink on the named collection.
func Open(path, collection string, embedder ai.Embedder, opts ...Option) (*Sink, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("open vector store %s: %w", path, err)
		}
	}
	return New(db, collection, embedder, opts...)
}

// New returns a sink on a collection of an open database.
func New(db *chromem.DB, collection string, embedder ai.Embedder, opts ...Option) (*Sink, error) {
	if embedder == nil {
		return nil, sink.ErrEmbedderRequired
	}
	if collection == "" {
		return nil, fmt.Errorf("%w: collection name is required", core.ErrConfiguration)
	}

	s := &Sink{
		db:          db,
		name:        collection,
		embedder:    embedder,
		concurrency: runtime.NumCPU(),
		logger:      slog.Default().With("component", "chromem-sink"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	coll, err := db.GetOrCreateCollection(collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, err
	}
	s.collection = coll
	return s, nil
}

// embeddingFunc lets chromem embed query text with the same embedder used
// for documents.
func (s *Sink) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedText(ctx, text)
	}
}

// Add embeds all chunks in one batch, then swaps the source's documents.
// Embedding happens before anything is deleted, so a failed embedding leaves
// the previous documents in place.
func (s *Sink) Add(ctx context.Context, src core.Source, chunks []core.Chunk) error {
	docs := sink.Documents(src, chunks)

	var vectors [][]float32
	if len(docs) > 0 {
		var err error
		vectors, err = s.embedder.EmbedTexts(ctx, sink.Texts(docs))
		if err != nil {
			return fmt.Errorf("embed %s: %w", src.Name, err)
		}
		if err := sink.CheckEmbeddings(docs, vectors); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.collection.Delete(ctx, map[string]string{"source": src.ID}, nil); err != nil {
		return fmt.Errorf("delete previous documents of %s: %w", src.Name, err)
	}
	if len(docs) == 0 {
		return nil
	}

	documents := make([]chromem.Document, len(docs))
	for i, d := range docs {
		documents[i] = chromem.Document{
			ID:        d.ID,
			Metadata:  d.Metadata,
			Embedding: vectors[i],
			Content:   d.Content,
		}
	}
	if err := s.collection.AddDocuments(ctx, documents, s.concurrency); err != nil {
		return fmt.Errorf("add documents of %s: %w", src.Name, err)
	}

	s.logger.Debug("stored chunks", "source", src.ID, "documents", len(documents))
	return nil
}

// Reset drops the collection and recreates it empty.
func (s *Sink) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(s.name); err != nil {
		return err
	}
	coll, err := s.db.GetOrCreateCollection(s.name, nil, s.embeddingFunc())
	if err != nil {
		return err
	}
	s.collection = coll
	s.logger.Info("vector collection reset", "collection", s.name)
	return nil
}

// Count returns the number of stored documents.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collection.Count()
}

// Query returns the n documents closest to text, optionally filtered by
// metadata.
func (s *Sink) Query(ctx context.Context, text string, n int, where map[string]string) ([]chromem.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count := s.collection.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}
	return s.collection.Query(ctx, text, n, where, nil)
}
