// Package sink defines where chunks go once a source has been chunked.
//
// Implementations live in sub-packages: chromem (embedded vector store),
// pgvector (PostgreSQL) and jsonfile (chunk dumps for inspection). The
// pipeline only sees the Sink interface.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/poiesic/prepdocs/core"
)

// Sink receives every chunk of a source in one call. A successful Add
// replaces whatever the sink held for that source before.
type Sink interface {
	Add(ctx context.Context, src core.Source, chunks []core.Chunk) error
}

// Resetter is implemented by sinks that can drop all stored chunks.
type Resetter interface {
	Reset(ctx context.Context) error
}

var (
	// ErrEmbeddingCount indicates the embedder returned the wrong number of vectors.
	ErrEmbeddingCount = errors.New("embedding count mismatch")

	// ErrEmbedderRequired indicates a vector sink was built without an embedder.
	ErrEmbedderRequired = errors.New("embedder is required")
)

// Document is a chunk flattened for storage.
type Document struct {
	ID       string
	Source   string
	Content  string
	Metadata map[string]string
}

// idNamespace scopes document IDs so they never collide with other UUIDv5 users.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/poiesic/prepdocs/chunk"))

// DocumentID returns a stable ID for a chunk of a source.
func DocumentID(sourceID string, index int) string {
	return uuid.NewSHA1(idNamespace, []byte(sourceID+"#"+strconv.Itoa(index))).String()
}

// Documents flattens chunks into documents in chunk order.
func Documents(src core.Source, chunks []core.Chunk) []Document {
	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		docs[i] = Document{
			ID:       DocumentID(src.ID, c.Index),
			Source:   src.ID,
			Content:  c.Text(),
			Metadata: c.Metadata(src, len(chunks)),
		}
	}
	return docs
}

// Texts returns the contents of docs in order.
func Texts(docs []Document) []string {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	return texts
}

// CheckEmbeddings verifies one vector per document.
func CheckEmbeddings(docs []Document, vectors [][]float32) error {
	if len(vectors) != len(docs) {
		return fmt.Errorf("%w: %d vectors for %d chunks", ErrEmbeddingCount, len(vectors), len(docs))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector for chunk %d", ErrEmbeddingCount, i)
		}
	}
	return nil
}
