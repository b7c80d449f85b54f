package sink

import (
	"testing"

	"github.com/google/uuid"
	"github.com/poiesic/prepdocs/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunks() []core.Chunk {
	unit := func(n int, content string) core.Unit {
		return core.Unit{
			Ordinal:  n,
			Content:  content,
			Metadata: core.Metadata{FileName: "rows.csv", FileType: "csv", RowOrdinal: n},
		}
	}
	return []core.Chunk{
		{Index: 0, Units: []core.Unit{unit(1, "a"), unit(2, "b")}, Tokens: 20},
		{Index: 1, Units: []core.Unit{unit(3, "c")}, Tokens: 9},
	}
}

func TestDocumentID(t *testing.T) {
	id := DocumentID("/data/rows.csv", 0)
	_, err := uuid.Parse(id)
	require.NoError(t, err)

	assert.Equal(t, id, DocumentID("/data/rows.csv", 0))
	assert.NotEqual(t, id, DocumentID("/data/rows.csv", 1))
	assert.NotEqual(t, id, DocumentID("/data/other.csv", 0))
}

func TestDocuments(t *testing.T) {
	src := core.NewFileSource("/data/rows.csv")
	docs := Documents(src, testChunks())
	require.Len(t, docs, 2)

	assert.Equal(t, "a\n\nb", docs[0].Content)
	assert.Equal(t, src.ID, docs[0].Source)
	assert.Equal(t, "1", docs[0].Metadata["chunk_number"])
	assert.Equal(t, "2", docs[1].Metadata["chunk_number"])
	assert.Equal(t, "2", docs[1].Metadata["total_chunks"])
	assert.Equal(t, []string{"a\n\nb", "c"}, Texts(docs))
}

func TestCheckEmbeddings(t *testing.T) {
	docs := Documents(core.NewFileSource("/data/rows.csv"), testChunks())

	assert.NoError(t, CheckEmbeddings(docs, [][]float32{{1}, {2}}))
	assert.ErrorIs(t, CheckEmbeddings(docs, [][]float32{{1}}), ErrEmbeddingCount)
	assert.ErrorIs(t, CheckEmbeddings(docs, [][]float32{{1}, {}}), ErrEmbeddingCount)
}
