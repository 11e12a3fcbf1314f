package retriever

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repovet/internal/chunker"
	"repovet/internal/encoder"
	"repovet/internal/index"
)

// constDense maps every text to the same unit vector, leaving ranking
// entirely to the sparse side.
type constDense struct{ dim int }

func (c constDense) Dimension() int { return c.dim }

func (c constDense) EncodeDense(context.Context, string) ([]float32, error) {
	v := make([]float32, c.dim)
	v[0] = 1
	return v, nil
}

func TestNewRequiresFittedSparse(t *testing.T) {
	_, err := New(constDense{dim: 4}, encoder.NewBM25(1.2, 0.75), nil)
	assert.ErrorIs(t, err, encoder.ErrNotFitted)
}

func TestRetrieveRanksBySparseRelevance(t *testing.T) {
	docs := []string{
		"the scheduler assigns goroutines to workers",
		"the cache evicts cold entries under pressure",
		"workers drain the queue until it is empty",
	}
	sparse := encoder.NewBM25(1.2, 0.75)
	require.NoError(t, sparse.Fit(docs))

	x, err := index.Open(index.Config{
		Path:        filepath.Join(t.TempDir(), "index.db"),
		Dimension:   4,
		Alpha:       0.0, // sparse-only fusion keeps the expected order obvious
		SparseScale: 1.0,
	})
	require.NoError(t, err)
	defer x.Close()

	dense := constDense{dim: 4}
	ctx := context.Background()
	chunks := make([]index.IndexedChunk, len(docs))
	for i, doc := range docs {
		dv, err := dense.EncodeDense(ctx, doc)
		require.NoError(t, err)
		sv, err := sparse.EncodeDocument(doc)
		require.NoError(t, err)
		chunks[i] = index.IndexedChunk{
			Chunk:  chunker.Chunk{ID: int64(i), Text: doc, Start: 0, End: len(doc)},
			Dense:  dv,
			Sparse: sv,
		}
	}
	require.NoError(t, x.Upsert(ctx, chunks))

	r, err := New(dense, sparse, x)
	require.NoError(t, err)

	results, err := r.Retrieve(ctx, "cache evicts entries", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(1), results[0].ChunkID, "cache document must rank first")
	assert.Greater(t, results[0].Score, results[1].Score)

	// Stateless: the same query returns the same ranking.
	again, err := r.Retrieve(ctx, "cache evicts entries", 3)
	require.NoError(t, err)
	assert.Equal(t, results, again)
}
