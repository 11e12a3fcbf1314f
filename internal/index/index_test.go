package index

import (
	"context"
	"hash/fnv"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repovet/internal/chunker"
	"repovet/internal/encoder"
)

const testDim = 4

func newTestIndex(t *testing.T, alpha float64) *Index {
	t.Helper()
	x, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "index.db"),
		Dimension:   testDim,
		Alpha:       alpha,
		SparseScale: 1.0,
		MaxRetries:  1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })
	return x
}

func unit(vals ...float32) []float32 {
	v := append([]float32(nil), vals...)
	encoder.Normalize(v)
	return v
}

func testChunk(id int64, text string, dense []float32, sparse encoder.SparseVector) IndexedChunk {
	return IndexedChunk{
		Chunk:  chunker.Chunk{ID: id, Text: text, Start: 0, End: len(text)},
		Dense:  dense,
		Sparse: sparse,
	}
}

func TestQueryFusedOrdering(t *testing.T) {
	x := newTestIndex(t, 0.5)
	ctx := context.Background()

	require.NoError(t, x.Upsert(ctx, []IndexedChunk{
		testChunk(0, "exact match", unit(1, 0, 0, 0), encoder.SparseVector{0: 1}),
		testChunk(1, "orthogonal", unit(0, 1, 0, 0), encoder.SparseVector{1: 2}),
		testChunk(2, "sparse only", unit(0, 0, 1, 0), encoder.SparseVector{0: 3}),
	}))
	require.Equal(t, 3, x.Size())

	results, err := x.Query(ctx, unit(1, 0, 0, 0), encoder.SparseVector{0: 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// chunk 0: dense 1.0, sparse 1.0 → 1.0
	// chunk 2: dense 0.0, sparse 3.0 → 1.5
	// chunk 1: dense 0.0, sparse 0.0 → 0.0
	assert.Equal(t, int64(2), results[0].ChunkID)
	assert.Equal(t, int64(0), results[1].ChunkID)
	assert.Equal(t, int64(1), results[2].ChunkID)
	assert.InDelta(t, 1.5, results[0].Score, 1e-5)
	assert.InDelta(t, 1.0, results[1].Score, 1e-5)
	assert.InDelta(t, 0.0, results[2].Score, 1e-5)
}

func TestQueryAlphaExtremes(t *testing.T) {
	ctx := context.Background()
	chunks := []IndexedChunk{
		testChunk(0, "dense winner", unit(1, 0, 0, 0), encoder.SparseVector{9: 0.1}),
		testChunk(1, "sparse winner", unit(0, 1, 0, 0), encoder.SparseVector{0: 5}),
	}
	queryDense := unit(1, 0, 0, 0)
	querySparse := encoder.SparseVector{0: 1}

	denseOnly := newTestIndex(t, 1.0)
	require.NoError(t, denseOnly.Upsert(ctx, chunks))
	results, err := denseOnly.Query(ctx, queryDense, querySparse, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), results[0].ChunkID)

	sparseOnly := newTestIndex(t, 0.0)
	require.NoError(t, sparseOnly.Upsert(ctx, chunks))
	results, err = sparseOnly.Query(ctx, queryDense, querySparse, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[0].ChunkID)
}

func TestQueryTieBreakByChunkID(t *testing.T) {
	x := newTestIndex(t, 0.5)
	ctx := context.Background()

	// Identical representations under different ids force equal fused
	// scores; ordering must fall back to ascending id.
	same := unit(1, 2, 3, 4)
	require.NoError(t, x.Upsert(ctx, []IndexedChunk{
		testChunk(7, "twin b", same, encoder.SparseVector{1: 1}),
		testChunk(3, "twin a", same, encoder.SparseVector{1: 1}),
		testChunk(11, "twin c", same, encoder.SparseVector{1: 1}),
	}))

	results, err := x.Query(ctx, same, encoder.SparseVector{1: 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(3), results[0].ChunkID)
	assert.Equal(t, int64(7), results[1].ChunkID)
	assert.Equal(t, int64(11), results[2].ChunkID)
}

func TestQueryDeterministic(t *testing.T) {
	x := newTestIndex(t, 0.5)
	ctx := context.Background()
	require.NoError(t, x.Upsert(ctx, []IndexedChunk{
		testChunk(0, "one", unit(1, 1, 0, 0), encoder.SparseVector{0: 1, 2: 0.5}),
		testChunk(1, "two", unit(0, 1, 1, 0), encoder.SparseVector{2: 2}),
		testChunk(2, "three", unit(1, 0, 0, 1), encoder.SparseVector{5: 1}),
	}))

	q := unit(1, 1, 1, 0)
	qs := encoder.SparseVector{2: 1}
	first, err := x.Query(ctx, q, qs, 3)
	require.NoError(t, err)
	second, err := x.Query(ctx, q, qs, 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestQueryTopKClampedToSize(t *testing.T) {
	x := newTestIndex(t, 0.5)
	ctx := context.Background()
	require.NoError(t, x.Upsert(ctx, []IndexedChunk{
		testChunk(0, "only", unit(1, 0, 0, 0), encoder.SparseVector{0: 1}),
	}))

	results, err := x.Query(ctx, unit(1, 0, 0, 0), nil, 50)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestQueryInvalidTopK(t *testing.T) {
	x := newTestIndex(t, 0.5)
	_, err := x.Query(context.Background(), unit(1, 0, 0, 0), nil, 0)
	assert.Error(t, err)
}

func TestQueryEmptyIndex(t *testing.T) {
	x := newTestIndex(t, 0.5)
	results, err := x.Query(context.Background(), unit(1, 0, 0, 0), nil, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestUpsertRejectsEmptySparse(t *testing.T) {
	x := newTestIndex(t, 0.5)
	err := x.Upsert(context.Background(), []IndexedChunk{
		testChunk(0, "noise", unit(1, 0, 0, 0), encoder.SparseVector{}),
	})
	assert.ErrorIs(t, err, ErrEmptySparse)
	assert.Zero(t, x.Size())
}

func TestUpsertReplacesById(t *testing.T) {
	x := newTestIndex(t, 0.5)
	ctx := context.Background()

	require.NoError(t, x.Upsert(ctx, []IndexedChunk{
		testChunk(0, "stale text", unit(1, 0, 0, 0), encoder.SparseVector{0: 1}),
	}))
	require.NoError(t, x.Upsert(ctx, []IndexedChunk{
		testChunk(0, "fresh text", unit(0, 1, 0, 0), encoder.SparseVector{1: 2}),
	}))

	assert.Equal(t, 1, x.Size())
	results, err := x.Query(ctx, unit(0, 1, 0, 0), encoder.SparseVector{1: 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fresh text", results[0].Text)
	// denseSim 1 plus sparse dot 2, fused at alpha 0.5.
	assert.InDelta(t, 1.5, results[0].Score, 1e-5)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	x := newTestIndex(t, 0.5)
	err := x.Upsert(context.Background(), []IndexedChunk{
		testChunk(0, "bad", []float32{1, 0}, encoder.SparseVector{0: 1}),
	})
	assert.ErrorContains(t, err, "dimension")
}

func TestClosedIndex(t *testing.T) {
	x := newTestIndex(t, 0.5)
	require.NoError(t, x.Close())

	_, err := x.Query(context.Background(), unit(1, 0, 0, 0), nil, 1)
	assert.ErrorIs(t, err, ErrClosed)
	err = x.Upsert(context.Background(), []IndexedChunk{
		testChunk(0, "late", unit(1, 0, 0, 0), encoder.SparseVector{0: 1}),
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFingerprintRoundTrip(t *testing.T) {
	x := newTestIndex(t, 0.5)
	fp := Fingerprint{EmbeddingModel: "test-embed", Dimension: testDim, MaxChunkSize: 400, Overlap: 50}
	require.NoError(t, x.StoreFingerprint(fp))
	require.NoError(t, x.VerifyFingerprint(fp))

	changed := fp
	changed.EmbeddingModel = "other-model"
	assert.ErrorContains(t, x.VerifyFingerprint(changed), "rebuild")
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		Path:        filepath.Join(dir, "index.db"),
		Dimension:   testDim,
		Alpha:       0.5,
		SparseScale: 1.0,
	}
	ctx := context.Background()

	x, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, x.Upsert(ctx, []IndexedChunk{
		testChunk(0, "persisted", unit(1, 0, 0, 0), encoder.SparseVector{0: 2}),
	}))
	require.NoError(t, x.SaveSparseState([]byte(`{"state":true}`)))
	require.NoError(t, x.Close())

	y, err := Open(cfg)
	require.NoError(t, err)
	defer y.Close()
	assert.Equal(t, 1, y.Size())

	state, err := y.SparseState()
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":true}`, string(state))

	results, err := y.Query(ctx, unit(1, 0, 0, 0), encoder.SparseVector{0: 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted", results[0].Text)
}

// hashDense is a deterministic offline stand-in for the dense capability.
type hashDense struct{ dim int }

func (h hashDense) Dimension() int { return h.dim }

func (h hashDense) EncodeDense(_ context.Context, text string) ([]float32, error) {
	seed := fnv.New64a()
	seed.Write([]byte(text))
	s := seed.Sum64()
	v := make([]float32, h.dim)
	for i := range v {
		s = s*6364136223846793005 + 1442695040888963407
		v[i] = float32(math.Sin(float64(s % 1000)))
	}
	encoder.Normalize(v)
	return v, nil
}

// buildDoc splits into three chunks at the paragraph breaks; the middle one
// is pure symbol soup with no indexable terms.
const buildDoc = "alpha beta gamma\n\n@@@@ $$$$ %%\n\ndelta epsilon zeta"

func buildTestIndex(t *testing.T, dir string) (*Index, *Stats, *encoder.BM25) {
	t.Helper()
	x, err := Open(Config{
		Path:        filepath.Join(dir, "index.db"),
		Dimension:   testDim,
		Alpha:       0.5,
		SparseScale: 1.0,
	})
	require.NoError(t, err)
	t.Cleanup(func() { x.Close() })

	sparse := encoder.NewBM25(1.2, 0.75)
	b := &Builder{
		Splitter:  chunker.New(20, 0, 20),
		Dense:     hashDense{dim: testDim},
		Sparse:    sparse,
		Workers:   3,
		BatchSize: 2,
	}
	stats, err := b.Build(context.Background(), x, buildDoc)
	require.NoError(t, err)
	return x, stats, sparse
}

func TestBuildDropsEmptySparseChunks(t *testing.T) {
	x, stats, _ := buildTestIndex(t, t.TempDir())

	assert.Equal(t, stats.ChunksIndexed, x.Size())
	assert.Greater(t, stats.ChunksDropped, 0, "symbol-soup chunk must be dropped")
	assert.Equal(t, stats.ChunksTotal, stats.ChunksIndexed+stats.ChunksDropped)

	// The surviving chunks never include the symbol-only span.
	results, err := x.Query(context.Background(), unit(1, 1, 1, 1), nil, 100)
	require.NoError(t, err)
	require.Len(t, results, x.Size())
	for _, r := range results {
		assert.NotContains(t, r.Text, "@@@@")
	}
}

func TestBuildReproducible(t *testing.T) {
	collectIDs := func(x *Index) []int64 {
		results, err := x.Query(context.Background(), unit(1, 0, 0, 0), nil, 100)
		require.NoError(t, err)
		ids := make([]int64, len(results))
		for i, r := range results {
			ids[i] = r.ChunkID
		}
		return ids
	}

	a, statsA, _ := buildTestIndex(t, t.TempDir())
	b, statsB, _ := buildTestIndex(t, t.TempDir())

	assert.Equal(t, statsA.ChunksIndexed, statsB.ChunksIndexed)
	assert.ElementsMatch(t, collectIDs(a), collectIDs(b))
}

func TestBuildPersistsSparseState(t *testing.T) {
	x, _, sparse := buildTestIndex(t, t.TempDir())

	state, err := x.SparseState()
	require.NoError(t, err)
	require.NotNil(t, state)

	restored := encoder.NewBM25(1.2, 0.75)
	require.NoError(t, restored.Restore(state))
	want, err := sparse.EncodeQuery("alpha epsilon")
	require.NoError(t, err)
	got, err := restored.EncodeQuery("alpha epsilon")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBuildEmptyDocument(t *testing.T) {
	x := newTestIndex(t, 0.5)
	b := &Builder{
		Splitter: chunker.New(20, 0, 10),
		Dense:    hashDense{dim: testDim},
		Sparse:   encoder.NewBM25(1.2, 0.75),
	}
	_, err := b.Build(context.Background(), x, "")
	assert.Error(t, err)
}
