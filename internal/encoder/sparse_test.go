package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []string{
	"parser reads tokens into syntax tree",
	"scheduler assigns worker goroutines round robin",
	"parser emits syntax errors with line numbers",
	"cache evicts entries using lru policy",
}

func TestEncodeBeforeFit(t *testing.T) {
	e := NewBM25(1.2, 0.75)
	require.False(t, e.Fitted())

	_, err := e.EncodeDocument("anything")
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = e.EncodeQuery("anything")
	assert.ErrorIs(t, err, ErrNotFitted)
	_, err = e.State()
	assert.ErrorIs(t, err, ErrNotFitted)
}

func TestFitEmptyCorpus(t *testing.T) {
	e := NewBM25(1.2, 0.75)
	assert.Error(t, e.Fit(nil))
	assert.Error(t, e.Fit([]string{"??? !!! ...", "   "}))
	assert.False(t, e.Fitted())
}

func TestEncodeDocument(t *testing.T) {
	e := NewBM25(1.2, 0.75)
	require.NoError(t, e.Fit(corpus))
	require.True(t, e.Fitted())

	vec, err := e.EncodeDocument("parser reads tokens")
	require.NoError(t, err)
	require.NotEmpty(t, vec)
	for _, w := range vec {
		assert.Greater(t, w, float32(0))
	}

	// Rarer terms should outweigh common ones: "parser" appears in two
	// documents, "cache" in one.
	rare, err := e.EncodeDocument("cache")
	require.NoError(t, err)
	common, err := e.EncodeDocument("parser")
	require.NoError(t, err)
	require.Len(t, rare, 1)
	require.Len(t, common, 1)
	var rareW, commonW float32
	for _, w := range rare {
		rareW = w
	}
	for _, w := range common {
		commonW = w
	}
	assert.Greater(t, rareW, commonW)
}

func TestEncodeDeterministic(t *testing.T) {
	e := NewBM25(1.2, 0.75)
	require.NoError(t, e.Fit(corpus))

	a, err := e.EncodeDocument("scheduler assigns worker goroutines")
	require.NoError(t, err)
	b, err := e.EncodeDocument("scheduler assigns worker goroutines")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmptyRepresentation(t *testing.T) {
	e := NewBM25(1.2, 0.75)
	require.NoError(t, e.Fit(corpus))

	vec, err := e.EncodeDocument("@@@ ### !!!")
	require.NoError(t, err)
	assert.Empty(t, vec, "symbol soup has no indexable terms")

	vec, err = e.EncodeDocument("completely unknown vocabulary everywhere")
	require.NoError(t, err)
	assert.Empty(t, vec, "out-of-vocabulary terms contribute nothing")
}

func TestQueryEncodingUsesIDFOnly(t *testing.T) {
	e := NewBM25(1.2, 0.75)
	require.NoError(t, e.Fit(corpus))

	// Repeating a query term must not inflate its weight.
	once, err := e.EncodeQuery("cache")
	require.NoError(t, err)
	thrice, err := e.EncodeQuery("cache cache cache")
	require.NoError(t, err)
	assert.Equal(t, once, thrice)
}

func TestStateRoundTrip(t *testing.T) {
	e := NewBM25(1.5, 0.6)
	require.NoError(t, e.Fit(corpus))
	state, err := e.State()
	require.NoError(t, err)

	restored := NewBM25(1.2, 0.75)
	require.NoError(t, restored.Restore(state))
	require.True(t, restored.Fitted())

	for _, text := range corpus {
		want, err := e.EncodeDocument(text)
		require.NoError(t, err)
		got, err := restored.EncodeDocument(text)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	wantQ, err := e.EncodeQuery("parser cache")
	require.NoError(t, err)
	gotQ, err := restored.EncodeQuery("parser cache")
	require.NoError(t, err)
	assert.Equal(t, wantQ, gotQ)
}

func TestRestoreMalformed(t *testing.T) {
	e := NewBM25(1.2, 0.75)
	assert.Error(t, e.Restore([]byte("not json")))
	assert.Error(t, e.Restore([]byte(`{"terms":[],"idf":[]}`)))
}

func TestSparseDot(t *testing.T) {
	a := SparseVector{1: 2, 3: 1, 7: 0.5}
	b := SparseVector{1: 1, 7: 2}
	assert.InDelta(t, 3.0, a.Dot(b), 1e-9)
	assert.InDelta(t, a.Dot(b), b.Dot(a), 1e-9)
	assert.Zero(t, a.Dot(nil))
	assert.Zero(t, SparseVector{}.Dot(b))
}
