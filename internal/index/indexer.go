package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"repovet/internal/chunker"
	"repovet/internal/encoder"
	"repovet/internal/store"
)

var (
	// ErrClosed is returned for operations on a closed index handle.
	ErrClosed = errors.New("index is closed")
	// ErrEmptySparse is returned when a chunk with no sparse weights reaches
	// Upsert. Such chunks carry no keyword signal and must be dropped before
	// upload.
	ErrEmptySparse = errors.New("chunk has empty sparse vector")
)

// Config holds the hybrid index configuration.
type Config struct {
	// Path is the SQLite database file backing this index.
	Path string
	// Dimension is the dense encoder's output dimensionality.
	Dimension int
	// Alpha blends dense against sparse similarity: 1 is dense-only.
	Alpha float64
	// SparseScale rescales sparse inner products so the blend operates on
	// comparable magnitudes (dense similarities live in [-1,1]).
	SparseScale float64
	// MaxRetries bounds retries of failed upload batches and queries.
	MaxRetries int
}

// IndexedChunk is a chunk extended with both computed representations.
type IndexedChunk struct {
	chunker.Chunk
	Dense  []float32
	Sparse encoder.SparseVector
}

// Result is one retrieval hit, valid only within the returning call.
type Result struct {
	ChunkID int64
	Text    string
	Score   float64
}

// Fingerprint identifies the build parameters an index was created with.
// A reopened index is only queryable when the fingerprint still matches.
type Fingerprint struct {
	EmbeddingModel string
	Dimension      int
	MaxChunkSize   int
	Overlap        int
}

// Index is an explicit handle to one repository's hybrid index. Lifecycle is
// Open → use → Close; multiple handles over different paths can coexist in
// one process. Queries may run concurrently; a rebuild must not overlap with
// queries against the same handle.
type Index struct {
	mu     sync.RWMutex
	st     store.Store
	cfg    Config
	size   int
	closed bool
}

// Open creates or opens the hybrid index at cfg.Path.
func Open(cfg Config) (*Index, error) {
	if cfg.Dimension < 1 {
		return nil, fmt.Errorf("invalid dimension %d", cfg.Dimension)
	}
	if cfg.Alpha < 0 || cfg.Alpha > 1 {
		return nil, fmt.Errorf("alpha %g out of range [0,1]", cfg.Alpha)
	}
	if cfg.SparseScale <= 0 {
		cfg.SparseScale = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	st, err := store.Open(cfg.Path, cfg.Dimension)
	if err != nil {
		return nil, err
	}
	size, err := st.Count()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	return &Index{st: st, cfg: cfg, size: size}, nil
}

// Size returns the number of indexed chunks.
func (x *Index) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.size
}

// Upsert uploads a batch of indexed chunks. The whole batch is written in
// one transaction and retried as a unit on transient failure, so every chunk
// is delivered at least once before the build is considered complete.
// Chunks with empty sparse vectors are rejected; the build pipeline drops
// them before upload.
func (x *Index) Upsert(ctx context.Context, batch []IndexedChunk) error {
	if len(batch) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}

	records := make([]store.ChunkRecord, len(batch))
	embeddings := make([][]float32, len(batch))
	for i, ic := range batch {
		if len(ic.Sparse) == 0 {
			return fmt.Errorf("upsert chunk %d: %w", ic.ID, ErrEmptySparse)
		}
		if len(ic.Dense) != x.cfg.Dimension {
			return fmt.Errorf("upsert chunk %d: dense dimension %d, want %d", ic.ID, len(ic.Dense), x.cfg.Dimension)
		}
		sparse, err := json.Marshal(ic.Sparse)
		if err != nil {
			return fmt.Errorf("marshal sparse vector for chunk %d: %w", ic.ID, err)
		}
		records[i] = store.ChunkRecord{
			ID:     ic.ID,
			Text:   ic.Text,
			Start:  ic.Start,
			End:    ic.End,
			Sparse: sparse,
		}
		embeddings[i] = ic.Dense
	}

	backoff := retry.WithMaxRetries(uint64(x.cfg.MaxRetries), retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := x.st.InsertBatch(records, embeddings); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert batch of %d (after %d retries): %w", len(batch), x.cfg.MaxRetries, err)
	}

	size, err := x.st.Count()
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	x.size = size
	return nil
}

// Query ranks all indexed chunks by the fused score
// alpha*dense + (1-alpha)*sparseScale*sparse and returns the top k.
// Ties resolve by ascending chunk id so identical queries return identical
// orderings. Asking for more results than exist returns all of them.
func (x *Index) Query(ctx context.Context, dense []float32, sparse encoder.SparseVector, topK int) ([]Result, error) {
	if topK < 1 {
		return nil, fmt.Errorf("top_k must be >= 1, got %d", topK)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrClosed
	}
	if len(dense) != x.cfg.Dimension {
		return nil, fmt.Errorf("query dense dimension %d, want %d", len(dense), x.cfg.Dimension)
	}
	if x.size == 0 {
		return nil, nil
	}

	var hits []store.DenseHit
	backoff := retry.WithMaxRetries(uint64(x.cfg.MaxRetries), retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var scanErr error
		hits, scanErr = x.st.DenseScan(dense, x.size)
		if scanErr != nil {
			return retry.RetryableError(scanErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query (after %d retries): %w", x.cfg.MaxRetries, err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		var hv encoder.SparseVector
		if err := json.Unmarshal(h.Sparse, &hv); err != nil {
			return nil, fmt.Errorf("decode sparse vector for chunk %d: %w", h.ID, err)
		}
		// Dense vectors are unit length, so the stored L2 distance maps back
		// to the inner product: dot = 1 - d^2/2.
		denseSim := 1 - (h.Distance*h.Distance)/2
		sparseSim := sparse.Dot(hv) * x.cfg.SparseScale
		results = append(results, Result{
			ChunkID: h.ID,
			Text:    h.Text,
			Score:   x.cfg.Alpha*denseSim + (1-x.cfg.Alpha)*sparseSim,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Clear discards all indexed chunks and metadata. Rebuilds are wholesale.
func (x *Index) Clear() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	if err := x.st.DeleteAll(); err != nil {
		return err
	}
	x.size = 0
	return nil
}

// SaveSparseState persists the fitted sparse-encoder statistics so queries
// against a reopened index can be encoded without refitting.
func (x *Index) SaveSparseState(data []byte) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	return x.st.SetMeta(store.MetaSparseState, string(data))
}

// SparseState returns the persisted sparse-encoder statistics, or nil when
// the index has never been built.
func (x *Index) SparseState() ([]byte, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrClosed
	}
	v, err := x.st.GetMeta(store.MetaSparseState)
	if err != nil {
		return nil, err
	}
	if v == "" {
		return nil, nil
	}
	return []byte(v), nil
}

// StoreFingerprint records the build parameters in index metadata.
func (x *Index) StoreFingerprint(fp Fingerprint) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrClosed
	}
	if err := x.st.SetMeta(store.MetaEmbeddingModel, fp.EmbeddingModel); err != nil {
		return err
	}
	if err := x.st.SetMeta(store.MetaDimension, strconv.Itoa(fp.Dimension)); err != nil {
		return err
	}
	return x.st.SetMeta(store.MetaChunkerParams, fmt.Sprintf("%d/%d", fp.MaxChunkSize, fp.Overlap))
}

// VerifyFingerprint checks a reopened index against the current build
// parameters. A mismatch means retrieval would mix incompatible vector
// spaces, so the caller must rebuild.
func (x *Index) VerifyFingerprint(fp Fingerprint) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return ErrClosed
	}
	model, err := x.st.GetMeta(store.MetaEmbeddingModel)
	if err != nil {
		return err
	}
	dim, err := x.st.GetMeta(store.MetaDimension)
	if err != nil {
		return err
	}
	params, err := x.st.GetMeta(store.MetaChunkerParams)
	if err != nil {
		return err
	}
	want := fmt.Sprintf("%d/%d", fp.MaxChunkSize, fp.Overlap)
	if model != fp.EmbeddingModel || dim != strconv.Itoa(fp.Dimension) || params != want {
		return fmt.Errorf("index was built with model=%s dim=%s chunker=%s, current config wants model=%s dim=%d chunker=%s: rebuild required",
			model, dim, params, fp.EmbeddingModel, fp.Dimension, want)
	}
	return nil
}

// Close releases the underlying store. The handle is unusable afterwards.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil
	}
	x.closed = true
	return x.st.Close()
}
