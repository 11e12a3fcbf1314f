package retriever

import (
	"context"
	"fmt"

	"repovet/internal/encoder"
	"repovet/internal/index"
)

// Retriever issues fused queries against a built hybrid index. It holds no
// per-call state; calls are independent and safe to run concurrently against
// the same index.
type Retriever struct {
	dense  encoder.Dense
	sparse *encoder.BM25
	idx    *index.Index
}

// New creates a retriever over a built index. The sparse encoder must carry
// the statistics of the same build the index was created from.
func New(dense encoder.Dense, sparse *encoder.BM25, idx *index.Index) (*Retriever, error) {
	if !sparse.Fitted() {
		return nil, encoder.ErrNotFitted
	}
	return &Retriever{dense: dense, sparse: sparse, idx: idx}, nil
}

// Retrieve encodes the query with both encoders and returns the top-k chunks
// ranked by fused score.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]index.Result, error) {
	dense, err := r.dense.EncodeDense(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	sparse, err := r.sparse.EncodeQuery(query)
	if err != nil {
		return nil, fmt.Errorf("sparse encode query: %w", err)
	}
	return r.idx.Query(ctx, dense, sparse, topK)
}
