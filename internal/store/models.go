package store

// ChunkRecord is a chunk row as persisted: literal text, offsets into the
// source document, and the serialized sparse term weights.
type ChunkRecord struct {
	ID     int64
	Text   string
	Start  int
	End    int
	Sparse []byte
}

// DenseHit is one row of a dense similarity scan: the chunk, its stored
// sparse weights, and the vector distance to the query embedding.
type DenseHit struct {
	ID       int64
	Text     string
	Sparse   []byte
	Distance float64
}

// Meta keys recorded per build.
const (
	MetaEmbeddingModel = "embedding_model"
	MetaDimension      = "dimension"
	MetaChunkerParams  = "chunker_params"
	MetaSparseState    = "sparse_encoder"
)
