package store

import (
	"database/sql"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store is the persistence surface for indexed chunks and build metadata.
type Store interface {
	InsertBatch(chunks []ChunkRecord, embeddings [][]float32) error
	DenseScan(queryEmbedding []float32, limit int) ([]DenseHit, error)
	Count() (int, error)
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
	DeleteAll() error
	Close() error
}

// SQLiteStore persists indexed chunks in SQLite with dense vectors held in a
// sqlite-vec virtual table. All writes go through transactions so a failed
// batch leaves no partial rows behind and can be retried whole.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and initializes
// the schema for the given dense dimensionality.
func Open(dbPath string, dimension int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Init(db, dimension); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// InsertBatch writes a batch of chunk rows and their dense vectors in one
// transaction. Rows are replaced by id, so retrying the same batch after a
// transient failure cannot duplicate chunks.
func (s *SQLiteStore) InsertBatch(chunks []ChunkRecord, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("mismatched chunks (%d) and embeddings (%d)", len(chunks), len(embeddings))
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	chunkStmt, err := tx.Prepare(
		"INSERT OR REPLACE INTO chunks (id, text, start_offset, end_offset, sparse) VALUES (?, ?, ?, ?, ?)",
	)
	if err != nil {
		return err
	}
	defer chunkStmt.Close()

	// vec0 virtual tables ignore OR REPLACE conflict resolution, so the old
	// vector row is deleted explicitly before the insert.
	vecDelStmt, err := tx.Prepare("DELETE FROM vec_chunks WHERE chunk_id = ?")
	if err != nil {
		return err
	}
	defer vecDelStmt.Close()

	vecStmt, err := tx.Prepare("INSERT INTO vec_chunks (chunk_id, embedding) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer vecStmt.Close()

	for i, c := range chunks {
		if _, err := chunkStmt.Exec(c.ID, c.Text, c.Start, c.End, string(c.Sparse)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.ID, err)
		}
		blob, err := sqlite_vec.SerializeFloat32(embeddings[i])
		if err != nil {
			return fmt.Errorf("serialize embedding for chunk %d: %w", c.ID, err)
		}
		if _, err := vecDelStmt.Exec(c.ID); err != nil {
			return fmt.Errorf("replace embedding for chunk %d: %w", c.ID, err)
		}
		if _, err := vecStmt.Exec(c.ID, blob); err != nil {
			return fmt.Errorf("insert embedding for chunk %d: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// DenseScan ranks chunks by vector distance to the query embedding and
// returns up to limit rows with their stored sparse weights, nearest first.
func (s *SQLiteStore) DenseScan(queryEmbedding []float32, limit int) ([]DenseHit, error) {
	blob, err := sqlite_vec.SerializeFloat32(queryEmbedding)
	if err != nil {
		return nil, fmt.Errorf("serialize query embedding: %w", err)
	}
	rows, err := s.db.Query(`
		SELECT v.chunk_id, v.distance, c.text, c.sparse
		FROM vec_chunks v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE v.embedding MATCH ?
		ORDER BY v.distance
		LIMIT ?
	`, blob, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []DenseHit
	for rows.Next() {
		var h DenseHit
		var sparse string
		if err := rows.Scan(&h.ID, &h.Distance, &h.Text, &sparse); err != nil {
			return nil, err
		}
		h.Sparse = []byte(sparse)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Count returns the number of indexed chunks.
func (s *SQLiteStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&n)
	return n, err
}

// GetMeta returns a metadata value by key, or "" if not set.
func (s *SQLiteStore) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetMeta sets a metadata key-value pair.
func (s *SQLiteStore) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}

// DeleteAll removes all chunks, vectors, and metadata. A rebuild discards
// the prior index wholesale; there is no incremental merge.
func (s *SQLiteStore) DeleteAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM vec_chunks"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM chunks"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM meta"); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
