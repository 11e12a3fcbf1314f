package store

import (
	"database/sql"
	"fmt"
)

const ddl = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS chunks (
    id           INTEGER PRIMARY KEY,
    text         TEXT NOT NULL,
    start_offset INTEGER NOT NULL,
    end_offset   INTEGER NOT NULL,
    sparse       TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
    chunk_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Init creates the schema tables if they don't exist. The vec0 table is
// sized to the dense encoder's dimensionality, so the dimension is part of
// the schema and a changed encoder requires a rebuild.
func Init(db *sql.DB, dimension int) error {
	_, err := db.Exec(fmt.Sprintf(ddl, dimension))
	return err
}
