// Package sqlite provides the SQLite index backend.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. One database file holds every index;
// rows carry the index name.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// Index schemas themselves live as JSON in the schema_meta table.
//
// # Search
//
// The lexical leg uses an FTS5 table ranked with bm25(). Vectors are stored as
// little-endian float32 blobs and ranked by exact cosine similarity in Go.
//
// # Data Location
//
// By default, the database is stored at ~/.fagdag/data/index.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking provided
// by SQLite in WAL mode.
package sqlite
