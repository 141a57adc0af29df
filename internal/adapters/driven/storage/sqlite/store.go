package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/fagdag/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
	"github.com/custodia-labs/fagdag/internal/textutil"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

// DatabaseFile is the database file name inside the data directory.
const DatabaseFile = "index.db"

// Store is a SQLite index backend bound to one index name.
type Store struct {
	db    *sql.DB
	path  string
	index string
}

// NewStore opens (creating if needed) the database in dataDir and binds
// the store to indexName. If dataDir is empty, defaults to ~/.fagdag/data.
func NewStore(dataDir, indexName string) (*Store, error) {
	if indexName == "" {
		return nil, fmt.Errorf("%w: index name is empty", domain.ErrConfig)
	}
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".fagdag", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:    db,
		path:  dbPath,
		index: indexName,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_index.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		logger.Debug("sqlite: applied migration %s", name)
	}

	return nil
}

// ==================== Schema ====================

// CreateOrUpdateSchema creates, extends or recreates the bound index.
func (s *Store) CreateOrUpdateSchema(
	ctx context.Context, schema domain.IndexSchema, opts domain.SchemaOptions,
) (domain.SchemaAction, error) {
	if schema.Name != s.index {
		return "", fmt.Errorf("%w: store is bound to index %q, not %q", domain.ErrConfig, s.index, schema.Name)
	}

	existing, err := s.loadSchema(ctx, schema.Name)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return "", err
	}

	action, err := domain.PlanSchemaChange(existing, schema, opts)
	if err != nil {
		return "", err
	}

	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("marshalling schema: %w", err)
	}

	switch action {
	case domain.SchemaCreated:
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO schema_meta (name, schema_json, dimensions) VALUES (?, ?, ?)`,
			schema.Name, string(schemaJSON), schema.Dimensions)
	case domain.SchemaUpdated:
		_, err = s.db.ExecContext(ctx,
			`UPDATE schema_meta SET schema_json = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?`,
			string(schemaJSON), schema.Name)
	case domain.SchemaRecreated:
		logger.Warn("recreating index %s: schema is incompatible", schema.Name)
		err = s.withTx(ctx, func(tx *sql.Tx) error {
			if err := deleteIndexTx(ctx, tx, schema.Name); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_meta (name, schema_json, dimensions) VALUES (?, ?, ?)`,
				schema.Name, string(schemaJSON), schema.Dimensions)
			return err
		})
	}
	if err != nil {
		return "", classify("sqlite schema", err)
	}
	return action, nil
}

func (s *Store) loadSchema(ctx context.Context, name string) (*domain.IndexSchema, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT schema_json FROM schema_meta WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %s", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, classify("sqlite load schema", err)
	}

	var schema domain.IndexSchema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, fmt.Errorf("%w: stored schema for %s: %v", domain.ErrIrrecoverable, name, err)
	}
	return &schema, nil
}

// DeleteIndex removes the named index. A missing index is not an error.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return deleteIndexTx(ctx, tx, name)
	})
	if err != nil {
		return classify("sqlite delete index", err)
	}
	return nil
}

func deleteIndexTx(ctx context.Context, tx *sql.Tx, name string) error {
	stmts := []string{
		`DELETE FROM chunks_fts WHERE rowid IN (SELECT seq FROM chunks WHERE index_name = ?)`,
		`DELETE FROM chunks WHERE index_name = ?`,
		`DELETE FROM parents WHERE index_name = ?`,
		`DELETE FROM schema_meta WHERE name = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
			return err
		}
	}
	return nil
}

// ==================== Writes ====================

// Upsert writes chunks keyed by ID in a single transaction. Invalid chunks
// are rejected individually; a database failure fails the whole call.
func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk) (domain.UpsertResult, error) {
	var result domain.UpsertResult

	schema, err := s.loadSchema(ctx, s.index)
	if err != nil {
		return result, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for i := range chunks {
			c := &chunks[i]
			if err := c.Validate(schema.Dimensions); err != nil {
				result.Rejected++
				result.Errors = append(result.Errors, domain.ItemError{
					DocumentID: c.ParentID, ChunkID: c.ID, Stage: domain.StageUpsert, Err: err,
				})
				continue
			}
			if err := upsertChunkTx(ctx, tx, s.index, c); err != nil {
				return fmt.Errorf("chunk %s: %w", c.ID, err)
			}
			result.Accepted++
		}
		return nil
	})
	if err != nil {
		return domain.UpsertResult{}, classify("sqlite upsert", err)
	}
	return result, nil
}

func upsertChunkTx(ctx context.Context, tx *sql.Tx, index string, c *domain.Chunk) error {
	metadataJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chunks (index_name, id, parent_id, position, content, language_code, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (index_name, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			position = excluded.position,
			content = excluded.content,
			language_code = excluded.language_code,
			metadata = excluded.metadata,
			embedding = excluded.embedding
		RETURNING seq
	`, index, c.ID, c.ParentID, c.Position, c.Content, c.LanguageCode,
		string(metadataJSON), textutil.EncodeVector(c.Embedding)).Scan(&seq)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE rowid = ?`, seq); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO chunks_fts (rowid, content) VALUES (?, ?)`, seq, c.Content); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO parents (index_name, id, title, uri) VALUES (?, ?, ?, ?)
		ON CONFLICT (index_name, id) DO UPDATE SET
			title = excluded.title,
			uri = excluded.uri,
			updated_at = CURRENT_TIMESTAMP
	`, index, c.ParentID, c.Metadata["title"], c.Metadata["uri"])
	return err
}

// DeleteParent removes the chunks of parentID, their full-text rows and
// the parent row in one transaction.
func (s *Store) DeleteParent(ctx context.Context, parentID string) (int, error) {
	if _, err := s.loadSchema(ctx, s.index); err != nil {
		return 0, err
	}

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM chunks_fts WHERE rowid IN
				(SELECT seq FROM chunks WHERE index_name = ? AND parent_id = ?)
		`, s.index, parentID)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE index_name = ? AND parent_id = ?`, s.index, parentID)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM parents WHERE index_name = ? AND id = ?`, s.index, parentID)
		return err
	})
	if err != nil {
		return 0, classify("sqlite delete parent", err)
	}
	return int(removed), nil
}

// Stats reports counts for the bound index.
func (s *Store) Stats(ctx context.Context) (domain.IndexStats, error) {
	schema, err := s.loadSchema(ctx, s.index)
	if err != nil {
		return domain.IndexStats{}, err
	}

	stats := domain.IndexStats{Name: s.index, Dimensions: schema.Dimensions}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM chunks WHERE index_name = ?),
			(SELECT COUNT(*) FROM parents WHERE index_name = ?)
	`, s.index, s.index).Scan(&stats.Chunks, &stats.Parents)
	if err != nil {
		return domain.IndexStats{}, classify("sqlite stats", err)
	}
	return stats, nil
}

// ==================== Search ====================

const chunkColumns = `c.seq, c.id, c.parent_id, c.position, c.content, c.language_code, c.metadata, c.embedding`

// LexicalSearch ranks chunks with FTS5 bm25(). Query terms are OR-ed so
// a chunk matching any term is a candidate.
func (s *Store) LexicalSearch(ctx context.Context, text string, limit int) ([]driven.Hit, error) {
	if _, err := s.loadSchema(ctx, s.index); err != nil {
		return nil, err
	}

	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`, bm25(chunks_fts) AS bm25_score
		FROM chunks_fts
		JOIN chunks c ON c.seq = chunks_fts.rowid
		WHERE chunks_fts MATCH ? AND c.index_name = ?
		ORDER BY bm25_score, c.seq
		LIMIT ?
	`, match, s.index, limit)
	if err != nil {
		return nil, classify("sqlite lexical search", err)
	}
	defer rows.Close()

	var hits []driven.Hit
	for rows.Next() {
		var rank float64
		hit, err := scanHit(rows, &rank)
		if err != nil {
			return nil, err
		}
		// bm25() is lower-is-better and negative for matches.
		hit.Score = -rank
		if hit.Score <= 0 {
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite lexical search", err)
	}

	driven.SortHits(hits)
	return hits, nil
}

// VectorSearch ranks every chunk of the index by cosine similarity.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, limit int) ([]driven.Hit, error) {
	schema, err := s.loadSchema(ctx, s.index)
	if err != nil {
		return nil, err
	}
	if len(vector) != schema.Dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, index has %d",
			domain.ErrInvalidInput, len(vector), schema.Dimensions)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.index_name = ?`, s.index)
	if err != nil {
		return nil, classify("sqlite vector search", err)
	}
	defer rows.Close()

	var hits []driven.Hit
	for rows.Next() {
		hit, err := scanHit(rows)
		if err != nil {
			return nil, err
		}
		hit.Score = textutil.CosineSimilarity(vector, hit.Chunk.Embedding)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite vector search", err)
	}

	driven.SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func scanHit(rows *sql.Rows, extra ...any) (driven.Hit, error) {
	var (
		hit      driven.Hit
		metadata sql.NullString
		blob     []byte
	)
	dest := []any{
		&hit.Seq, &hit.Chunk.ID, &hit.Chunk.ParentID, &hit.Chunk.Position,
		&hit.Chunk.Content, &hit.Chunk.LanguageCode, &metadata, &blob,
	}
	if err := rows.Scan(append(dest, extra...)...); err != nil {
		return hit, fmt.Errorf("scanning chunk: %w", err)
	}

	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &hit.Chunk.Metadata); err != nil {
			return hit, fmt.Errorf("unmarshalling metadata: %w", err)
		}
	}

	vec, err := textutil.DecodeVector(blob)
	if err != nil {
		return hit, err
	}
	hit.Chunk.Embedding = vec
	return hit, nil
}

// ftsQuery turns free text into an FTS5 expression of quoted terms.
func ftsQuery(text string) string {
	tokens := textutil.Tokenize(text)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, t := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// ==================== Helpers ====================

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// classify maps a database error onto the error taxonomy. Lock contention
// is transient; everything else keeps its cause under ErrIrrecoverable
// unless it is already classified.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrTransient), errors.Is(err, domain.ErrIrrecoverable),
		errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrConfig):
		return err
	}

	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return &domain.BackendError{Op: op, Kind: domain.ErrTransient, Err: err}
	}
	return &domain.BackendError{Op: op, Kind: domain.ErrIrrecoverable, Err: err}
}
