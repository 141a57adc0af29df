// Package postgres provides the Postgres index backend using pgvector.
//
// Each index gets its own chunk and parent tables. The chunk table carries a
// vector(D) column with an HNSW vector_cosine_ops index for the vector leg and
// a generated tsvector column ranked with ts_rank_cd for the lexical leg.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
	"github.com/custodia-labs/fagdag/internal/textutil"
)

// Ensure Store implements the interface.
var _ driven.VectorStore = (*Store)(nil)

// textConfig is the text search configuration. "simple" avoids stemming
// rules tied to one language.
const textConfig = "simple"

// Store is a Postgres index backend bound to one index name.
type Store struct {
	db    *sql.DB
	index string
}

// NewStore connects to dsn, installs the vector extension and the schema
// metadata table, and binds the store to indexName.
func NewStore(ctx context.Context, dsn, indexName string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is empty", domain.ErrConfig)
	}
	if indexName == "" {
		return nil, fmt.Errorf("%w: index name is empty", domain.ErrConfig)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", domain.ErrConfig, err)
	}
	return newStore(ctx, db, indexName)
}

func newStore(ctx context.Context, db *sql.DB, indexName string) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, classify("postgres ping", err)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS fagdag_schema_meta (
			name        TEXT PRIMARY KEY,
			schema_json JSONB NOT NULL,
			dimensions  INTEGER NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, classify("postgres init", err)
		}
	}

	logger.Debug("postgres: connected, index %s", indexName)
	return &Store{db: db, index: indexName}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var unsafeIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// tableName derives a safe, quoted table name for an index.
func tableName(index, suffix string) string {
	base := unsafeIdent.ReplaceAllString(strings.ToLower(index), "_")
	return pq.QuoteIdentifier("fagdag_" + base + "_" + suffix)
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

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		switch action {
		case domain.SchemaRecreated:
			logger.Warn("recreating index %s: schema is incompatible", schema.Name)
			if err := dropTablesTx(ctx, tx, schema.Name); err != nil {
				return err
			}
			fallthrough
		case domain.SchemaCreated:
			if err := createTablesTx(ctx, tx, schema); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO fagdag_schema_meta (name, schema_json, dimensions) VALUES ($1, $2, $3)
				ON CONFLICT (name) DO UPDATE SET
					schema_json = excluded.schema_json,
					dimensions = excluded.dimensions,
					updated_at = now()
			`, schema.Name, string(schemaJSON), schema.Dimensions)
			return err
		case domain.SchemaUpdated:
			if existing.HNSW != schema.HNSW {
				if err := createVectorIndexTx(ctx, tx, schema, true); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE fagdag_schema_meta SET schema_json = $1, updated_at = now() WHERE name = $2`,
				string(schemaJSON), schema.Name)
			return err
		}
		return nil
	})
	if err != nil {
		return "", classify("postgres schema", err)
	}
	return action, nil
}

func createTablesTx(ctx context.Context, tx *sql.Tx, schema domain.IndexSchema) error {
	chunks := tableName(schema.Name, "chunks")
	parents := tableName(schema.Name, "parents")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			seq           BIGSERIAL PRIMARY KEY,
			id            TEXT NOT NULL UNIQUE,
			parent_id     TEXT NOT NULL,
			position      INTEGER NOT NULL DEFAULT 0,
			content       TEXT NOT NULL,
			language_code TEXT NOT NULL DEFAULT '',
			metadata      JSONB,
			embedding     vector(%d) NOT NULL,
			tsv           tsvector GENERATED ALWAYS AS (to_tsvector('%s', content)) STORED
		)`, chunks, schema.Dimensions, textConfig),
		fmt.Sprintf(`CREATE INDEX ON %s USING gin (tsv)`, chunks),
		fmt.Sprintf(`CREATE INDEX ON %s (parent_id)`, chunks),
		fmt.Sprintf(`CREATE TABLE %s (
			id         TEXT PRIMARY KEY,
			title      TEXT,
			uri        TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, parents),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return createVectorIndexTx(ctx, tx, schema, false)
}

func createVectorIndexTx(ctx context.Context, tx *sql.Tx, schema domain.IndexSchema, replace bool) error {
	name := pq.QuoteIdentifier("fagdag_" + unsafeIdent.ReplaceAllString(strings.ToLower(schema.Name), "_") + "_hnsw")
	if replace {
		if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS `+name); err != nil {
			return err
		}
	}
	m, ef := schema.HNSW.M, schema.HNSW.EfConstruction
	if m <= 0 {
		m = 16
	}
	if ef <= 0 {
		ef = 64
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d)`,
		name, tableName(schema.Name, "chunks"), m, ef))
	return err
}

func dropTablesTx(ctx context.Context, tx *sql.Tx, name string) error {
	stmts := []string{
		`DROP TABLE IF EXISTS ` + tableName(name, "chunks"),
		`DROP TABLE IF EXISTS ` + tableName(name, "parents"),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM fagdag_schema_meta WHERE name = $1`, name)
	return err
}

func (s *Store) loadSchema(ctx context.Context, name string) (*domain.IndexSchema, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT schema_json FROM fagdag_schema_meta WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: index %s", domain.ErrNotFound, name)
	}
	if err != nil {
		return nil, classify("postgres load schema", err)
	}

	var schema domain.IndexSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("%w: stored schema for %s: %v", domain.ErrIrrecoverable, name, err)
	}
	return &schema, nil
}

// DeleteIndex drops the named index tables. A missing index is not an error.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return dropTablesTx(ctx, tx, name)
	})
	if err != nil {
		return classify("postgres delete index", err)
	}
	return nil
}

// ==================== Writes ====================

// Upsert writes chunks keyed by ID in one transaction.
func (s *Store) Upsert(ctx context.Context, chunks []domain.Chunk) (domain.UpsertResult, error) {
	var result domain.UpsertResult

	schema, err := s.loadSchema(ctx, s.index)
	if err != nil {
		return result, err
	}

	chunkTable := tableName(s.index, "chunks")
	parentTable := tableName(s.index, "parents")

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

			metadataJSON, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("marshalling metadata: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO `+chunkTable+` (id, parent_id, position, content, language_code, metadata, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (id) DO UPDATE SET
					parent_id = excluded.parent_id,
					position = excluded.position,
					content = excluded.content,
					language_code = excluded.language_code,
					metadata = excluded.metadata,
					embedding = excluded.embedding
			`, c.ID, c.ParentID, c.Position, c.Content, c.LanguageCode, string(metadataJSON), pgvector.NewVector(c.Embedding))
			if err != nil {
				return fmt.Errorf("chunk %s: %w", c.ID, err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO `+parentTable+` (id, title, uri) VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET title = excluded.title, uri = excluded.uri, updated_at = now()
			`, c.ParentID, c.Metadata["title"], c.Metadata["uri"])
			if err != nil {
				return fmt.Errorf("parent %s: %w", c.ParentID, err)
			}
			result.Accepted++
		}
		return nil
	})
	if err != nil {
		return domain.UpsertResult{}, classify("postgres upsert", err)
	}
	return result, nil
}

// DeleteParent removes the chunks of parentID and the parent row in one
// transaction.
func (s *Store) DeleteParent(ctx context.Context, parentID string) (int, error) {
	if _, err := s.loadSchema(ctx, s.index); err != nil {
		return 0, err
	}

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM `+tableName(s.index, "chunks")+` WHERE parent_id = $1`, parentID)
		if err != nil {
			return err
		}
		if removed, err = res.RowsAffected(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM `+tableName(s.index, "parents")+` WHERE id = $1`, parentID)
		return err
	})
	if err != nil {
		return 0, classify("postgres delete parent", err)
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
	err = s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT (SELECT COUNT(*) FROM %s), (SELECT COUNT(*) FROM %s)`,
		tableName(s.index, "chunks"), tableName(s.index, "parents"),
	)).Scan(&stats.Chunks, &stats.Parents)
	if err != nil {
		return domain.IndexStats{}, classify("postgres stats", err)
	}
	return stats, nil
}

// ==================== Search ====================

const chunkColumns = `seq, id, parent_id, position, content, language_code, metadata, embedding`

// LexicalSearch ranks chunks with ts_rank_cd over OR-ed query terms.
func (s *Store) LexicalSearch(ctx context.Context, text string, limit int) ([]driven.Hit, error) {
	if _, err := s.loadSchema(ctx, s.index); err != nil {
		return nil, err
	}

	query := tsQuery(text)
	if query == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s, ts_rank_cd(tsv, q) AS score
		FROM %s, to_tsquery('%s', $1) q
		WHERE tsv @@ q
		ORDER BY score DESC, seq
		LIMIT $2
	`, chunkColumns, tableName(s.index, "chunks"), textConfig), query, limitOrAll(limit))
	if err != nil {
		return nil, classify("postgres lexical search", err)
	}
	defer rows.Close()

	return scanHits(rows, true)
}

// VectorSearch ranks chunks by cosine similarity through the HNSW index.
func (s *Store) VectorSearch(ctx context.Context, vector []float32, limit int) ([]driven.Hit, error) {
	schema, err := s.loadSchema(ctx, s.index)
	if err != nil {
		return nil, err
	}
	if len(vector) != schema.Dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, index has %d",
			domain.ErrInvalidInput, len(vector), schema.Dimensions)
	}

	var hits []driven.Hit
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if ef := schema.HNSW.EfSearch; ef > 0 {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, ef)); err != nil {
				return err
			}
		}
		rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
			SELECT %s, 1 - (embedding <=> $1) AS score
			FROM %s
			ORDER BY embedding <=> $1, seq
			LIMIT $2
		`, chunkColumns, tableName(s.index, "chunks")), pgvector.NewVector(vector), limitOrAll(limit))
		if err != nil {
			return err
		}
		defer rows.Close()
		hits, err = scanHits(rows, false)
		return err
	})
	if err != nil {
		return nil, classify("postgres vector search", err)
	}
	return hits, nil
}

func scanHits(rows *sql.Rows, dropZero bool) ([]driven.Hit, error) {
	var hits []driven.Hit
	for rows.Next() {
		var (
			hit      driven.Hit
			metadata []byte
			vec      pgvector.Vector
		)
		err := rows.Scan(&hit.Seq, &hit.Chunk.ID, &hit.Chunk.ParentID, &hit.Chunk.Position,
			&hit.Chunk.Content, &hit.Chunk.LanguageCode, &metadata, &vec, &hit.Score)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		if len(metadata) > 0 && string(metadata) != "null" {
			if err := json.Unmarshal(metadata, &hit.Chunk.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshalling metadata: %w", err)
			}
		}
		hit.Chunk.Embedding = vec.Slice()
		if dropZero && hit.Score <= 0 {
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	driven.SortHits(hits)
	return hits, nil
}

// tsQuery joins the query tokens with the OR operator. Tokens hold only
// letters and digits, so no escaping is needed.
func tsQuery(text string) string {
	return strings.Join(textutil.Tokenize(text), " | ")
}

// limitOrAll maps a non-positive limit onto LIMIT ALL.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
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

// classify maps a Postgres error onto the error taxonomy by SQLSTATE class.
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

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &domain.BackendError{Op: op, Kind: kindForCode(string(pqErr.Code)), Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, sql.ErrConnDone) {
		return &domain.BackendError{Op: op, Kind: domain.ErrTransient, Err: err}
	}
	return &domain.BackendError{Op: op, Kind: domain.ErrIrrecoverable, Err: err}
}

func kindForCode(code string) error {
	switch {
	case strings.HasPrefix(code, "08"), // connection exception
		strings.HasPrefix(code, "53"), // insufficient resources
		code == "40001", code == "40P01", // serialization failure, deadlock
		code == "57P01", code == "57P03": // admin shutdown, cannot connect now
		return domain.ErrTransient
	case code == "28000", code == "28P01", code == "42501":
		return domain.ErrPermissionDenied
	case code == "42P01", code == "3D000":
		return domain.ErrNotFound
	case strings.HasPrefix(code, "22"):
		return domain.ErrInvalidInput
	default:
		return domain.ErrIrrecoverable
	}
}
