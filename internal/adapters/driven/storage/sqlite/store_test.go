package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

const testIndex = "index_test"

// setupTestStore creates a temporary SQLite store with the default schema.
func setupTestStore(t *testing.T, dims int) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir(), testIndex)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	action, err := store.CreateOrUpdateSchema(context.Background(),
		domain.DefaultIndexSchema(testIndex, dims), domain.SchemaOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.SchemaCreated, action)
	return store
}

func testChunk(id, parent, content string, vec ...float32) domain.Chunk {
	return domain.Chunk{
		ID:           id,
		ParentID:     parent,
		Content:      content,
		LanguageCode: "nb",
		Embedding:    vec,
		Metadata:     map[string]string{"title": "Title " + parent, "uri": parent + ".md"},
	}
}

// ==================== Store Creation ====================

func TestNewStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, testIndex)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(dir, DatabaseFile), store.Path())
	assert.FileExists(t, store.Path())
	assert.NoError(t, store.db.Ping())
}

func TestNewStore_Errors(t *testing.T) {
	_, err := NewStore(t.TempDir(), "")
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = NewStore("/invalid\x00path", testIndex)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_MigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	first, err := NewStore(dir, testIndex)
	require.NoError(t, err)
	var count int
	require.NoError(t, first.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	require.NoError(t, first.Close())

	second, err := NewStore(dir, testIndex)
	require.NoError(t, err)
	defer second.Close()

	var again int
	require.NoError(t, second.db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&again))
	assert.Equal(t, count, again)
	assert.Equal(t, 1, again)
}

// ==================== Schema ====================

func TestStore_CreateOrUpdateSchema(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 3)

	action, err := store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema(testIndex, 3), domain.SchemaOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaUnchanged, action)

	extended := domain.DefaultIndexSchema(testIndex, 3)
	extended.Fields = append(extended.Fields, domain.FieldSpec{Name: "title", Type: domain.FieldTypeText})
	action, err = store.CreateOrUpdateSchema(ctx, extended, domain.SchemaOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaUpdated, action)

	_, err = store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema(testIndex, 5), domain.SchemaOptions{})
	assert.ErrorIs(t, err, domain.ErrSchemaConflict)

	_, err = store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema("other", 3), domain.SchemaOptions{})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestStore_RecreateDropsData(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	_, err := store.Upsert(ctx, []domain.Chunk{testChunk("a", "doc", "alpha", 1, 0)})
	require.NoError(t, err)

	action, err := store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema(testIndex, 4), domain.SchemaOptions{AllowRecreate: true})
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaRecreated, action)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Chunks)
	assert.Equal(t, 0, stats.Parents)
	assert.Equal(t, 4, stats.Dimensions)

	hits, err := store.LexicalSearch(ctx, "alpha", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// ==================== Writes ====================

func TestStore_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	chunks := []domain.Chunk{
		testChunk("a", "doc1", "first chunk", 1, 0),
		testChunk("b", "doc1", "second chunk", 0, 1),
		testChunk("c", "doc2", "third chunk", 1, 1),
	}
	for i := 0; i < 2; i++ {
		res, err := store.Upsert(ctx, chunks)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Accepted)
		assert.Zero(t, res.Rejected)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexStats{Name: testIndex, Chunks: 3, Parents: 2, Dimensions: 2}, stats)

	hits, err := store.LexicalSearch(ctx, "chunk", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestStore_UpsertKeepsSequence(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	_, err := store.Upsert(ctx, []domain.Chunk{testChunk("a", "d", "one", 1, 0), testChunk("b", "d", "two", 1, 0)})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, []domain.Chunk{testChunk("a", "d", "one again", 1, 0)})
	require.NoError(t, err)

	hits, err := store.VectorSearch(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Chunk.ID)
	assert.Equal(t, "one again", hits[0].Chunk.Content)
	assert.Less(t, hits[0].Seq, hits[1].Seq)
}

func TestStore_UpsertRejects(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	res, err := store.Upsert(ctx, []domain.Chunk{
		testChunk("", "doc", "no id", 1, 0),
		testChunk("x", "", "no parent", 1, 0),
		testChunk("y", "doc", "wrong dims", 1),
		testChunk("z", "doc", "fine", 1, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 3, res.Rejected)
	for _, e := range res.Errors {
		assert.True(t, errors.Is(e, domain.ErrInvalidInput))
	}
}

func TestStore_MissingIndex(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir(), testIndex)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Upsert(ctx, []domain.Chunk{testChunk("a", "d", "x", 1)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.Stats(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.VectorSearch(ctx, []float32{1}, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, store.DeleteIndex(ctx, testIndex))
}

func TestStore_DeleteIndex(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	_, err := store.Upsert(ctx, []domain.Chunk{testChunk("a", "doc", "alpha", 1, 0)})
	require.NoError(t, err)
	require.NoError(t, store.DeleteIndex(ctx, testIndex))

	_, err = store.Stats(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	var fts int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM chunks_fts").Scan(&fts))
	assert.Zero(t, fts)
}

func TestStore_DeleteParent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	_, err := store.Upsert(ctx, []domain.Chunk{
		testChunk("p0", "policy", "Employees get 25 vacation days", 1, 0),
		testChunk("p1", "policy", "Vacation requests go to HR", 0.8, 0.2),
		testChunk("l0", "lunch", "Lunch is served at noon", 0, 1),
	})
	require.NoError(t, err)

	removed, err := store.DeleteParent(ctx, "policy")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Chunks)
	assert.Equal(t, 1, stats.Parents)

	hits, err := store.LexicalSearch(ctx, "vacation", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	var fts int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM chunks_fts").Scan(&fts))
	assert.Equal(t, 1, fts)

	removed, err = store.DeleteParent(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

// ==================== Search ====================

func TestStore_LexicalSearch(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	_, err := store.Upsert(ctx, []domain.Chunk{
		testChunk("a", "policy", "Employees get 25 vacation days per year", 1, 0),
		testChunk("b", "parking", "Parking is free on weekends", 0, 1),
		testChunk("c", "hr", "Send vacation requests to HR", 1, 1),
	})
	require.NoError(t, err)

	hits, err := store.LexicalSearch(ctx, "vacation days", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Chunk.ID)
	for i, h := range hits {
		assert.Greater(t, h.Score, 0.0)
		if i > 0 {
			assert.GreaterOrEqual(t, hits[i-1].Score, h.Score)
		}
	}
	assert.Equal(t, "Title policy", hits[0].Chunk.Metadata["title"])
	assert.Equal(t, []float32{1, 0}, hits[0].Chunk.Embedding)

	limited, err := store.LexicalSearch(ctx, "vacation", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := store.LexicalSearch(ctx, "?!", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	quoted, err := store.LexicalSearch(ctx, `"vacation" OR NOT`, 10)
	require.NoError(t, err)
	assert.Len(t, quoted, 2)
}

func TestStore_VectorSearch(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	_, err := store.Upsert(ctx, []domain.Chunk{
		testChunk("a", "d1", "east", 1, 0),
		testChunk("b", "d2", "north", 0, 1),
		testChunk("c", "d3", "north east", 0.7, 0.7),
	})
	require.NoError(t, err)

	hits, err := store.VectorSearch(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "c", hits[1].Chunk.ID)

	_, err = store.VectorSearch(ctx, []float32{1, 0, 0}, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, "", ftsQuery("  "))
	assert.Equal(t, `"ferie" OR "dager"`, ftsQuery("Ferie, dager?"))
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", errors.New("database is locked (SQLITE_BUSY)")), domain.ErrTransient)
	assert.ErrorIs(t, classify("op", errors.New("disk I/O error")), domain.ErrIrrecoverable)
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
	assert.ErrorIs(t, classify("op", domain.ErrNotFound), domain.ErrNotFound)
}
