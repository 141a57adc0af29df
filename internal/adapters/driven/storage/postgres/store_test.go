package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// dsnEnv names the variable holding a DSN for a pgvector-enabled database.
const dsnEnv = "FAGDAG_TEST_POSTGRES_DSN"

func setupTestStore(t *testing.T, dims int) *Store {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx := context.Background()
	name := fmt.Sprintf("test_%d", time.Now().UnixNano())
	store, err := NewStore(ctx, dsn, name)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.DeleteIndex(ctx, name))
		assert.NoError(t, store.Close())
	})

	action, err := store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema(name, dims), domain.SchemaOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.SchemaCreated, action)
	return store
}

func testChunk(id, parent, content string, vec ...float32) domain.Chunk {
	return domain.Chunk{
		ID:        id,
		ParentID:  parent,
		Content:   content,
		Embedding: vec,
		Metadata:  map[string]string{"title": "Title " + parent},
	}
}

func TestNewStore_Config(t *testing.T) {
	_, err := NewStore(context.Background(), "", "idx")
	assert.ErrorIs(t, err, domain.ErrConfig)

	_, err = NewStore(context.Background(), "postgres://localhost/db", "")
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestStore_Roundtrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	chunks := []domain.Chunk{
		testChunk("a", "policy", "Employees get 25 vacation days per year", 1, 0),
		testChunk("b", "parking", "Parking is free on weekends", 0, 1),
		testChunk("c", "hr", "Send vacation requests to HR", 0.7, 0.7),
	}
	for i := 0; i < 2; i++ {
		res, err := store.Upsert(ctx, chunks)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Accepted)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Chunks)
	assert.Equal(t, 3, stats.Parents)

	lexical, err := store.LexicalSearch(ctx, "vacation days", 10)
	require.NoError(t, err)
	require.Len(t, lexical, 2)
	assert.Equal(t, "a", lexical[0].Chunk.ID)

	vector, err := store.VectorSearch(ctx, []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, vector, 2)
	assert.Equal(t, "a", vector[0].Chunk.ID)
	assert.InDelta(t, 1.0, vector[0].Score, 1e-5)

	_, err = store.VectorSearch(ctx, []float32{1, 0, 0}, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
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
}

func TestStore_SchemaConflict(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, 2)

	_, err := store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema(store.index, 3), domain.SchemaOptions{})
	assert.ErrorIs(t, err, domain.ErrSchemaConflict)

	action, err := store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema(store.index, 3), domain.SchemaOptions{AllowRecreate: true})
	require.NoError(t, err)
	assert.Equal(t, domain.SchemaRecreated, action)
}

func TestTableName(t *testing.T) {
	assert.Equal(t, `"fagdag_docs_chunks"`, tableName("docs", "chunks"))
	assert.Equal(t, `"fagdag_my_index_1_parents"`, tableName("My-Index.1", "parents"))
	assert.Equal(t, `"fagdag__drop_table_x_chunks"`, tableName(`"; DROP TABLE x`, "chunks"))
}

func TestTSQuery(t *testing.T) {
	assert.Equal(t, "", tsQuery(" ?! "))
	assert.Equal(t, "ferie | dager", tsQuery("Ferie & dager!"))
}

func TestLimitOrAll(t *testing.T) {
	assert.Nil(t, limitOrAll(0))
	assert.Equal(t, 5, limitOrAll(5))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"08006", domain.ErrTransient},
		{"40P01", domain.ErrTransient},
		{"53300", domain.ErrTransient},
		{"42501", domain.ErrPermissionDenied},
		{"42P01", domain.ErrNotFound},
		{"22P02", domain.ErrInvalidInput},
		{"23505", domain.ErrIrrecoverable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := classify("op", &pq.Error{Code: pq.ErrorCode(tt.code)})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", context.DeadlineExceeded), context.DeadlineExceeded)
	assert.ErrorIs(t, classify("op", errors.New("boom")), domain.ErrIrrecoverable)
	assert.ErrorIs(t, classify("op", domain.ErrNotFound), domain.ErrNotFound)
}
