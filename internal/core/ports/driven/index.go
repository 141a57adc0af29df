package driven

import (
	"context"
	"sort"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// IndexWriter owns the search index schema and writes chunks into it.
type IndexWriter interface {
	// CreateOrUpdateSchema makes the stored schema match the requested one.
	// A missing index is created and a compatible one is extended in place.
	// An incompatible index is destroyed and recreated only when
	// opts.AllowRecreate is set; otherwise ErrSchemaConflict is returned.
	CreateOrUpdateSchema(ctx context.Context, schema domain.IndexSchema, opts domain.SchemaOptions) (domain.SchemaAction, error)

	// Upsert writes chunks keyed by ID. Writing the same chunk twice
	// leaves exactly one copy. Invalid chunks are rejected individually.
	Upsert(ctx context.Context, chunks []domain.Chunk) (domain.UpsertResult, error)

	// DeleteParent removes every chunk of the parent document and the
	// parent itself, returning the number of chunks removed. A parent
	// that is not indexed removes nothing.
	DeleteParent(ctx context.Context, parentID string) (int, error)

	// DeleteIndex removes the named index and everything in it.
	// Deleting a missing index is not an error.
	DeleteIndex(ctx context.Context, name string) error

	// Stats reports document counts for the bound index.
	// Returns ErrNotFound if the index does not exist.
	Stats(ctx context.Context) (domain.IndexStats, error)
}

// Hit is one ranked result from a single retrieval leg.
type Hit struct {
	Chunk domain.Chunk

	// Score is BM25 for the lexical leg and cosine similarity for the
	// vector leg. Higher is better.
	Score float64

	// Seq is the insertion sequence of the chunk, used to break ties.
	Seq int64
}

// SortHits orders hits by descending score, then insertion sequence,
// then chunk ID.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Seq != hits[j].Seq {
			return hits[i].Seq < hits[j].Seq
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
}

// SearchBackend runs the two legs of hybrid retrieval against the bound index.
// Only chunks are searchable; parent documents never appear in results.
type SearchBackend interface {
	// LexicalSearch ranks chunks by keyword relevance to text.
	LexicalSearch(ctx context.Context, text string, limit int) ([]Hit, error)

	// VectorSearch ranks chunks by cosine similarity to vector.
	VectorSearch(ctx context.Context, vector []float32, limit int) ([]Hit, error)
}

// Retriever returns the chunks most relevant to a query.
type Retriever interface {
	// Search returns at most topK results ordered by descending score.
	// An empty result is not an error.
	Search(ctx context.Context, vector []float32, text string, topK int) ([]domain.RetrievalResult, error)
}

// VectorStore is a complete index backend.
type VectorStore interface {
	IndexWriter
	SearchBackend

	// Close releases database handles.
	Close() error
}
