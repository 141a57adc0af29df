package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
	"github.com/custodia-labs/fagdag/internal/textutil"
)

// Ensure VectorStore implements the interface.
var _ driven.VectorStore = (*VectorStore)(nil)

type storedChunk struct {
	chunk domain.Chunk
	seq   int64
}

type index struct {
	schema  domain.IndexSchema
	chunks  map[string]*storedChunk
	parents map[string]int
	bm25    *textutil.BM25
	seq     int64
}

func newIndex(schema domain.IndexSchema) *index {
	return &index{
		schema:  schema,
		chunks:  make(map[string]*storedChunk),
		parents: make(map[string]int),
		bm25:    textutil.NewBM25(),
	}
}

// VectorStore is an in-process index backend. Lexical search is BM25 over
// tokens and vector search is exact cosine similarity.
type VectorStore struct {
	mu      sync.RWMutex
	name    string
	indexes map[string]*index
}

// NewVectorStore creates a store bound to the named index.
func NewVectorStore(name string) *VectorStore {
	return &VectorStore{
		name:    name,
		indexes: make(map[string]*index),
	}
}

// CreateOrUpdateSchema creates, extends or recreates the bound index.
func (s *VectorStore) CreateOrUpdateSchema(
	_ context.Context, schema domain.IndexSchema, opts domain.SchemaOptions,
) (domain.SchemaAction, error) {
	if schema.Name != s.name {
		return "", fmt.Errorf("%w: store is bound to index %q, not %q", domain.ErrConfig, s.name, schema.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *domain.IndexSchema
	idx, ok := s.indexes[schema.Name]
	if ok {
		existing = &idx.schema
	}

	action, err := domain.PlanSchemaChange(existing, schema, opts)
	if err != nil {
		return "", err
	}

	switch action {
	case domain.SchemaCreated:
		s.indexes[schema.Name] = newIndex(schema)
	case domain.SchemaRecreated:
		logger.Warn("recreating index %s: schema is incompatible", schema.Name)
		s.indexes[schema.Name] = newIndex(schema)
	case domain.SchemaUpdated:
		idx.schema = schema
	}
	return action, nil
}

// Upsert writes chunks keyed by ID. A chunk written again keeps its
// original insertion sequence.
func (s *VectorStore) Upsert(ctx context.Context, chunks []domain.Chunk) (domain.UpsertResult, error) {
	var result domain.UpsertResult
	if err := ctx.Err(); err != nil {
		return result, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[s.name]
	if !ok {
		return result, fmt.Errorf("%w: index %s", domain.ErrNotFound, s.name)
	}

	for i := range chunks {
		c := chunks[i]
		if err := c.Validate(idx.schema.Dimensions); err != nil {
			result.Rejected++
			result.Errors = append(result.Errors, domain.ItemError{
				DocumentID: c.ParentID, ChunkID: c.ID, Stage: domain.StageUpsert, Err: err,
			})
			continue
		}

		c.Embedding = append([]float32(nil), c.Embedding...)
		c.Metadata = domain.CloneMetadata(c.Metadata)

		if prev, exists := idx.chunks[c.ID]; exists {
			if prev.chunk.ParentID != c.ParentID {
				idx.dropParent(prev.chunk.ParentID)
				idx.parents[c.ParentID]++
			}
			prev.chunk = c
		} else {
			idx.seq++
			idx.chunks[c.ID] = &storedChunk{chunk: c, seq: idx.seq}
			idx.parents[c.ParentID]++
		}
		idx.bm25.Add(c.ID, c.Content)
		result.Accepted++
	}
	return result, nil
}

// DeleteParent removes the chunks of parentID from the bound index.
func (s *VectorStore) DeleteParent(ctx context.Context, parentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[s.name]
	if !ok {
		return 0, fmt.Errorf("%w: index %s", domain.ErrNotFound, s.name)
	}

	removed := 0
	for id, sc := range idx.chunks {
		if sc.chunk.ParentID != parentID {
			continue
		}
		delete(idx.chunks, id)
		idx.bm25.Remove(id)
		removed++
	}
	delete(idx.parents, parentID)
	return removed, nil
}

func (idx *index) dropParent(id string) {
	idx.parents[id]--
	if idx.parents[id] <= 0 {
		delete(idx.parents, id)
	}
}

// DeleteIndex removes the named index. A missing index is not an error.
func (s *VectorStore) DeleteIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, name)
	return nil
}

// Stats reports counts for the bound index.
func (s *VectorStore) Stats(_ context.Context) (domain.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[s.name]
	if !ok {
		return domain.IndexStats{}, fmt.Errorf("%w: index %s", domain.ErrNotFound, s.name)
	}
	return domain.IndexStats{
		Name:       s.name,
		Chunks:     len(idx.chunks),
		Parents:    len(idx.parents),
		Dimensions: idx.schema.Dimensions,
	}, nil
}

// LexicalSearch ranks chunks by BM25.
func (s *VectorStore) LexicalSearch(ctx context.Context, text string, limit int) ([]driven.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[s.name]
	if !ok {
		return nil, fmt.Errorf("%w: index %s", domain.ErrNotFound, s.name)
	}

	scores := idx.bm25.Scores(text)
	hits := make([]driven.Hit, 0, len(scores))
	for id, score := range scores {
		sc := idx.chunks[id]
		hits = append(hits, driven.Hit{Chunk: sc.chunk, Score: score, Seq: sc.seq})
	}
	return truncate(hits, limit), nil
}

// VectorSearch ranks every chunk by cosine similarity to vector.
func (s *VectorStore) VectorSearch(ctx context.Context, vector []float32, limit int) ([]driven.Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[s.name]
	if !ok {
		return nil, fmt.Errorf("%w: index %s", domain.ErrNotFound, s.name)
	}
	if len(vector) != idx.schema.Dimensions {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, index has %d",
			domain.ErrInvalidInput, len(vector), idx.schema.Dimensions)
	}

	hits := make([]driven.Hit, 0, len(idx.chunks))
	for _, sc := range idx.chunks {
		hits = append(hits, driven.Hit{
			Chunk: sc.chunk,
			Score: textutil.CosineSimilarity(vector, sc.chunk.Embedding),
			Seq:   sc.seq,
		})
	}
	return truncate(hits, limit), nil
}

// Close is a no-op.
func (s *VectorStore) Close() error {
	return nil
}

func truncate(hits []driven.Hit, limit int) []driven.Hit {
	driven.SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}
