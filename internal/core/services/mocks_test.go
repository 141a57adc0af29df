package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/resilience"
)

// fastRetry retries three times without meaningful delay.
func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
}

// mockEmbedder returns a fixed vector or delegates to fn.
type mockEmbedder struct {
	mu    sync.Mutex
	dims  int
	fn    func(text string) ([]float32, error)
	calls int
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dims: dims}
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	fn := m.fn
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(text)
	}
	v := make([]float32, m.dims)
	v[0] = 1
	return v, nil
}

func (m *mockEmbedder) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockEmbedder) Dimensions() int            { return m.dims }
func (m *mockEmbedder) ModelName() string          { return "mock-embed" }
func (m *mockEmbedder) Ping(context.Context) error { return nil }
func (m *mockEmbedder) Close() error               { return nil }

// mockWriter records upsert batches.
type mockWriter struct {
	mu        sync.Mutex
	batches   [][]domain.Chunk
	upsertFn  func(call int, batch []domain.Chunk) (domain.UpsertResult, error)
	schemaErr error
	deleted   []string
	created   int
	calls     int

	parentsDeleted []string
	parentErr      error
}

func (m *mockWriter) CreateOrUpdateSchema(
	_ context.Context, _ domain.IndexSchema, _ domain.SchemaOptions,
) (domain.SchemaAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schemaErr != nil {
		return "", m.schemaErr
	}
	m.created++
	return domain.SchemaCreated, nil
}

func (m *mockWriter) Upsert(_ context.Context, chunks []domain.Chunk) (domain.UpsertResult, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	fn := m.upsertFn
	m.mu.Unlock()

	if fn != nil {
		result, err := fn(call, chunks)
		if err != nil {
			return result, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, append([]domain.Chunk(nil), chunks...))
	return domain.UpsertResult{Accepted: len(chunks)}, nil
}

func (m *mockWriter) DeleteParent(_ context.Context, parentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parentsDeleted = append(m.parentsDeleted, parentID)
	return 0, m.parentErr
}

func (m *mockWriter) DeleteIndex(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, name)
	return nil
}

func (m *mockWriter) Stats(context.Context) (domain.IndexStats, error) {
	return domain.IndexStats{}, nil
}

func (m *mockWriter) batchSizes() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sizes := make([]int, len(m.batches))
	for i, b := range m.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// mockBackend returns canned hits per leg.
type mockBackend struct {
	lexical, vector       []driven.Hit
	lexicalErr, vectorErr error
	lexicalLimit          int
	vectorLimit           int
}

func (m *mockBackend) LexicalSearch(_ context.Context, _ string, limit int) ([]driven.Hit, error) {
	m.lexicalLimit = limit
	if m.lexicalErr != nil {
		return nil, m.lexicalErr
	}
	return append([]driven.Hit(nil), m.lexical...), nil
}

func (m *mockBackend) VectorSearch(_ context.Context, _ []float32, limit int) ([]driven.Hit, error) {
	m.vectorLimit = limit
	if m.vectorErr != nil {
		return nil, m.vectorErr
	}
	return append([]driven.Hit(nil), m.vector...), nil
}

func hit(id string, score float64, seq int64) driven.Hit {
	return driven.Hit{Chunk: domain.Chunk{ID: id, Content: "content of " + id}, Score: score, Seq: seq}
}

// sliceStream yields parts, then err.
type sliceStream struct {
	parts  []string
	err    error
	i      int
	cur    string
	closed bool
}

func (s *sliceStream) Next() bool {
	if s.closed || s.i >= len(s.parts) {
		return false
	}
	s.cur = s.parts[s.i]
	s.i++
	return true
}

func (s *sliceStream) Text() string { return s.cur }

func (s *sliceStream) Err() error {
	if s.closed || s.i < len(s.parts) {
		return nil
	}
	return s.err
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// mockStreamer serves a sliceStream and records the messages it was sent.
type mockStreamer struct {
	parts    []string
	err      error
	startErr error
	messages []domain.ChatMessage
	stream   *sliceStream
	calls    int
}

func (m *mockStreamer) StreamCompletion(_ context.Context, messages []domain.ChatMessage) (driven.Stream, error) {
	m.calls++
	m.messages = messages
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.stream = &sliceStream{parts: m.parts, err: m.err}
	return m.stream, nil
}

func (m *mockStreamer) ModelName() string          { return "mock-chat" }
func (m *mockStreamer) Ping(context.Context) error { return nil }
func (m *mockStreamer) Close() error               { return nil }

// mockRetriever returns canned results.
type mockRetriever struct {
	results []domain.RetrievalResult
	err     error
	vector  []float32
	text    string
}

func (m *mockRetriever) Search(_ context.Context, vector []float32, text string, _ int) ([]domain.RetrievalResult, error) {
	m.vector, m.text = vector, text
	return m.results, m.err
}

// mockClassifier returns canned entities.
type mockClassifier struct {
	entities []domain.PIIEntity
	err      error
}

func (m *mockClassifier) Name() string { return "mock" }

func (m *mockClassifier) Classify(context.Context, string) ([]domain.PIIEntity, error) {
	return m.entities, m.err
}

// mockPromptStore serves templates from a map.
type mockPromptStore map[string]string

func (m mockPromptStore) Load(name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", errors.New("prompt not found")
}

func (m mockPromptStore) Reload() {}

// splitPipeline emits one chunk per document with the full content.
type splitPipeline struct {
	err error
}

func (p splitPipeline) Process(_ context.Context, doc *domain.Document) ([]domain.Chunk, error) {
	if p.err != nil {
		return nil, p.err
	}
	if doc.Content == "" {
		return nil, nil
	}
	return []domain.Chunk{{ID: doc.ID + "#0", ParentID: doc.ID, Content: doc.Content}}, nil
}
