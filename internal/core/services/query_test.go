package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/fagdag/internal/core/domain"
)

var vacationContext = []domain.RetrievalResult{
	result("c1", "Employees get 25 vacation days per year.", 0.03),
}

func newQueryService(streamer *mockStreamer, retriever *mockRetriever, cfg QueryConfig) (*QueryService, *mockEmbedder) {
	embedder := newMockEmbedder(4)
	var s *QueryService
	if streamer == nil {
		s = NewQueryService(embedder, retriever, nil, nil, cfg)
	} else {
		s = NewQueryService(embedder, retriever, streamer, nil, cfg)
	}
	return s, embedder
}

func TestQueryService_Ask_Completed(t *testing.T) {
	streamer := &mockStreamer{parts: []string{"You get ", "25 days."}}
	retriever := &mockRetriever{results: vacationContext}
	s, _ := newQueryService(streamer, retriever, QueryConfig{})

	history := []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}, {Role: domain.RoleAssistant, Content: "hello"}}
	var deltas []string
	answer, err := s.Ask(context.Background(), history, "  How many vacation days?  ", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, domain.QueryCompleted, answer.State)
	assert.Equal(t, "You get 25 days.", answer.Text)
	assert.Equal(t, []string{"You get ", "25 days."}, deltas)
	assert.False(t, answer.Partial)
	assert.False(t, answer.NoContext)
	assert.Equal(t, vacationContext, answer.Contexts)
	assert.Equal(t, "How many vacation days?", retriever.text)
	assert.Len(t, retriever.vector, 4)

	require.Len(t, streamer.messages, 3)
	last := streamer.messages[2]
	assert.Equal(t, domain.RoleUser, last.Role)
	assert.Contains(t, last.Content, "<context id=\"1\">\nEmployees get 25 vacation days per year.\n</context>")
	assert.Contains(t, last.Content, "Question: How many vacation days?")
}

func TestQueryService_Ask_StopStreaming(t *testing.T) {
	streamer := &mockStreamer{parts: []string{"a", "b", "c", "d"}}
	s, _ := newQueryService(streamer, &mockRetriever{results: vacationContext}, QueryConfig{})

	n := 0
	answer, err := s.Ask(context.Background(), nil, "q", func(string) error {
		n++
		if n == 2 {
			return domain.ErrStopStreaming
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, domain.QueryCancelled, answer.State)
	assert.Equal(t, "ab", answer.Text)
	assert.True(t, answer.Partial)
	assert.True(t, streamer.stream.closed)
}

func TestQueryService_Ask_Failures(t *testing.T) {
	tests := []struct {
		name        string
		streamer    *mockStreamer
		retriever   *mockRetriever
		embedErr    error
		question    string
		wantErr     error
		wantText    string
		wantPartial bool
	}{
		{
			name:     "empty question",
			streamer: &mockStreamer{},
			question: "   ",
			wantErr:  domain.ErrInvalidInput,
		},
		{
			name:     "embedding fails",
			streamer: &mockStreamer{},
			embedErr: domain.ErrPermissionDenied,
			question: "q",
			wantErr:  domain.ErrPermissionDenied,
		},
		{
			name:      "retrieval fails",
			streamer:  &mockStreamer{},
			retriever: &mockRetriever{err: domain.ErrTransient},
			question:  "q",
			wantErr:   domain.ErrTransient,
		},
		{
			name:     "completion cannot start",
			streamer: &mockStreamer{startErr: domain.ErrRateLimited},
			question: "q",
			wantErr:  domain.ErrRateLimited,
		},
		{
			name:        "stream breaks midway",
			streamer:    &mockStreamer{parts: []string{"partial"}, err: domain.ErrTransient},
			question:    "q",
			wantErr:     domain.ErrTransient,
			wantText:    "partial",
			wantPartial: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retriever := tt.retriever
			if retriever == nil {
				retriever = &mockRetriever{results: vacationContext}
			}
			s, embedder := newQueryService(tt.streamer, retriever, QueryConfig{})
			if tt.embedErr != nil {
				embedder.fn = func(string) ([]float32, error) { return nil, tt.embedErr }
			}

			answer, err := s.Ask(context.Background(), nil, tt.question, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			require.NotNil(t, answer)
			assert.Equal(t, domain.QueryFailed, answer.State)
			assert.Equal(t, tt.wantPartial, answer.Partial)
			if tt.wantPartial {
				assert.Equal(t, tt.wantText, answer.Text)
				assert.Equal(t, domain.CouldNotAnswer, answer.Notice)
			} else {
				assert.Equal(t, domain.CouldNotAnswer, answer.Text)
				assert.Empty(t, answer.Notice)
			}
		})
	}
}

func TestQueryService_Ask_MidStreamFailureKeepsDeliveredText(t *testing.T) {
	unavailable := domain.NewBackendError("chat", 503, errors.New("service unavailable"))
	streamer := &mockStreamer{parts: []string{"The vacation ", "policy is "}, err: unavailable}
	s, _ := newQueryService(streamer, &mockRetriever{results: vacationContext}, QueryConfig{})

	var delivered []string
	answer, err := s.Ask(context.Background(), nil, "What is the vacation policy?", func(d string) error {
		delivered = append(delivered, d)
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, []string{"The vacation ", "policy is "}, delivered)
	assert.Equal(t, domain.QueryFailed, answer.State)
	assert.True(t, answer.Partial)
	assert.Equal(t, "The vacation policy is ", answer.Text)
	assert.Equal(t, domain.CouldNotAnswer, answer.Notice)
	assert.Equal(t, vacationContext, answer.Contexts)
}

func TestQueryService_Ask_UnrelatedQuestionOnPopulatedIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVectorStore("handbook")
	_, err := store.CreateOrUpdateSchema(ctx, domain.DefaultIndexSchema("handbook", 4), domain.SchemaOptions{})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, []domain.Chunk{
		{ID: "p0", ParentID: "policy", Content: "Employees get 25 vacation days", Embedding: []float32{0, 1, 0, 0}},
		{ID: "l0", ParentID: "lunch", Content: "Lunch is served in the canteen", Embedding: []float32{0, 0, 1, 0}},
	})
	require.NoError(t, err)

	// The mock embedder points every question along the first axis, away
	// from every indexed chunk.
	streamer := &mockStreamer{parts: []string{domain.DefaultUnknownAnswer}}
	retriever := NewHybridRetriever(store, RetrieverConfig{MinSimilarity: domain.DefaultMinSimilarity})
	s := NewQueryService(newMockEmbedder(4), retriever, streamer, nil, QueryConfig{})

	answer, err := s.Ask(ctx, nil, "How do zeppelins fly?", nil)
	require.NoError(t, err)
	assert.True(t, answer.NoContext)
	assert.Empty(t, answer.Contexts)
	assert.Equal(t, domain.QueryCompleted, answer.State)

	require.NotEmpty(t, streamer.messages)
	prompt := streamer.messages[len(streamer.messages)-1].Content
	assert.Contains(t, prompt, domain.DefaultUnknownAnswer)
	assert.NotContains(t, prompt, "<context")
	assert.Contains(t, prompt, "Question: How do zeppelins fly?")
}

func TestQueryService_Ask_NoStreamer(t *testing.T) {
	s, _ := newQueryService(nil, &mockRetriever{}, QueryConfig{})
	answer, err := s.Ask(context.Background(), nil, "q", nil)
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
	assert.Equal(t, domain.QueryFailed, answer.State)
}

func TestQueryService_Ask_NoContextSkipsModel(t *testing.T) {
	streamer := &mockStreamer{parts: []string{"should not be called"}}
	s, _ := newQueryService(streamer, &mockRetriever{}, QueryConfig{SkipModelWhenNoContext: true})

	var deltas []string
	answer, err := s.Ask(context.Background(), nil, "What is the parking policy?", func(d string) error {
		deltas = append(deltas, d)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, domain.QueryCompleted, answer.State)
	assert.True(t, answer.NoContext)
	assert.Equal(t, domain.NoRelevantContext, answer.Text)
	assert.Equal(t, []string{domain.NoRelevantContext}, deltas)
	assert.Equal(t, 0, streamer.calls)
}

func TestQueryService_Ask_NoContextAsksModel(t *testing.T) {
	streamer := &mockStreamer{parts: []string{domain.DefaultUnknownAnswer}}
	s, _ := newQueryService(streamer, &mockRetriever{}, QueryConfig{})

	answer, err := s.Ask(context.Background(), nil, "q", nil)
	require.NoError(t, err)
	assert.True(t, answer.NoContext)
	assert.Equal(t, domain.DefaultUnknownAnswer, answer.Text)
	require.NotEmpty(t, streamer.messages)
	assert.NotContains(t, streamer.messages[len(streamer.messages)-1].Content, "<context")
}

func TestQueryService_Ask_ContextCancelled(t *testing.T) {
	s, _ := newQueryService(&mockStreamer{}, &mockRetriever{results: vacationContext}, QueryConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answer, err := s.Ask(ctx, nil, "q", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.QueryCancelled, answer.State)
}

func TestQueryService_Search_FallsBackToLexical(t *testing.T) {
	retriever := &mockRetriever{results: vacationContext}
	s, embedder := newQueryService(nil, retriever, QueryConfig{})
	embedder.fn = func(string) ([]float32, error) { return nil, errors.New("embedding service down") }

	results, err := s.Search(context.Background(), "vacation", 3)
	require.NoError(t, err)
	assert.Equal(t, vacationContext, results)
	assert.Nil(t, retriever.vector)
	assert.Equal(t, "vacation", retriever.text)
}

func TestQueryService_Search_Empty(t *testing.T) {
	s, _ := newQueryService(nil, &mockRetriever{}, QueryConfig{})
	results, err := s.Search(context.Background(), "  ", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}
