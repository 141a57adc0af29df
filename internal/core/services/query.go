package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// Ensure QueryService implements the interface.
var _ driving.QueryService = (*QueryService)(nil)

// QueryConfig configures a QueryService.
type QueryConfig struct {
	// TopK is the number of chunks retrieved per question.
	TopK int

	// SkipModelWhenNoContext answers NoRelevantContext without calling the
	// model when retrieval finds nothing.
	SkipModelWhenNoContext bool
}

// QueryService answers questions: embed, retrieve, build a grounded prompt
// and stream the completion.
type QueryService struct {
	embedder  driven.Embedder
	retriever driven.Retriever
	streamer  driven.CompletionStreamer
	prompts   *PromptAssembler
	cfg       QueryConfig
}

// NewQueryService creates a query service. streamer may be nil for
// callers that only search.
func NewQueryService(
	embedder driven.Embedder,
	retriever driven.Retriever,
	streamer driven.CompletionStreamer,
	prompts *PromptAssembler,
	cfg QueryConfig,
) *QueryService {
	if cfg.TopK <= 0 {
		cfg.TopK = domain.DefaultTopK
	}
	if prompts == nil {
		prompts = NewPromptAssembler(nil, PromptConfig{})
	}
	return &QueryService{
		embedder:  embedder,
		retriever: retriever,
		streamer:  streamer,
		prompts:   prompts,
		cfg:       cfg,
	}
}

// Ask runs one query round-trip. The returned answer is never nil.
func (s *QueryService) Ask(
	ctx context.Context, history []domain.ChatMessage, question string, onDelta func(string) error,
) (*domain.Answer, error) {
	logger.Section("Query")
	run := domain.NewQueryRun()
	answer := &domain.Answer{}

	fail := func(err error) (*domain.Answer, error) {
		if ctx.Err() != nil {
			run.Cancel()
			answer.State = run.State()
			answer.Partial = answer.Text != ""
			return answer, ctx.Err()
		}
		logger.Warn("Query failed in %s: %v", run.State(), err)
		run.Fail(err)
		answer.State = run.State()
		if answer.Text == "" {
			answer.Text = domain.CouldNotAnswer
			return answer, err
		}
		answer.Partial = true
		answer.Notice = domain.CouldNotAnswer
		return answer, err
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return fail(fmt.Errorf("%w: empty question", domain.ErrInvalidInput))
	}
	if s.streamer == nil && !s.cfg.SkipModelWhenNoContext {
		return fail(domain.ErrLLMUnavailable)
	}
	if s.embedder == nil {
		return fail(domain.ErrEmbeddingUnavailable)
	}

	if err := run.Transition(domain.QueryEmbedding); err != nil {
		return fail(err)
	}
	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return fail(fmt.Errorf("embed question: %w", err))
	}

	if err := run.Transition(domain.QueryRetrieving); err != nil {
		return fail(err)
	}
	results, err := s.retriever.Search(ctx, vector, question, s.cfg.TopK)
	if err != nil {
		return fail(fmt.Errorf("retrieve: %w", err))
	}
	answer.Contexts = results
	answer.NoContext = len(results) == 0
	logger.Debug("Query: %d contexts", len(results))

	if err := run.Transition(domain.QueryPromptBuilding); err != nil {
		return fail(err)
	}
	if answer.NoContext && s.cfg.SkipModelWhenNoContext {
		if err := run.Transition(domain.QueryStreaming); err != nil {
			return fail(err)
		}
		answer.Text = domain.NoRelevantContext
		if onDelta != nil {
			if err := onDelta(answer.Text); err != nil && !errors.Is(err, domain.ErrStopStreaming) {
				return fail(err)
			}
		}
		if err := run.Transition(domain.QueryCompleted); err != nil {
			return fail(err)
		}
		answer.State = run.State()
		return answer, nil
	}
	if s.streamer == nil {
		return fail(domain.ErrLLMUnavailable)
	}
	prompt := s.prompts.BuildPrompt(question, results)
	messages := s.prompts.BuildMessages(history, prompt)

	if err := run.Transition(domain.QueryStreaming); err != nil {
		return fail(err)
	}
	stream, err := s.streamer.StreamCompletion(ctx, messages)
	if err != nil {
		return fail(fmt.Errorf("start completion: %w", err))
	}

	text, err := Consume(stream, onDelta)
	answer.Text = text
	switch {
	case errors.Is(err, domain.ErrStopStreaming):
		run.Cancel()
		answer.State = run.State()
		answer.Partial = true
		logger.Debug("Query: stopped by caller after %d chars", len(text))
		return answer, nil
	case err != nil:
		return fail(fmt.Errorf("stream completion: %w", err))
	case ctx.Err() != nil:
		return fail(ctx.Err())
	}

	if err := run.Transition(domain.QueryCompleted); err != nil {
		return fail(err)
	}
	answer.State = run.State()
	logger.Info("Query: completed with %d contexts", len(results))
	return answer, nil
}

// Search embeds query and runs retrieval only. If the embedder fails the
// search falls back to the lexical leg.
func (s *QueryService) Search(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.RetrievalResult{}, nil
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	var vector []float32
	if s.embedder != nil {
		v, err := s.embedder.Embed(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("Search: query embedding failed, using lexical search only: %v", err)
		}
		vector = v
	}

	results, err := s.retriever.Search(ctx, vector, query, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return results, nil
}
