package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

func TestAskCmd_StreamsAnswerAndSources(t *testing.T) {
	ts := setupTestServices(t)

	out, err := execute(t, "", "ask", "How many vacation days?")

	require.NoError(t, err)
	assert.Equal(t, "How many vacation days?", ts.query.lastQuestion)
	assert.Contains(t, out, "Every employee gets 25 days.")
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "[1] Vacation policy (0.91)")
	assert.NotContains(t, out, "stopped early")
}

func TestAskCmd_NoStreamPrintsOnce(t *testing.T) {
	ts := setupTestServices(t)
	var streamed bool
	ts.query.askFunc = func(_ context.Context, _ []domain.ChatMessage, _ string, onDelta func(string) error) (*domain.Answer, error) {
		streamed = onDelta != nil
		return &domain.Answer{Text: "Twenty-five.", State: domain.QueryCompleted}, nil
	}

	out, err := execute(t, "", "ask", "--no-stream", "How many?")

	require.NoError(t, err)
	assert.False(t, streamed)
	assert.Contains(t, out, "Twenty-five.")
	assert.NotContains(t, out, "Sources:")
}

func TestAskCmd_ReadsQuestionFromStdin(t *testing.T) {
	ts := setupTestServices(t)

	_, err := execute(t, "  What is the lunch time?\n", "ask")

	require.NoError(t, err)
	assert.Equal(t, "What is the lunch time?", ts.query.lastQuestion)
}

func TestAskCmd_EmptyQuestion(t *testing.T) {
	ts := setupTestServices(t)

	_, err := execute(t, "   \n", "ask")

	require.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, ts.query.lastQuestion)
}

func TestAskCmd_PartialAnswer(t *testing.T) {
	ts := setupTestServices(t)
	ts.query.askFunc = func(_ context.Context, _ []domain.ChatMessage, _ string, onDelta func(string) error) (*domain.Answer, error) {
		_ = onDelta("Every employee")
		return &domain.Answer{Text: "Every employee", State: domain.QueryCancelled, Partial: true}, nil
	}

	out, err := execute(t, "", "ask", "How many?")

	require.NoError(t, err)
	assert.Contains(t, out, "Every employee")
	assert.Contains(t, out, "(answer stopped early)")
}

func TestAskCmd_FailurePrintsFallback(t *testing.T) {
	ts := setupTestServices(t)
	ts.query.askFunc = func(context.Context, []domain.ChatMessage, string, func(string) error) (*domain.Answer, error) {
		return &domain.Answer{Text: domain.CouldNotAnswer, State: domain.QueryFailed},
			errors.New("model unreachable")
	}

	out, err := execute(t, "", "ask", "How many?")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ask failed: model unreachable")
	assert.Contains(t, out, domain.CouldNotAnswer)
}

func TestAskCmd_CancelledStreamPrintsOnce(t *testing.T) {
	ts := setupTestServices(t)
	ts.query.askFunc = func(_ context.Context, _ []domain.ChatMessage, _ string, onDelta func(string) error) (*domain.Answer, error) {
		_ = onDelta("Every employee ")
		_ = onDelta("gets")
		return &domain.Answer{Text: "Every employee gets", State: domain.QueryCancelled, Partial: true},
			context.Canceled
	}

	out, err := execute(t, "", "ask", "How many?")

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, strings.Count(out, "Every employee gets"))
}

func TestAskCmd_MidStreamFailureAppendsNotice(t *testing.T) {
	ts := setupTestServices(t)
	ts.query.askFunc = func(_ context.Context, _ []domain.ChatMessage, _ string, onDelta func(string) error) (*domain.Answer, error) {
		_ = onDelta("The vacation ")
		_ = onDelta("policy is ")
		return &domain.Answer{
				Text: "The vacation policy is ", Notice: domain.CouldNotAnswer,
				State: domain.QueryFailed, Partial: true,
			},
			domain.NewBackendError("chat", 503, errors.New("unavailable"))
	}

	out, err := execute(t, "", "ask", "What is the vacation policy?")

	require.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 1, strings.Count(out, "The vacation policy is "))
	assert.Contains(t, out, domain.CouldNotAnswer)
	assert.Less(t, strings.Index(out, "policy is"), strings.Index(out, domain.CouldNotAnswer))
}

func TestSourceLabel(t *testing.T) {
	assert.Equal(t, "Title", sourceLabel(domain.Chunk{ParentID: "p", Metadata: map[string]string{"title": "Title", "uri": "u"}}))
	assert.Equal(t, "u", sourceLabel(domain.Chunk{ParentID: "p", Metadata: map[string]string{"uri": "u"}}))
	assert.Equal(t, "p", sourceLabel(domain.Chunk{ParentID: "p"}))
}
