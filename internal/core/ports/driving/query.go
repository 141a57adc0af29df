package driving

import (
	"context"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// QueryService answers questions from indexed content.
type QueryService interface {
	// Ask answers question in the context of history.
	// onDelta receives each fragment as it streams; it may be nil.
	// Returning ErrStopStreaming from onDelta cancels the query and keeps
	// the partial answer.
	//
	// On failure the returned Answer is still non-nil, carries the Failed
	// state, and the error describes the cause. Text already delivered
	// through onDelta is kept, marked Partial, with CouldNotAnswer as the
	// Notice. Nothing delivered leaves CouldNotAnswer as the text.
	Ask(ctx context.Context, history []domain.ChatMessage, question string, onDelta func(string) error) (*domain.Answer, error)

	// Search runs retrieval only.
	Search(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)
}
