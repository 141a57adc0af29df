package driven

import (
	"context"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// CompletionStreamer produces a chat completion as a stream of text fragments.
// The full conversation is sent on every call; no state is kept server side.
type CompletionStreamer interface {
	// StreamCompletion starts a completion for the ordered messages.
	// Errors that occur before the first fragment are returned here.
	StreamCompletion(ctx context.Context, messages []domain.ChatMessage) (Stream, error)

	// ModelName returns the name of the chat model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Stream is a pull-based iterator over completion fragments.
//
// A Stream has a single consumer. Fragments arrive in generation order and
// the sequence is finite. Typical use:
//
//	defer s.Close()
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	// Next advances to the next fragment. It returns false at the end of
	// the stream, after an error, or after Close.
	Next() bool

	// Text returns the current fragment.
	Text() string

	// Err returns the error that ended the stream, if any.
	// Fragments already returned by Text remain valid.
	Err() error

	// Close cancels the underlying request and releases the connection.
	// It is safe to call more than once.
	Close() error
}
