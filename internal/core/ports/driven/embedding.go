// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import "context"

// Embedder generates vector embeddings from text.
//
// Every vector returned by an Embedder has length Dimensions(). A wrapped
// embedder in the services package enforces this together with retries and
// rate limiting, so adapters only map their wire format.
//
// Implementations include:
//   - OpenAI and Azure OpenAI (text-embedding-3-small, text-embedding-3-large)
//   - Ollama (nomic-embed-text, mxbai-embed-large)
//   - Feature hashing for offline use
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size D.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight test request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
