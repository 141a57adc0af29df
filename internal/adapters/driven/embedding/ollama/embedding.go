// Package ollama provides an embedding adapter for a local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 30 * time.Second
	DefaultDimensions = 768 // nomic-embed-text
	DefaultKeepAlive  = 60 * time.Minute
)

// Config holds configuration for the Ollama embedder.
type Config struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	Dimensions int

	// KeepAlive keeps the model loaded between calls.
	KeepAlive time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Embedder generates embeddings through the Ollama API client.
type Embedder struct {
	client     *api.Client
	model      string
	dimensions int
	keepAlive  time.Duration
}

// New creates an Ollama embedder. An unparsable base URL is ErrConfig.
func New(cfg Config) (*Embedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: ollama: invalid base URL %q", domain.ErrConfig, cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Embedder{
		client:     api.NewClient(base, httpClient),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		keepAlive:  cfg.KeepAlive,
	}, nil
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:     e.model,
		Prompt:    text,
		KeepAlive: &api.Duration{Duration: e.keepAlive},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ClassifyError("ollama embed", err)
	}

	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model name.
func (e *Embedder) ModelName() string {
	return e.model
}

// Ping checks the server is up.
func (e *Embedder) Ping(ctx context.Context) error {
	if err := e.client.Heartbeat(ctx); err != nil {
		return ClassifyError("ollama ping", err)
	}
	return nil
}

// Close releases resources.
func (e *Embedder) Close() error {
	return nil
}

// ClassifyError maps an Ollama client error onto the error taxonomy.
// Status errors carry their HTTP code; anything else is a transport failure.
func ClassifyError(op string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return domain.NewBackendError(op, statusErr.StatusCode, err)
	}
	return domain.NewBackendError(op, 0, err)
}
