// Package ollama provides a streaming chat completion adapter for a local
// Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/custodia-labs/fagdag/internal/adapters/driven/embedding/ollama"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Ensure Streamer implements the interface.
var _ driven.CompletionStreamer = (*Streamer)(nil)

// Default configuration values.
const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultModel     = "llama3.2"
	DefaultTimeout   = 120 * time.Second
	DefaultKeepAlive = 30 * time.Minute
)

// Config holds configuration for the Ollama streamer.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Streamer streams chat completions through the Ollama API client.
type Streamer struct {
	client      *api.Client
	model       string
	temperature float64
	maxTokens   int
}

// New creates an Ollama streamer. An unparsable base URL is ErrConfig.
func New(cfg Config) (*Streamer, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: ollama: invalid base URL %q", domain.ErrConfig, cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Streamer{
		client:      api.NewClient(base, httpClient),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// StreamCompletion starts a chat. It waits for the first fragment so that
// connection and model errors are returned here rather than from the stream.
func (s *Streamer) StreamCompletion(ctx context.Context, messages []domain.ChatMessage) (driven.Stream, error) {
	msgs := make([]api.Message, len(messages))
	for i, m := range messages {
		msgs[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}
	options := map[string]any{"temperature": s.temperature}
	if s.maxTokens > 0 {
		options["num_predict"] = s.maxTokens
	}
	stream := true
	req := &api.ChatRequest{
		Model:     s.model,
		Messages:  msgs,
		Stream:    &stream,
		Options:   options,
		KeepAlive: &api.Duration{Duration: DefaultKeepAlive},
	}

	ctx, cancel := context.WithCancel(ctx)
	cs := &chatStream{
		frags:  make(chan string),
		errc:   make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		err := s.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case cs.frags <- resp.Message.Content:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		cs.errc <- err
		close(cs.frags)
	}()

	first, ok := <-cs.frags
	if !ok {
		err := <-cs.errc
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ollama.ClassifyError("ollama chat", err)
		}
		cs.done = true
		return cs, nil
	}
	cs.pending = first
	cs.hasPending = true
	return cs, nil
}

// ModelName returns the model name.
func (s *Streamer) ModelName() string {
	return s.model
}

// Ping checks the server is up and the model exists.
func (s *Streamer) Ping(ctx context.Context) error {
	if _, err := s.client.Show(ctx, &api.ShowRequest{Model: s.model}); err != nil {
		return ollama.ClassifyError("ollama ping", err)
	}
	return nil
}

// Close releases resources.
func (s *Streamer) Close() error {
	return nil
}

// chatStream bridges the callback-based client onto a pull iterator.
type chatStream struct {
	frags  chan string
	errc   chan error
	cancel context.CancelFunc

	pending    string
	hasPending bool

	text   string
	err    error
	done   bool
	closed bool

	closeOnce sync.Once
}

func (c *chatStream) Next() bool {
	if c.done || c.closed {
		return false
	}
	if c.hasPending {
		c.text, c.hasPending = c.pending, false
		return true
	}
	text, ok := <-c.frags
	if ok {
		c.text = text
		return true
	}
	c.done = true
	if err := <-c.errc; err != nil && !errors.Is(err, context.Canceled) {
		c.err = ollama.ClassifyError("ollama chat", err)
	}
	return false
}

func (c *chatStream) Text() string {
	return c.text
}

func (c *chatStream) Err() error {
	return c.err
}

func (c *chatStream) Close() error {
	c.closeOnce.Do(func() {
		c.closed = true
		c.cancel()
		if c.done {
			return
		}
		// Wait for the client goroutine to return.
		for range c.frags {
		}
	})
	return nil
}
