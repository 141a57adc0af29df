// Package openai provides a streaming chat completion adapter for OpenAI,
// Azure OpenAI and compatible servers.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Ensure Streamer implements the interface.
var _ driven.CompletionStreamer = (*Streamer)(nil)

// Default configuration values.
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxTokens   = 2048
	DefaultTemperature = 0.4

	// AzureAPIVersion is the Azure OpenAI data plane version.
	AzureAPIVersion = "2024-10-21"
)

// Config holds configuration for the streamer.
type Config struct {
	// APIKey is required.
	APIKey string

	// BaseURL is the API base URL. For Azure it is the resource endpoint.
	BaseURL string

	// Model is the model name, or the deployment name on Azure.
	Model string

	// Azure switches to deployment URLs and the api-key header.
	Azure bool

	Temperature float64
	MaxTokens   int

	// Timeout bounds the whole request including the streamed body.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Streamer streams chat completions over server-sent events.
type Streamer struct {
	client      *http.Client
	endpoint    string
	pingURL     string
	apiKey      string
	azure       bool
	model       string
	temperature float64
	maxTokens   int
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatChunk is one streamed event of /chat/completions.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// New creates a streamer. A missing key or Azure endpoint is ErrConfig.
func New(cfg Config) (*Streamer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: API key is required", domain.ErrConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	s := &Streamer{
		client:      cfg.HTTPClient,
		apiKey:      cfg.APIKey,
		azure:       cfg.Azure,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: cfg.Timeout}
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Azure {
		if base == "" {
			return nil, fmt.Errorf("%w: azure-openai: endpoint is required", domain.ErrConfig)
		}
		s.endpoint = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, url.PathEscape(cfg.Model), AzureAPIVersion)
		s.pingURL = fmt.Sprintf("%s/openai/models?api-version=%s", base, AzureAPIVersion)
	} else {
		if base == "" {
			base = DefaultBaseURL
		}
		s.endpoint = base + "/chat/completions"
		s.pingURL = base + "/models"
	}
	return s, nil
}

// StreamCompletion starts a streamed completion. HTTP errors are returned
// before any fragment is produced.
func (s *Streamer) StreamCompletion(ctx context.Context, messages []domain.ChatMessage) (driven.Stream, error) {
	reqBody := chatRequest{
		Messages:    make([]chatMessage, len(messages)),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Stream:      true,
	}
	if !s.azure {
		reqBody.Model = s.model
	}
	for i, m := range messages {
		reqBody.Messages[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewBackendError("openai chat", 0, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		msg := strings.TrimSpace(string(raw))
		var chunk chatChunk
		if json.Unmarshal(raw, &chunk) == nil && chunk.Error != nil {
			msg = chunk.Error.Message
		}
		return nil, domain.NewBackendError("openai chat", resp.StatusCode, errors.New(msg))
	}

	return newSSEStream(resp.Body, cancel), nil
}

func (s *Streamer) authorize(req *http.Request) {
	if s.azure {
		req.Header.Set("api-key", s.apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
}

// ModelName returns the model or deployment name.
func (s *Streamer) ModelName() string {
	return s.model
}

// Ping checks the key against the models endpoint.
func (s *Streamer) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pingURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: openai: create ping request: %v", domain.ErrConfig, err)
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.NewBackendError("openai ping", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewBackendError("openai ping", resp.StatusCode, errors.New(strings.TrimSpace(string(body))))
	}
	return nil
}

// Close releases resources.
func (s *Streamer) Close() error {
	return nil
}

// sseStream reads "data:" lines until "[DONE]". Empty deltas are skipped.
// A body that ends before "[DONE]" fails the stream as transient.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	text string
	err  error
	done bool

	closeOnce sync.Once
}

func newSSEStream(body io.ReadCloser, cancel context.CancelFunc) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner, cancel: cancel}
}

func (s *sseStream) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return false
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.fail(domain.NewBackendError("openai chat", 0, fmt.Errorf("decode event: %w", err)))
			return false
		}
		if chunk.Error != nil {
			s.fail(domain.NewBackendError("openai chat", 0, errors.New(chunk.Error.Message)))
			return false
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.text = chunk.Choices[0].Delta.Content
		return true
	}

	// The body ended without [DONE], so the answer is truncated.
	err := s.scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	s.fail(domain.NewBackendError("openai chat", 0, err))
	return false
}

func (s *sseStream) fail(err error) {
	s.err = err
	s.done = true
}

func (s *sseStream) Text() string {
	return s.text
}

func (s *sseStream) Err() error {
	return s.err
}

func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.done = true
		s.cancel()
		err = s.body.Close()
	})
	return err
}
