// Package openai provides an embedding adapter for OpenAI, Azure OpenAI and
// compatible servers.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultModel      = "text-embedding-3-large"
	DefaultTimeout    = 60 * time.Second
	DefaultDimensions = domain.DefaultDimensions

	// AzureAPIVersion is the Azure OpenAI data plane version.
	AzureAPIVersion = "2024-10-21"
)

// Config holds configuration for the embedder.
type Config struct {
	// APIKey is required.
	APIKey string

	// BaseURL is the API base URL. For Azure it is the resource endpoint.
	BaseURL string

	// Model is the model name, or the deployment name on Azure.
	Model string

	// Azure switches to deployment URLs and the api-key header.
	Azure bool

	Timeout time.Duration

	// Dimensions is the requested vector length. text-embedding-3 models
	// shorten their output to it.
	Dimensions int

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Embedder generates embeddings over the /embeddings endpoint.
type Embedder struct {
	client     *http.Client
	endpoint   string
	pingURL    string
	apiKey     string
	azure      bool
	model      string
	dimensions int
}

type embeddingRequest struct {
	Model      string   `json:"model,omitempty"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// New creates an embedder. A missing key or Azure endpoint is ErrConfig.
func New(cfg Config) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai: API key is required", domain.ErrConfig)
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

	e := &Embedder{
		client:     cfg.HTTPClient,
		apiKey:     cfg.APIKey,
		azure:      cfg.Azure,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: cfg.Timeout}
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Azure {
		if base == "" {
			return nil, fmt.Errorf("%w: azure-openai: endpoint is required", domain.ErrConfig)
		}
		e.endpoint = fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s",
			base, url.PathEscape(cfg.Model), AzureAPIVersion)
		e.pingURL = fmt.Sprintf("%s/openai/models?api-version=%s", base, AzureAPIVersion)
	} else {
		if base == "" {
			base = DefaultBaseURL
		}
		e.endpoint = base + "/embeddings"
		e.pingURL = base + "/models"
	}
	return e, nil
}

// Embed returns the embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{Input: []string{text}, Dimensions: e.dimensions}
	if !e.azure {
		reqBody.Model = e.model
	}
	if !strings.HasPrefix(e.model, "text-embedding-3") {
		reqBody.Dimensions = 0
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")
	e.authorize(req)

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewBackendError("openai embed", 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewBackendError("openai embed", 0, fmt.Errorf("read response: %w", err))
	}

	var out embeddingResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != nil {
			msg = out.Error.Message
		}
		return nil, domain.NewBackendError("openai embed", resp.StatusCode, errors.New(msg))
	}
	if decodeErr != nil {
		return nil, domain.NewBackendError("openai embed", 0, fmt.Errorf("decode response: %w", decodeErr))
	}
	if len(out.Data) == 0 {
		return nil, domain.NewBackendError("openai embed", 0, errors.New("no embedding returned"))
	}
	return out.Data[0].Embedding, nil
}

func (e *Embedder) authorize(req *http.Request) {
	if e.azure {
		req.Header.Set("api-key", e.apiKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns the model or deployment name.
func (e *Embedder) ModelName() string {
	return e.model
}

// Ping checks the key against the models endpoint without running inference.
func (e *Embedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.pingURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("%w: openai: create ping request: %v", domain.ErrConfig, err)
	}
	e.authorize(req)

	resp, err := e.client.Do(req)
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
func (e *Embedder) Close() error {
	return nil
}
