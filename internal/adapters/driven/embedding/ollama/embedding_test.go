package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req api.EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.5,-0.5,1]}`))
	}))
	defer srv.Close()

	e, err := New(Config{BaseURL: srv.URL, Dimensions: 3})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5, 1}, vec)
	assert.Equal(t, 3, e.Dimensions())
	assert.Equal(t, "nomic-embed-text", e.ModelName())
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer srv.Close()

	e, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, domain.ErrTransient)
}

func TestClassifyError(t *testing.T) {
	notFound := ClassifyError("op", api.StatusError{StatusCode: http.StatusNotFound, ErrorMessage: "model not found"})
	assert.ErrorIs(t, notFound, domain.ErrNotFound)

	transport := ClassifyError("op", errors.New("connection refused"))
	assert.ErrorIs(t, transport, domain.ErrTransient)
}
