package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrConfig", ErrConfig},
		{"ErrTransient", ErrTransient},
		{"ErrNotFound", ErrNotFound},
		{"ErrIrrecoverable", ErrIrrecoverable},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrRateLimited", ErrRateLimited},
		{"ErrSchemaConflict", ErrSchemaConflict},
		{"ErrPermissionDenied", ErrPermissionDenied},
		{"ErrInvalidTransition", ErrInvalidTransition},
		{"ErrEmbeddingUnavailable", ErrEmbeddingUnavailable},
		{"ErrLLMUnavailable", ErrLLMUnavailable},
		{"ErrClassifierUnavailable", ErrClassifierUnavailable},
		{"ErrIndexUnavailable", ErrIndexUnavailable},
		{"ErrZeroVector", ErrZeroVector},
		{"ErrIngestInProgress", ErrIngestInProgress},
		{"ErrTooManyFailures", ErrTooManyFailures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrors_Hierarchy(t *testing.T) {
	assert.ErrorIs(t, ErrRateLimited, ErrTransient)
	assert.ErrorIs(t, ErrZeroVector, ErrTransient)
	assert.ErrorIs(t, ErrSchemaConflict, ErrIrrecoverable)
	assert.ErrorIs(t, ErrPermissionDenied, ErrIrrecoverable)
	assert.False(t, errors.Is(ErrNotFound, ErrTransient))
	assert.False(t, errors.Is(ErrConfig, ErrIrrecoverable))
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{0, ErrTransient},
		{http.StatusOK, nil},
		{http.StatusCreated, nil},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusRequestTimeout, ErrTransient},
		{http.StatusInternalServerError, ErrTransient},
		{http.StatusServiceUnavailable, ErrTransient},
		{http.StatusUnauthorized, ErrPermissionDenied},
		{http.StatusForbidden, ErrPermissionDenied},
		{http.StatusConflict, ErrSchemaConflict},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyHTTPStatus(tt.code))
		})
	}
}

func TestBackendError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewBackendError("embed", http.StatusTooManyRequests, cause)

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "status 429")

	var be *BackendError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &be)
	assert.Equal(t, "embed", be.Op)
}

func TestBackendError_SuccessStatusIsTransient(t *testing.T) {
	// A 2xx with a broken body is still worth another attempt.
	err := NewBackendError("chat", http.StatusOK, errors.New("truncated body"))
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrConfig))
	assert.False(t, IsRetryable(NewBackendError("upsert", http.StatusUnauthorized, errors.New("bad key"))))
	assert.True(t, IsRetryable(NewBackendError("upsert", 0, errors.New("dial tcp"))))
}
