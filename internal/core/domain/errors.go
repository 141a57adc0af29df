package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy. Adapters wrap backend failures in one of the first four
// kinds so the core can decide between fail-fast, retry, create-instead-of-
// update and surface-immediately without knowing the backend.
var (
	// ErrConfig indicates a missing or malformed endpoint, key or dimension.
	// Configuration errors fail fast and are never retried.
	ErrConfig = errors.New("configuration error")

	// ErrTransient indicates a timeout, rate limit or server error.
	// Transient errors are retried with bounded exponential backoff.
	ErrTransient = errors.New("transient backend error")

	// ErrNotFound indicates a requested entity does not exist.
	// During idempotent setup it triggers create instead of update.
	ErrNotFound = errors.New("not found")

	// ErrIrrecoverable indicates a schema conflict or permission denial.
	// It is surfaced to the caller immediately.
	ErrIrrecoverable = errors.New("irrecoverable backend error")
)

var (
	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates the backend rate limit was exceeded.
	ErrRateLimited = fmt.Errorf("rate limited: %w", ErrTransient)

	// ErrSchemaConflict indicates an incompatible index schema exists.
	ErrSchemaConflict = fmt.Errorf("schema conflict: %w", ErrIrrecoverable)

	// ErrPermissionDenied indicates the backend refused the credentials.
	ErrPermissionDenied = fmt.Errorf("permission denied: %w", ErrIrrecoverable)

	// ErrInvalidTransition indicates an illegal query state change.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrLLMUnavailable indicates the completion service is not configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrClassifierUnavailable indicates the PII classifier could not run.
	// Ingestion continues without masking and records a warning.
	ErrClassifierUnavailable = errors.New("PII classifier unavailable")

	// ErrIndexUnavailable indicates the index backend is not configured.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrZeroVector indicates an embedding backend returned an all-zero vector.
	ErrZeroVector = fmt.Errorf("zero embedding vector: %w", ErrTransient)

	// ErrIngestInProgress indicates an ingestion run is already active.
	ErrIngestInProgress = errors.New("ingestion in progress")

	// ErrTooManyFailures indicates a run exceeded its failed item limit.
	ErrTooManyFailures = errors.New("too many failed items")

	// ErrStopStreaming may be returned by a delta callback to stop a
	// completion early. The query ends Cancelled, not Failed.
	ErrStopStreaming = errors.New("stop streaming")
)

// BackendError describes a failed call to an external backend.
// It unwraps to both its Kind and the underlying cause, so errors.Is works
// against the taxonomy and against the original error.
type BackendError struct {
	// Op names the failed operation (e.g. "openai embed").
	Op string

	// Kind is one of ErrConfig, ErrTransient, ErrNotFound, ErrIrrecoverable
	// or ErrInvalidInput.
	Kind error

	// StatusCode is the HTTP status, if any.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the kind and the cause.
func (e *BackendError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewBackendError classifies a failure by HTTP status code.
// A zero status is treated as a transport failure and therefore transient.
func NewBackendError(op string, status int, err error) *BackendError {
	kind := ClassifyHTTPStatus(status)
	if kind == nil {
		kind = ErrTransient
	}
	return &BackendError{Op: op, Kind: kind, StatusCode: status, Err: err}
}

// ClassifyHTTPStatus maps an HTTP status code onto the error taxonomy.
// It returns nil for 2xx codes and ErrTransient for a zero code.
func ClassifyHTTPStatus(code int) error {
	switch {
	case code == 0:
		return ErrTransient
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusRequestTimeout, code >= 500:
		return ErrTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return ErrPermissionDenied
	case code == http.StatusConflict:
		return ErrSchemaConflict
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrInvalidInput
	}
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return err != nil && errors.Is(err, ErrTransient)
}

// ErrNoContext reports that retrieval produced nothing above the relevance floor.
// It is informational; the query still completes.
var ErrNoContext = errors.New("no relevant context")
