package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/resilience"
	"github.com/custodia-labs/fagdag/internal/textutil"
)

// Ensure ResilientEmbedder implements the interface.
var _ driven.Embedder = (*ResilientEmbedder)(nil)

// ResilientEmbedder wraps an embedder with rate limiting, retries on
// transient failures and output checks. It never returns a vector of the
// wrong length or an all-zero vector.
type ResilientEmbedder struct {
	next    driven.Embedder
	limiter *resilience.RateLimiter
	retry   *resilience.RetryConfig
}

// EmbedderConfig configures a ResilientEmbedder.
type EmbedderConfig struct {
	// RatePerSecond limits calls to the backend. Zero disables limiting.
	RatePerSecond float64

	// Burst is the token bucket size. Zero means one.
	Burst int

	// Retry controls retries. Nil uses the default.
	Retry *resilience.RetryConfig
}

// NewResilientEmbedder wraps next.
func NewResilientEmbedder(next driven.Embedder, cfg EmbedderConfig) *ResilientEmbedder {
	retry := cfg.Retry
	if retry == nil {
		retry = resilience.DefaultRetryConfig()
	}
	r := *retry
	r.Op = next.ModelName() + " embed"
	return &ResilientEmbedder{
		next:    next,
		limiter: resilience.NewRateLimiter(cfg.RatePerSecond, cfg.Burst),
		retry:   &r,
	}
}

// Embed returns the vector for text. A length mismatch is ErrConfig and is
// not retried; an all-zero vector is ErrZeroVector and is retried.
func (e *ResilientEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := resilience.RetryWithBackoff(ctx, e.retry, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		v, err := e.next.Embed(ctx, text)
		if err != nil {
			if errors.Is(err, domain.ErrRateLimited) {
				e.limiter.RecordRateLimitError(e.retry.InitialDelay)
			}
			return err
		}
		if err := checkVector(v, e.next.Dimensions()); err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

func checkVector(v []float32, dims int) error {
	if len(v) != dims {
		return fmt.Errorf("%w: embedding has %d dimensions, expected %d", domain.ErrConfig, len(v), dims)
	}
	if textutil.IsZero(v) {
		return domain.ErrZeroVector
	}
	return nil
}

// Dimensions returns the wrapped embedder's dimensions.
func (e *ResilientEmbedder) Dimensions() int {
	return e.next.Dimensions()
}

// ModelName returns the wrapped embedder's model.
func (e *ResilientEmbedder) ModelName() string {
	return e.next.ModelName()
}

// Ping checks the wrapped embedder.
func (e *ResilientEmbedder) Ping(ctx context.Context) error {
	return e.next.Ping(ctx)
}

// Close closes the wrapped embedder.
func (e *ResilientEmbedder) Close() error {
	return e.next.Close()
}
