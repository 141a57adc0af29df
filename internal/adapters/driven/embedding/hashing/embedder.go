// Package hashing provides an offline embedder based on feature hashing.
//
// Each token of the lower-cased text is hashed into one of D buckets with
// FNV-1a; one bit of the hash picks the sign. The resulting bag-of-words
// vector is L2 normalised, so cosine similarity reflects shared vocabulary.
// It needs no network or model files and is deterministic, which makes it
// the default provider until a real model is configured.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/textutil"
)

// Ensure Embedder implements the interface.
var _ driven.Embedder = (*Embedder)(nil)

// ModelName is reported for every hashing embedder.
const ModelName = "hashing-bow"

// Embedder maps text to a signed bag-of-words vector.
type Embedder struct {
	dimensions int
}

// New creates an embedder producing vectors of the given length.
func New(dimensions int) (*Embedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: hashing: dimensions must be positive", domain.ErrConfig)
	}
	return &Embedder{dimensions: dimensions}, nil
}

// Embed returns the hashed vector of text. Text without tokens hashes the
// empty token, so the result is never the zero vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dimensions)
	tokens := textutil.Tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{""}
	}
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		bucket := int(sum % uint64(e.dimensions))
		if sum>>63 == 1 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}

	// Opposite signs can cancel out exactly.
	if textutil.IsZero(vec) {
		vec[0] = 1
	}
	textutil.Normalize(vec)
	return vec, nil
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// ModelName returns "hashing-bow".
func (e *Embedder) ModelName() string {
	return ModelName
}

// Ping always succeeds.
func (e *Embedder) Ping(context.Context) error {
	return nil
}

// Close releases resources.
func (e *Embedder) Close() error {
	return nil
}
