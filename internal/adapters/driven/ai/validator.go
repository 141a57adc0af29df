package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

var _ driven.AIConfigValidator = (*ConfigValidator)(nil)

// sampleText is embedded once to check the vector size a provider returns.
const sampleText = "fagdag dimension check"

// ConfigValidator checks provider settings against the live service
// before they are relied on.
type ConfigValidator struct {
	timeout time.Duration
}

// NewConfigValidator returns a validator that gives each provider
// pingTimeout to answer.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{timeout: pingTimeout}
}

// ValidateEmbedding pings the embedding provider and embeds a sample. A
// vector whose length differs from the configured dimensions would be
// rejected by the index, so it is reported as ErrConfig here.
func (v *ConfigValidator) ValidateEmbedding(settings *domain.EmbeddingSettings) error {
	embedder, err := CreateEmbedder(settings)
	if err != nil {
		return err
	}
	defer embedder.Close()

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	if err := embedder.Ping(ctx); err != nil {
		return err
	}

	vec, err := embedder.Embed(ctx, sampleText)
	if err != nil {
		return fmt.Errorf("embed sample: %w", err)
	}
	if settings.Dimensions > 0 && len(vec) != settings.Dimensions {
		return fmt.Errorf("%w: model %s returns %d dimensions, embedding.dimensions is %d",
			domain.ErrConfig, settings.Model, len(vec), settings.Dimensions)
	}
	return nil
}

// ValidateLLM pings the completion provider.
func (v *ConfigValidator) ValidateLLM(settings *domain.LLMSettings) error {
	streamer, err := CreateStreamer(settings)
	if err != nil {
		return err
	}
	defer streamer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	return streamer.Ping(ctx)
}
