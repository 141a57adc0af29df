// Package ai provides factory functions for creating AI service adapters.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/fagdag/internal/adapters/driven/embedding/hashing"
	ollamaembed "github.com/custodia-labs/fagdag/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/fagdag/internal/adapters/driven/embedding/openai"
	ollamallm "github.com/custodia-labs/fagdag/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/fagdag/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/fagdag/internal/adapters/driven/pii"
	"github.com/custodia-labs/fagdag/internal/adapters/driven/pii/hugot"
	"github.com/custodia-labs/fagdag/internal/adapters/driven/pii/pattern"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// CreateEmbedder creates the embedder selected by settings.
// Configuration problems are reported as ErrConfig.
func CreateEmbedder(settings *domain.EmbeddingSettings) (driven.Embedder, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: no embedding settings", domain.ErrConfig)
	}
	if settings.Provider.RequiresAPIKey() && settings.APIKey == "" {
		return nil, fmt.Errorf("%w: embedding provider %s requires an API key", domain.ErrConfig, settings.Provider)
	}

	switch settings.Provider {
	case domain.AIProviderHashing:
		e, err := hashing.New(settings.Dimensions)
		if err != nil {
			return nil, err
		}
		return e, nil

	case domain.AIProviderOllama:
		e, err := ollamaembed.New(ollamaembed.Config{
			BaseURL:    settings.BaseURL,
			Model:      settings.Model,
			Dimensions: settings.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return e, nil

	case domain.AIProviderOpenAI, domain.AIProviderAzureOpenAI:
		e, err := openaiembed.New(openaiembed.Config{
			APIKey:     settings.APIKey,
			BaseURL:    settings.BaseURL,
			Model:      settings.Model,
			Azure:      settings.Provider == domain.AIProviderAzureOpenAI,
			Dimensions: settings.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		return e, nil

	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider %q", domain.ErrConfig, settings.Provider)
	}
}

// CreateStreamer creates the completion streamer selected by settings.
func CreateStreamer(settings *domain.LLMSettings) (driven.CompletionStreamer, error) {
	if settings == nil {
		return nil, fmt.Errorf("%w: no LLM settings", domain.ErrConfig)
	}
	if settings.Provider.RequiresAPIKey() && settings.APIKey == "" {
		return nil, fmt.Errorf("%w: LLM provider %s requires an API key", domain.ErrConfig, settings.Provider)
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		s, err := ollamallm.New(ollamallm.Config{
			BaseURL:     settings.BaseURL,
			Model:       settings.Model,
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
			Timeout:     settings.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	case domain.AIProviderOpenAI, domain.AIProviderAzureOpenAI:
		s, err := openaillm.New(openaillm.Config{
			APIKey:      settings.APIKey,
			BaseURL:     settings.BaseURL,
			Model:       settings.Model,
			Azure:       settings.Provider == domain.AIProviderAzureOpenAI,
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
			Timeout:     settings.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", domain.ErrConfig, settings.Provider)
	}
}

// CreateClassifier builds the PII classifier for settings. Pattern rules are
// always included; the NER model is added when a model path is configured.
// A model that cannot be loaded is reported as a warning, not an error.
// Returns nil when PII masking is disabled.
func CreateClassifier(settings *domain.PIISettings, cacheDir string) (driven.PIIClassifier, []string) {
	if settings == nil || !settings.Enabled {
		return nil, nil
	}

	members := []driven.PIIClassifier{pattern.New()}
	var warnings []string

	ner, err := hugot.NewIfConfigured(hugot.Config{ModelPath: settings.ModelPath, CacheDir: cacheDir})
	switch {
	case err == nil:
		members = append(members, ner)
	case errors.Is(err, hugot.ErrNoModel):
	default:
		logger.Warn("NER classifier unavailable, using pattern rules only: %v", err)
		warnings = append(warnings, fmt.Sprintf("NER classifier unavailable: %v", err))
	}

	return pii.NewComposite(members...), warnings
}

// CreateAndValidateEmbedder creates an embedder and pings it.
// Failures wrap ErrEmbeddingUnavailable.
func CreateAndValidateEmbedder(ctx context.Context, settings *domain.EmbeddingSettings) (driven.Embedder, error) {
	embedder, err := CreateEmbedder(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w. Run 'fagdag config' to fix", domain.ErrEmbeddingUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := embedder.Ping(ctx); err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("%w: service unreachable (%w)", domain.ErrEmbeddingUnavailable, err)
	}
	return embedder, nil
}

// CreateAndValidateStreamer creates a streamer and pings it.
// Failures wrap ErrLLMUnavailable.
func CreateAndValidateStreamer(ctx context.Context, settings *domain.LLMSettings) (driven.CompletionStreamer, error) {
	streamer, err := CreateStreamer(settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w. Run 'fagdag config' to fix", domain.ErrLLMUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := streamer.Ping(ctx); err != nil {
		_ = streamer.Close()
		return nil, fmt.Errorf("%w: service unreachable (%w)", domain.ErrLLMUnavailable, err)
	}
	return streamer, nil
}
