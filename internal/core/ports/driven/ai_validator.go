package driven

import "github.com/custodia-labs/fagdag/internal/core/domain"

// AIConfigValidator validates AI provider configurations.
// Implementations verify that configurations are valid by testing connectivity
// to the underlying AI services.
type AIConfigValidator interface {
	// ValidateEmbedding pings the configured embedding provider.
	ValidateEmbedding(config *domain.EmbeddingSettings) error

	// ValidateLLM pings the configured completion provider.
	ValidateLLM(config *domain.LLMSettings) error
}
