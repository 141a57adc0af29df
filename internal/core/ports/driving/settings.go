package driving

import "github.com/custodia-labs/fagdag/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get loads settings from configuration over the defaults.
	// The result is not validated.
	Get() (*domain.Settings, error)

	// Load returns validated settings or an error wrapping ErrConfig.
	Load() (*domain.Settings, error)

	// Set stores a single configuration key after checking it is known.
	Set(key, value string) error

	// GetDefaults returns default settings.
	GetDefaults() domain.Settings

	// ValidateEmbeddingConfig pings the configured embedding provider.
	ValidateEmbeddingConfig() error

	// ValidateLLMConfig pings the configured completion provider.
	ValidateLLMConfig() error
}
