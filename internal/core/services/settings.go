package services

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyEmbedProvider   = "embedding.provider"
	keyEmbedModel      = "embedding.model"
	keyEmbedBaseURL    = "embedding.base_url"
	keyEmbedAPIKey     = "embedding.api_key"
	keyEmbedDims       = "embedding.dimensions"
	keyLLMProvider     = "llm.provider"
	keyLLMModel        = "llm.model"
	keyLLMBaseURL      = "llm.base_url"
	keyLLMAPIKey       = "llm.api_key"
	keyLLMTemperature  = "llm.temperature"
	keyLLMMaxTokens    = "llm.max_tokens"
	keyLLMTimeout      = "llm.timeout"
	keyIndexBackend    = "index.backend"
	keyIndexName       = "index.name"
	keyIndexNamespace  = "index.namespace"
	keyIndexDSN        = "index.dsn"
	keyIndexDataDir    = "index.data_dir"
	keyIndexBatchSize  = "index.batch_size"
	keyIndexRecreate   = "index.recreate"
	keyChunkMaxLen     = "chunking.max_len"
	keyChunkOverlap    = "chunking.overlap"
	keyPIIEnabled      = "pii.enabled"
	keyPIIMinConf      = "pii.min_confidence"
	keyPIIMask         = "pii.mask"
	keyPIIModelPath    = "pii.model_path"
	keyPIILanguage     = "pii.language_code"
	keyTopK            = "retrieval.top_k"
	keyMinSimilarity   = "retrieval.min_similarity"
	keySkipModel       = "retrieval.skip_model_when_no_context"
	keyMaxContextChars = "prompt.max_context_chars"
	keyUnknownAnswer   = "prompt.unknown_answer"
	keyConcurrency     = "ingest.concurrency"
	keyMaxFailedItems  = "ingest.max_failed_items"
	keyRatePerSecond   = "ingest.rate_per_second"
	keyMaxAttempts     = "ingest.max_attempts"
	keyContentDir      = "content.dir"
)

// Environment variables that override the configuration file.
//
//nolint:gosec // G101: environment variable names, not credentials.
const (
	EnvAzureEndpoint = "AZURE_OPENAI_ENDPOINT"
	EnvAzureAPIKey   = "AZURE_OPENAI_API_KEY"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
)

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
)

var knownKeys = map[string]keyKind{
	keyEmbedProvider:   kindString,
	keyEmbedModel:      kindString,
	keyEmbedBaseURL:    kindString,
	keyEmbedAPIKey:     kindString,
	keyEmbedDims:       kindInt,
	keyLLMProvider:     kindString,
	keyLLMModel:        kindString,
	keyLLMBaseURL:      kindString,
	keyLLMAPIKey:       kindString,
	keyLLMTemperature:  kindFloat,
	keyLLMMaxTokens:    kindInt,
	keyLLMTimeout:      kindDuration,
	keyIndexBackend:    kindString,
	keyIndexName:       kindString,
	keyIndexNamespace:  kindString,
	keyIndexDSN:        kindString,
	keyIndexDataDir:    kindString,
	keyIndexBatchSize:  kindInt,
	keyIndexRecreate:   kindBool,
	keyChunkMaxLen:     kindInt,
	keyChunkOverlap:    kindInt,
	keyPIIEnabled:      kindBool,
	keyPIIMinConf:      kindFloat,
	keyPIIMask:         kindString,
	keyPIIModelPath:    kindString,
	keyPIILanguage:     kindString,
	keyTopK:            kindInt,
	keyMinSimilarity:   kindFloat,
	keySkipModel:       kindBool,
	keyMaxContextChars: kindInt,
	keyUnknownAnswer:   kindString,
	keyConcurrency:     kindInt,
	keyMaxFailedItems:  kindInt,
	keyRatePerSecond:   kindFloat,
	keyMaxAttempts:     kindInt,
	keyContentDir:      kindString,
}

// KnownKeys returns every configuration key, sorted.
func KnownKeys() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
	getenv      func(string) string
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
		getenv:      os.Getenv,
	}
}

// Get retrieves current application settings over the defaults, with
// environment overrides applied.
func (s *SettingsService) Get() (*domain.Settings, error) {
	d := domain.DefaultSettings()

	settings := &domain.Settings{
		Embedding: domain.EmbeddingSettings{
			Provider:      s.getProvider(keyEmbedProvider, d.Embedding.Provider),
			Model:         s.configStore.GetString(keyEmbedModel),
			BaseURL:       s.configStore.GetString(keyEmbedBaseURL),
			APIKey:        s.configStore.GetString(keyEmbedAPIKey),
			Dimensions:    s.getInt(keyEmbedDims, d.Embedding.Dimensions),
			RatePerSecond: s.getFloat(keyRatePerSecond, d.Embedding.RatePerSecond),
			MaxAttempts:   s.getInt(keyMaxAttempts, d.Embedding.MaxAttempts),
		},
		LLM: domain.LLMSettings{
			Provider:    s.getProvider(keyLLMProvider, d.LLM.Provider),
			Model:       s.configStore.GetString(keyLLMModel),
			BaseURL:     s.configStore.GetString(keyLLMBaseURL),
			APIKey:      s.configStore.GetString(keyLLMAPIKey),
			Temperature: s.getFloat(keyLLMTemperature, d.LLM.Temperature),
			MaxTokens:   s.getInt(keyLLMMaxTokens, d.LLM.MaxTokens),
			Timeout:     s.getDuration(keyLLMTimeout, d.LLM.Timeout),
		},
		Index: domain.IndexSettings{
			Backend:       domain.IndexBackend(s.getString(keyIndexBackend, string(d.Index.Backend))),
			Name:          s.getString(keyIndexName, d.Index.Name),
			Namespace:     s.configStore.GetString(keyIndexNamespace),
			DSN:           s.configStore.GetString(keyIndexDSN),
			DataDir:       s.configStore.GetString(keyIndexDataDir),
			BatchSize:     s.getInt(keyIndexBatchSize, d.Index.BatchSize),
			AllowRecreate: s.getBool(keyIndexRecreate, d.Index.AllowRecreate),
		},
		Chunking: domain.ChunkingSettings{
			MaxLen:  s.getInt(keyChunkMaxLen, d.Chunking.MaxLen),
			Overlap: s.getIntAllowZero(keyChunkOverlap, d.Chunking.Overlap),
		},
		PII: domain.PIISettings{
			Enabled:       s.getBool(keyPIIEnabled, d.PII.Enabled),
			MinConfidence: s.getFloatAllowZero(keyPIIMinConf, d.PII.MinConfidence),
			Mask:          s.getString(keyPIIMask, d.PII.Mask),
			ModelPath:     s.configStore.GetString(keyPIIModelPath),
			LanguageCode:  s.getString(keyPIILanguage, d.PII.LanguageCode),
		},
		Retrieval: domain.RetrievalSettings{
			TopK:                   s.getInt(keyTopK, d.Retrieval.TopK),
			MinSimilarity:          s.getFloatAllowZero(keyMinSimilarity, d.Retrieval.MinSimilarity),
			SkipModelWhenNoContext: s.getBool(keySkipModel, d.Retrieval.SkipModelWhenNoContext),
		},
		Prompt: domain.PromptSettings{
			MaxContextChars: s.getInt(keyMaxContextChars, d.Prompt.MaxContextChars),
			UnknownAnswer:   s.getString(keyUnknownAnswer, d.Prompt.UnknownAnswer),
		},
		Ingest: domain.IngestSettings{
			Concurrency:    s.getInt(keyConcurrency, d.Ingest.Concurrency),
			MaxFailedItems: s.getIntAllowZero(keyMaxFailedItems, d.Ingest.MaxFailedItems),
		},
		Content: domain.ContentSettings{
			Dir: s.getString(keyContentDir, d.Content.Dir),
		},
	}

	s.applyEnv(settings)

	if settings.Embedding.Model == "" {
		settings.Embedding.Model = domain.DefaultEmbeddingModels()[settings.Embedding.Provider]
	}
	if settings.LLM.Model == "" {
		settings.LLM.Model = domain.DefaultLLMModels()[settings.LLM.Provider]
	}

	return settings, nil
}

// Load returns settings that passed validation.
func (s *SettingsService) Load() (*domain.Settings, error) {
	settings, err := s.Get()
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Set parses value according to the key's type and persists it.
func (s *SettingsService) Set(key, value string) error {
	kind, ok := knownKeys[key]
	if !ok {
		return fmt.Errorf("%w: unknown config key %q", domain.ErrConfig, key)
	}

	var typed any
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s expects an integer: %v", domain.ErrConfig, key, err)
		}
		typed = int64(n)
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s expects a number: %v", domain.ErrConfig, key, err)
		}
		typed = f
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s expects true or false: %v", domain.ErrConfig, key, err)
		}
		typed = b
	case kindDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%w: %s expects a duration: %v", domain.ErrConfig, key, err)
		}
		typed = value
	default:
		switch key {
		case keyEmbedProvider, keyLLMProvider:
			if !domain.AIProvider(value).IsValid() {
				return fmt.Errorf("%w: unknown provider %q", domain.ErrConfig, value)
			}
		case keyIndexBackend:
			if !domain.IndexBackend(value).IsValid() {
				return fmt.Errorf("%w: unknown index backend %q", domain.ErrConfig, value)
			}
		}
		typed = value
	}

	if err := s.configStore.Set(key, typed); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

// ValidateEmbeddingConfig validates the current embedding configuration by pinging the provider.
func (s *SettingsService) ValidateEmbeddingConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateEmbedding(&settings.Embedding)
}

// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
func (s *SettingsService) ValidateLLMConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateLLM(&settings.LLM)
}

// applyEnv fills endpoint and keys from the environment when the file
// leaves them empty.
func (s *SettingsService) applyEnv(settings *domain.Settings) {
	endpoint := s.getenv(EnvAzureEndpoint)
	azureKey := s.getenv(EnvAzureAPIKey)
	openAIKey := s.getenv(EnvOpenAIAPIKey)

	fill := func(provider domain.AIProvider, baseURL, apiKey *string) {
		switch provider {
		case domain.AIProviderAzureOpenAI:
			if *baseURL == "" {
				*baseURL = endpoint
			}
			if *apiKey == "" {
				*apiKey = azureKey
			}
		case domain.AIProviderOpenAI:
			if *apiKey == "" {
				*apiKey = openAIKey
			}
		}
	}
	fill(settings.Embedding.Provider, &settings.Embedding.BaseURL, &settings.Embedding.APIKey)
	fill(settings.LLM.Provider, &settings.LLM.BaseURL, &settings.LLM.APIKey)
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

// getIntAllowZero treats an explicit zero as a value, not as unset.
func (s *SettingsService) getIntAllowZero(key string, defaultVal int) int {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetInt(key)
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	val := s.configStore.GetFloat(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloatAllowZero(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetBool(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := strings.TrimSpace(s.configStore.GetString(key))
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	// Unknown values are kept so Validate can report them.
	return domain.AIProvider(val)
}
