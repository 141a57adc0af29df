package domain

import (
	"fmt"
	"time"
)

const unknownDescription = "Unknown"

// AIProvider identifies an AI service provider for embeddings or completions.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI cloud API or a compatible server.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAzureOpenAI is an Azure OpenAI resource.
	AIProviderAzureOpenAI AIProvider = "azure-openai"

	// AIProviderHashing is the offline feature-hashing embedder.
	AIProviderHashing AIProvider = "hashing"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAzureOpenAI, AIProviderHashing:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAzureOpenAI
}

// IsLocal returns true if this provider runs locally.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama || p == AIProviderHashing
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAzureOpenAI:
		return "Azure OpenAI (cloud)"
	case AIProviderHashing:
		return "Feature hashing (offline)"
	default:
		return unknownDescription
	}
}

// IndexBackend identifies the storage behind the index writer and retriever.
type IndexBackend string

// Available index backends.
const (
	IndexBackendMemory   IndexBackend = "memory"
	IndexBackendSQLite   IndexBackend = "sqlite"
	IndexBackendPostgres IndexBackend = "postgres"
)

// IsValid returns true if the backend is recognised.
func (b IndexBackend) IsValid() bool {
	switch b {
	case IndexBackendMemory, IndexBackendSQLite, IndexBackendPostgres:
		return true
	default:
		return false
	}
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	Provider AIProvider
	Model    string

	// BaseURL is the API endpoint. For Azure it is the resource endpoint.
	BaseURL string

	APIKey string

	// Dimensions is the embedding length D, fixed per deployment.
	Dimensions int

	// RatePerSecond limits embedding calls. Zero disables limiting.
	RatePerSecond float64

	// MaxAttempts bounds the retries on transient failures.
	MaxAttempts int
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// LLMSettings holds completion provider configuration.
type LLMSettings struct {
	Provider    AIProvider
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// IsConfigured returns true if the completion provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if l.Provider != AIProviderOllama && l.Provider != AIProviderOpenAI &&
		l.Provider != AIProviderAzureOpenAI {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// IndexSettings holds index backend configuration.
type IndexSettings struct {
	Backend IndexBackend

	// Name is the base index name; the namespace is appended.
	Name string

	// Namespace separates indexes per user or workshop attendee.
	Namespace string

	// DSN is the Postgres connection string.
	DSN string

	// DataDir holds the SQLite database.
	DataDir string

	// BatchSize caps chunks per backend write (at most 200).
	BatchSize int

	// AllowRecreate permits a logged destroy-and-recreate of an
	// incompatible schema.
	AllowRecreate bool
}

// IndexName returns the effective index name.
func (s IndexSettings) IndexName() string {
	return IndexName(s.Name, s.Namespace)
}

// ChunkingSettings holds chunker configuration.
type ChunkingSettings struct {
	MaxLen  int
	Overlap int
}

// PIISettings holds sanitizer configuration.
type PIISettings struct {
	Enabled       bool
	MinConfidence float64
	Mask          string

	// ModelPath points at a token classification model. Empty disables
	// the NER classifier and leaves only pattern rules.
	ModelPath string

	LanguageCode string
}

// RetrievalSettings holds retriever configuration.
type RetrievalSettings struct {
	TopK          int
	MinSimilarity float64

	// SkipModelWhenNoContext answers NoRelevantContext without calling
	// the model when retrieval finds nothing.
	SkipModelWhenNoContext bool
}

// PromptSettings holds prompt assembler configuration.
type PromptSettings struct {
	MaxContextChars int
	UnknownAnswer   string
}

// IngestSettings holds ingestion driver configuration.
type IngestSettings struct {
	Concurrency int

	// MaxFailedItems aborts a run once exceeded. Negative means never.
	MaxFailedItems int
}

// ContentSettings holds content source configuration.
type ContentSettings struct {
	Dir string
}

// Settings holds all application settings.
type Settings struct {
	Embedding EmbeddingSettings
	LLM       LLMSettings
	Index     IndexSettings
	Chunking  ChunkingSettings
	PII       PIISettings
	Retrieval RetrievalSettings
	Prompt    PromptSettings
	Ingest    IngestSettings
	Content   ContentSettings
}

// Default settings values.
const (
	DefaultDimensions      = 1536
	DefaultChunkMaxLen     = 1000
	DefaultChunkOverlap    = 250
	DefaultMinConfidence   = 0.5
	DefaultMask            = "*"
	DefaultLanguageCode    = "nb"
	DefaultTopK            = 5
	DefaultMinSimilarity   = 0.2
	DefaultMaxContextChars = 12000
	DefaultConcurrency     = 4
	DefaultBatchSize       = 200
	MaxBatchSize           = 200
	DefaultIndexName       = "index"
)

// DefaultSettings returns settings with sensible defaults.
// The offline hashing embedder is used until a provider is configured.
func DefaultSettings() Settings {
	return Settings{
		Embedding: EmbeddingSettings{
			Provider:    AIProviderHashing,
			Dimensions:  DefaultDimensions,
			MaxAttempts: 3,
		},
		LLM: LLMSettings{
			Provider:    AIProviderOllama,
			Model:       "llama3.2",
			Temperature: 0.4,
			MaxTokens:   2048,
			Timeout:     120 * time.Second,
		},
		Index: IndexSettings{
			Backend:   IndexBackendSQLite,
			Name:      DefaultIndexName,
			BatchSize: DefaultBatchSize,
		},
		Chunking: ChunkingSettings{
			MaxLen:  DefaultChunkMaxLen,
			Overlap: DefaultChunkOverlap,
		},
		PII: PIISettings{
			Enabled:       true,
			MinConfidence: DefaultMinConfidence,
			Mask:          DefaultMask,
			LanguageCode:  DefaultLanguageCode,
		},
		Retrieval: RetrievalSettings{
			TopK:          DefaultTopK,
			MinSimilarity: DefaultMinSimilarity,
		},
		Prompt: PromptSettings{
			MaxContextChars: DefaultMaxContextChars,
			UnknownAnswer:   DefaultUnknownAnswer,
		},
		Ingest: IngestSettings{
			Concurrency:    DefaultConcurrency,
			MaxFailedItems: -1,
		},
	}
}

// Validate checks the settings before any network call is made.
// Every problem is reported as ErrConfig.
func (s Settings) Validate() error {
	if !s.Embedding.Provider.IsValid() {
		return fmt.Errorf("%w: unknown embedding provider %q", ErrConfig, s.Embedding.Provider)
	}
	if s.Embedding.Provider.RequiresAPIKey() && s.Embedding.APIKey == "" {
		return fmt.Errorf("%w: embedding provider %s requires an API key", ErrConfig, s.Embedding.Provider)
	}
	if s.Embedding.Provider == AIProviderAzureOpenAI && s.Embedding.BaseURL == "" {
		return fmt.Errorf("%w: azure-openai requires an endpoint", ErrConfig)
	}
	if s.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding dimensions must be positive", ErrConfig)
	}
	if !s.Index.Backend.IsValid() {
		return fmt.Errorf("%w: unknown index backend %q", ErrConfig, s.Index.Backend)
	}
	if s.Index.Backend == IndexBackendPostgres && s.Index.DSN == "" {
		return fmt.Errorf("%w: postgres backend requires index.dsn", ErrConfig)
	}
	if s.Index.BatchSize <= 0 || s.Index.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: index batch size must be in 1..%d", ErrConfig, MaxBatchSize)
	}
	if s.Chunking.MaxLen <= 0 {
		return fmt.Errorf("%w: chunk max length must be positive", ErrConfig)
	}
	if s.Chunking.Overlap < 0 || s.Chunking.Overlap >= s.Chunking.MaxLen {
		return fmt.Errorf("%w: chunk overlap %d must be in 0..%d",
			ErrConfig, s.Chunking.Overlap, s.Chunking.MaxLen-1)
	}
	if s.PII.MinConfidence < 0 || s.PII.MinConfidence > 1 {
		return fmt.Errorf("%w: PII min confidence must be in [0,1]", ErrConfig)
	}
	if s.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: top-k must be positive", ErrConfig)
	}
	if s.Retrieval.MinSimilarity < -1 || s.Retrieval.MinSimilarity >= 1 {
		return fmt.Errorf("%w: min similarity must be in [-1,1)", ErrConfig)
	}
	if s.Prompt.MaxContextChars <= 0 {
		return fmt.Errorf("%w: prompt context budget must be positive", ErrConfig)
	}
	if s.Ingest.Concurrency <= 0 {
		return fmt.Errorf("%w: ingest concurrency must be positive", ErrConfig)
	}
	return nil
}

// AllEmbeddingProviders returns the providers that can embed text, in
// menu order.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{AIProviderHashing, AIProviderOllama, AIProviderOpenAI, AIProviderAzureOpenAI}
}

// AllLLMProviders returns the providers that can stream completions.
func AllLLMProviders() []AIProvider {
	return []AIProvider{AIProviderOllama, AIProviderOpenAI, AIProviderAzureOpenAI}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:      "nomic-embed-text",
		AIProviderOpenAI:      "text-embedding-3-large",
		AIProviderAzureOpenAI: "text-embedding-3-large",
		AIProviderHashing:     "hashing-bow",
	}
}

// DefaultLLMModels returns default models for each completion provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:      "llama3.2",
		AIProviderOpenAI:      "gpt-4o",
		AIProviderAzureOpenAI: "gpt-4o",
	}
}

// EmbeddingDimensions returns the native vector dimensions for known models.
// OpenAI text-embedding-3 models can be shortened with the dimensions parameter.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		"nomic-embed-text":       768,
		"mxbai-embed-large":      1024,
		"all-minilm":             384,
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}
