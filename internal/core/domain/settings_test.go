package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSettings_Valid(t *testing.T) {
	s := DefaultSettings()
	assert.NoError(t, s.Validate())
	assert.Equal(t, 1000, s.Chunking.MaxLen)
	assert.Equal(t, 250, s.Chunking.Overlap)
	assert.Equal(t, 0.5, s.PII.MinConfidence)
	assert.Equal(t, 200, s.Index.BatchSize)
	assert.Equal(t, DefaultMinSimilarity, s.Retrieval.MinSimilarity)
	assert.Greater(t, s.Retrieval.MinSimilarity, 0.0)
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"unknown provider", func(s *Settings) { s.Embedding.Provider = "bogus" }},
		{"openai without key", func(s *Settings) { s.Embedding.Provider = AIProviderOpenAI }},
		{"azure without endpoint", func(s *Settings) {
			s.Embedding.Provider = AIProviderAzureOpenAI
			s.Embedding.APIKey = "k"
		}},
		{"zero dimensions", func(s *Settings) { s.Embedding.Dimensions = 0 }},
		{"unknown backend", func(s *Settings) { s.Index.Backend = "redis" }},
		{"postgres without dsn", func(s *Settings) { s.Index.Backend = IndexBackendPostgres }},
		{"batch too large", func(s *Settings) { s.Index.BatchSize = 201 }},
		{"overlap equals max", func(s *Settings) { s.Chunking.Overlap = s.Chunking.MaxLen }},
		{"negative overlap", func(s *Settings) { s.Chunking.Overlap = -1 }},
		{"confidence above one", func(s *Settings) { s.PII.MinConfidence = 1.5 }},
		{"zero topk", func(s *Settings) { s.Retrieval.TopK = 0 }},
		{"similarity of one", func(s *Settings) { s.Retrieval.MinSimilarity = 1 }},
		{"zero budget", func(s *Settings) { s.Prompt.MaxContextChars = 0 }},
		{"zero concurrency", func(s *Settings) { s.Ingest.Concurrency = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrConfig)
		})
	}
}

func TestAIProvider(t *testing.T) {
	assert.True(t, AIProviderOllama.IsValid())
	assert.False(t, AIProvider("x").IsValid())
	assert.True(t, AIProviderOpenAI.RequiresAPIKey())
	assert.False(t, AIProviderHashing.RequiresAPIKey())
	assert.True(t, AIProviderHashing.IsLocal())
	assert.Equal(t, unknownDescription, AIProvider("x").Description())
}

func TestLLMSettings_IsConfigured(t *testing.T) {
	assert.True(t, LLMSettings{Provider: AIProviderOllama}.IsConfigured())
	assert.False(t, LLMSettings{Provider: AIProviderHashing}.IsConfigured())
	assert.False(t, LLMSettings{Provider: AIProviderOpenAI}.IsConfigured())
	assert.True(t, LLMSettings{Provider: AIProviderOpenAI, APIKey: "k"}.IsConfigured())
}

func TestIndexSettings_IndexName(t *testing.T) {
	s := IndexSettings{Name: "index", Namespace: "Kari"}
	assert.Equal(t, "index_kari", s.IndexName())
}

func TestChangeType_String(t *testing.T) {
	assert.Equal(t, "created", ChangeCreated.String())
	assert.Equal(t, "deleted", ChangeDeleted.String())
	assert.Equal(t, unknownDescription, ChangeType(42).String())
}

func TestProviderLists(t *testing.T) {
	models := DefaultEmbeddingModels()
	for _, p := range AllEmbeddingProviders() {
		assert.NotEmpty(t, models[p], p)
	}
	for _, p := range AllLLMProviders() {
		assert.True(t, LLMSettings{Provider: p, APIKey: "k"}.IsConfigured(), p)
		assert.NotEmpty(t, DefaultLLMModels()[p], p)
	}
	assert.NotContains(t, AllLLMProviders(), AIProviderHashing)
}
