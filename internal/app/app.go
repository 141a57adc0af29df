// Package app wires settings into the adapters and services used by the
// command line, the MCP server and the chat view.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/custodia-labs/fagdag/internal/adapters/driven/ai"
	"github.com/custodia-labs/fagdag/internal/adapters/driven/config/file"
	"github.com/custodia-labs/fagdag/internal/adapters/driven/storage"
	"github.com/custodia-labs/fagdag/internal/connectors/filesystem"
	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/core/services"
	"github.com/custodia-labs/fagdag/internal/logger"
	"github.com/custodia-labs/fagdag/internal/postprocessors"
	"github.com/custodia-labs/fagdag/internal/resilience"
)

// App holds the wired services for one process.
type App struct {
	Settings *domain.Settings
	Schema   domain.IndexSchema

	Store    driven.VectorStore
	Embedder driven.Embedder

	// Streamer is nil when the completion provider could not be created.
	// StreamerErr then says why.
	Streamer    driven.CompletionStreamer
	StreamerErr error

	Writer  *services.BatchedWriter
	Ingest  *services.IngestService
	Query   *services.QueryService
	Prompts *services.PromptAssembler

	configDir string
	closers   []func() error
}

// Options overrides settings for one invocation.
type Options struct {
	// ConfigDir holds config.toml, prompts and downloaded models.
	// Empty means ~/.fagdag.
	ConfigDir string

	// Concurrency overrides ingest.concurrency when positive.
	Concurrency int

	// AllowRecreate overrides index.recreate when set.
	AllowRecreate bool

	// TopK overrides retrieval.top_k when positive.
	TopK int
}

// NewSettingsService opens the TOML config store in configDir.
func NewSettingsService(configDir string) (*services.SettingsService, error) {
	store, err := file.NewConfigStore(configDir)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	return services.NewSettingsService(store, ai.NewConfigValidator()), nil
}

// ResolveConfigDir returns dir, or ~/.fagdag when empty.
func ResolveConfigDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return file.DefaultDir()
}

// New builds every component from validated settings. The caller must
// Close the returned App.
func New(ctx context.Context, settings *domain.Settings, opts Options) (a *App, err error) {
	configDir, err := ResolveConfigDir(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency > 0 {
		settings.Ingest.Concurrency = opts.Concurrency
	}
	if opts.AllowRecreate {
		settings.Index.AllowRecreate = true
	}
	if opts.TopK > 0 {
		settings.Retrieval.TopK = opts.TopK
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Index.DataDir == "" {
		settings.Index.DataDir = filepath.Join(configDir, "data")
	}

	a = &App{Settings: settings, configDir: configDir}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// Embedding.
	base, err := ai.CreateEmbedder(&settings.Embedding)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, base.Close)
	retry := resilience.DefaultRetryConfig()
	if settings.Embedding.MaxAttempts > 0 {
		retry.MaxAttempts = settings.Embedding.MaxAttempts
	}
	a.Embedder = services.NewResilientEmbedder(base, services.EmbedderConfig{
		RatePerSecond: settings.Embedding.RatePerSecond,
		Retry:         retry,
	})

	// Index.
	a.Store, err = storage.Open(ctx, &settings.Index)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)
	a.Schema = domain.DefaultIndexSchema(settings.Index.IndexName(), base.Dimensions())
	a.Writer = services.NewBatchedWriter(a.Store, services.WriterConfig{
		Index:     a.Schema.Name,
		BatchSize: settings.Index.BatchSize,
	})

	// Ingestion.
	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	pipeline, err := postprocessors.DefaultPipeline(registry, settings.Chunking, settings.PII.LanguageCode)
	if err != nil {
		return nil, err
	}

	var (
		sanitizer *services.Sanitizer
		warnings  []string
	)
	if settings.PII.Enabled {
		var classifier driven.PIIClassifier
		classifier, warnings = ai.CreateClassifier(&settings.PII, filepath.Join(configDir, "models"))
		if c, ok := classifier.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
		sanitizer = services.NewSanitizer(classifier, settings.PII.Mask)
	}

	a.Ingest, err = services.NewIngestService(sanitizer, pipeline, a.Embedder, a.Writer, services.IngestConfig{
		Schema:         a.Schema,
		AllowRecreate:  settings.Index.AllowRecreate,
		Concurrency:    settings.Ingest.Concurrency,
		MaxFailedItems: settings.Ingest.MaxFailedItems,
		MinConfidence:  settings.PII.MinConfidence,
		Warnings:       warnings,
	})
	if err != nil {
		return nil, err
	}

	// Query.
	prompts, err := file.NewPromptStore(filepath.Join(configDir, "prompts"))
	if err != nil {
		return nil, err
	}
	a.Prompts = services.NewPromptAssembler(prompts, services.PromptConfig{
		MaxContextChars: settings.Prompt.MaxContextChars,
		UnknownAnswer:   settings.Prompt.UnknownAnswer,
	})

	a.Streamer, a.StreamerErr = ai.CreateStreamer(&settings.LLM)
	if a.StreamerErr != nil {
		logger.Debug("Completion provider unavailable: %v", a.StreamerErr)
		a.Streamer = nil
	} else {
		a.closers = append(a.closers, a.Streamer.Close)
	}

	retriever := services.NewHybridRetriever(a.Store, services.RetrieverConfig{
		MinSimilarity: settings.Retrieval.MinSimilarity,
	})
	a.Query = services.NewQueryService(a.Embedder, retriever, a.Streamer, a.Prompts, services.QueryConfig{
		TopK:                   settings.Retrieval.TopK,
		SkipModelWhenNoContext: settings.Retrieval.SkipModelWhenNoContext,
	})
	return a, nil
}

// Source returns the directory content source. An empty dir falls back to
// content.dir, then the working directory.
func (a *App) Source(dir string) driven.ContentSource {
	if dir == "" {
		dir = a.Settings.Content.Dir
	}
	if dir == "" {
		dir = "."
	}
	return filesystem.New("content", dir)
}

// Close releases every component in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
