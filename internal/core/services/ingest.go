package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// IngestConfig configures an IngestService.
type IngestConfig struct {
	// Schema is the target index schema.
	Schema domain.IndexSchema

	// AllowRecreate lets EnsureSchema recreate an incompatible index.
	AllowRecreate bool

	// Concurrency bounds the documents processed at once.
	Concurrency int

	// MaxFailedItems aborts the run once exceeded. Negative or zero means
	// never abort.
	MaxFailedItems int

	// MinConfidence is the PII masking threshold.
	MinConfidence float64

	// Warnings are degradations found while wiring the pipeline, such as
	// a classifier that failed to load. Every run reports them.
	Warnings []string
}

// IngestService runs documents through mask, chunk, embed and upsert.
// One worker handles a document end to end, so chunks keep split order.
type IngestService struct {
	sanitizer *Sanitizer
	pipeline  driven.PostProcessorPipeline
	embedder  driven.Embedder
	writer    *BatchedWriter
	cfg       IngestConfig

	mu      sync.Mutex
	running bool
	report  *domain.IngestReport
}

// NewIngestService creates an ingestion service. sanitizer may be nil to
// skip masking. It returns ErrConfig when the embedder and schema disagree
// on dimensions.
func NewIngestService(
	sanitizer *Sanitizer,
	pipeline driven.PostProcessorPipeline,
	embedder driven.Embedder,
	writer *BatchedWriter,
	cfg IngestConfig,
) (*IngestService, error) {
	if pipeline == nil || embedder == nil || writer == nil {
		return nil, fmt.Errorf("%w: ingest requires a pipeline, an embedder and a writer", domain.ErrConfig)
	}
	if err := cfg.Schema.Validate(); err != nil {
		return nil, err
	}
	if embedder.Dimensions() != cfg.Schema.Dimensions {
		return nil, fmt.Errorf("%w: embedder %s has %d dimensions, index %s has %d",
			domain.ErrConfig, embedder.ModelName(), embedder.Dimensions(), cfg.Schema.Name, cfg.Schema.Dimensions)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = domain.DefaultConcurrency
	}
	return &IngestService{
		sanitizer: sanitizer,
		pipeline:  pipeline,
		embedder:  embedder,
		writer:    writer,
		cfg:       cfg,
	}, nil
}

// EnsureSchema creates or updates the index schema.
func (s *IngestService) EnsureSchema(ctx context.Context) (domain.SchemaAction, error) {
	return s.writer.CreateOrUpdateSchema(ctx, s.cfg.Schema, domain.SchemaOptions{AllowRecreate: s.cfg.AllowRecreate})
}

// Recreate destroys and recreates the index.
func (s *IngestService) Recreate(ctx context.Context) error {
	return s.writer.Recreate(ctx, s.cfg.Schema)
}

// Status returns a copy of the current or most recent report, or nil.
func (s *IngestService) Status() *domain.IngestReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return nil
	}
	return s.report.Clone()
}

// Ingest lists every document in source and ingests them.
func (s *IngestService) Ingest(ctx context.Context, source driven.ContentSource) (*domain.IngestReport, error) {
	logger.Section("Ingest")
	logger.Info("Listing documents from %s", source.Name())

	docs, err := source.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return s.IngestDocuments(ctx, docs)
}

// IngestDocuments ingests docs. Per-item failures are recorded in the
// report and the run continues; configuration and irrecoverable backend
// errors abort it.
func (s *IngestService) IngestDocuments(ctx context.Context, docs []domain.Document) (*domain.IngestReport, error) {
	report, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer s.end()

	if _, err := s.EnsureSchema(ctx); err != nil {
		return s.finish(report, fmt.Errorf("ensure schema: %w", err))
	}

	pool, err := ants.NewPool(s.cfg.Concurrency, ants.WithPanicHandler(func(p any) {
		logger.Error("Ingest worker panic: %v", p)
	}))
	if err != nil {
		return s.finish(report, fmt.Errorf("create worker pool: %w", err))
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	logger.Info("Ingesting %d documents into %s with %d workers", len(docs), s.cfg.Schema.Name, s.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := range docs {
		if runCtx.Err() != nil {
			break
		}
		doc := docs[i]
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if err := s.ingestDocument(runCtx, doc); err != nil {
				cancel(err)
			}
		})
		if err != nil {
			wg.Done()
			cancel(fmt.Errorf("submit %s: %w", doc.ID, err))
		}
	}
	wg.Wait()

	if cause := context.Cause(runCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return s.finish(report, cause)
	}
	if err := ctx.Err(); err != nil {
		return s.finish(report, err)
	}
	return s.finish(report, nil)
}

// DeleteDocuments removes the chunks of each document ID from the index.
// It returns the number of chunks removed.
func (s *IngestService) DeleteDocuments(ctx context.Context, ids []string) (int, error) {
	total := 0
	for _, id := range ids {
		removed, err := s.writer.DeleteParent(ctx, id)
		if err != nil {
			return total, err
		}
		logger.Debug("Removed %d chunks of %s", removed, id)
		total += removed
	}
	return total, nil
}

// ingestDocument processes one document. A returned error aborts the run.
func (s *IngestService) ingestDocument(ctx context.Context, doc domain.Document) error {
	if err := ctx.Err(); err != nil {
		return nil
	}
	logger.Debug("Ingest: %s", doc.ID)

	// Sanitize.
	if s.sanitizer != nil {
		masked, err := s.sanitizer.Mask(ctx, doc.Content, s.cfg.MinConfidence)
		switch {
		case err == nil:
			doc.Content = masked
			s.count(domain.StageSanitize, func(c *domain.StageCounts) { c.Processed++ })
		case errors.Is(err, domain.ErrClassifierUnavailable):
			s.warn(fmt.Sprintf("PII masking incomplete: %v", err))
			if masked != doc.Content {
				doc.Content = masked
				s.count(domain.StageSanitize, func(c *domain.StageCounts) { c.Processed++ })
			} else {
				s.count(domain.StageSanitize, func(c *domain.StageCounts) { c.Skipped++ })
			}
		default:
			return nil
		}
	} else {
		s.count(domain.StageSanitize, func(c *domain.StageCounts) { c.Skipped++ })
	}

	// Chunk.
	chunks, err := s.pipeline.Process(ctx, &doc)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return s.failDocument(doc.ID, domain.StageChunk, err)
	}
	if len(chunks) == 0 {
		s.count(domain.StageChunk, func(c *domain.StageCounts) { c.Skipped++ })
		s.mu.Lock()
		s.report.Documents.Skipped++
		s.mu.Unlock()
		return nil
	}
	s.count(domain.StageChunk, func(c *domain.StageCounts) { c.Processed++ })

	// Embed.
	embedded := make([]domain.Chunk, 0, len(chunks))
	failed := 0
	for i := range chunks {
		vec, err := s.embedder.Embed(ctx, chunks[i].Content)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isFatal(err) {
				return fmt.Errorf("embed %s: %w", doc.ID, err)
			}
			failed++
			if err := s.failItem(domain.ItemError{
				DocumentID: doc.ID, ChunkID: chunks[i].ID, Stage: domain.StageEmbed, Err: err,
			}); err != nil {
				return err
			}
			continue
		}
		chunks[i].Embedding = vec
		embedded = append(embedded, chunks[i])
		s.count(domain.StageEmbed, func(c *domain.StageCounts) { c.Processed++ })
	}

	// Upsert, replacing whatever an earlier version of the document left.
	if len(embedded) > 0 {
		result, err := s.writer.ReplaceParent(ctx, doc.ID, embedded)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if domain.IsRetryable(err) {
				return s.failDocument(doc.ID, domain.StageUpsert, err)
			}
			return fmt.Errorf("upsert %s: %w", doc.ID, err)
		}
		s.count(domain.StageUpsert, func(c *domain.StageCounts) {
			c.Processed += result.Accepted
			c.Failed += result.Rejected
		})
		failed += result.Rejected
		for _, item := range result.Errors {
			if err := s.failItem(item); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	if failed > 0 {
		s.report.Documents.Failed++
	} else {
		s.report.Documents.Processed++
	}
	s.mu.Unlock()
	return nil
}

// isFatal reports errors that will fail every remaining item as well.
func isFatal(err error) bool {
	return errors.Is(err, domain.ErrConfig) || errors.Is(err, domain.ErrIrrecoverable)
}

func (s *IngestService) failDocument(docID string, stage domain.Stage, err error) error {
	s.mu.Lock()
	s.report.Documents.Failed++
	s.mu.Unlock()
	return s.failItem(domain.ItemError{DocumentID: docID, Stage: stage, Err: err})
}

// failItem records a failed item and returns ErrTooManyFailures once the
// configured limit is exceeded.
func (s *IngestService) failItem(item domain.ItemError) error {
	logger.Warn("Ingest: %v", item)

	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Stage != domain.StageUpsert {
		s.report.Stage(item.Stage).Failed++
	}
	s.report.FailedItems = append(s.report.FailedItems, item)
	if limit := s.cfg.MaxFailedItems; limit > 0 && len(s.report.FailedItems) > limit {
		return fmt.Errorf("%w: %d items failed, limit is %d", domain.ErrTooManyFailures, len(s.report.FailedItems), limit)
	}
	return nil
}

func (s *IngestService) count(stage domain.Stage, fn func(c *domain.StageCounts)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.report.Stage(stage))
}

// warn records a warning once per run.
func (s *IngestService) warn(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.report.Warnings {
		if w == msg {
			return
		}
	}
	logger.Warn("Ingest: %s", msg)
	s.report.Warnings = append(s.report.Warnings, msg)
}

func (s *IngestService) begin() (*domain.IngestReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, domain.ErrIngestInProgress
	}
	s.running = true
	s.report = domain.NewIngestReport(uuid.NewString(), s.cfg.Schema.Name)
	s.report.Warnings = append(s.report.Warnings, s.cfg.Warnings...)
	return s.report, nil
}

func (s *IngestService) end() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// finish stamps the final status and returns a copy of the report.
func (s *IngestService) finish(report *domain.IngestReport, runErr error) (*domain.IngestReport, error) {
	s.mu.Lock()
	report.FinishedAt = time.Now()
	switch {
	case runErr != nil:
		report.Status = domain.IngestError
	case len(report.FailedItems) > 0:
		report.Status = domain.IngestTransientFailure
	default:
		report.Status = domain.IngestSuccess
	}
	out := report.Clone()
	s.mu.Unlock()

	if runErr != nil {
		logger.Warn("Ingest %s aborted: %v", report.RunID, runErr)
		return out, runErr
	}
	logger.Info("Ingest %s: %d processed, %d skipped, %d failed documents in %s",
		out.RunID, out.Documents.Processed, out.Documents.Skipped, out.Documents.Failed,
		out.Duration().Round(time.Millisecond))
	return out, nil
}
