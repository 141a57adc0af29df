package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
	"github.com/custodia-labs/fagdag/internal/resilience"
)

// Ensure BatchedWriter implements the interface.
var _ driven.IndexWriter = (*BatchedWriter)(nil)

// BatchedWriter splits upserts into bounded batches, retries transient
// batch failures and serialises writes per index.
type BatchedWriter struct {
	next      driven.IndexWriter
	index     string
	batchSize int
	retry     *resilience.RetryConfig
	locks     *IndexLocks
}

// WriterConfig configures a BatchedWriter.
type WriterConfig struct {
	// Index is the index name used for locking.
	Index string

	// BatchSize caps chunks per backend call. Values outside
	// 1..MaxBatchSize fall back to the default.
	BatchSize int

	// Retry controls retries of a failed batch. Nil uses the default.
	Retry *resilience.RetryConfig

	// Locks is shared between writers of the same process. Nil creates
	// a private table.
	Locks *IndexLocks
}

// NewBatchedWriter wraps next.
func NewBatchedWriter(next driven.IndexWriter, cfg WriterConfig) *BatchedWriter {
	if cfg.BatchSize <= 0 || cfg.BatchSize > domain.MaxBatchSize {
		cfg.BatchSize = domain.DefaultBatchSize
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Locks == nil {
		cfg.Locks = NewIndexLocks()
	}
	return &BatchedWriter{
		next:      next,
		index:     cfg.Index,
		batchSize: cfg.BatchSize,
		retry:     cfg.Retry,
		locks:     cfg.Locks,
	}
}

// BatchSize returns the effective batch size.
func (w *BatchedWriter) BatchSize() int {
	return w.batchSize
}

// CreateOrUpdateSchema applies schema under the index lock.
func (w *BatchedWriter) CreateOrUpdateSchema(
	ctx context.Context, schema domain.IndexSchema, opts domain.SchemaOptions,
) (domain.SchemaAction, error) {
	unlock := w.locks.Lock(schema.Name)
	defer unlock()

	var action domain.SchemaAction
	cfg := *w.retry
	cfg.Op = "create or update schema"
	err := resilience.RetryWithBackoff(ctx, &cfg, func() error {
		var err error
		action, err = w.next.CreateOrUpdateSchema(ctx, schema, opts)
		return err
	})
	if err != nil {
		return "", err
	}
	logger.Debug("Index %s: schema %s", schema.Name, action)
	return action, nil
}

// Upsert writes chunks in batches of at most BatchSize. A batch whose
// retries are exhausted is counted as rejected and the next batch is
// attempted. Non-transient backend errors stop the upsert.
func (w *BatchedWriter) Upsert(ctx context.Context, chunks []domain.Chunk) (domain.UpsertResult, error) {
	unlock := w.locks.Lock(w.index)
	defer unlock()
	return w.upsert(ctx, chunks)
}

// ReplaceParent removes whatever the index holds for parentID and writes
// chunks in its place. No other write to the index can interleave, so a
// document that shrank leaves no chunks from its longer version.
func (w *BatchedWriter) ReplaceParent(
	ctx context.Context, parentID string, chunks []domain.Chunk,
) (domain.UpsertResult, error) {
	unlock := w.locks.Lock(w.index)
	defer unlock()

	removed, err := w.deleteParent(ctx, parentID)
	if err != nil {
		return domain.UpsertResult{}, err
	}
	if removed > 0 {
		logger.Debug("Index %s: replacing %d chunks of %s", w.index, removed, parentID)
	}
	return w.upsert(ctx, chunks)
}

// DeleteParent removes parentID and its chunks under the index lock.
func (w *BatchedWriter) DeleteParent(ctx context.Context, parentID string) (int, error) {
	unlock := w.locks.Lock(w.index)
	defer unlock()
	return w.deleteParent(ctx, parentID)
}

func (w *BatchedWriter) deleteParent(ctx context.Context, parentID string) (int, error) {
	var removed int
	cfg := *w.retry
	cfg.Op = "delete parent"
	err := resilience.RetryWithBackoff(ctx, &cfg, func() error {
		var err error
		removed, err = w.next.DeleteParent(ctx, parentID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete parent %s: %w", parentID, err)
	}
	return removed, nil
}

func (w *BatchedWriter) upsert(ctx context.Context, chunks []domain.Chunk) (domain.UpsertResult, error) {
	var total domain.UpsertResult

	for start := 0; start < len(chunks); start += w.batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		end := start + w.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		var result domain.UpsertResult
		cfg := *w.retry
		cfg.Op = "upsert batch"
		err := resilience.RetryWithBackoff(ctx, &cfg, func() error {
			var err error
			result, err = w.next.Upsert(ctx, batch)
			return err
		})

		switch {
		case err == nil:
			total.Add(result)
		case ctx.Err() != nil:
			return total, err
		case domain.IsRetryable(err):
			logger.Warn("Index %s: rejecting batch of %d chunks: %v", w.index, len(batch), err)
			total.Add(rejectBatch(batch, err))
		default:
			return total, fmt.Errorf("upsert batch %d-%d: %w", start, end, err)
		}
	}

	return total, nil
}

func rejectBatch(batch []domain.Chunk, err error) domain.UpsertResult {
	result := domain.UpsertResult{Rejected: len(batch)}
	for i := range batch {
		result.Errors = append(result.Errors, domain.ItemError{
			DocumentID: batch[i].ParentID,
			ChunkID:    batch[i].ID,
			Stage:      domain.StageUpsert,
			Err:        err,
		})
	}
	return result
}

// DeleteIndex drops the named index under its lock.
func (w *BatchedWriter) DeleteIndex(ctx context.Context, name string) error {
	unlock := w.locks.Lock(name)
	defer unlock()

	err := w.next.DeleteIndex(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

// Recreate drops and creates the index while holding its lock, so no
// upsert can land between the two steps.
func (w *BatchedWriter) Recreate(ctx context.Context, schema domain.IndexSchema) error {
	unlock := w.locks.Lock(schema.Name)
	defer unlock()

	logger.Warn("recreating index %s", schema.Name)
	if err := w.next.DeleteIndex(ctx, schema.Name); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete index %s: %w", schema.Name, err)
	}
	if _, err := w.next.CreateOrUpdateSchema(ctx, schema, domain.SchemaOptions{}); err != nil {
		return fmt.Errorf("create index %s: %w", schema.Name, err)
	}
	return nil
}

// Stats delegates to the wrapped writer.
func (w *BatchedWriter) Stats(ctx context.Context) (domain.IndexStats, error) {
	return w.next.Stats(ctx)
}
