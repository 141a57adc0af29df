package driving

import (
	"context"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// IngestService loads documents into the index.
type IngestService interface {
	// Ingest runs the full pipeline over every document in source.
	// Per-item failures are recorded in the report and do not fail the run.
	Ingest(ctx context.Context, source driven.ContentSource) (*domain.IngestReport, error)

	// IngestDocuments runs the pipeline over documents the caller already holds.
	IngestDocuments(ctx context.Context, docs []domain.Document) (*domain.IngestReport, error)

	// DeleteDocuments removes every chunk of the given document IDs from
	// the index and returns how many chunks were removed.
	DeleteDocuments(ctx context.Context, ids []string) (int, error)

	// Status returns a copy of the current or most recent report.
	// Returns nil before the first run.
	Status() *domain.IngestReport

	// EnsureSchema creates or updates the index schema.
	EnsureSchema(ctx context.Context) (domain.SchemaAction, error)

	// Recreate destroys and recreates the index.
	Recreate(ctx context.Context) error
}
