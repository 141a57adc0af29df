package driven

import (
	"context"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// ContentSource lists the documents to ingest.
type ContentSource interface {
	// Name identifies the source in reports.
	Name() string

	// ListDocuments returns every document currently in the source.
	ListDocuments(ctx context.Context) ([]domain.Document, error)
}

// Watcher is implemented by sources that can observe changes.
type Watcher interface {
	// Watch blocks until ctx is done, calling onChange with batches of
	// changes. Bursts of events are debounced into one call.
	Watch(ctx context.Context, onChange func([]domain.RawDocumentChange)) error
}
