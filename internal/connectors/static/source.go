// Package static provides an in-memory content source.
package static

import (
	"context"
	"sync"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Ensure Source implements the interface.
var _ driven.ContentSource = (*Source)(nil)

// Source serves a fixed set of documents. Add replaces documents that
// share an ID so repeated ingestion stays idempotent.
type Source struct {
	name string

	mu    sync.RWMutex
	docs  []domain.Document
	index map[string]int
}

// New creates a source holding docs.
func New(name string, docs ...domain.Document) *Source {
	s := &Source{name: name, index: make(map[string]int)}
	s.Add(docs...)
	return s
}

// Name returns the source name.
func (s *Source) Name() string {
	return s.name
}

// Add appends documents, replacing any with the same ID.
func (s *Source) Add(docs ...domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		d.Metadata = domain.CloneMetadata(d.Metadata)
		if d.SourceID == "" {
			d.SourceID = s.name
		}
		if i, ok := s.index[d.ID]; ok {
			s.docs[i] = d
			continue
		}
		s.index[d.ID] = len(s.docs)
		s.docs = append(s.docs, d)
	}
}

// Len returns the number of documents held.
func (s *Source) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// ListDocuments returns a copy of the documents in insertion order.
func (s *Source) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Document, len(s.docs))
	for i, d := range s.docs {
		d.Metadata = domain.CloneMetadata(d.Metadata)
		out[i] = d
	}
	return out, nil
}
