// Package normalise cleans document whitespace before chunking.
package normalise

import (
	"context"
	"regexp"
	"strings"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

var (
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
	blankRuns     = regexp.MustCompile(`\n{3,}`)
)

// Processor collapses runs of blank lines and strips trailing spaces.
// It rewrites doc.Content and passes chunks through unchanged, so it
// belongs before the chunker in a pipeline.
type Processor struct{}

// New creates a whitespace normaliser.
func New() *Processor {
	return &Processor{}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "normalise"
}

// Process normalises doc.Content in place.
func (p *Processor) Process(_ context.Context, doc *domain.Document, chunks []domain.Chunk) ([]domain.Chunk, error) {
	doc.Content = Text(doc.Content)
	return chunks, nil
}

// Text applies the normalisation to s.
func Text(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = trailingSpace.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
