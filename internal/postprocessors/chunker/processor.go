// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// DefaultMaxLen is the default number of runes per chunk.
const DefaultMaxLen = domain.DefaultChunkMaxLen

// DefaultOverlap is the default number of runes shared by neighbouring chunks.
const DefaultOverlap = domain.DefaultChunkOverlap

// Namespace seeds chunk IDs. Changing it changes every chunk ID.
var Namespace = uuid.MustParse("6f0c7a64-2b8e-4d55-9b1a-53d2d1f0c0de")

// Processor splits document content into rune windows of at most maxLen.
// Consecutive windows share exactly overlap runes. It implements the
// PostProcessor interface.
type Processor struct {
	maxLen       int
	overlap      int
	languageCode string
	namespace    uuid.UUID
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithLanguageCode sets the language code stamped on every chunk.
func WithLanguageCode(code string) Option {
	return func(p *Processor) {
		if code != "" {
			p.languageCode = code
		}
	}
}

// WithNamespace overrides the UUID namespace used for chunk IDs.
func WithNamespace(ns uuid.UUID) Option {
	return func(p *Processor) {
		p.namespace = ns
	}
}

// New creates a chunker. It returns ErrConfig unless 0 <= overlap < maxLen.
func New(maxLen, overlap int, opts ...Option) (*Processor, error) {
	if maxLen <= 0 {
		return nil, fmt.Errorf("%w: chunk max length must be positive, got %d", domain.ErrConfig, maxLen)
	}
	if overlap < 0 || overlap >= maxLen {
		return nil, fmt.Errorf("%w: chunk overlap %d must be in 0..%d", domain.ErrConfig, overlap, maxLen-1)
	}

	p := &Processor{
		maxLen:       maxLen,
		overlap:      overlap,
		languageCode: domain.DefaultLanguageCode,
		namespace:    Namespace,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// MaxLen returns the window size in runes.
func (p *Processor) MaxLen() int { return p.maxLen }

// Overlap returns the shared prefix length in runes.
func (p *Processor) Overlap() int { return p.overlap }

// ChunkID returns the deterministic ID of the chunk at position in parentID.
func (p *Processor) ChunkID(parentID string, position int) string {
	return uuid.NewSHA1(p.namespace, []byte(parentID+"/"+strconv.Itoa(position))).String()
}

// Split cuts text into chunks in order. Empty text yields no chunks and
// text of at most maxLen runes yields exactly one. The same input always
// produces the same chunks, IDs included.
func (p *Processor) Split(parentID, text string) []domain.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := p.maxLen - p.overlap
	chunks := make([]domain.Chunk, 0, len(runes)/step+1)

	for start := 0; ; start += step {
		end := start + p.maxLen
		if end > len(runes) {
			end = len(runes)
		}

		position := len(chunks)
		chunks = append(chunks, domain.Chunk{
			ID:           p.ChunkID(parentID, position),
			ParentID:     parentID,
			Content:      string(runes[start:end]),
			Position:     position,
			LanguageCode: p.languageCode,
		})

		if end == len(runes) {
			break
		}
	}

	return chunks
}

// Process splits the document content into chunks carrying the document's
// metadata. Input chunks are ignored.
func (p *Processor) Process(ctx context.Context, doc *domain.Document, _ []domain.Chunk) ([]domain.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks := p.Split(doc.ID, doc.Content)
	for i := range chunks {
		chunks[i].Metadata = chunkMetadata(doc)
	}
	return chunks, nil
}

func chunkMetadata(doc *domain.Document) map[string]string {
	md := domain.CloneMetadata(doc.Metadata)
	if md == nil {
		md = make(map[string]string, 2)
	}
	if doc.Title != "" {
		md["title"] = doc.Title
	}
	if doc.URI != "" {
		md["uri"] = doc.URI
	}
	return md
}
