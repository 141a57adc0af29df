package domain

import "fmt"

// Document represents a raw ingestible unit.
// Documents are created by a content source and are immutable once
// handed to the ingestion pipeline.
type Document struct {
	// ID is the stable, caller-assigned identifier.
	ID string

	// SourceID names the content source that produced this document.
	SourceID string

	// URI is the original location (file path, URL, etc).
	URI string

	// Title is the human-readable title.
	Title string

	// Content is the raw text before masking and splitting.
	Content string

	// Metadata contains arbitrary key-value pairs (title, link, employer).
	Metadata map[string]string
}

// Chunk represents a searchable unit derived from a Document.
// Chunks are immutable after indexing: re-ingestion replaces, never patches.
type Chunk struct {
	// ID is derived from the parent ID and position, so it is stable
	// across re-ingestion of the same text.
	ID string

	// ParentID is the ID of the Document this chunk was split from.
	// It is a weak reference used for lookup and grouping only.
	ParentID string

	// Content is the text after masking and splitting.
	Content string

	// Position is the split order within the parent document.
	Position int

	// LanguageCode is the language of Content (e.g. "nb").
	LanguageCode string

	// Embedding is the dense vector for semantic search.
	// All chunks in one index share the same length.
	Embedding []float32

	// Metadata is inherited from the parent document.
	Metadata map[string]string
}

// CloneMetadata returns a shallow copy of a metadata map.
func CloneMetadata(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Validate checks that c can be written to an index of the given
// dimension. Failures wrap ErrInvalidInput.
func (c Chunk) Validate(dimensions int) error {
	if c.ID == "" {
		return fmt.Errorf("%w: chunk has no id", ErrInvalidInput)
	}
	if c.ParentID == "" {
		return fmt.Errorf("%w: chunk %s has no parent id", ErrInvalidInput, c.ID)
	}
	if len(c.Embedding) != dimensions {
		return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
			ErrInvalidInput, c.ID, len(c.Embedding), dimensions)
	}
	return nil
}
