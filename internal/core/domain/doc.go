// Package domain defines the core entities of the fagdag RAG pipeline.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: A raw ingestible unit handed over by a content source
//   - Chunk: A searchable, embedded slice of a Document
//   - IndexSchema: The shape of a persisted search index
//   - ChatMessage: Role-tagged text exchanged with the language model
//   - RetrievalResult: A ranked Chunk returned from a query
//   - QueryRun: The state machine of a single query round-trip
//   - IngestReport: Per-stage counts of an ingestion run
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
