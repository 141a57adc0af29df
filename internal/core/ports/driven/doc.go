// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Embedder: Turns text into a fixed-length vector
//   - IndexWriter: Schema management and idempotent chunk upserts
//   - SearchBackend: Lexical and vector legs of hybrid retrieval
//   - CompletionStreamer: Streams chat completions as ordered fragments
//   - ContentSource: Lists documents to ingest
//   - ConfigStore: Application configuration
//   - PromptStore: Editable prompt templates
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - PIIClassifier: Without it, the sanitizer passes text through unmasked
//     and reports a warning.
//   - Watcher: Only sources that can observe changes implement it.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
