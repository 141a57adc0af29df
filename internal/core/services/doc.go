// Package services implements the driving port interfaces.
//
// Ingestion masks PII, chunks, embeds and upserts documents through the
// BatchedWriter. Querying embeds the question, runs hybrid retrieval with
// Reciprocal Rank Fusion, assembles a grounded prompt and streams the
// completion. Adapters are reached only through the driven ports.
package services
