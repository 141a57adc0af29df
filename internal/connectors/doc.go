// Package connectors provides the content sources fagdag ingests from.
// Each connector lists documents from one kind of source (a directory,
// an in-memory set) and hands them to the ingestion service.
package connectors
