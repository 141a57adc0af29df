// Package mcp serves the query and ingestion services over the Model
// Context Protocol, so AI assistants can search and ask fagdag directly.
package mcp

import "errors"

// ErrMissingQueryService is returned when the query service is not provided.
var ErrMissingQueryService = errors.New("mcp: query service is required")
