package mcp

import (
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server calls.
type Ports struct {
	// Query answers and searches. Required.
	Query driving.QueryService

	// Ingest enables the ingest_text tool and the ingest status resource.
	Ingest driving.IngestService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p == nil || p.Query == nil {
		return ErrMissingQueryService
	}
	return nil
}
