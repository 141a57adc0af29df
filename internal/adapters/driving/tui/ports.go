// Package tui provides an interactive terminal user interface for fagdag.
// It implements a driving adapter following hexagonal architecture principles.
package tui

import (
	"github.com/custodia-labs/fagdag/internal/core/ports/driving"
)

// Ports aggregates the driving ports the TUI uses.
type Ports struct {
	// Query answers questions and runs retrieval. Required.
	Query driving.QueryService

	// Ingest reports the last ingestion run. Optional.
	Ingest driving.IngestService

	// Settings shows and changes configuration. Optional.
	Settings driving.SettingsService
}

// NewPorts creates a Ports aggregate with the required query service.
func NewPorts(query driving.QueryService) *Ports {
	return &Ports{Query: query}
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p == nil {
		return ErrInvalidPorts
	}
	if p.Query == nil {
		return ErrMissingQueryService
	}
	return nil
}
