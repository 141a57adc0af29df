package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPorts(t *testing.T) {
	q := &mockQueryService{}

	ports := NewPorts(q)

	assert.Equal(t, q, ports.Query)
	assert.Nil(t, ports.Ingest)
	assert.Nil(t, ports.Settings)
	assert.NoError(t, ports.Validate())
}

func TestPorts_Validate(t *testing.T) {
	var nilPorts *Ports
	assert.ErrorIs(t, nilPorts.Validate(), ErrInvalidPorts)
	assert.ErrorIs(t, (&Ports{}).Validate(), ErrMissingQueryService)
	assert.ErrorIs(t, (&Ports{Ingest: &mockIngestService{}}).Validate(), ErrMissingQueryService)
}
