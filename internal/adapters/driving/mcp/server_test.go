package mcp

import (
	"context"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

func TestNewServer(t *testing.T) {
	t.Run("nil query service returns error", func(t *testing.T) {
		server, err := NewServer(&Ports{})
		require.Error(t, err)
		assert.Nil(t, server)
		assert.ErrorIs(t, err, ErrMissingQueryService)
	})

	t.Run("query only creates server", func(t *testing.T) {
		server, err := NewServer(&Ports{Query: &mockQueryService{}})
		require.NoError(t, err)
		assert.NotNil(t, server)
	})

	t.Run("query and ingest creates server", func(t *testing.T) {
		server, err := NewServer(&Ports{Query: &mockQueryService{}, Ingest: &mockIngestService{}})
		require.NoError(t, err)
		assert.NotNil(t, server)
	})
}

func TestPorts_Validate(t *testing.T) {
	var nilPorts *Ports
	assert.ErrorIs(t, nilPorts.Validate(), ErrMissingQueryService)
	assert.ErrorIs(t, (&Ports{Ingest: &mockIngestService{}}).Validate(), ErrMissingQueryService)
	assert.NoError(t, (&Ports{Query: &mockQueryService{}}).Validate())
}

func TestInstructions(t *testing.T) {
	assert.NotContains(t, instructions(&Ports{Query: &mockQueryService{}}), "ingest_text")
	assert.Contains(t, instructions(&Ports{Query: &mockQueryService{}, Ingest: &mockIngestService{}}), "ingest_text")
}

func TestServer_InMemoryClient(t *testing.T) {
	ctx := context.Background()
	query := &mockQueryService{results: []domain.RetrievalResult{vacationResult()}}
	server, err := NewServer(&Ports{Query: query})
	require.NoError(t, err)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport)
	require.NoError(t, err)
	defer serverSession.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test", Version: "1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"search", "ask"}, names)

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "search",
		Arguments: map[string]any{"query": "vacation", "top_k": 3},
	})
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, 3, query.gotTopK)
}
