package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/fagdag/internal/connectors/static"
	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the text to search the indexed documents for"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of chunks to return (default 5)"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []ChunkOutput `json:"results"`
	Count   int           `json:"count"`
}

// ChunkOutput is one retrieved chunk.
type ChunkOutput struct {
	ChunkID  string  `json:"chunk_id"`
	ParentID string  `json:"parent_id"`
	Title    string  `json:"title,omitempty"`
	URI      string  `json:"uri,omitempty"`
	Score    float64 `json:"score"`
	Content  string  `json:"content"`
}

// MessageInput is one earlier turn of a conversation.
type MessageInput struct {
	Role    string `json:"role" jsonschema:"user or assistant"`
	Content string `json:"content"`
}

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question string         `json:"question" jsonschema:"the question to answer from the indexed documents"`
	History  []MessageInput `json:"history,omitempty" jsonschema:"earlier turns of the conversation, oldest first"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer    string        `json:"answer"`
	State     string        `json:"state"`
	Notice    string        `json:"notice,omitempty"`
	Partial   bool          `json:"partial,omitempty"`
	NoContext bool          `json:"no_context,omitempty"`
	Sources   []ChunkOutput `json:"sources"`
}

// IngestTextInput is the input schema for the ingest_text tool.
type IngestTextInput struct {
	ID    string `json:"id" jsonschema:"stable document id; ingesting the same id again replaces its chunks"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text" jsonschema:"the document text"`
}

// IngestTextOutput is the output schema for the ingest_text tool.
type IngestTextOutput struct {
	RunID    string   `json:"run_id"`
	Status   string   `json:"status"`
	Chunks   int      `json:"chunks"`
	Failed   int      `json:"failed"`
	Warnings []string `json:"warnings,omitempty"`
}

// mcpSourceID tags documents ingested through the ingest_text tool.
const mcpSourceID = "mcp"

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Search the indexed documents and return the most relevant chunks",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question using only the indexed documents, with the sources used",
	}, s.handleAsk)

	if s.ports.Ingest != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ingest_text",
			Description: "Mask, chunk, embed and index a piece of text",
		}, s.handleIngestText)
	}
}

func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := s.ports.Query.Search(ctx, input.Query, input.TopK)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	out := chunkOutputs(results)
	return nil, SearchOutput{Results: out, Count: len(out)}, nil
}

func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	history := make([]domain.ChatMessage, 0, len(input.History))
	for _, m := range input.History {
		role := domain.Role(strings.ToLower(m.Role))
		if role != domain.RoleUser && role != domain.RoleAssistant {
			return nil, AskOutput{}, fmt.Errorf("%w: history role %q", domain.ErrInvalidInput, m.Role)
		}
		history = append(history, domain.ChatMessage{Role: role, Content: m.Content})
	}

	answer, err := s.ports.Query.Ask(ctx, history, input.Question, nil)
	// A partial answer is still returned; the notice says it was cut short.
	if err != nil && (answer == nil || !answer.Partial) {
		return nil, AskOutput{}, err
	}
	return nil, AskOutput{
		Answer:    answer.Text,
		State:     string(answer.State),
		Notice:    answer.Notice,
		Partial:   answer.Partial,
		NoContext: answer.NoContext,
		Sources:   chunkOutputs(answer.Contexts),
	}, nil
}

func (s *Server) handleIngestText(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestTextInput,
) (*mcp.CallToolResult, IngestTextOutput, error) {
	if strings.TrimSpace(input.ID) == "" || strings.TrimSpace(input.Text) == "" {
		return nil, IngestTextOutput{}, errors.New("id and text are required")
	}
	doc := domain.Document{
		ID:       input.ID,
		SourceID: mcpSourceID,
		URI:      mcpSourceID + "://" + input.ID,
		Title:    input.Title,
		Content:  input.Text,
	}

	report, err := s.ports.Ingest.Ingest(ctx, static.New(mcpSourceID, doc))
	if err != nil {
		return nil, IngestTextOutput{}, err
	}
	return nil, IngestTextOutput{
		RunID:    report.RunID,
		Status:   string(report.Status),
		Chunks:   report.Stage(domain.StageUpsert).Processed,
		Failed:   len(report.FailedItems),
		Warnings: report.Warnings,
	}, nil
}

func chunkOutputs(results []domain.RetrievalResult) []ChunkOutput {
	out := make([]ChunkOutput, len(results))
	for i := range results {
		c := results[i].Chunk
		out[i] = ChunkOutput{
			ChunkID:  c.ID,
			ParentID: c.ParentID,
			Title:    c.Metadata["title"],
			URI:      c.Metadata["uri"],
			Score:    results[i].Score,
			Content:  c.Content,
		}
	}
	return out
}
