package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

const uriScheme = "fagdag://"

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	if s.ports.Ingest != nil {
		s.server.AddResource(&mcp.Resource{
			URI:         uriScheme + "ingest/status",
			Name:        "ingest-status",
			Description: "Report of the current or most recent ingestion run",
			MIMEType:    "application/json",
		}, s.handleIngestStatusResource)
	}

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "search/{query}",
		Name:        "search",
		Description: "Chunks most relevant to a query",
		MIMEType:    "application/json",
	}, s.handleSearchResource)
}

type stageStatus struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

type ingestStatus struct {
	RunID      string                 `json:"run_id,omitempty"`
	Index      string                 `json:"index,omitempty"`
	Status     string                 `json:"status"`
	Documents  stageStatus            `json:"documents"`
	Stages     map[string]stageStatus `json:"stages,omitempty"`
	Failures   []string               `json:"failures,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

func (s *Server) handleIngestStatusResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	status := toIngestStatus(s.ports.Ingest.Status())
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling ingest status: %w", err)
	}
	return jsonResult(req.Params.URI, data), nil
}

func toIngestStatus(r *domain.IngestReport) ingestStatus {
	if r == nil {
		return ingestStatus{Status: string(domain.IngestIdle)}
	}
	out := ingestStatus{
		RunID:     r.RunID,
		Index:     r.Index,
		Status:    string(r.Status),
		Documents: stageStatus(r.Documents),
		Stages:    make(map[string]stageStatus, len(r.Stages)),
		Warnings:  r.Warnings,
		StartedAt: &r.StartedAt,
	}
	for stage, c := range r.Stages {
		if c != nil {
			out.Stages[string(stage)] = stageStatus(*c)
		}
	}
	for _, item := range r.FailedItems {
		out.Failures = append(out.Failures, item.Error())
	}
	if !r.FinishedAt.IsZero() {
		out.FinishedAt = &r.FinishedAt
	}
	return out
}

func (s *Server) handleSearchResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	query := extractQuery(req.Params.URI)
	if query == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	results, err := s.ports.Query.Search(ctx, query, 0)
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}
	data, err := json.MarshalIndent(chunkOutputs(results), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling results: %w", err)
	}
	return jsonResult(req.Params.URI, data), nil
}

func jsonResult(uri string, data []byte) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}
}

// extractQuery returns the unescaped query of fagdag://search/{query}.
func extractQuery(uri string) string {
	const prefix = uriScheme + "search/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	query, err := url.PathUnescape(strings.TrimPrefix(uri, prefix))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(query)
}
