package mcp

import (
	"context"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// mockQueryService is a mock implementation of driving.QueryService.
type mockQueryService struct {
	results []domain.RetrievalResult
	answer  *domain.Answer
	err     error

	gotQuery    string
	gotTopK     int
	gotHistory  []domain.ChatMessage
	gotQuestion string
}

func (m *mockQueryService) Ask(
	_ context.Context, history []domain.ChatMessage, question string, _ func(string) error,
) (*domain.Answer, error) {
	m.gotHistory = history
	m.gotQuestion = question
	if m.answer == nil {
		return &domain.Answer{Text: domain.CouldNotAnswer, State: domain.QueryFailed}, m.err
	}
	return m.answer, m.err
}

func (m *mockQueryService) Search(_ context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	m.gotQuery = query
	m.gotTopK = topK
	return m.results, m.err
}

// mockIngestService is a mock implementation of driving.IngestService.
type mockIngestService struct {
	report *domain.IngestReport
	err    error
	docs   []domain.Document
}

func (m *mockIngestService) Ingest(ctx context.Context, source driven.ContentSource) (*domain.IngestReport, error) {
	docs, err := source.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	m.docs = docs
	return m.report, m.err
}

func (m *mockIngestService) IngestDocuments(_ context.Context, docs []domain.Document) (*domain.IngestReport, error) {
	m.docs = docs
	return m.report, m.err
}

func (m *mockIngestService) DeleteDocuments(_ context.Context, ids []string) (int, error) {
	return len(ids), m.err
}

func (m *mockIngestService) Status() *domain.IngestReport {
	return m.report
}

func (m *mockIngestService) EnsureSchema(_ context.Context) (domain.SchemaAction, error) {
	return domain.SchemaUnchanged, m.err
}

func (m *mockIngestService) Recreate(_ context.Context) error {
	return m.err
}

func vacationResult() domain.RetrievalResult {
	return domain.RetrievalResult{
		Chunk: domain.Chunk{
			ID:       "policy.md#1",
			ParentID: "policy.md",
			Content:  "The vacation policy gives everyone five weeks.",
			Metadata: map[string]string{"title": "Policy", "uri": "/docs/policy.md"},
		},
		Score: 0.8,
	}
}
