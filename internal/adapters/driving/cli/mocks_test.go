package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

type mockQueryService struct {
	askFunc    func(ctx context.Context, history []domain.ChatMessage, q string, onDelta func(string) error) (*domain.Answer, error)
	searchFunc func(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error)

	lastQuestion string
	lastQuery    string
	lastTopK     int
}

func (m *mockQueryService) Ask(
	ctx context.Context, history []domain.ChatMessage, q string, onDelta func(string) error,
) (*domain.Answer, error) {
	m.lastQuestion = q
	if m.askFunc != nil {
		return m.askFunc(ctx, history, q, onDelta)
	}
	text := "Every employee gets 25 days."
	if onDelta != nil {
		if err := onDelta(text); err != nil {
			return &domain.Answer{State: domain.QueryCancelled, Partial: true}, nil
		}
	}
	return &domain.Answer{Text: text, State: domain.QueryCompleted, Contexts: testResults()}, nil
}

func (m *mockQueryService) Search(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	m.lastQuery, m.lastTopK = query, topK
	if m.searchFunc != nil {
		return m.searchFunc(ctx, query, topK)
	}
	return testResults(), nil
}

type mockIngestService struct {
	ingestErr   error
	recreated   bool
	schema      domain.SchemaAction
	report      *domain.IngestReport
	lastSource  driven.ContentSource
	ingestCalls int
}

func (m *mockIngestService) Ingest(_ context.Context, source driven.ContentSource) (*domain.IngestReport, error) {
	m.ingestCalls++
	m.lastSource = source
	r := testReport()
	m.report = r
	return r, m.ingestErr
}

func (m *mockIngestService) IngestDocuments(context.Context, []domain.Document) (*domain.IngestReport, error) {
	return testReport(), nil
}

func (m *mockIngestService) DeleteDocuments(context.Context, []string) (int, error) {
	return 0, nil
}

func (m *mockIngestService) Status() *domain.IngestReport {
	return m.report
}

func (m *mockIngestService) EnsureSchema(context.Context) (domain.SchemaAction, error) {
	if m.schema == "" {
		return domain.SchemaCreated, nil
	}
	return m.schema, nil
}

func (m *mockIngestService) Recreate(context.Context) error {
	m.recreated = true
	return nil
}

type mockSettingsService struct {
	settings *domain.Settings
	setErr   error
	set      map[string]string
	validErr error
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	if m.settings == nil {
		s := domain.DefaultSettings()
		m.settings = &s
	}
	return m.settings, nil
}

func (m *mockSettingsService) Load() (*domain.Settings, error) {
	return m.Get()
}

func (m *mockSettingsService) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	if m.set == nil {
		m.set = make(map[string]string)
	}
	m.set[key] = value
	return nil
}

func (m *mockSettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

func (m *mockSettingsService) ValidateEmbeddingConfig() error {
	return m.validErr
}

func (m *mockSettingsService) ValidateLLMConfig() error {
	return m.validErr
}

type mockIndexAdmin struct {
	stats    domain.IndexStats
	statsErr error
	deleted  bool
}

func (m *mockIndexAdmin) IndexName() string {
	return "fagdag"
}

func (m *mockIndexAdmin) Stats(context.Context) (domain.IndexStats, error) {
	return m.stats, m.statsErr
}

func (m *mockIndexAdmin) Delete(context.Context) error {
	m.deleted = true
	return nil
}

type mockSource struct {
	dir string
}

func (s *mockSource) Name() string {
	return "content:" + s.dir
}

func (s *mockSource) ListDocuments(context.Context) ([]domain.Document, error) {
	return nil, nil
}

func testResults() []domain.RetrievalResult {
	return []domain.RetrievalResult{
		{
			Chunk: domain.Chunk{
				ID: "policy#0", ParentID: "policy", Position: 0,
				Content:  "The vacation policy gives every employee 25 days.",
				Metadata: map[string]string{"title": "Vacation policy", "uri": "file:///docs/policy.md"},
			},
			Score: 0.91,
		},
		{
			Chunk: domain.Chunk{
				ID: "lunch#0", ParentID: "lunch", Position: 0,
				Content: "Lunch is served at noon.",
			},
			Score: 0.33,
		},
	}
}

func testReport() *domain.IngestReport {
	r := domain.NewIngestReport("run-1", "fagdag")
	r.Status = domain.IngestSuccess
	r.Documents = domain.StageCounts{Processed: 2}
	r.Stage(domain.StageChunk).Processed = 3
	r.Stage(domain.StageUpsert).Processed = 3
	r.FinishedAt = r.StartedAt.Add(1500 * time.Millisecond)
	return r
}

type testServices struct {
	query    *mockQueryService
	ingest   *mockIngestService
	settings *mockSettingsService
	index    *mockIndexAdmin
}

// setupTestServices installs fakes for every service and returns them
// with a cleanup that restores the globals and flag values.
func setupTestServices(t *testing.T) *testServices {
	t.Helper()
	ts := &testServices{
		query:    &mockQueryService{},
		ingest:   &mockIngestService{},
		settings: &mockSettingsService{},
		index:    &mockIndexAdmin{stats: domain.IndexStats{Name: "fagdag", Chunks: 3, Parents: 2, Dimensions: 256}},
	}

	queryService = ts.query
	ingestService = ts.ingest
	settingsService = ts.settings
	indexAdmin = ts.index
	contentSource = func(dir string) driven.ContentSource { return &mockSource{dir: dir} }

	t.Cleanup(resetGlobals)
	return ts
}

func resetGlobals() {
	_ = closeServices()
	queryService = nil
	ingestService = nil
	settingsService = nil
	indexAdmin = nil
	contentSource = nil
	configDir = ""
	verbose = false

	searchLimit = domain.DefaultTopK
	searchJSON = false
	askTopK = 0
	askNoStream = false
	indexYes = false
	ingestWatch = false
	ingestRecreate = false
	ingestConcurrency = 0
	ingestInterval = 0
	chatTopK = 0
	chatWatch = false
}

// execute runs the root command with args and stdin, returning what it
// printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}
