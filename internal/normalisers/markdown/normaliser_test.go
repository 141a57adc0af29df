package markdown

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

func TestNew(t *testing.T) {
	normaliser := New()
	require.NotNil(t, normaliser)
	assert.IsType(t, &Normaliser{}, normaliser)
}

func TestSupportedMIMETypes(t *testing.T) {
	mimeTypes := New().SupportedMIMETypes()

	assert.Contains(t, mimeTypes, "text/markdown")
	assert.Contains(t, mimeTypes, "text/x-markdown")
}

func TestPriority(t *testing.T) {
	assert.Equal(t, 50, New().Priority())
}

func TestNormalise_Success(t *testing.T) {
	raw := &domain.RawDocument{
		SourceID: "docs",
		URI:      "policies/vacation.md",
		MIMEType: "text/markdown",
		Content:  []byte("# Vacation policy\n\nVacation must be **requested** before *March 1*.\n"),
	}

	result, err := New().Normalise(context.Background(), raw)

	require.NoError(t, err)
	doc := result.Document
	assert.Equal(t, "policies/vacation.md", doc.ID)
	assert.Equal(t, "Vacation policy", doc.Title)
	assert.Equal(t, "Vacation policy\n\nVacation must be requested before March 1.", doc.Content)
	assert.Equal(t, "markdown", doc.Metadata["format"])
	assert.Equal(t, "text/markdown", doc.Metadata["mime_type"])
}

func TestNormalise_NilDocument(t *testing.T) {
	result, err := New().Normalise(context.Background(), nil)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Nil(t, result)
}

func TestNormalise_EmptyContent(t *testing.T) {
	raw := &domain.RawDocument{URI: "notes/empty-file.md", Content: nil}

	result, err := New().Normalise(context.Background(), raw)

	require.NoError(t, err)
	assert.Empty(t, result.Document.Content)
	assert.Equal(t, "empty file", result.Document.Title)
}

func TestNormalise_TitleFromMetadataWins(t *testing.T) {
	raw := &domain.RawDocument{
		URI:      "a.md",
		Content:  []byte("# Heading\n\nbody"),
		Metadata: map[string]string{"title": "Frontend developer"},
	}

	result, err := New().Normalise(context.Background(), raw)

	require.NoError(t, err)
	assert.Equal(t, "Frontend developer", result.Document.Title)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		content string
		title   string
	}{
		{
			name:    "links keep their text",
			src:     "See [the handbook](https://example.com/hb) for details.",
			content: "See the handbook for details.",
		},
		{
			name:    "images keep alt text",
			src:     "![office map](map.png)",
			content: "office map",
		},
		{
			name:    "lists",
			src:     "- one\n- two\n",
			content: "one\ntwo",
		},
		{
			name:    "fenced code kept verbatim",
			src:     "Run:\n\n```sh\ngo test ./...\n```\n",
			content: "Run:\n\ngo test ./...",
		},
		{
			name:    "html dropped",
			src:     "<div>hidden</div>\n\nvisible <b>bold</b>",
			content: "visible bold",
		},
		{
			name:    "second level heading is not the title",
			src:     "## Section\n\ntext\n\n# Real title\n",
			content: "Section\n\ntext\n\nReal title",
			title:   "Real title",
		},
		{
			name:    "autolink",
			src:     "Mail <post@example.com> now",
			content: "Mail post@example.com now",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, title := Extract([]byte(tt.src))
			assert.Equal(t, tt.content, content)
			assert.Equal(t, tt.title, title)
		})
	}
}

func TestInterfaceCompliance(t *testing.T) {
	var _ driven.Normaliser = (*Normaliser)(nil)
}
