package static

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

func TestSource_ListDocuments(t *testing.T) {
	s := New("memo",
		domain.Document{ID: "a", Content: "alpha", Metadata: map[string]string{"title": "A"}},
		domain.Document{ID: "b", Content: "beta"},
	)

	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "memo", docs[0].SourceID)

	docs[0].Metadata["title"] = "changed"
	again, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", again[0].Metadata["title"])
}

func TestSource_AddReplaces(t *testing.T) {
	s := New("memo", domain.Document{ID: "a", Content: "v1"})
	s.Add(domain.Document{ID: "a", Content: "v2"}, domain.Document{ID: "c", Content: "gamma"})

	assert.Equal(t, 2, s.Len())
	docs, err := s.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2", docs[0].Content)
	assert.Equal(t, "c", docs[1].ID)
}

func TestSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New("memo").ListDocuments(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
