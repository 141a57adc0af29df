package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunk_Validate(t *testing.T) {
	good := Chunk{ID: "c1", ParentID: "d1", Embedding: []float32{1, 0, 0}}
	assert.NoError(t, good.Validate(3))

	tests := []struct {
		name  string
		chunk Chunk
	}{
		{"missing id", Chunk{ParentID: "d1", Embedding: []float32{1, 0, 0}}},
		{"missing parent", Chunk{ID: "c1", Embedding: []float32{1, 0, 0}}},
		{"short vector", Chunk{ID: "c1", ParentID: "d1", Embedding: []float32{1}}},
		{"no vector", Chunk{ID: "c1", ParentID: "d1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.chunk.Validate(3), ErrInvalidInput)
		})
	}
}

func TestCloneMetadata(t *testing.T) {
	assert.Nil(t, CloneMetadata(nil))

	src := map[string]string{"title": "A"}
	dst := CloneMetadata(src)
	dst["title"] = "B"
	assert.Equal(t, "A", src["title"])
}
