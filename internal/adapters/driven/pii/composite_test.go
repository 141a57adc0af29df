package pii

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/adapters/driven/pii/pattern"
	"github.com/custodia-labs/fagdag/internal/core/domain"
)

type stubClassifier struct {
	name     string
	entities []domain.PIIEntity
	err      error
}

func (s *stubClassifier) Name() string { return s.name }

func (s *stubClassifier) Classify(context.Context, string) ([]domain.PIIEntity, error) {
	return s.entities, s.err
}

func TestComposite_Union(t *testing.T) {
	ner := &stubClassifier{name: "ner", entities: []domain.PIIEntity{
		{Category: domain.PIIPerson, Text: "Alice", Start: 0, End: 5, Score: 0.99},
	}}
	c := NewComposite(pattern.New(), ner, nil)
	assert.Equal(t, "composite(pattern,ner)", c.Name())

	entities, err := c.Classify(context.Background(), "Alice's phone is 555-1234.")
	require.NoError(t, err)
	require.Len(t, entities, 2)
	assert.Equal(t, domain.PIIPerson, entities[0].Category)
	assert.Equal(t, domain.PIIPhone, entities[1].Category)
}

func TestComposite_PartialFailure(t *testing.T) {
	broken := &stubClassifier{name: "ner", err: errors.New("model not loaded")}
	c := NewComposite(pattern.New(), broken)

	entities, err := c.Classify(context.Background(), "call 555-1234")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrClassifierUnavailable)

	var partial *PartialError
	assert.ErrorAs(t, err, &partial)
	assert.Len(t, entities, 1)
}

func TestComposite_AllFail(t *testing.T) {
	c := NewComposite(&stubClassifier{name: "a", err: errors.New("down")})

	entities, err := c.Classify(context.Background(), "text")
	assert.Nil(t, entities)
	assert.ErrorIs(t, err, domain.ErrClassifierUnavailable)
}

func TestComposite_Empty(t *testing.T) {
	_, err := NewComposite().Classify(context.Background(), "text")
	assert.ErrorIs(t, err, domain.ErrClassifierUnavailable)
}

type closingClassifier struct {
	stubClassifier
	closed bool
}

func (c *closingClassifier) Close() error {
	c.closed = true
	return nil
}

func TestComposite_Close(t *testing.T) {
	closing := &closingClassifier{}
	c := NewComposite(closing, &stubClassifier{name: "plain"})

	require.NoError(t, c.Close())
	assert.True(t, closing.closed)
}
