package driven

import (
	"context"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// PIIClassifier finds personally identifiable information in text.
type PIIClassifier interface {
	// Name identifies the classifier in logs and warnings.
	Name() string

	// Classify returns the PII spans found in text, with rune offsets.
	// Returns an error wrapping ErrClassifierUnavailable when the model
	// or service cannot be reached.
	Classify(ctx context.Context, text string) ([]domain.PIIEntity, error)
}
