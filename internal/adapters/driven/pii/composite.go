// Package pii combines PII classifiers.
package pii

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// Ensure Composite implements the interface.
var _ driven.PIIClassifier = (*Composite)(nil)

// Composite returns the union of its members' findings.
type Composite struct {
	members []driven.PIIClassifier
}

// NewComposite creates a composite of the non-nil classifiers.
func NewComposite(members ...driven.PIIClassifier) *Composite {
	c := &Composite{}
	for _, m := range members {
		if m != nil {
			c.members = append(c.members, m)
		}
	}
	return c
}

// Name lists the member names.
func (c *Composite) Name() string {
	names := make([]string, len(c.members))
	for i, m := range c.members {
		names[i] = m.Name()
	}
	return "composite(" + strings.Join(names, ",") + ")"
}

// Close closes the members that hold resources.
func (c *Composite) Close() error {
	var errs []error
	for _, m := range c.members {
		if closer, ok := m.(interface{ Close() error }); ok {
			errs = append(errs, closer.Close())
		}
	}
	return errors.Join(errs...)
}

// Classify runs every member. A failing member is skipped; its error is
// returned together with the other members' entities. Only when every
// member fails are no entities returned.
func (c *Composite) Classify(ctx context.Context, text string) ([]domain.PIIEntity, error) {
	if len(c.members) == 0 {
		return nil, fmt.Errorf("%w: no classifiers configured", domain.ErrClassifierUnavailable)
	}

	var (
		entities []domain.PIIEntity
		errs     []error
	)
	for _, m := range c.members {
		found, err := m.Classify(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debug("PII classifier %s failed: %v", m.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
			continue
		}
		entities = append(entities, found...)
	}

	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Start < entities[j].Start
	})

	if len(errs) == 0 {
		return entities, nil
	}
	err := errors.Join(errs...)
	if !errors.Is(err, domain.ErrClassifierUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrClassifierUnavailable, err)
	}
	if len(errs) == len(c.members) {
		return nil, err
	}
	return entities, &PartialError{Err: err}
}

// PartialError reports that some classifiers failed while others succeeded.
// The entities returned alongside it are still valid.
type PartialError struct {
	Err error
}

func (e *PartialError) Error() string {
	return "partial PII classification: " + e.Err.Error()
}

func (e *PartialError) Unwrap() error {
	return e.Err
}
