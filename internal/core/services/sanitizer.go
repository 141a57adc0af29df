package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Sanitizer masks personally identifiable information before text is
// chunked and sent to an embedding provider.
type Sanitizer struct {
	classifier driven.PIIClassifier
	mask       rune
}

// NewSanitizer creates a sanitizer. A nil classifier makes Mask a
// pass-through. Only the first rune of mask is used; empty means '*'.
func NewSanitizer(classifier driven.PIIClassifier, mask string) *Sanitizer {
	r, _ := utf8.DecodeRuneInString(mask)
	if mask == "" || r == utf8.RuneError {
		r, _ = utf8.DecodeRuneInString(domain.DefaultMask)
	}
	return &Sanitizer{classifier: classifier, mask: r}
}

// Mask replaces every entity scoring at least minConfidence with mask
// runes of the same length. Text without PII is returned unchanged.
//
// If the classifier is missing or fails, the input is returned together
// with an error wrapping ErrClassifierUnavailable. Callers decide whether
// to continue unmasked. A classifier that fails partially but still
// returns entities gets them masked, and the error is returned as well.
func (s *Sanitizer) Mask(ctx context.Context, text string, minConfidence float64) (string, error) {
	if text == "" {
		return text, nil
	}
	if s.classifier == nil {
		return text, fmt.Errorf("%w: no classifier configured", domain.ErrClassifierUnavailable)
	}

	entities, err := s.classifier.Classify(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return text, ctx.Err()
		}
		return ApplyMask(text, entities, minConfidence, s.mask),
			fmt.Errorf("%w: %s: %v", domain.ErrClassifierUnavailable, s.classifier.Name(), err)
	}

	return ApplyMask(text, entities, minConfidence, s.mask), nil
}

// ApplyMask masks entity spans at or above minConfidence. Spans are rune
// offsets; overlapping spans are merged and out-of-range spans clipped.
func ApplyMask(text string, entities []domain.PIIEntity, minConfidence float64, mask rune) string {
	type span struct{ start, end int }

	runes := []rune(text)
	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		if e.Score < minConfidence {
			continue
		}
		start, end := max(e.Start, 0), min(e.End, len(runes))
		if start < end {
			spans = append(spans, span{start, end})
		}
	}
	if len(spans) == 0 {
		return text
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, sp := range spans {
		if sp.end <= pos {
			continue
		}
		if sp.start > pos {
			b.WriteString(string(runes[pos:sp.start]))
		} else {
			sp.start = pos
		}
		for i := sp.start; i < sp.end; i++ {
			b.WriteRune(mask)
		}
		pos = sp.end
	}
	b.WriteString(string(runes[pos:]))
	return b.String()
}
