// Package pattern finds PII with regular expressions.
//
// Rules cover contact details and identifiers that have a fixed shape:
// e-mail addresses, phone numbers, Norwegian national identity numbers,
// bank account numbers, IBANs, payment cards and credentials embedded in
// URLs. Every rule reports a fixed confidence.
package pattern

import (
	"context"
	"regexp"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
)

// Ensure Classifier implements the interface.
var _ driven.PIIClassifier = (*Classifier)(nil)

// Rule is one PII pattern.
type Rule struct {
	Category string
	Pattern  *regexp.Regexp
	Score    float64

	// Valid rejects false positives the pattern cannot express.
	Valid func(match string) bool
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DefaultRules returns the built-in rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category: domain.PIIEmail,
			Pattern:  regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`),
			Score:    0.95,
		},
		{
			Category: domain.PIICredential,
			Pattern:  regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.\-]*://[^\s:/@]+:[^\s/@]+@[^\s/]+`),
			Score:    0.95,
		},
		{
			Category: domain.PIIAccount,
			Pattern:  regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`),
			Score:    0.9,
		},
		{
			Category: domain.PIIAccount,
			Pattern:  regexp.MustCompile(`\b\d{4}\.\d{2}\.\d{5}\b`),
			Score:    0.9,
		},
		{
			Category: domain.PIIAccount,
			Pattern:  regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
			Score:    0.8,
			Valid:    luhn,
		},
		{
			Category: domain.PIINationalID,
			Pattern:  regexp.MustCompile(`\b\d{6} ?\d{5}\b`),
			Score:    0.85,
		},
		{
			Category: domain.PIIPhone,
			Pattern:  regexp.MustCompile(`(?:\+\d{1,3}[ \-]?)?(?:\(\d{1,4}\)[ \-]?)?\b\d{2,4}(?:[ \-.]\d{2,4}){1,3}\b`),
			Score:    0.7,
			Valid: func(m string) bool {
				n := digits(m)
				return n >= 7 && n <= 15 && !isoDate.MatchString(m)
			},
		},
	}
}

// Classifier applies a list of rules.
type Classifier struct {
	rules []Rule
}

// New creates a classifier. No rules means DefaultRules.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Name returns "pattern".
func (c *Classifier) Name() string {
	return "pattern"
}

// Classify returns every rule match as a rune-offset span, ordered by start.
func (c *Classifier) Classify(ctx context.Context, text string) ([]domain.PIIEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entities []domain.PIIEntity
	for _, rule := range c.rules {
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			match := text[loc[0]:loc[1]]
			if rule.Valid != nil && !rule.Valid(match) {
				continue
			}
			start := utf8.RuneCountInString(text[:loc[0]])
			entities = append(entities, domain.PIIEntity{
				Category: rule.Category,
				Text:     match,
				Start:    start,
				End:      start + utf8.RuneCountInString(match),
				Score:    rule.Score,
			})
		}
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return entities[i].Start < entities[j].Start
	})
	return entities, nil
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// luhn reports whether the digits in s pass the Luhn checksum.
func luhn(s string) bool {
	sum, double := 0, false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
