// Package hugot finds names of people, places and organisations with a
// token classification (NER) model run in-process by hugot.
package hugot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
)

// Ensure Classifier implements the interface.
var _ driven.PIIClassifier = (*Classifier)(nil)

// DefaultModel is a multilingual NER model with an ONNX export.
const DefaultModel = "KnightsAnalytics/distilbert-NER"

// Config configures the classifier.
type Config struct {
	// ModelPath is a local model directory, or a Hugging Face model name
	// that is downloaded into CacheDir on first use.
	ModelPath string

	// CacheDir receives downloaded models.
	CacheDir string
}

// Classifier wraps a hugot token classification pipeline.
type Classifier struct {
	session  *hugot.Session
	pipeline *pipelines.TokenClassificationPipeline

	mu sync.Mutex
}

// New loads the model and builds the pipeline. Failures wrap
// ErrClassifierUnavailable so callers can fall back to pattern rules.
func New(cfg Config) (*Classifier, error) {
	modelPath, err := prepareModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("%w: create hugot session: %v", domain.ErrClassifierUnavailable, err)
	}

	config := hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "pii-ner",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			logger.Warn("Destroying hugot session: %v", destroyErr)
		}
		return nil, fmt.Errorf("%w: create NER pipeline: %v", domain.ErrClassifierUnavailable, err)
	}

	logger.Debug("Loaded NER model from %s", modelPath)
	return &Classifier{session: session, pipeline: pipeline}, nil
}

func prepareModel(cfg Config) (string, error) {
	path := cfg.ModelPath
	if path == "" {
		path = DefaultModel
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if strings.Count(path, "/") != 1 || strings.HasPrefix(path, ".") {
		return "", fmt.Errorf("model %s not found", path)
	}

	dir := cfg.CacheDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve model cache: %w", err)
		}
		dir = filepath.Join(home, ".fagdag", "models")
	}
	cached := filepath.Join(dir, strings.ReplaceAll(path, "/", "_"))
	if _, err := os.Stat(cached); err == nil {
		return cached, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model cache: %w", err)
	}

	logger.Info("Downloading NER model %s", path)
	options := hugot.NewDownloadOptions()
	options.OnnxFilePath = "model.onnx"
	downloaded, err := hugot.DownloadModel(path, dir, options)
	if err != nil {
		return "", fmt.Errorf("download model %s: %w", path, err)
	}
	return downloaded, nil
}

// Name returns "hugot-ner".
func (c *Classifier) Name() string {
	return "hugot-ner"
}

// Classify runs NER over text and keeps person, location and organisation
// entities.
func (c *Classifier) Classify(ctx context.Context, text string) ([]domain.PIIEntity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	c.mu.Lock()
	if c.pipeline == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: classifier closed", domain.ErrClassifierUnavailable)
	}
	result, err := c.pipeline.RunPipeline([]string{text})
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: run NER: %v", domain.ErrClassifierUnavailable, err)
	}
	if len(result.Entities) == 0 {
		return nil, nil
	}

	var out []domain.PIIEntity
	cursor := 0
	for _, e := range result.Entities[0] {
		category, ok := categoryFor(e.Entity)
		if !ok {
			continue
		}
		start, end, found := locate(text, strings.TrimSpace(e.Word), int(e.Start), int(e.End), cursor)
		if !found {
			continue
		}
		cursor = end
		out = append(out, domain.PIIEntity{
			Category: category,
			Text:     text[start:end],
			Start:    utf8.RuneCountInString(text[:start]),
			End:      utf8.RuneCountInString(text[:end]),
			Score:    float64(e.Score),
		})
	}
	return out, nil
}

// Close releases the model session.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Destroy()
	c.session, c.pipeline = nil, nil
	return err
}

// categoryFor maps an entity label, with or without a BIO prefix.
func categoryFor(label string) (string, bool) {
	label = strings.TrimPrefix(strings.TrimPrefix(label, "B-"), "I-")
	switch strings.ToUpper(label) {
	case "PER", "PERSON":
		return domain.PIIPerson, true
	case "LOC", "LOCATION", "GPE":
		return domain.PIILocation, true
	case "ORG", "ORGANIZATION":
		return domain.PIIOrganization, true
	default:
		return "", false
	}
}

// locate returns the byte span of word in text. The model's offsets are
// used when they point at word; otherwise word is searched from cursor.
func locate(text, word string, start, end, cursor int) (int, int, bool) {
	if word == "" {
		return 0, 0, false
	}
	if start >= 0 && end <= len(text) && start < end && text[start:end] == word {
		return start, end, true
	}
	if cursor > len(text) {
		cursor = len(text)
	}
	idx := strings.Index(text[cursor:], word)
	if idx < 0 {
		idx = strings.Index(text, word)
		if idx < 0 {
			return 0, 0, false
		}
		return idx, idx + len(word), true
	}
	return cursor + idx, cursor + idx + len(word), true
}

// ErrNoModel is returned by NewIfConfigured when no model path is set.
var ErrNoModel = errors.New("no NER model configured")

// NewIfConfigured creates a classifier only when cfg names a model.
func NewIfConfigured(cfg Config) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, ErrNoModel
	}
	return New(cfg)
}
