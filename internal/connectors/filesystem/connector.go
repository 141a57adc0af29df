// Package filesystem provides a content source that reads documents from
// a local directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
	"github.com/custodia-labs/fagdag/internal/normalisers"
	"github.com/custodia-labs/fagdag/internal/normalisers/html"
	"github.com/custodia-labs/fagdag/internal/normalisers/markdown"
	"github.com/custodia-labs/fagdag/internal/normalisers/plaintext"
)

// Ensure Connector implements the interfaces.
var (
	_ driven.ContentSource = (*Connector)(nil)
	_ driven.Watcher       = (*Connector)(nil)
)

// DefaultDebounce is how long Watch waits for a burst of events to settle.
const DefaultDebounce = 500 * time.Millisecond

// maxFileSize bounds the files read into memory.
const maxFileSize = 10 << 20

// Connector lists files under a root directory as documents.
// Document IDs are slash-separated paths relative to the root, so the
// same file always maps to the same chunks.
type Connector struct {
	sourceID string
	rootPath string
	registry driven.NormaliserRegistry
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// Option configures a Connector.
type Option func(*Connector)

// WithRegistry sets the normaliser registry used to extract text.
func WithRegistry(r driven.NormaliserRegistry) Option {
	return func(c *Connector) {
		if r != nil {
			c.registry = r
		}
	}
}

// WithDebounce sets the watch debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// New creates a filesystem connector rooted at rootPath.
func New(sourceID, rootPath string, opts ...Option) *Connector {
	c := &Connector{
		sourceID: sourceID,
		rootPath: filepath.Clean(rootPath),
		registry: DefaultRegistry(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRegistry returns a registry with the markdown, HTML and plain
// text normalisers.
func DefaultRegistry() *normalisers.Registry {
	return normalisers.NewRegistry(markdown.New(), html.New(), plaintext.New())
}

// Name returns the source ID.
func (c *Connector) Name() string {
	return c.sourceID
}

// Root returns the directory being read.
func (c *Connector) Root() string {
	return c.rootPath
}

// ListDocuments walks the root and returns every supported, non-hidden file
// as a normalised document, ordered by ID.
func (c *Connector) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	info, err := os.Stat(c.rootPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: content directory %s", domain.ErrNotFound, c.rootPath)
		}
		return nil, fmt.Errorf("stat %s: %w", c.rootPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrConfig, c.rootPath)
	}

	var docs []domain.Document
	err = filepath.WalkDir(c.rootPath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warn("skipping %s: %v", path, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == c.rootPath {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		doc, ok, err := c.readDocument(ctx, path)
		if err != nil {
			logger.Warn("skipping %s: %v", path, err)
			return nil
		}
		if ok {
			docs = append(docs, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	logger.Debug("filesystem: %d documents under %s", len(docs), c.rootPath)
	return docs, nil
}

// Document reads a single file, identified by its path relative to the root.
func (c *Connector) Document(ctx context.Context, relPath string) (domain.Document, error) {
	doc, ok, err := c.readDocument(ctx, filepath.Join(c.rootPath, filepath.FromSlash(relPath)))
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: unsupported file %s", domain.ErrInvalidInput, relPath)
	}
	return doc, nil
}

// readDocument returns ok=false for files no normaliser handles.
func (c *Connector) readDocument(ctx context.Context, path string) (domain.Document, bool, error) {
	mimeType := detectMIMEType(path)
	if !c.supports(mimeType) {
		return domain.Document{}, false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return domain.Document{}, false, err
	}
	if info.Size() > maxFileSize {
		return domain.Document{}, false, fmt.Errorf("%w: file larger than %d bytes", domain.ErrInvalidInput, maxFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return domain.Document{}, false, err
	}

	rel := c.relativeID(path)
	raw := &domain.RawDocument{
		SourceID: c.sourceID,
		URI:      rel,
		MIMEType: mimeType,
		Content:  content,
		Metadata: map[string]string{
			"path":     path,
			"filename": filepath.Base(path),
			"modified": info.ModTime().UTC().Format(time.RFC3339),
		},
	}

	res, err := c.registry.Normalise(ctx, raw)
	if err != nil {
		return domain.Document{}, false, err
	}
	return res.Document, true, nil
}

func (c *Connector) supports(mimeType string) bool {
	for _, m := range c.registry.SupportedMIMETypes() {
		if m == mimeType {
			return true
		}
	}
	return false
}

func (c *Connector) relativeID(path string) string {
	rel, err := filepath.Rel(c.rootPath, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Watch observes the root recursively and calls onChange with debounced
// batches of changes. Created directories are added to the watch set.
// It blocks until ctx is done.
func (c *Connector) Watch(ctx context.Context, onChange func([]domain.RawDocumentChange)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()
	defer c.Close()

	if err := c.addDirs(w, c.rootPath); err != nil {
		return err
	}

	var (
		pending = make(map[string]domain.RawDocumentChange)
		order   []string
		timer   *time.Timer
		fire    <-chan time.Time
	)
	flush := func() {
		if len(order) == 0 {
			return
		}
		batch := make([]domain.RawDocumentChange, 0, len(order))
		for _, uri := range order {
			batch = append(batch, pending[uri])
		}
		pending = make(map[string]domain.RawDocumentChange)
		order = order[:0]
		onChange(batch)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !isHidden(c.relativeID(event.Name)) {
					if err := c.addDirs(w, event.Name); err != nil {
						logger.Warn("watch %s: %v", event.Name, err)
					}
				}
			}
			change := c.handleFsEvent(event)
			if change == nil {
				continue
			}
			if prev, seen := pending[change.URI]; seen {
				change = mergeChange(prev, *change)
			} else {
				order = append(order, change.URI)
			}
			pending[change.URI] = *change

			if timer == nil {
				timer = time.NewTimer(c.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(c.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			flush()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error: %v", err)
		}
	}
}

// Close stops an active watch.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}

func (c *Connector) addDirs(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != c.rootPath && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// handleFsEvent maps a filesystem event to a document change. It returns
// nil for directories, hidden paths, unsupported files and chmod-only events.
func (c *Connector) handleFsEvent(event fsnotify.Event) *domain.RawDocumentChange {
	rel := c.relativeID(event.Name)
	if isHidden(rel) {
		return nil
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if !c.supports(detectMIMEType(event.Name)) {
			return nil
		}
		return &domain.RawDocumentChange{Type: domain.ChangeDeleted, URI: rel}

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return nil
		}
		if !c.supports(detectMIMEType(event.Name)) {
			return nil
		}
		typ := domain.ChangeUpdated
		if event.Has(fsnotify.Create) {
			typ = domain.ChangeCreated
		}
		return &domain.RawDocumentChange{Type: typ, URI: rel}
	}
	return nil
}

// mergeChange folds a later event for the same path into an earlier one.
func mergeChange(prev, next domain.RawDocumentChange) *domain.RawDocumentChange {
	switch {
	case next.Type == domain.ChangeDeleted:
		return &next
	case prev.Type == domain.ChangeCreated:
		return &prev
	default:
		return &next
	}
}

// isHidden reports whether any element of path starts with a dot.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && strings.HasPrefix(part, ".") && part != ".." {
			return true
		}
	}
	return false
}

// extensionTypes covers extensions the platform MIME table often lacks.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".htm":      "text/html",
	".html":     "text/html",
	".csv":      "text/csv",
	".yaml":     "text/yaml",
	".yml":      "text/yaml",
	".toml":     "text/toml",
	".json":     "application/json",
	".xml":      "application/xml",
}

// detectMIMEType maps a file name to a MIME type without parameters.
func detectMIMEType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "text/plain"
	}
	if m, ok := extensionTypes[ext]; ok {
		return m
	}
	m := mime.TypeByExtension(ext)
	if m == "" {
		return "application/octet-stream"
	}
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}
