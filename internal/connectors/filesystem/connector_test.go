package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNew(t *testing.T) {
	c := New("docs", "/tmp/content/")
	assert.Equal(t, "docs", c.Name())
	assert.Equal(t, filepath.Clean("/tmp/content/"), c.Root())
	assert.NotNil(t, c.registry)
	assert.Equal(t, DefaultDebounce, c.debounce)
}

func TestConnector_ListDocuments(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "vacation.md", "# Vacation policy\n\nEmployees get **25 days** of vacation.\n")
	writeFile(t, root, "notes.txt", "plain notes")
	writeFile(t, root, "sub/page.html", "<html><head><title>Page</title></head><body><p>Hello page</p></body></html>")
	writeFile(t, root, ".hidden.md", "secret")
	writeFile(t, root, ".git/config", "[core]")
	writeFile(t, root, "image.png", "\x89PNG")

	c := New("docs", root)
	docs, err := c.ListDocuments(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"notes.txt", "sub/page.html", "vacation.md"}, ids)

	vacation := docs[2]
	assert.Equal(t, "docs", vacation.SourceID)
	assert.Equal(t, "Vacation policy", vacation.Title)
	assert.Contains(t, vacation.Content, "25 days")
	assert.NotContains(t, vacation.Content, "**")
	assert.Equal(t, "text/markdown", vacation.Metadata["mime_type"])
	assert.Equal(t, filepath.Join(root, "vacation.md"), vacation.Metadata["path"])

	page := docs[1]
	assert.Contains(t, page.Content, "Hello page")
	assert.NotContains(t, page.Content, "<p>")
}

func TestConnector_ListDocuments_StableIDs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.md", "alpha")

	c := New("docs", root)
	first, err := c.ListDocuments(context.Background())
	require.NoError(t, err)
	second, err := c.ListDocuments(context.Background())
	require.NoError(t, err)

	require.Len(t, first, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}

func TestConnector_ListDocuments_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		c := New("docs", filepath.Join(t.TempDir(), "nope"))
		_, err := c.ListDocuments(context.Background())
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("root is a file", func(t *testing.T) {
		path := writeFile(t, t.TempDir(), "file.md", "x")
		c := New("docs", path)
		_, err := c.ListDocuments(context.Background())
		assert.ErrorIs(t, err, domain.ErrConfig)
	})

	t.Run("cancelled context", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "a.md", "alpha")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New("docs", root).ListDocuments(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("empty directory", func(t *testing.T) {
		docs, err := New("docs", t.TempDir()).ListDocuments(context.Background())
		require.NoError(t, err)
		assert.Empty(t, docs)
	})
}

func TestConnector_Document(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sub/a.md", "# A\n\nbody")

	c := New("docs", root)
	doc, err := c.Document(context.Background(), "sub/a.md")
	require.NoError(t, err)
	assert.Equal(t, "sub/a.md", doc.ID)

	writeFile(t, root, "b.png", "x")
	_, err = c.Document(context.Background(), "b.png")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConnector_Watch(t *testing.T) {
	root := t.TempDir()
	c := New("docs", root, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		changes []domain.RawDocumentChange
	)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, func(batch []domain.RawDocumentChange) {
			mu.Lock()
			changes = append(changes, batch...)
			mu.Unlock()
		})
	}()

	// Give the watcher time to register the root.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, root, "new-file.md", "content")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, ch := range changes {
			if ch.URI == "new-file.md" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestHandleFsEvent(t *testing.T) {
	tests := []struct {
		name       string
		file       string
		dir        bool
		create     bool
		op         fsnotify.Op
		wantChange bool
		wantType   domain.ChangeType
	}{
		{name: "create file", file: "a.md", create: true, op: fsnotify.Create, wantChange: true, wantType: domain.ChangeCreated},
		{name: "write file", file: "a.md", create: true, op: fsnotify.Write, wantChange: true, wantType: domain.ChangeUpdated},
		{name: "remove file", file: "gone.md", op: fsnotify.Remove, wantChange: true, wantType: domain.ChangeDeleted},
		{name: "rename file", file: "moved.md", op: fsnotify.Rename, wantChange: true, wantType: domain.ChangeDeleted},
		{name: "write and chmod", file: "a.md", create: true, op: fsnotify.Write | fsnotify.Chmod, wantChange: true, wantType: domain.ChangeUpdated},
		{name: "chmod only", file: "a.md", create: true, op: fsnotify.Chmod},
		{name: "directory create", file: "dir", dir: true, op: fsnotify.Create},
		{name: "hidden file create", file: ".hidden.md", create: true, op: fsnotify.Create},
		{name: "hidden file remove", file: ".hidden.md", op: fsnotify.Remove},
		{name: "file in hidden dir", file: ".git/HEAD.txt", create: true, op: fsnotify.Write},
		{name: "unsupported type", file: "img.png", create: true, op: fsnotify.Create},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			path := filepath.Join(root, filepath.FromSlash(tt.file))
			switch {
			case tt.dir:
				require.NoError(t, os.MkdirAll(path, 0755))
			case tt.create:
				writeFile(t, root, tt.file, "content")
			}

			c := New("docs", root)
			change := c.handleFsEvent(fsnotify.Event{Name: path, Op: tt.op})

			if !tt.wantChange {
				assert.Nil(t, change)
				return
			}
			require.NotNil(t, change)
			assert.Equal(t, tt.wantType, change.Type)
			assert.Equal(t, tt.file, change.URI)
		})
	}
}

func TestMergeChange(t *testing.T) {
	created := domain.RawDocumentChange{Type: domain.ChangeCreated, URI: "a"}
	updated := domain.RawDocumentChange{Type: domain.ChangeUpdated, URI: "a"}
	deleted := domain.RawDocumentChange{Type: domain.ChangeDeleted, URI: "a"}

	assert.Equal(t, domain.ChangeCreated, mergeChange(created, updated).Type)
	assert.Equal(t, domain.ChangeDeleted, mergeChange(created, deleted).Type)
	assert.Equal(t, domain.ChangeUpdated, mergeChange(deleted, updated).Type)
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"file", "text/plain"},
		{"doc.md", "text/markdown"},
		{"doc.markdown", "text/markdown"},
		{"FILE.MD", "text/markdown"},
		{"notes.txt", "text/plain"},
		{"page.html", "text/html"},
		{"page.htm", "text/html"},
		{"config.yaml", "text/yaml"},
		{"File.Toml", "text/toml"},
		{"data.json", "application/json"},
		{"data.xml", "application/xml"},
		{"file.zzzzunknown", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, detectMIMEType(tt.filename))
		})
	}

	t.Run("strips parameters", func(t *testing.T) {
		for _, f := range []string{"file.css", "file.js"} {
			assert.NotContains(t, detectMIMEType(f), ";")
		}
	})
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{".hidden", true},
		{"path/to/.hidden", true},
		{"dir/.git/config", true},
		{"normal/file.md", false},
		{"file.md", false},
		{"../outside/file.md", false},
		{"./file.md", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isHidden(tt.path))
		})
	}
}
