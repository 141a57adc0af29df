package filesystem

import (
	"path/filepath"
	"strings"
)

// ResolvePath turns a chunk's document reference into a local path.
// An absolute "path" metadata entry wins; file:// URIs are stripped;
// relative IDs are joined to root.
func ResolvePath(root, uri string, metadata map[string]string) string {
	if p := metadata["path"]; p != "" && filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(uri, "file://") {
		return strings.TrimPrefix(uri, "file://")
	}
	if uri == "" || filepath.IsAbs(uri) || root == "" {
		return uri
	}
	return filepath.Join(root, filepath.FromSlash(uri))
}
