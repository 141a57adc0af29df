package normalisers

import (
	"path/filepath"
	"strings"

	"github.com/custodia-labs/fagdag/internal/core/domain"
)

// NewDocument builds the normalised document for raw. The document ID is
// the raw URI, so re-ingesting a file overwrites its chunks.
func NewDocument(raw *domain.RawDocument, title, content, format string) domain.Document {
	md := domain.CloneMetadata(raw.Metadata)
	if md == nil {
		md = make(map[string]string, 2)
	}
	if raw.MIMEType != "" {
		md["mime_type"] = raw.MIMEType
	}
	if format != "" {
		md["format"] = format
	}

	id := raw.URI
	if v := md["id"]; v != "" {
		id = v
	}

	return domain.Document{
		ID:       id,
		SourceID: raw.SourceID,
		URI:      raw.URI,
		Title:    title,
		Content:  content,
		Metadata: md,
	}
}

// TitleFromMetadataOrURI returns Metadata["title"] when set, otherwise a
// readable form of the file name.
func TitleFromMetadataOrURI(raw *domain.RawDocument) string {
	if t := raw.Metadata["title"]; t != "" {
		return t
	}
	return TitleFromURI(raw.URI)
}

// TitleFromURI turns "docs/vacation_policy-2024.md" into "vacation policy 2024".
func TitleFromURI(uri string) string {
	filename := filepath.Base(uri)
	if ext := filepath.Ext(filename); ext != "" {
		filename = strings.TrimSuffix(filename, ext)
	}
	filename = strings.ReplaceAll(filename, "_", " ")
	filename = strings.ReplaceAll(filename, "-", " ")
	return filename
}
