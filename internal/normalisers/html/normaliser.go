package html

import (
	"context"
	"html"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"github.com/custodia-labs/fagdag/internal/core/domain"
	"github.com/custodia-labs/fagdag/internal/core/ports/driven"
	"github.com/custodia-labs/fagdag/internal/logger"
	"github.com/custodia-labs/fagdag/internal/normalisers"
	"github.com/custodia-labs/fagdag/internal/normalisers/markdown"
	"github.com/custodia-labs/fagdag/internal/postprocessors/normalise"
)

// Ensure Normaliser implements the interface.
var _ driven.Normaliser = (*Normaliser)(nil)

// Normaliser handles HTML documents.
type Normaliser struct {
	converter *md.Converter
}

// New creates a new HTML normaliser.
func New() *Normaliser {
	return &Normaliser{
		converter: md.NewConverter("", true, nil),
	}
}

// SupportedMIMETypes returns the MIME types this normaliser handles.
func (n *Normaliser) SupportedMIMETypes() []string {
	return []string{"text/html", "application/xhtml+xml"}
}

// Priority returns the selection priority.
func (n *Normaliser) Priority() int {
	return 50
}

// Normalise converts an HTML document to plain text.
func (n *Normaliser) Normalise(_ context.Context, raw *domain.RawDocument) (*driven.NormaliseResult, error) {
	if raw == nil {
		return nil, domain.ErrInvalidInput
	}

	page := string(raw.Content)
	title := raw.Metadata["title"]
	if title == "" {
		title = extractTitle(page)
	}

	content, heading := n.toText(page)
	if title == "" {
		title = heading
	}
	if title == "" {
		title = normalisers.TitleFromURI(raw.URI)
	}

	doc := normalisers.NewDocument(raw, title, content, "html")
	return &driven.NormaliseResult{Document: doc}, nil
}

// Pre-compiled regular expressions for elements that never hold body text.
var (
	titleTag     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptTag    = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag     = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag  = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag      = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag       = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)
	allTags      = regexp.MustCompile(`<[^>]+>`)
)

func extractTitle(page string) string {
	m := titleTag.FindStringSubmatch(page)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}

func (n *Normaliser) toText(page string) (content, heading string) {
	for _, re := range []*regexp.Regexp{scriptTag, styleTag, noscriptTag, headTag, svgTag, htmlComments} {
		page = re.ReplaceAllString(page, "")
	}

	converted, err := n.converter.ConvertString(page)
	if err != nil {
		logger.Warn("html: markdown conversion failed, stripping tags: %v", err)
		return normalise.Text(html.UnescapeString(allTags.ReplaceAllString(page, "\n"))), ""
	}

	return markdown.Extract([]byte(converted))
}
