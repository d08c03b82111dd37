// Package extract normalizes heterogeneous raw input into the canonical
// text+media representation the rest of the pipeline works with.
//
// HTML goes through readability extraction for the main text, with goquery
// picking up metadata and media the readability pass misses. Plain text
// passes through as-is. Anything else is an unsupported format.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/quillpress/quill/internal/archive"
	"github.com/quillpress/quill/internal/collect"
)

var (
	// ErrUnsupportedFormat marks raw input the extractor cannot handle
	// (e.g. binary content types). Terminal.
	ErrUnsupportedFormat = errors.New("extract: unsupported format")

	// ErrCorruptInput marks raw input that claims a supported format but
	// cannot be parsed. Terminal.
	ErrCorruptInput = errors.New("extract: corrupt input")
)

// Normalized is the canonical representation of one piece of content.
type Normalized struct {
	Title        string   `json:"title"`
	Byline       string   `json:"byline,omitempty"`
	Text         string   `json:"text"`          // canonical plain text
	Excerpt      string   `json:"excerpt,omitempty"`
	PrimaryImage string   `json:"primary_image,omitempty"`
	Images       []string `json:"images,omitempty"`
	SourceRef    string   `json:"source_ref"`
}

// ContentHash returns the stable content-item identity for the normalized
// content: the hash of the canonical text plus the primary media reference.
func (n *Normalized) ContentHash() string {
	return archive.Hash([]byte(n.Text + "\x00" + n.PrimaryImage))
}

// Extractor normalizes raw artifacts.
type Extractor struct{}

// NewExtractor builds an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract normalizes a raw artifact. Failures are classified through the
// package sentinels; both are terminal for the extraction stage.
func (e *Extractor) Extract(raw *collect.RawArtifact) (*Normalized, error) {
	mediaType := mediaTypeOf(raw.ContentType)

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml" || mediaType == "":
		return e.extractHTML(raw)
	case strings.HasPrefix(mediaType, "text/"):
		return e.extractPlainText(raw)
	default:
		return nil, fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, raw.ContentType)
	}
}

// extractHTML runs readability over the document and fills gaps with a
// goquery pass over the original markup.
func (e *Extractor) extractHTML(raw *collect.RawArtifact) (*Normalized, error) {
	pageURL, err := url.Parse(raw.SourceRef)
	if err != nil {
		return nil, fmt.Errorf("%w: bad source ref %q: %v", ErrCorruptInput, raw.SourceRef, err)
	}

	article, err := readability.FromReader(bytes.NewReader(raw.Body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: readability: %v", ErrCorruptInput, err)
	}

	normalized := &Normalized{
		Title:        strings.TrimSpace(article.Title),
		Byline:       strings.TrimSpace(article.Byline),
		Text:         strings.TrimSpace(article.TextContent),
		Excerpt:      strings.TrimSpace(article.Excerpt),
		PrimaryImage: article.Image,
		SourceRef:    raw.SourceRef,
	}

	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(raw.Body))
	if docErr == nil {
		if normalized.Title == "" {
			normalized.Title = metaTitle(doc)
		}
		normalized.Images = harvestImages(doc, pageURL)
		if normalized.PrimaryImage == "" && len(normalized.Images) > 0 {
			normalized.PrimaryImage = normalized.Images[0]
		}
	}

	if normalized.Title == "" {
		normalized.Title = "Untitled"
	}
	if normalized.Text == "" {
		return nil, fmt.Errorf("%w: no extractable text in %s", ErrCorruptInput, raw.SourceRef)
	}

	return normalized, nil
}

// extractPlainText passes text content through with a first-line title.
func (e *Extractor) extractPlainText(raw *collect.RawArtifact) (*Normalized, error) {
	text := strings.TrimSpace(string(raw.Body))
	if text == "" {
		return nil, fmt.Errorf("%w: empty text body from %s", ErrCorruptInput, raw.SourceRef)
	}

	title := text
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	if len(title) > 120 {
		title = title[:120]
	}

	return &Normalized{
		Title:     title,
		Text:      text,
		SourceRef: raw.SourceRef,
	}, nil
}

// metaTitle falls back to og:title / twitter:title / <title> when the
// readability pass found none.
func metaTitle(doc *goquery.Document) string {
	if title, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
		if t := strings.TrimSpace(title); t != "" {
			return t
		}
	}
	if title, ok := doc.Find(`meta[name="twitter:title"]`).Attr("content"); ok {
		if t := strings.TrimSpace(title); t != "" {
			return t
		}
	}
	return strings.TrimSpace(doc.Find("head > title").First().Text())
}

// harvestImages collects absolute image URLs in document order, og:image
// first, deduplicated.
func harvestImages(doc *goquery.Document, pageURL *url.URL) []string {
	seen := make(map[string]bool)
	var images []string

	add := func(src string) {
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		u, err := url.Parse(src)
		if err != nil {
			return
		}
		abs := pageURL.ResolveReference(u).String()
		if !strings.HasPrefix(abs, "http") || seen[abs] {
			return
		}
		seen[abs] = true
		images = append(images, abs)
	}

	if og, ok := doc.Find(`meta[property="og:image"]`).Attr("content"); ok {
		add(og)
	}
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		if src, ok := sel.Attr("src"); ok {
			add(src)
		} else if src, ok := sel.Attr("data-src"); ok {
			add(src)
		}
	})

	return images
}

// mediaTypeOf parses the media type out of a Content-Type header value.
func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mediaType
}
