package model

import (
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

// DocumentRef points at a downloadable report document. URL is always
// absolute; placeholder hrefs never survive construction.
type DocumentRef struct {
	Title         string `json:"title"`
	URL           string `json:"url"`
	MediaTypeHint string `json:"type,omitempty"`
	SizeHint      int64  `json:"size,omitempty"`
}

// placeholder href schemes and values that carry no target.
var placeholderPrefixes = []string{"javascript:", "about:", "data:", "mailto:", "tel:"}

// NewDocumentRef validates href and resolves it against base, returning a
// DocumentRef with an absolute URL. Placeholder hrefs ("", "#",
// "javascript:...", "about:...") are rejected.
func NewDocumentRef(title, href string, base *url.URL) (DocumentRef, error) {
	href = strings.TrimSpace(href)
	if href == "" || href == "#" || strings.HasPrefix(href, "#") {
		return DocumentRef{}, eris.Errorf("model: placeholder href %q", href)
	}
	lower := strings.ToLower(href)
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(lower, p) {
			return DocumentRef{}, eris.Errorf("model: placeholder href %q", href)
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return DocumentRef{}, eris.Wrapf(err, "model: parse href %q", href)
	}
	if !ref.IsAbs() {
		if base == nil {
			return DocumentRef{}, eris.Errorf("model: relative href %q without base", href)
		}
		ref = base.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return DocumentRef{}, eris.Errorf("model: unsupported scheme in href %q", href)
	}

	return DocumentRef{
		Title: strings.TrimSpace(title),
		URL:   ref.String(),
	}, nil
}

// LooksLikeDocument reports whether the URL path plausibly targets a
// document download rather than an information page.
func (d DocumentRef) LooksLikeDocument() bool {
	u, err := url.Parse(d.URL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	if strings.HasSuffix(path, ".pdf") {
		return true
	}
	for _, marker := range []string{"/dokument", "/download", "/dok/", "/file", "/attachment", "/regnskap"} {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(d.MediaTypeHint), "pdf")
}

// ExtractedDocument is a DocumentRef with its recovered text layer.
// Created by the retriever, consumed once by figure extraction; the raw
// bytes are never persisted.
type ExtractedDocument struct {
	Ref       DocumentRef
	TextLayer string
	PageCount int
	ByteSize  int64

	// ContainerMetadata records what the container sniffer saw, kept for
	// failure diagnosis (offsets, declared content type).
	ContainerMetadata map[string]any
}
