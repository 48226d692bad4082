package pdf

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// linkSelector pairs a selector with the attribute holding the link and
// whether the value must end in .pdf to count.
type linkSelector struct {
	selector string
	attr     string
	pdfOnly  bool
}

// linkSelectors find PDF references on landing pages: anchors and meta
// content ending in .pdf, data-pdf-url attributes, and the citation_pdf_url
// meta tag publishers expose for indexers. Order decides link order.
var linkSelectors = []linkSelector{
	{selector: "[href]", attr: "href", pdfOnly: true},
	{selector: "[content]", attr: "content", pdfOnly: true},
	{selector: "[data-pdf-url]", attr: "data-pdf-url"},
	{selector: "meta[name]", attr: "content"},
}

// ExtractLinks reads up to limit bytes of an HTML page and returns the PDF
// links it references, resolved against base. Only http and https links are
// kept; duplicates are dropped and discovery order is preserved.
func ExtractLinks(r io.Reader, limit int64, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(r, limit))
	if err != nil {
		return nil, fmt.Errorf("parse html page: %w", err)
	}
	return documentLinks(doc, base), nil
}

// FindLinks is ExtractLinks over an in-memory page.
func FindLinks(page string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}
	return documentLinks(doc, base)
}

func documentLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	seen := make(map[string]struct{})

	for _, ls := range linkSelectors {
		doc.Find(ls.selector).Each(func(_ int, s *goquery.Selection) {
			if ls.selector == "meta[name]" && !strings.EqualFold(s.AttrOr("name", ""), "citation_pdf_url") {
				return
			}
			raw, ok := s.Attr(ls.attr)
			if !ok {
				return
			}
			raw = strings.TrimSpace(raw)
			if ls.pdfOnly && !strings.HasSuffix(strings.ToLower(raw), ".pdf") {
				return
			}
			resolved, ok := resolveLink(base, raw)
			if !ok {
				return
			}
			if _, dup := seen[resolved]; dup {
				return
			}
			seen[resolved] = struct{}{}
			links = append(links, resolved)
		})
	}
	return links
}

func resolveLink(base *url.URL, raw string) (string, bool) {
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	switch strings.ToLower(ref.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	ref.Fragment = ""
	return ref.String(), true
}
