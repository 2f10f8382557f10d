package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-images/models"
	"golang.org/x/net/html"
)

// ImageExtensions lists the recognised image extensions, lower-case with dot.
var ImageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// sourceAttributes are read in priority order; lazy-loading pages often put
// the real URL in data-src or data-original.
var sourceAttributes = []string{"src", "data-src", "data-original"}

// ExtractImages returns the image URLs referenced by img elements in body, in
// document order. References are resolved against base, or against the
// page's <base href> when present. Duplicates are kept.
func ExtractImages(body []byte, base *url.URL) ([]string, error) {
	if base == nil {
		return nil, fmt.Errorf("base url is nil")
	}

	// With scripting disabled, <noscript> content is parsed as markup, so
	// fallback images behind lazy loaders are found too.
	root, err := html.ParseWithOptions(bytes.NewReader(body), html.ParseOptionEnableScripting(false))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := base.Parse(strings.TrimSpace(href)); err == nil && resolved.IsAbs() {
			base = resolved
		}
	}

	var images []string
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		ref := imageReference(sel)
		if ref == "" {
			return
		}
		resolved, ok := Resolve(base, ref)
		if !ok || !IsImageURL(resolved) {
			return
		}
		images = append(images, resolved)
	})
	return images, nil
}

func imageReference(sel *goquery.Selection) string {
	for _, attr := range sourceAttributes {
		if v, ok := sel.Attr(attr); ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// Resolve turns ref into an absolute http(s) URL relative to base.
func Resolve(base *url.URL, ref string) (string, bool) {
	u, err := base.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if u.Host == "" {
		return "", false
	}
	return u.String(), true
}

// IsImageURL reports whether raw is an absolute http(s) URL whose path ends in
// a recognised image extension. Query and fragment are ignored.
func IsImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, allowed := range ImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ValidateCandidate ensures a candidate is fit for export or download.
func ValidateCandidate(c *models.Candidate) error {
	if c == nil {
		return fmt.Errorf("candidate is nil")
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("candidate missing url")
	}
	if !IsImageURL(c.URL) {
		return fmt.Errorf("candidate %s is not an absolute image url", c.URL)
	}
	return nil
}
