package collector

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// extractText converts an HTML or HTML-encoded string to plain text.
// It first unescapes HTML entities (handles Greenhouse's double-encoding;
// no-op on already-real HTML), parses the markup, then collapses whitespace.
// Adjacent block elements are kept apart by a space.
func extractText(content string) string {
	if content == "" {
		return ""
	}
	unescaped := html.UnescapeString(content)
	spaced := strings.ReplaceAll(unescaped, "<", " <")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaced))
	if err != nil {
		return strings.Join(strings.Fields(unescaped), " ")
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
