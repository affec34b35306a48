package testutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

// ParseHTML parses a full page or an htmx fragment into a goquery document.
func ParseHTML(t testing.TB, body []byte) *goquery.Document {
	t.Helper()

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

// Text returns the whitespace-trimmed text of everything matching selector.
func Text(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).Text())
}

// SubmitDisabled reports whether the login submit button carries the disabled attribute.
func SubmitDisabled(t testing.TB, doc *goquery.Document) bool {
	t.Helper()

	button := doc.Find("#login-submit")
	if button.Length() != 1 {
		t.Fatalf("expected one #login-submit, found %d", button.Length())
	}
	_, disabled := button.Attr("disabled")
	return disabled
}
