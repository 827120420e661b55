package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// Elements whose subtrees are navigation or page chrome, not legal text.
var skipElements = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "template": {},
	"nav": {}, "header": {}, "footer": {}, "aside": {},
	"form": {}, "button": {}, "iframe": {}, "svg": {},
}

// Elements that terminate a paragraph when closed.
var blockElements = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {}, "main": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "tr": {}, "td": {}, "th": {}, "blockquote": {}, "pre": {},
	"br": {}, "table": {}, "ul": {}, "ol": {}, "dl": {}, "dt": {}, "dd": {},
}

var sanitizer = bluemonday.UGCPolicy()

// extractHTML strips markup, scripts, and boilerplate and returns the page
// title plus one plaintext page with paragraph boundaries preserved.
func extractHTML(body []byte) (string, []string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("parse html: %w", err)
	}
	title := pageTitle(doc)

	page := renderText(doc)
	if page == "" {
		// Malformed markup can swallow the whole document into elements the
		// walk skips. The sanitizer strips those wrappers; retry on its output.
		clean, err := html.Parse(bytes.NewReader(sanitizer.SanitizeBytes(body)))
		if err != nil {
			return "", nil, fmt.Errorf("parse sanitized html: %w", err)
		}
		page = renderText(clean)
	}
	if page == "" {
		return title, nil, fmt.Errorf("html contained no extractable text")
	}
	return title, []string{page}, nil
}

func renderText(doc *html.Node) string {
	var b strings.Builder
	walkText(doc, &b)
	return NormalizePage(b.String())
}

func walkText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		if _, skip := skipElements[n.Data]; skip {
			return
		}
	case html.TextNode:
		if text := collapseSpaces(n.Data); text != "" {
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
	if n.Type == html.ElementNode {
		if _, block := blockElements[n.Data]; block {
			b.WriteByte('\n')
		}
	}
}

func pageTitle(doc *html.Node) string {
	titleNode := findElement(doc, "title")
	if titleNode == nil || titleNode.FirstChild == nil {
		return ""
	}
	return collapseSpaces(titleNode.FirstChild.Data)
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}
