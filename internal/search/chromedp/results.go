package headless

import (
	"net/url"
	"strings"

	xhtml "golang.org/x/net/html"
)

// Phrases that only appear on interstitial block or CAPTCHA pages.
var blockMarkers = []string{
	"unusual traffic from your computer network",
	"our systems have detected unusual traffic",
	"g-recaptcha",
	"please complete the security check",
}

// Hosts that appear in result markup but are not results.
var excludedHosts = map[string]struct{}{
	"webcache.googleusercontent.com": {},
	"translate.google.com":           {},
	"accounts.google.com":            {},
	"support.google.com":             {},
	"policies.google.com":            {},
	"maps.google.com":                {},
}

// blocked reports whether the rendered page is an interstitial rather than a
// result page.
func blocked(finalURL, html string) bool {
	if strings.Contains(finalURL, "/sorry/") {
		return true
	}
	lower := strings.ToLower(html)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// parseResultLinks harvests external result URLs from the rendered page, in
// document order, deduplicated, capped at max.
func parseResultLinks(html string, max int) []string {
	doc, err := xhtml.Parse(strings.NewReader(html))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var urls []string
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if len(urls) >= max {
			return
		}
		if n.Type == xhtml.ElementNode && n.Data == "a" {
			if target := resultTarget(href(n)); target != "" {
				if _, dup := seen[target]; !dup {
					seen[target] = struct{}{}
					urls = append(urls, target)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return urls
}

func href(n *xhtml.Node) string {
	for _, a := range n.Attr {
		if a.Key == "href" {
			return a.Val
		}
	}
	return ""
}

// resultTarget extracts the external URL a result anchor points at. Redirect
// anchors ("/url?q=...") are unwrapped; engine-internal links are dropped.
func resultTarget(raw string) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "/url?") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		raw = parsed.Query().Get("q")
		if raw == "" {
			return ""
		}
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	if _, excluded := excludedHosts[host]; excluded {
		return ""
	}
	if host == "www.google.com" || host == "google.com" ||
		strings.HasSuffix(host, ".google.com") {
		return ""
	}
	return u.String()
}
