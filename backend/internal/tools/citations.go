package tools

import (
	"net/url"
	"regexp"
	"strings"

	"threadnote/backend/internal/graph"
)

var (
	markdownLinkPattern = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^\s)]+)\)`)
	bareURLPattern      = regexp.MustCompile(`https?://[^\s<>()\[\]"'` + "`" + `]+`)
)

// ExtractCitations collects the web sources a reply links to, in order of
// first appearance. Markdown link text becomes the citation title. At most
// limit citations are returned.
func ExtractCitations(text string, limit int) []graph.Citation {
	titles := make(map[string]string)
	for _, m := range markdownLinkPattern.FindAllStringSubmatch(text, -1) {
		u := CanonicalURL(m[2])
		if _, ok := titles[u]; !ok {
			titles[u] = strings.TrimSpace(m[1])
		}
	}

	var citations []graph.Citation
	for _, u := range ExtractURLs(text, limit) {
		title := titles[u]
		// Link text that is just the URL again is not a title
		if title == u || strings.HasPrefix(title, "http") {
			title = ""
		}
		citations = append(citations, graph.Citation{URL: u, Title: title})
	}
	return citations
}

// ExtractURLs returns distinct http(s) URLs in text, canonicalized, in order
// of first appearance
func ExtractURLs(text string, limit int) []string {
	seen := make(map[string]bool)
	var urls []string
	for _, raw := range bareURLPattern.FindAllString(text, -1) {
		if limit > 0 && len(urls) >= limit {
			break
		}
		u := CanonicalURL(raw)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// CanonicalURL trims trailing punctuation and drops utm_* tracking parameters.
// It returns "" for strings that do not parse as absolute http(s) URLs.
func CanonicalURL(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), ".,;:!?*_")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}

	q := u.Query()
	changed := false
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
