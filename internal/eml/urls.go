package eml

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

func isHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html")
}

// parseBodyURLs extracts the normalized URL candidates from one body part.
// HTML bodies contribute both their href targets and the URLs found in the
// rendered text.
func parseBodyURLs(content, contentType string) []string {
	candidates := make([]string, 0, 8)

	if isHTML(contentType) {
		candidates = append(candidates, hrefLinks(content)...)
		content = htmlText(content)
	}
	candidates = append(candidates, urlPattern.FindAllString(content, -1)...)

	set := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		normalized := normalizeURL(unpackSafelinkURL(candidate))
		if strings.HasPrefix(normalized, "http://") || strings.HasPrefix(normalized, "https://") {
			set[normalized] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// hrefLinks collects the http(s) anchor targets of an HTML document.
func hrefLinks(content string) []string {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					links = append(links, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return links
}

// htmlText flattens an HTML document to its visible text.
func htmlText(content string) string {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return content
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return b.String()
}

// unpackSafelinkURL converts a Microsoft safelink back to its target URL.
func unpackSafelinkURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !strings.HasSuffix(parsed.Hostname(), ".safelinks.protection.outlook.com") {
		return raw
	}
	if target := parsed.Query().Get("url"); target != "" {
		return target
	}
	return raw
}

// normalizeURL strips the trailing markers text extraction tends to leave.
func normalizeURL(raw string) string {
	raw = strings.TrimRight(raw, ">]")
	return strings.TrimRight(raw, ".,)")
}
