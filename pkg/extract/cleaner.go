package extract

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// CleanContentHTML strips scripts, styles, chrome, and other noise from
// captured page HTML before Markdown conversion, preserving the semantic
// content structure.
func CleanContentHTML(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	pruneNoise(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("failed to render cleaned HTML: %w", err)
	}
	return buf.String(), nil
}

// pruneNoise removes noise elements and comments in place.
func pruneNoise(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling

		if c.Type == html.CommentNode {
			n.RemoveChild(c)
			continue
		}
		if c.Type == html.ElementNode && isNoiseElement(strings.ToLower(c.Data)) {
			n.RemoveChild(c)
			continue
		}
		pruneNoise(c)
	}
}

// isNoiseElement returns true for elements that never carry documentation
// content: executable/style noise plus page chrome like navigation bars,
// search boxes, and feedback widgets.
func isNoiseElement(tagName string) bool {
	noise := map[string]bool{
		"script":   true,
		"style":    true,
		"noscript": true,
		"iframe":   true,
		"embed":    true,
		"object":   true,
		"button":   true,
		"form":     true,
		"input":    true,
		"select":   true,
		"textarea": true,
		"nav":      true,
		"footer":   true,
	}
	return noise[tagName]
}

// DocumentTitle extracts the <title> text from a full document.
func DocumentTitle(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}

	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
			if title != "" {
				return
			}
		}
	}
	traverse(doc)
	return title
}
