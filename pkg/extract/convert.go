package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"

	"github.com/entrhq/docpack/pkg/delivery"
	"github.com/entrhq/docpack/pkg/logging"
)

// PageConverter converts the currently rendered page to Markdown. The
// in-page agent supplies the content HTML; cleaning, readability isolation,
// and Markdown rendering happen on the Go side.
type PageConverter struct {
	queue    *delivery.Queue
	targetID string
	log      *logging.Logger
	md       *md.Converter
}

// NewPageConverter creates a converter for one target.
func NewPageConverter(queue *delivery.Queue, targetID string, log *logging.Logger) *PageConverter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &PageConverter{
		queue:    queue,
		targetID: targetID,
		log:      log,
		md:       converter,
	}
}

// ConvertCurrent captures the page's content HTML and renders it as
// Markdown. A conversion that produces no output reports OK=false rather
// than an error; transport failures are errors.
func (c *PageConverter) ConvertCurrent(ctx context.Context) (Conversion, error) {
	result, err := c.queue.Send(ctx, c.targetID, delivery.Request{Action: "content"})
	if err != nil {
		return Conversion{}, fmt.Errorf("content request failed: %w", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		return Conversion{}, fmt.Errorf("unexpected content payload: %T", result)
	}
	if !asBool(m["ok"]) {
		return Conversion{OK: false, Error: asString(m["error"])}, nil
	}

	rawHTML := asString(m["html"])
	address := asString(m["address"])
	title := asString(m["title"])

	markdown, isolatedTitle, err := c.render(rawHTML, address)
	if err != nil {
		return Conversion{OK: false, Error: err.Error()}, nil
	}
	if title == "" {
		title = isolatedTitle
	}

	return Conversion{
		OK:        true,
		Markdown:  markdown,
		TitleHint: title,
	}, nil
}

// render cleans the captured HTML, isolates the readable article when the
// capture is a whole document, and converts the result to Markdown.
func (c *PageConverter) render(rawHTML, address string) (markdown, title string, err error) {
	cleaned, err := CleanContentHTML(rawHTML)
	if err != nil {
		return "", "", err
	}

	// Whole-document captures (content root fell back to body) go through
	// readability to isolate the article; scoped fragments convert as-is.
	if looksLikeDocument(rawHTML) {
		pageURL, _ := url.Parse(address)
		if article, rerr := readability.FromReader(strings.NewReader(cleaned), pageURL); rerr == nil && strings.TrimSpace(article.Content) != "" {
			cleaned = article.Content
			title = article.Title
		} else if rerr != nil && c.log != nil {
			c.log.Debugf("readability isolation skipped for %s: %v", address, rerr)
		}
		if title == "" {
			title = DocumentTitle(rawHTML)
		}
	}

	markdown, err = c.md.ConvertString(cleaned)
	if err != nil {
		return "", "", fmt.Errorf("markdown conversion failed: %w", err)
	}
	return strings.TrimSpace(markdown), title, nil
}

// looksLikeDocument reports whether captured HTML is a whole document
// rather than a scoped content fragment.
func looksLikeDocument(rawHTML string) bool {
	return strings.Contains(rawHTML, "<html") || strings.Contains(rawHTML, "<body")
}

// SelectTopic activates an in-page topic control by index, falling back to
// a title match.
func (c *PageConverter) SelectTopic(ctx context.Context, index int, title string) (TopicSelection, error) {
	result, err := c.queue.Send(ctx, c.targetID, delivery.Request{
		Action: "selectTopic",
		Args: map[string]interface{}{
			"index": index,
			"title": title,
		},
	})
	if err != nil {
		return TopicSelection{}, fmt.Errorf("topic selection request failed: %w", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		return TopicSelection{}, fmt.Errorf("unexpected topic payload: %T", result)
	}

	return TopicSelection{
		OK:            asBool(m["ok"]),
		SelectedTitle: asString(m["selectedTitle"]),
		Error:         asString(m["error"]),
	}, nil
}
