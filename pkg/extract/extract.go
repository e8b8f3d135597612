// Package extract is the boundary between the batch core and the rendered
// page: link discovery, readiness metrics, Markdown conversion, and topic
// selection.
//
// The core consumes only the interfaces defined here. The default
// implementation talks to a small in-page agent script through the delivery
// queue, then does the heavy lifting (readability isolation, Markdown
// rendering) on the Go side.
package extract

import "context"

// PageDescriptor identifies one page of the project, produced by discovery
// before the run starts. Immutable for the run's duration.
type PageDescriptor struct {
	// Address is the page's full URL.
	Address string

	// Title is the link text the page was discovered under.
	Title string

	// TopicIndex is set for in-page topic panels that are selected by
	// clicking a control instead of navigating. Nil for ordinary pages.
	TopicIndex *int

	// OrderPrefix optionally prefixes the derived file name to keep the
	// archive in reading order.
	OrderPrefix string
}

// Conversion is the result of converting the current page to Markdown.
type Conversion struct {
	// OK indicates the conversion produced output.
	OK bool

	// Markdown is the converted page content.
	Markdown string

	// TitleHint is the page title observed during conversion, preferred
	// over the descriptor title for file naming.
	TitleHint string

	// Error describes the failure when OK is false.
	Error string
}

// TopicSelection is the result of selecting an in-page topic panel.
type TopicSelection struct {
	// OK indicates the control was found and activated.
	OK bool

	// SelectedTitle is the title of the activated panel.
	SelectedTitle string

	// Error describes the failure when OK is false.
	Error string
}

// Discoverer produces the ordered list of project pages.
type Discoverer interface {
	DiscoverPages(ctx context.Context) ([]PageDescriptor, error)
}

// Converter converts the currently rendered page and selects topic panels.
type Converter interface {
	ConvertCurrent(ctx context.Context) (Conversion, error)
	SelectTopic(ctx context.Context, index int, title string) (TopicSelection, error)
}

// TopicIndex is a convenience constructor for PageDescriptor.TopicIndex.
func TopicIndex(i int) *int {
	return &i
}
