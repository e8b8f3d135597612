package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/entrhq/docpack/pkg/delivery"
)

// PageDiscoverer finds the ordered list of project pages from the current
// document's navigation structure.
type PageDiscoverer struct {
	queue    *delivery.Queue
	targetID string
	inScope  func(address string) bool
}

// NewPageDiscoverer creates a discoverer for one target. inScope filters
// candidate addresses to the project scope; nil means same-host only.
func NewPageDiscoverer(queue *delivery.Queue, targetID string, inScope func(string) bool) *PageDiscoverer {
	return &PageDiscoverer{
		queue:    queue,
		targetID: targetID,
		inScope:  inScope,
	}
}

// DiscoverPages fetches the current document and extracts the project's
// page descriptors in document order.
func (d *PageDiscoverer) DiscoverPages(ctx context.Context) ([]PageDescriptor, error) {
	result, err := d.queue.Send(ctx, d.targetID, delivery.Request{Action: "document"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected document payload: %T", result)
	}

	return ParseProjectPages(asString(m["html"]), asString(m["address"]), d.inScope)
}

// sidebarLinkSelector matches the navigation surfaces the supported sites
// render their page lists into.
const sidebarLinkSelector = `nav a[href], aside a[href], [class*="sidebar"] a[href], ` +
	`[class*="menu"] a[href], [class*="toc"] a[href]`

// topicControlSelector matches in-page topic controls that swap content
// without navigating.
const topicControlSelector = `[role="tab"], .topic-tab, [data-topic]`

// ParseProjectPages extracts page descriptors from a rendered document.
// Links are resolved against baseAddress, de-duplicated, scope-filtered,
// and kept in document order. Topic controls become topic descriptors
// anchored at the current address.
func ParseProjectPages(rawHTML, baseAddress string, inScope func(string) bool) ([]PageDescriptor, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	base, err := url.Parse(baseAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid base address: %w", err)
	}

	if inScope == nil {
		host := base.Host
		inScope = func(address string) bool {
			u, err := url.Parse(address)
			if err != nil {
				return false
			}
			return strings.EqualFold(u.Host, host)
		}
	}

	seen := make(map[string]bool)
	var pages []PageDescriptor

	collect := func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}

		address := resolved.String()
		if seen[address] || !inScope(address) {
			return
		}
		seen[address] = true

		title := strings.TrimSpace(sel.Text())
		if title == "" {
			title = resolved.Path
		}
		pages = append(pages, PageDescriptor{
			Address: address,
			Title:   title,
		})
	}

	doc.Find(sidebarLinkSelector).Each(collect)
	if len(pages) == 0 {
		// No recognizable sidebar; fall back to in-scope content links.
		doc.Find("main a[href], article a[href]").Each(collect)
	}

	// Topic panels live on the current address and are selected in-page.
	doc.Find(topicControlSelector).Each(func(i int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			return
		}
		pages = append(pages, PageDescriptor{
			Address:    baseAddress,
			Title:      title,
			TopicIndex: TopicIndex(i),
		})
	})

	for i := range pages {
		pages[i].OrderPrefix = fmt.Sprintf("%03d", i+1)
	}
	return pages, nil
}
