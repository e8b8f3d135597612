// Package probe decides whether a rendered page has produced enough content
// to be worth converting.
//
// The supported sites render asynchronously after the document reports
// complete, so there is no reliable load event. The prober polls a metrics
// source at a fixed interval until content crosses the configured
// thresholds or a deadline elapses. Hitting the deadline is a soft outcome:
// the caller gets the last observed metrics and decides what to do.
package probe

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Snapshot is one observation of the page's rendered content. Produced
// fresh on every poll, never stored.
type Snapshot struct {
	// Address is the page's reported location at observation time.
	Address string

	// HasContent indicates the content root element exists at all.
	HasContent bool

	// TextVolume is the visible text length in characters.
	TextVolume int

	// StructuralCount is the number of structural elements (headings,
	// tables, code blocks, lists).
	StructuralCount int

	// HasDiagram indicates an embedded diagram (svg/canvas render).
	HasDiagram bool

	// Heading is the first visible heading, used by topic readiness.
	Heading string

	// ContentHash fingerprints the content snapshot, used by topic
	// readiness to detect a material change.
	ContentHash string
}

// Source produces content snapshots from the driving target.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Thresholds define the content-sufficiency cutoffs.
type Thresholds struct {
	MinTextVolume      int
	MinStructuralCount int
}

// Result is the outcome of one probe loop.
type Result struct {
	// Ready indicates the content crossed a threshold before the deadline.
	Ready bool

	// TimedOut indicates the deadline elapsed first. Soft failure: Metrics
	// still holds the last observation.
	TimedOut bool

	// Metrics is the final observed snapshot.
	Metrics Snapshot
}

// Prober polls a source until content is sufficient or a deadline passes.
type Prober struct {
	source     Source
	thresholds Thresholds
	interval   time.Duration
}

// New creates a prober polling source every interval.
func New(source Source, thresholds Thresholds, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Prober{
		source:     source,
		thresholds: thresholds,
		interval:   interval,
	}
}

// Probe polls until the page at expectedAddress has sufficient content.
// Snapshot errors (the page may be mid-reload) count as not-ready polls,
// not failures. Only context cancellation returns an error.
func (p *Prober) Probe(ctx context.Context, expectedAddress string, deadline time.Duration) (Result, error) {
	return p.loop(ctx, deadline, func(s Snapshot) bool {
		return AddressMatches(s.Address, expectedAddress) && p.sufficient(s)
	})
}

// ProbeTopic is the readiness variant for in-page topic panels, where
// selection does not change the address. Readiness additionally accepts the
// visible heading matching the expected title, or the content fingerprint
// changing from the pre-selection snapshot.
func (p *Prober) ProbeTopic(ctx context.Context, expectedTitle, previousHash string, deadline time.Duration) (Result, error) {
	return p.loop(ctx, deadline, func(s Snapshot) bool {
		if expectedTitle != "" && headingMatches(s.Heading, expectedTitle) {
			return true
		}
		if previousHash != "" && s.ContentHash != "" && s.ContentHash != previousHash {
			return true
		}
		return p.sufficient(s)
	})
}

func (p *Prober) loop(ctx context.Context, deadline time.Duration, ready func(Snapshot) bool) (Result, error) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last Snapshot
	for {
		snapshot, err := p.source.Snapshot(ctx)
		if err == nil {
			last = snapshot
			if ready(snapshot) {
				return Result{Ready: true, Metrics: snapshot}, nil
			}
		}

		select {
		case <-ctx.Done():
			return Result{Metrics: last}, ctx.Err()
		case <-timer.C:
			return Result{TimedOut: true, Metrics: last}, nil
		case <-ticker.C:
		}
	}
}

// sufficient applies the content thresholds: enough text, OR enough
// structure, OR a diagram present.
func (p *Prober) sufficient(s Snapshot) bool {
	if !s.HasContent {
		return false
	}
	return s.TextVolume >= p.thresholds.MinTextVolume ||
		s.StructuralCount >= p.thresholds.MinStructuralCount ||
		s.HasDiagram
}

/// AddressMatches compares two addresses loosely: same host, and one path a
// prefix of the other. Trailing slashes and client-side router rewrites of
// deeper path segments are tolerated. Query and fragment are ignored.
func AddressMatches(got, expected string) bool {
	if got == expected {
		return true
	}

	gu, err := url.Parse(got)
	if err != nil {
		return false
	}
	eu, err := url.Parse(expected)
	if err != nil {
		return false
	}

	if gu.Host != "" && eu.Host != "" && !strings.EqualFold(gu.Host, eu.Host) {
		return false
	}

	gp := strings.TrimSuffix(gu.Path, "/")
	ep := strings.TrimSuffix(eu.Path, "/")
	return strings.HasPrefix(gp, ep) || strings.HasPrefix(ep, gp)
}

// headingMatches compares a rendered heading against an expected title,
// ignoring case and surrounding whitespace.
func headingMatches(heading, title string) bool {
	h := strings.ToLower(strings.TrimSpace(heading))
	t := strings.ToLower(strings.TrimSpace(title))
	if h == "" || t == "" {
		return false
	}
	return h == t || strings.Contains(h, t) || strings.Contains(t, h)
}
