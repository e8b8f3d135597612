package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/docpack/pkg/config"
	"github.com/entrhq/docpack/pkg/extract"
	"github.com/entrhq/docpack/pkg/logging"
	"github.com/entrhq/docpack/pkg/probe"
)

var (
	// ErrConversionFailed indicates the converter reported failure.
	ErrConversionFailed = errors.New("conversion failed")

	// ErrEmptyOutput indicates both the conversion and its single retry
	// produced suspiciously little output.
	ErrEmptyOutput = errors.New("conversion produced no usable output")

	// ErrTopicSelection indicates an in-page topic control could not be
	// activated.
	ErrTopicSelection = errors.New("topic selection failed")
)

// Navigator moves the driving target to a destination address. Satisfied
// by target.Coordinator.
type Navigator interface {
	Navigate(ctx context.Context, dest string) error
}

// ReadinessProber awaits content sufficiency. Satisfied by probe.Prober.
type ReadinessProber interface {
	Probe(ctx context.Context, expectedAddress string, deadline time.Duration) (probe.Result, error)
	ProbeTopic(ctx context.Context, expectedTitle, previousHash string, deadline time.Duration) (probe.Result, error)
}

// Processor produces one ConvertedPage from one PageDescriptor, or fails
// it. Failures are per-page: the orchestrator counts them and moves on.
type Processor struct {
	nav       Navigator
	prober    ReadinessProber
	converter extract.Converter
	cfg       *config.Config
	log       *logging.Logger

	// sleep is injectable for tests.
	sleep func(time.Duration)

	// lastContentHash remembers the previous topic snapshot so topic
	// readiness can detect a material content change.
	lastContentHash string
}

// NewProcessor creates a page processor.
func NewProcessor(nav Navigator, prober ReadinessProber, converter extract.Converter, cfg *config.Config, log *logging.Logger) *Processor {
	return &Processor{
		nav:       nav,
		prober:    prober,
		converter: converter,
		cfg:       cfg,
		log:       log,
		sleep:     time.Sleep,
	}
}

// Process drives one page end to end: navigate (or select the topic),
// await readiness, convert, apply the empty-output retry policy, and
// record the output on the run.
func (p *Processor) Process(ctx context.Context, run *Run, desc extract.PageDescriptor) error {
	result, err := p.arrive(ctx, desc)
	if err != nil {
		return err
	}

	if result.TimedOut {
		// Soft failure: the page may still convert. Attempt anyway.
		p.warnf("readiness timed out for %q (text=%d structural=%d); converting anyway",
			desc.Title, result.Metrics.TextVolume, result.Metrics.StructuralCount)
	}

	conv, err := p.converter.ConvertCurrent(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	if !conv.OK {
		return fmt.Errorf("%w: %s", ErrConversionFailed, conv.Error)
	}

	if p.suspiciouslyEmpty(conv.Markdown, result) {
		conv, result, err = p.retryEmpty(ctx, desc, result)
		if err != nil {
			return err
		}
	}

	p.lastContentHash = result.Metrics.ContentHash

	title := strings.TrimSpace(conv.TitleHint)
	if title == "" {
		title = desc.Title
	}
	fileName := run.ClaimFileName(DeriveFileName(title, desc.OrderPrefix))
	run.Record(ConvertedPage{
		FileName: fileName,
		Title:    title,
		Content:  conv.Markdown,
	})

	// Brief pause so the rendering target is not hammered page-to-page.
	p.sleep(p.cfg.Timing.PagePause)
	return nil
}

// arrive moves the target to the page and awaits readiness. Topic pages
// are selected in place; everything else goes through the navigator, which
// resolves fragment-only transitions and no-ops internally.
func (p *Processor) arrive(ctx context.Context, desc extract.PageDescriptor) (probe.Result, error) {
	if desc.TopicIndex != nil {
		sel, err := p.converter.SelectTopic(ctx, *desc.TopicIndex, desc.Title)
		if err != nil {
			return probe.Result{}, fmt.Errorf("%w: %v", ErrTopicSelection, err)
		}
		if !sel.OK {
			return probe.Result{}, fmt.Errorf("%w: %s", ErrTopicSelection, sel.Error)
		}
		return p.prober.ProbeTopic(ctx, desc.Title, p.lastContentHash, p.cfg.Timing.ReadinessTimeout)
	}

	if err := p.nav.Navigate(ctx, desc.Address); err != nil {
		return probe.Result{}, err
	}
	return p.prober.Probe(ctx, desc.Address, p.cfg.Timing.ReadinessTimeout)
}

// retryEmpty waits briefly, re-probes, and re-converts exactly once. A
// second suspicious result fails the page.
func (p *Processor) retryEmpty(ctx context.Context, desc extract.PageDescriptor, prior probe.Result) (extract.Conversion, probe.Result, error) {
	p.warnf("suspiciously empty conversion for %q; retrying once", desc.Title)
	p.sleep(p.cfg.EmptyOutput.RetryBackoff)

	result, err := p.reprobe(ctx, desc)
	if err != nil {
		result = prior
	}

	conv, err := p.converter.ConvertCurrent(ctx)
	if err != nil {
		return extract.Conversion{}, result, fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	if !conv.OK {
		return extract.Conversion{}, result, fmt.Errorf("%w: %s", ErrConversionFailed, conv.Error)
	}
	if p.suspiciouslyEmpty(conv.Markdown, result) {
		return extract.Conversion{}, result, fmt.Errorf("%w: %d chars after retry", ErrEmptyOutput, len(strings.TrimSpace(conv.Markdown)))
	}
	return conv, result, nil
}

func (p *Processor) reprobe(ctx context.Context, desc extract.PageDescriptor) (probe.Result, error) {
	if desc.TopicIndex != nil {
		return p.prober.ProbeTopic(ctx, desc.Title, p.lastContentHash, p.cfg.Timing.ReadinessTimeout)
	}
	return p.prober.Probe(ctx, desc.Address, p.cfg.Timing.ReadinessTimeout)
}

// suspiciouslyEmpty applies the empty-output heuristic: tiny output is
// suspicious when either no metrics were observed and the output is below
// the hard floor, or the page looked substantial while conversion produced
// almost nothing.
func (p *Processor) suspiciouslyEmpty(markdown string, result probe.Result) bool {
	length := len(strings.TrimSpace(markdown))
	if length >= p.cfg.EmptyOutput.SuspicionThreshold {
		return false
	}

	metrics := result.Metrics
	if metrics == (probe.Snapshot{}) {
		return length < p.cfg.EmptyOutput.HardFloor
	}
	return metrics.TextVolume >= p.cfg.Readiness.MinTextVolume ||
		metrics.StructuralCount >= p.cfg.Readiness.MinStructuralCount ||
		metrics.HasDiagram
}

func (p *Processor) warnf(format string, v ...interface{}) {
	if p.log != nil {
		p.log.Warnf(format, v...)
	}
}
