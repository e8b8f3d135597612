package batch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/entrhq/docpack/pkg/config"
	"github.com/entrhq/docpack/pkg/extract"
	"github.com/entrhq/docpack/pkg/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNav struct {
	calls []string
	err   error
}

func (f *fakeNav) Navigate(ctx context.Context, dest string) error {
	f.calls = append(f.calls, dest)
	return f.err
}

type fakeProber struct {
	results     []probe.Result
	topicCalls  int
	probeCalls  int
	lastAddress string
	lastTitle   string
	lastHash    string
}

func (f *fakeProber) next() probe.Result {
	if len(f.results) == 0 {
		return probe.Result{Ready: true, Metrics: probe.Snapshot{HasContent: true, TextVolume: 500}}
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

func (f *fakeProber) Probe(ctx context.Context, expectedAddress string, deadline time.Duration) (probe.Result, error) {
	f.probeCalls++
	f.lastAddress = expectedAddress
	return f.next(), nil
}

func (f *fakeProber) ProbeTopic(ctx context.Context, expectedTitle, previousHash string, deadline time.Duration) (probe.Result, error) {
	f.topicCalls++
	f.lastTitle = expectedTitle
	f.lastHash = previousHash
	return f.next(), nil
}

type fakeConverter struct {
	conversions  []extract.Conversion
	convertCalls int
	convertErr   error
	selection    extract.TopicSelection
	selectErr    error
	selectCalls  int
}

func (f *fakeConverter) ConvertCurrent(ctx context.Context) (extract.Conversion, error) {
	f.convertCalls++
	if f.convertErr != nil {
		return extract.Conversion{}, f.convertErr
	}
	if len(f.conversions) == 0 {
		return extract.Conversion{OK: true, Markdown: "# Page\n\n" + strings.Repeat("content ", 40)}, nil
	}
	conv := f.conversions[0]
	if len(f.conversions) > 1 {
		f.conversions = f.conversions[1:]
	}
	return conv, nil
}

func (f *fakeConverter) SelectTopic(ctx context.Context, index int, title string) (extract.TopicSelection, error) {
	f.selectCalls++
	if f.selectErr != nil {
		return extract.TopicSelection{}, f.selectErr
	}
	return f.selection, nil
}

func newTestProcessor(nav *fakeNav, prober *fakeProber, converter *fakeConverter) (*Processor, *[]time.Duration) {
	cfg := config.Default()
	cfg.Timing.PagePause = 0

	p := NewProcessor(nav, prober, converter, cfg, nil)
	sleeps := &[]time.Duration{}
	p.sleep = func(d time.Duration) {
		*sleeps = append(*sleeps, d)
	}
	return p, sleeps
}

func TestProcessNavigatesAndRecords(t *testing.T) {
	nav := &fakeNav{}
	prober := &fakeProber{}
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: true, Markdown: strings.Repeat("sturdy content ", 20), TitleHint: "Widget Overview"},
		},
	}
	p, _ := newTestProcessor(nav, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/widget",
		Title:   "Widget",
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"https://docs.example.com/widget"}, nav.calls)
	assert.Equal(t, 1, prober.probeCalls)
	assert.Equal(t, "https://docs.example.com/widget", prober.lastAddress)
	require.Len(t, run.Outputs, 1)
	assert.Equal(t, "widget-overview.md", run.Outputs[0].FileName)
	assert.Equal(t, "Widget Overview", run.Outputs[0].Title)
	assert.Equal(t, 1, run.Processed)
}

func TestProcessFallsBackToDescriptorTitle(t *testing.T) {
	nav := &fakeNav{}
	prober := &fakeProber{}
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: true, Markdown: strings.Repeat("sturdy content ", 20)},
		},
	}
	p, _ := newTestProcessor(nav, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address:     "https://docs.example.com/widget",
		Title:       "Widget Guide",
		OrderPrefix: "002",
	})

	require.NoError(t, err)
	require.Len(t, run.Outputs, 1)
	assert.Equal(t, "002-widget-guide.md", run.Outputs[0].FileName)
}

func TestProcessTopicSelectsInPlace(t *testing.T) {
	nav := &fakeNav{}
	prober := &fakeProber{
		results: []probe.Result{
			{Ready: true, Metrics: probe.Snapshot{HasContent: true, TextVolume: 300, ContentHash: "h2"}},
		},
	}
	converter := &fakeConverter{
		selection: extract.TopicSelection{OK: true, SelectedTitle: "Topic B"},
	}
	p, _ := newTestProcessor(nav, prober, converter)
	p.lastContentHash = "h1"
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address:    "https://docs.example.com/widget",
		Title:      "Topic B",
		TopicIndex: extract.TopicIndex(1),
	})

	require.NoError(t, err)
	assert.Empty(t, nav.calls, "topic selection must not navigate")
	assert.Equal(t, 1, converter.selectCalls)
	assert.Equal(t, 1, prober.topicCalls)
	assert.Equal(t, "Topic B", prober.lastTitle)
	assert.Equal(t, "h1", prober.lastHash)
	assert.Equal(t, "h2", p.lastContentHash, "hash advances for the next topic")
}

func TestProcessNavigationErrorIsFatal(t *testing.T) {
	nav := &fakeNav{err: errors.New("net::ERR_CONNECTION_REFUSED")}
	prober := &fakeProber{}
	converter := &fakeConverter{}
	p, _ := newTestProcessor(nav, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/widget",
		Title:   "Widget",
	})

	require.Error(t, err)
	assert.Equal(t, 0, converter.convertCalls, "no conversion after failed navigation")
	assert.Empty(t, run.Outputs)
}

func TestProcessTopicSelectionFailureIsFatal(t *testing.T) {
	converter := &fakeConverter{
		selection: extract.TopicSelection{OK: false, Error: "control not found"},
	}
	p, _ := newTestProcessor(&fakeNav{}, &fakeProber{}, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Title:      "Topic B",
		TopicIndex: extract.TopicIndex(1),
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTopicSelection)
}

func TestProcessReadinessTimeoutStillConverts(t *testing.T) {
	prober := &fakeProber{
		results: []probe.Result{
			{TimedOut: true, Metrics: probe.Snapshot{HasContent: true, TextVolume: 40}},
		},
	}
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: true, Markdown: strings.Repeat("late but complete ", 20)},
		},
	}
	p, _ := newTestProcessor(&fakeNav{}, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/slow",
		Title:   "Slow Page",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, converter.convertCalls)
	assert.Len(t, run.Outputs, 1)
}

func TestProcessConversionFailureIsFatal(t *testing.T) {
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: false, Error: "content root missing"},
		},
	}
	p, _ := newTestProcessor(&fakeNav{}, &fakeProber{}, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/widget",
		Title:   "Widget",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConversionFailed)
	assert.Empty(t, run.Outputs)
}

func TestProcessEmptyOutputRetriesOnceAndSucceeds(t *testing.T) {
	prober := &fakeProber{
		results: []probe.Result{
			{Ready: true, Metrics: probe.Snapshot{HasContent: true, TextVolume: 800, StructuralCount: 12}},
		},
	}
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: true, Markdown: "stub"},
			{OK: true, Markdown: strings.Repeat("now fully rendered ", 20)},
		},
	}
	p, sleeps := newTestProcessor(&fakeNav{}, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/widget",
		Title:   "Widget",
	})

	require.NoError(t, err)
	assert.Equal(t, 2, converter.convertCalls)
	assert.Contains(t, *sleeps, 900*time.Millisecond)
	assert.Len(t, run.Outputs, 1)
}

func TestProcessEmptyOutputFailsAfterSingleRetry(t *testing.T) {
	prober := &fakeProber{
		results: []probe.Result{
			{Ready: true, Metrics: probe.Snapshot{HasContent: true, TextVolume: 800, StructuralCount: 12}},
		},
	}
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: true, Markdown: "stub"},
		},
	}
	p, _ := newTestProcessor(&fakeNav{}, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/widget",
		Title:   "Widget",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyOutput)
	assert.Equal(t, 2, converter.convertCalls, "exactly one retry")
	assert.Empty(t, run.Outputs)
}

func TestProcessShortOutputWithoutMetricsUsesHardFloor(t *testing.T) {
	prober := &fakeProber{
		results: []probe.Result{
			{TimedOut: true, Metrics: probe.Snapshot{}},
		},
	}
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: true, Markdown: "A legitimately terse page, forty characters."},
		},
	}
	p, _ := newTestProcessor(&fakeNav{}, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/terse",
		Title:   "Terse",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, converter.convertCalls, "above the hard floor, no retry")
	assert.Len(t, run.Outputs, 1)
}

func TestProcessShortOutputWithModestMetricsIsAccepted(t *testing.T) {
	prober := &fakeProber{
		results: []probe.Result{
			{Ready: true, Metrics: probe.Snapshot{HasContent: true, TextVolume: 50, StructuralCount: 2}},
		},
	}
	converter := &fakeConverter{
		conversions: []extract.Conversion{
			{OK: true, Markdown: "# Stub page\n\nNothing here yet."},
		},
	}
	p, _ := newTestProcessor(&fakeNav{}, prober, converter)
	run := NewRun("tab1", "https://docs.example.com", "export", nil)

	err := p.Process(context.Background(), run, extract.PageDescriptor{
		Address: "https://docs.example.com/stub",
		Title:   "Stub",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, converter.convertCalls, "genuinely sparse page converts once")
	assert.Len(t, run.Outputs, 1)
}
