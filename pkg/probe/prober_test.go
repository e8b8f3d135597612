package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource returns snapshots from a list, repeating the last one.
type scriptedSource struct {
	mu        sync.Mutex
	snapshots []Snapshot
	errs      []error
	calls     int
}

func (s *scriptedSource) Snapshot(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return Snapshot{}, s.errs[i]
	}
	if i >= len(s.snapshots) {
		i = len(s.snapshots) - 1
	}
	return s.snapshots[i], nil
}

func (s *scriptedSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var thresholds = Thresholds{MinTextVolume: 160, MinStructuralCount: 6}

func TestProbeReadyImmediately(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{Address: "https://docs.example.com/guide", HasContent: true, TextVolume: 500},
	}}
	p := New(source, thresholds, 10*time.Millisecond)

	result, err := p.Probe(context.Background(), "https://docs.example.com/guide", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.False(t, result.TimedOut)
	assert.Equal(t, 500, result.Metrics.TextVolume)
	assert.Equal(t, 1, source.callCount())
}

func TestProbeWaitsForContentToRender(t *testing.T) {
	empty := Snapshot{Address: "https://docs.example.com/guide", HasContent: true, TextVolume: 10}
	full := Snapshot{Address: "https://docs.example.com/guide", HasContent: true, TextVolume: 300}
	source := &scriptedSource{snapshots: []Snapshot{empty, empty, full}}
	p := New(source, thresholds, 5*time.Millisecond)

	result, err := p.Probe(context.Background(), "https://docs.example.com/guide", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.GreaterOrEqual(t, source.callCount(), 3)
}

func TestProbeStructuralCountAlone(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{Address: "https://docs.example.com/api", HasContent: true, TextVolume: 40, StructuralCount: 8},
	}}
	p := New(source, thresholds, 10*time.Millisecond)

	result, err := p.Probe(context.Background(), "https://docs.example.com/api", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
}

func TestProbeDiagramAlone(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{Address: "https://docs.example.com/arch", HasContent: true, TextVolume: 5, HasDiagram: true},
	}}
	p := New(source, thresholds, 10*time.Millisecond)

	result, err := p.Probe(context.Background(), "https://docs.example.com/arch", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
}

func TestProbeTimesOutSoftly(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{Address: "https://docs.example.com/guide", HasContent: true, TextVolume: 12, StructuralCount: 1},
	}}
	p := New(source, thresholds, 10*time.Millisecond)

	result, err := p.Probe(context.Background(), "https://docs.example.com/guide", 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.True(t, result.TimedOut)
	// Last observed metrics are returned for the caller's retry decision.
	assert.Equal(t, 12, result.Metrics.TextVolume)
}

func TestProbeWrongAddressNeverReady(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{Address: "https://docs.example.com/other", HasContent: true, TextVolume: 900},
	}}
	p := New(source, thresholds, 10*time.Millisecond)

	result, err := p.Probe(context.Background(), "https://docs.example.com/guide/deep", 40*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.True(t, result.TimedOut)
}

func TestProbeToleratesSnapshotErrors(t *testing.T) {
	ready := Snapshot{Address: "https://docs.example.com/guide", HasContent: true, TextVolume: 400}
	source := &scriptedSource{
		snapshots: []Snapshot{{}, {}, ready},
		errs:      []error{context.DeadlineExceeded, context.DeadlineExceeded, nil},
	}
	p := New(source, thresholds, 5*time.Millisecond)

	result, err := p.Probe(context.Background(), "https://docs.example.com/guide", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
}

func TestProbeContextCancellation(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{{HasContent: true, TextVolume: 1}}}
	p := New(source, thresholds, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := p.Probe(ctx, "https://docs.example.com/guide", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbeTopicHeadingMatch(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{HasContent: true, TextVolume: 10, Heading: "Advanced Settings", ContentHash: "h1"},
	}}
	p := New(source, thresholds, 10*time.Millisecond)

	result, err := p.ProbeTopic(context.Background(), "advanced settings", "h1", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
}

func TestProbeTopicContentChange(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{HasContent: true, TextVolume: 10, Heading: "Old Topic", ContentHash: "before"},
		{HasContent: true, TextVolume: 10, Heading: "Old Topic", ContentHash: "after"},
	}}
	p := New(source, thresholds, 5*time.Millisecond)

	result, err := p.ProbeTopic(context.Background(), "Unrelated Title", "before", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, "after", result.Metrics.ContentHash)
}

func TestProbeTopicFallsBackToThresholds(t *testing.T) {
	source := &scriptedSource{snapshots: []Snapshot{
		{HasContent: true, TextVolume: 400, Heading: "", ContentHash: ""},
	}}
	p := New(source, thresholds, 10*time.Millisecond)

	result, err := p.ProbeTopic(context.Background(), "Some Topic", "", time.Second)
	require.NoError(t, err)
	assert.True(t, result.Ready)
}

func TestAddressMatches(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
		want     bool
	}{
		{"exact", "https://docs.example.com/a", "https://docs.example.com/a", true},
		{"trailing slash", "https://docs.example.com/a/", "https://docs.example.com/a", true},
		{"router rewrite deeper", "https://docs.example.com/a/b/c", "https://docs.example.com/a", true},
		{"expected deeper", "https://docs.example.com/a", "https://docs.example.com/a/b", true},
		{"different host", "https://other.example.com/a", "https://docs.example.com/a", false},
		{"host case insensitive", "https://Docs.Example.com/a", "https://docs.example.com/a", true},
		{"query ignored", "https://docs.example.com/a?v=2", "https://docs.example.com/a", true},
		{"fragment ignored", "https://docs.example.com/a#section", "https://docs.example.com/a", true},
		{"disjoint paths", "https://docs.example.com/x", "https://docs.example.com/y", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddressMatches(tt.got, tt.expected))
		})
	}
}
