package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/docpack/pkg/delivery"
)

// stubAgent answers agent requests with canned responses, keyed by action.
func stubAgent(responses map[string]interface{}) *delivery.Queue {
	transport := func(_ context.Context, _ string, req delivery.Request) (interface{}, error) {
		return responses[req.Action], nil
	}
	q := delivery.NewQueue(transport, time.Second)
	q.MarkReady("tab1")
	return q
}

func TestConvertCurrentRendersMarkdown(t *testing.T) {
	q := stubAgent(map[string]interface{}{
		"content": map[string]interface{}{
			"ok":      true,
			"html":    `<article><h1>Getting Started</h1><p>Install the tool first.</p><pre><code>npm install docpack</code></pre></article>`,
			"title":   "Getting Started",
			"address": "https://docs.example.com/guide/start",
		},
	})
	c := NewPageConverter(q, "tab1", nil)

	conv, err := c.ConvertCurrent(context.Background())
	require.NoError(t, err)
	require.True(t, conv.OK)
	assert.Equal(t, "Getting Started", conv.TitleHint)
	assert.Contains(t, conv.Markdown, "# Getting Started")
	assert.Contains(t, conv.Markdown, "Install the tool first.")
	assert.Contains(t, conv.Markdown, "npm install docpack")
}

func TestConvertCurrentStripsNoise(t *testing.T) {
	q := stubAgent(map[string]interface{}{
		"content": map[string]interface{}{
			"ok":      true,
			"html":    `<div><h2>Config</h2><script>alert(1)</script><style>.x{}</style><p>Set the value.</p><nav><a href="/x">other</a></nav></div>`,
			"title":   "Config",
			"address": "https://docs.example.com/config",
		},
	})
	c := NewPageConverter(q, "tab1", nil)

	conv, err := c.ConvertCurrent(context.Background())
	require.NoError(t, err)
	require.True(t, conv.OK)
	assert.Contains(t, conv.Markdown, "Set the value.")
	assert.NotContains(t, conv.Markdown, "alert(1)")
	assert.NotContains(t, conv.Markdown, ".x{}")
	assert.NotContains(t, conv.Markdown, "other")
}

func TestConvertCurrentAgentFailure(t *testing.T) {
	q := stubAgent(map[string]interface{}{
		"content": map[string]interface{}{
			"ok":    false,
			"error": "no content root",
		},
	})
	c := NewPageConverter(q, "tab1", nil)

	conv, err := c.ConvertCurrent(context.Background())
	require.NoError(t, err)
	assert.False(t, conv.OK)
	assert.Equal(t, "no content root", conv.Error)
}

func TestSelectTopic(t *testing.T) {
	q := stubAgent(map[string]interface{}{
		"selectTopic": map[string]interface{}{
			"ok":            true,
			"selectedTitle": "Advanced",
		},
	})
	c := NewPageConverter(q, "tab1", nil)

	sel, err := c.SelectTopic(context.Background(), 1, "Advanced")
	require.NoError(t, err)
	assert.True(t, sel.OK)
	assert.Equal(t, "Advanced", sel.SelectedTitle)
}

func TestSelectTopicNotFound(t *testing.T) {
	q := stubAgent(map[string]interface{}{
		"selectTopic": map[string]interface{}{
			"ok":    false,
			"error": "topic control not found",
		},
	})
	c := NewPageConverter(q, "tab1", nil)

	sel, err := c.SelectTopic(context.Background(), 9, "")
	require.NoError(t, err)
	assert.False(t, sel.OK)
	assert.Equal(t, "topic control not found", sel.Error)
}

func TestMetricsSourceSnapshot(t *testing.T) {
	q := stubAgent(map[string]interface{}{
		"metrics": map[string]interface{}{
			"address":         "https://docs.example.com/guide",
			"hasContent":      true,
			"textVolume":      float64(420),
			"structuralCount": float64(7),
			"hasDiagram":      false,
			"heading":         "Guide",
			"contentHash":     "abc:420",
		},
	})
	source := NewMetricsSource(q, "tab1")

	snapshot, err := source.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/guide", snapshot.Address)
	assert.True(t, snapshot.HasContent)
	assert.Equal(t, 420, snapshot.TextVolume)
	assert.Equal(t, 7, snapshot.StructuralCount)
	assert.Equal(t, "Guide", snapshot.Heading)
	assert.Equal(t, "abc:420", snapshot.ContentHash)
}
