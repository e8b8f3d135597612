package extract

import (
	"context"
	"fmt"

	"github.com/entrhq/docpack/pkg/delivery"
	"github.com/entrhq/docpack/pkg/probe"
)

// MetricsSource adapts the in-page agent's metrics request to the prober's
// Source interface. One snapshot per call, nothing cached.
type MetricsSource struct {
	queue    *delivery.Queue
	targetID string
}

// NewMetricsSource creates a metrics source for one target.
func NewMetricsSource(queue *delivery.Queue, targetID string) *MetricsSource {
	return &MetricsSource{
		queue:    queue,
		targetID: targetID,
	}
}

// Snapshot fetches a fresh content-sufficiency snapshot from the agent.
func (s *MetricsSource) Snapshot(ctx context.Context) (probe.Snapshot, error) {
	result, err := s.queue.Send(ctx, s.targetID, delivery.Request{Action: "metrics"})
	if err != nil {
		return probe.Snapshot{}, err
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		return probe.Snapshot{}, fmt.Errorf("unexpected metrics payload: %T", result)
	}

	return probe.Snapshot{
		Address:         asString(m["address"]),
		HasContent:      asBool(m["hasContent"]),
		TextVolume:      asInt(m["textVolume"]),
		StructuralCount: asInt(m["structuralCount"]),
		HasDiagram:      asBool(m["hasDiagram"]),
		Heading:         asString(m["heading"]),
		ContentHash:     asString(m["contentHash"]),
	}, nil
}

// Evaluate results arrive as loosely typed JSON values; numbers may be
// float64 or int depending on the driver.

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
