package metrics

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/mcpturn/pkg/events"
)

func newTestSink(t *testing.T) (*Sink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s, err := NewSink(reg)
	require.NoError(t, err)
	return s, reg
}

func TestSink_CountsTurnEvents(t *testing.T) {
	s, _ := newTestSink(t)
	meta := events.NewEventMetadata("turn-1")

	for _, stage := range []string{"preprocess", "model-invoke", "extract"} {
		require.NoError(t, s.PublishEvent(events.NewTurnStageEvent(meta, stage)))
	}
	require.NoError(t, s.PublishEvent(events.NewToolCallRejectedEvent(meta, events.ToolCall{Name: "nope"}, "unknown_tool", "tool not found")))
	require.NoError(t, s.PublishEvent(events.NewToolCallExecutionResultEvent(meta, events.ToolResult{Name: "get_time", Result: "12:00", DurationMs: 20})))
	require.NoError(t, s.PublishEvent(events.NewToolCallExecutionResultEvent(meta, events.ToolResult{Name: "get_time", Error: "boom", DurationMs: 5})))
	require.NoError(t, s.PublishEvent(events.NewTurnFinalEvent(meta, "done", 2, 1500)))
	require.NoError(t, s.PublishEvent(events.NewErrorEvent(meta, "model-invoke", errors.New("down"))))

	assert.Equal(t, 1.0, testutil.ToFloat64(s.stages.WithLabelValues("extract")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.rejections.WithLabelValues("unknown_tool")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.toolCalls.WithLabelValues("get_time", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.toolCalls.WithLabelValues("get_time", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.turns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.turns.WithLabelValues("error")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.toolDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(s.turnDuration))
}

func TestSink_DoubleRegistrationFails(t *testing.T) {
	_, reg := newTestSink(t)
	_, err := NewSink(reg)
	assert.Error(t, err)
}

func TestSink_IgnoresOtherEvents(t *testing.T) {
	s, reg := newTestSink(t)
	meta := events.NewEventMetadata("turn-1")
	require.NoError(t, s.PublishEvent(events.NewToolCallExecuteEvent(meta, events.ToolCall{Name: "x"})))

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				assert.Zero(t, c.GetValue(), f.GetName())
			}
		}
	}
}
