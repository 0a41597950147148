package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-go-golems/mcpturn/pkg/events"
)

const namespace = "mcpturn"

// Sink turns turn events into prometheus metrics. Register it as an
// events.EventSink on the context of RunTurn, or behind an event router.
type Sink struct {
	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	stages       *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	rejections   *prometheus.CounterVec
}

var _ events.EventSink = (*Sink)(nil)

// NewSink creates the collectors and registers them with registerer, or
// with prometheus.DefaultRegisterer when it is nil.
func NewSink(registerer prometheus.Registerer) (*Sink, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	s := &Sink{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Finished turns, partitioned by status.",
		}, []string{"status"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of successful turns.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
		}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_stages_total",
			Help:      "Stages entered by turns.",
		}, []string{"stage"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Executed tool calls, partitioned by tool and status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Tool invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "rejections_total",
			Help:      "Extracted tool calls dropped by validation, partitioned by reason.",
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		s.turns, s.turnDuration, s.stages, s.toolCalls, s.toolDuration, s.rejections,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, errors.Wrap(err, "could not register turn metrics")
		}
	}

	return s, nil
}

func (s *Sink) PublishEvent(event events.Event) error {
	switch e := event.(type) {
	case *events.EventTurnStage:
		s.stages.WithLabelValues(e.Stage).Inc()
	case *events.EventToolCallRejected:
		s.rejections.WithLabelValues(e.Kind).Inc()
	case *events.EventToolCallExecutionResult:
		status := "success"
		if e.ToolResult.Error != "" {
			status = "error"
		}
		s.toolCalls.WithLabelValues(e.ToolResult.Name, status).Inc()
		s.toolDuration.WithLabelValues(e.ToolResult.Name).Observe(msToSeconds(e.ToolResult.DurationMs))
	case *events.EventTurnFinal:
		s.turns.WithLabelValues("success").Inc()
		s.turnDuration.Observe(msToSeconds(e.DurationMs))
	case *events.EventError:
		s.turns.WithLabelValues("error").Inc()
	}
	return nil
}

func msToSeconds(ms int64) float64 {
	return (time.Duration(ms) * time.Millisecond).Seconds()
}
