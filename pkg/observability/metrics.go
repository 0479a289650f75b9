// Package observability exports engine metrics through OpenTelemetry.
// Metric emission never blocks and never fails a caller.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/openpharma/rxengine/pkg/model"
)

const meterName = "github.com/openpharma/rxengine"

// WorkflowMetrics counts committed lifecycle transitions and times
// them. It satisfies the workflow observer contract.
type WorkflowMetrics struct {
	transitions metric.Int64Counter
	duration    metric.Float64Histogram
	terminal    metric.Int64Counter
}

// NewWorkflowMetrics builds instruments on the meter; nil uses the
// global provider.
func NewWorkflowMetrics(meter metric.Meter) (*WorkflowMetrics, error) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	transitions, err := meter.Int64Counter("rx.transitions",
		metric.WithDescription("committed prescription state transitions"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("rx.transition.duration",
		metric.WithDescription("time to commit one transition"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	terminal, err := meter.Int64Counter("rx.terminal",
		metric.WithDescription("prescriptions reaching a terminal state"))
	if err != nil {
		return nil, err
	}
	return &WorkflowMetrics{transitions: transitions, duration: duration, terminal: terminal}, nil
}

// Transition records one committed edge.
func (m *WorkflowMetrics) Transition(from, to model.RxState, took time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)
	m.transitions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, took.Seconds(), attrs)
	if to.Terminal() {
		m.terminal.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(to))))
	}
}
