package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petal-labs/promptc/convert"
)

// MetricsHandler translates conversion events into OpenTelemetry metrics.
// It records counters for conversions, instance expansions and dropped
// nodes, and histograms for conversion duration and output size.
type MetricsHandler struct {
	conversions      metric.Int64Counter
	expansions       metric.Int64Counter
	droppedNodes     metric.Int64Counter
	diagnostics      metric.Int64Counter
	convertDuration  metric.Float64Histogram
	instanceDuration metric.Float64Histogram
	entries          metric.Int64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	conversions, err := meter.Int64Counter("promptc.convert.count",
		metric.WithDescription("Number of completed conversions"),
	)
	if err != nil {
		return nil, err
	}

	expansions, err := meter.Int64Counter("promptc.instance.expansions",
		metric.WithDescription("Number of subgraph instances inlined"),
	)
	if err != nil {
		return nil, err
	}

	dropped, err := meter.Int64Counter("promptc.node.dropped",
		metric.WithDescription("Number of editor nodes excluded from the output"),
	)
	if err != nil {
		return nil, err
	}

	diags, err := meter.Int64Counter("promptc.convert.diagnostics",
		metric.WithDescription("Number of conversion warnings"),
	)
	if err != nil {
		return nil, err
	}

	convertDur, err := meter.Float64Histogram("promptc.convert.duration",
		metric.WithDescription("Duration of a conversion in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	instanceDur, err := meter.Float64Histogram("promptc.instance.duration",
		metric.WithDescription("Duration of one subgraph instance expansion in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	entries, err := meter.Int64Histogram("promptc.convert.entries",
		metric.WithDescription("Number of entries in the produced execution graph"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		conversions:      conversions,
		expansions:       expansions,
		droppedNodes:     dropped,
		diagnostics:      diags,
		convertDuration:  convertDur,
		instanceDuration: instanceDur,
		entries:          entries,
	}, nil
}

// Handle processes a conversion event and records the matching metrics.
func (h *MetricsHandler) Handle(e convert.Event) {
	switch e.Kind {
	case convert.EventInstanceExpanded:
		h.handleInstanceExpanded(e)
	case convert.EventNodeDropped:
		h.handleNodeDropped(e)
	case convert.EventConvertFinished:
		h.handleFinished(e)
	}
}

func (h *MetricsHandler) handleInstanceExpanded(e convert.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("definition", e.NodeType),
		attribute.Int("depth", payloadInt(e, "depth")),
	)
	h.expansions.Add(ctx, 1, attrs)
	h.instanceDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

func (h *MetricsHandler) handleNodeDropped(e convert.Event) {
	h.droppedNodes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("reason", payloadString(e, "reason")),
		attribute.String("node_type", e.NodeType),
	))
}

func (h *MetricsHandler) handleFinished(e convert.Event) {
	ctx := context.Background()
	h.conversions.Add(ctx, 1)
	h.convertDuration.Record(ctx, e.Elapsed.Seconds())
	h.entries.Record(ctx, int64(payloadInt(e, "entries")))
	if n := payloadInt(e, "diagnostics"); n > 0 {
		h.diagnostics.Add(ctx, int64(n))
	}
}
