// Package otel provides OpenTelemetry integration for conversion events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petal-labs/promptc/convert"
)

// TracingHandler translates conversion events into OpenTelemetry spans. Each
// conversion gets a root span; every expanded subgraph instance becomes a
// child span and every dropped node a span event.
type TracingHandler struct {
	tracer trace.Tracer

	mu           sync.RWMutex
	convertSpans map[string]trace.Span      // convertID -> span
	convertCtxs  map[string]context.Context // convertID -> context (for child spans)
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from conversion events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:       tracer,
		convertSpans: make(map[string]trace.Span),
		convertCtxs:  make(map[string]context.Context),
	}
}

// Handle processes a conversion event. It has convert.EventHandler
// semantics.
func (h *TracingHandler) Handle(e convert.Event) {
	switch e.Kind {
	case convert.EventConvertStarted:
		h.handleStarted(e)
	case convert.EventInstanceExpanded:
		h.handleInstanceExpanded(e)
	case convert.EventNodeDropped:
		h.handleNodeDropped(e)
	case convert.EventConvertFinished:
		h.handleFinished(e)
	}
}

func (h *TracingHandler) handleStarted(e convert.Event) {
	spanName := "convert"
	if source := payloadString(e, "source"); source != "" {
		spanName = "convert:" + source
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("promptc.convert_id", e.ConvertID),
			attribute.Int("promptc.nodes", payloadInt(e, "nodes")),
			attribute.Int("promptc.definitions", payloadInt(e, "definitions")),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.convertSpans[e.ConvertID] = span
	h.convertCtxs[e.ConvertID] = ctx
	h.mu.Unlock()
}

// handleInstanceExpanded records a finished child span covering the
// instance's expansion.
func (h *TracingHandler) handleInstanceExpanded(e convert.Event) {
	h.mu.RLock()
	parentCtx, ok := h.convertCtxs[e.ConvertID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "instance:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("promptc.convert_id", e.ConvertID),
			attribute.String("promptc.instance_id", e.NodeID),
			attribute.String("promptc.definition", e.NodeType),
			attribute.String("promptc.definition_name", payloadString(e, "name")),
			attribute.Int("promptc.depth", payloadInt(e, "depth")),
			attribute.Int("promptc.entries", payloadInt(e, "entries")),
		),
		trace.WithTimestamp(e.Time.Add(-e.Elapsed)),
	)
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleNodeDropped(e convert.Event) {
	h.mu.RLock()
	span, ok := h.convertSpans[e.ConvertID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(
		attribute.String("promptc.node_id", e.NodeID),
		attribute.String("promptc.node_type", e.NodeType),
		attribute.String("promptc.reason", payloadString(e, "reason")),
	))
}

func (h *TracingHandler) handleFinished(e convert.Event) {
	h.mu.Lock()
	span, ok := h.convertSpans[e.ConvertID]
	if ok {
		delete(h.convertSpans, e.ConvertID)
		delete(h.convertCtxs, e.ConvertID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	span.SetAttributes(
		attribute.String("promptc.duration", e.Elapsed.String()),
		attribute.Int("promptc.entries", payloadInt(e, "entries")),
		attribute.Int("promptc.instances", payloadInt(e, "instances")),
		attribute.Int("promptc.diagnostics", payloadInt(e, "diagnostics")),
	)
	// Diagnostics are warnings; the conversion itself succeeded.
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext of the running conversion
// identified by convertID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveSpanContext(convertID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.convertSpans[convertID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func payloadString(e convert.Event, key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func payloadInt(e convert.Event, key string) int {
	if v, ok := e.Payload[key]; ok {
		if n, ok := v.(int); ok {
			return n
		}
	}
	return 0
}
