package otel_test

import (
	"context"
	"testing"
	"time"

	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/petal-labs/promptc/convert"
	"github.com/petal-labs/promptc/objectinfo"
	promptcotel "github.com/petal-labs/promptc/otel"
)

// newTestTracer returns a tracer backed by an in-memory span exporter.
func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	return exporter, tp
}

func findSpan(spans tracetest.SpanStubs, name string) *tracetest.SpanStub {
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	return nil
}

func hasAttr(span *tracetest.SpanStub, key, want string) bool {
	for _, attr := range span.Attributes {
		if string(attr.Key) == key && attr.Value.Emit() == want {
			return true
		}
	}
	return false
}

const testObjectInfo = `{
  "LoadImage": {"input": {"optional": {"path": ["STRING", {}]}}, "output": ["IMAGE"]},
  "Invert": {"input": {"required": {"image": ["IMAGE"]}}, "output": ["IMAGE"]}
}`

// testWorkflow has one subgraph instance and one note.
const testWorkflow = `{
  "nodes": [
    {"id": 1, "type": "LoadImage", "widgets_values": ["a.png"]},
    {"id": 7, "type": "sg", "inputs": [{"name": "image", "type": "IMAGE", "link": 1}]},
    {"id": 8, "type": "Invert", "inputs": [{"name": "image", "type": "IMAGE", "link": 2}]},
    {"id": 9, "type": "Note", "widgets_values": ["remember"]}
  ],
  "links": [[1, 1, 0, 7, 0, "IMAGE"], [2, 7, 0, 8, 0, "IMAGE"]],
  "definitions": {"subgraphs": [{
    "id": "sg",
    "name": "Invert twice",
    "inputs": [{"name": "image", "type": "IMAGE"}],
    "outputs": [{"name": "image", "type": "IMAGE"}],
    "nodes": [{"id": 3, "type": "Invert", "inputs": [{"name": "image", "type": "IMAGE", "link": 1}]}],
    "links": [
      {"id": 1, "origin_id": -10, "origin_slot": 0, "target_id": 3, "target_slot": 0, "type": "IMAGE"},
      {"id": 2, "origin_id": 3, "origin_slot": 0, "target_id": -20, "target_slot": 0, "type": "IMAGE"}
    ]
  }]}
}`

func mustTable(t *testing.T) *objectinfo.Table {
	t.Helper()
	table, err := objectinfo.Parse([]byte(testObjectInfo))
	if err != nil {
		t.Fatalf("objectinfo.Parse() error = %v", err)
	}
	return table
}

func TestTracingHandler_StartedCreatesRootSpan(t *testing.T) {
	exporter, tp := newTestTracer()
	h := promptcotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(convert.Event{
		Kind:      convert.EventConvertStarted,
		ConvertID: "c-1",
		Time:      now,
		Payload:   map[string]any{"source": "portrait.json", "nodes": 12, "definitions": 2},
	})

	if sc := h.ActiveSpanContext("c-1"); !sc.IsValid() {
		t.Fatal("expected valid span context after convert.started")
	}

	h.Handle(convert.Event{
		Kind:      convert.EventConvertFinished,
		ConvertID: "c-1",
		Time:      now.Add(5 * time.Millisecond),
		Elapsed:   5 * time.Millisecond,
		Payload:   map[string]any{"entries": 9, "instances": 2, "diagnostics": 1},
	})

	if sc := h.ActiveSpanContext("c-1"); sc.IsValid() {
		t.Error("span still active after convert.finished")
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	root := &spans[0]
	if root.Name != "convert:portrait.json" {
		t.Errorf("span name = %q, want convert:portrait.json", root.Name)
	}
	for key, want := range map[string]string{
		"promptc.convert_id":  "c-1",
		"promptc.nodes":       "12",
		"promptc.entries":     "9",
		"promptc.diagnostics": "1",
	} {
		if !hasAttr(root, key, want) {
			t.Errorf("missing attribute %s=%s", key, want)
		}
	}
	if root.Status.Code != otelcodes.Ok {
		t.Errorf("status = %v, want Ok", root.Status.Code)
	}
}

func TestTracingHandler_UnnamedConversion(t *testing.T) {
	exporter, tp := newTestTracer()
	h := promptcotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(convert.Event{Kind: convert.EventConvertStarted, ConvertID: "c-2", Time: now, Payload: map[string]any{}})
	h.Handle(convert.Event{Kind: convert.EventConvertFinished, ConvertID: "c-2", Time: now, Payload: map[string]any{}})

	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "convert" {
		t.Fatalf("spans = %v, want one span named convert", spans)
	}
}

func TestTracingHandler_InstanceSpanIsChild(t *testing.T) {
	exporter, tp := newTestTracer()
	h := promptcotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(convert.Event{Kind: convert.EventConvertStarted, ConvertID: "c-1", Time: now, Payload: map[string]any{}})
	rootSC := h.ActiveSpanContext("c-1")

	h.Handle(convert.Event{
		Kind:      convert.EventInstanceExpanded,
		ConvertID: "c-1",
		NodeID:    "sg7_12",
		NodeType:  "def-inner",
		Time:      now.Add(4 * time.Millisecond),
		Elapsed:   3 * time.Millisecond,
		Payload:   map[string]any{"name": "Upscale", "depth": 2, "entries": 3},
	})
	h.Handle(convert.Event{Kind: convert.EventConvertFinished, ConvertID: "c-1", Time: now.Add(5 * time.Millisecond), Payload: map[string]any{}})

	spans := exporter.GetSpans()
	inst := findSpan(spans, "instance:sg7_12")
	if inst == nil {
		t.Fatal("did not find instance:sg7_12 span")
	}
	if inst.Parent.SpanID() != rootSC.SpanID() || inst.Parent.TraceID() != rootSC.TraceID() {
		t.Error("instance span is not a child of the conversion span")
	}
	if got := inst.EndTime.Sub(inst.StartTime); got != 3*time.Millisecond {
		t.Errorf("instance span duration = %v, want 3ms", got)
	}
	if !hasAttr(inst, "promptc.definition", "def-inner") || !hasAttr(inst, "promptc.depth", "2") {
		t.Errorf("instance attributes = %v", inst.Attributes)
	}
}

func TestTracingHandler_DroppedNodeIsSpanEvent(t *testing.T) {
	exporter, tp := newTestTracer()
	h := promptcotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(convert.Event{Kind: convert.EventConvertStarted, ConvertID: "c-1", Time: now, Payload: map[string]any{}})
	h.Handle(convert.Event{
		Kind:      convert.EventNodeDropped,
		ConvertID: "c-1",
		NodeID:    "4",
		NodeType:  "MysteryNode",
		Time:      now,
		Payload:   map[string]any{"reason": convert.DropUnknownType},
	})
	// Events for unknown conversions are ignored.
	h.Handle(convert.Event{Kind: convert.EventNodeDropped, ConvertID: "other", NodeID: "1", Time: now, Payload: map[string]any{}})
	h.Handle(convert.Event{Kind: convert.EventConvertFinished, ConvertID: "c-1", Time: now, Payload: map[string]any{}})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events
	if len(events) != 1 || events[0].Name != "node.dropped" {
		t.Fatalf("events = %v, want one node.dropped", events)
	}
	found := false
	for _, attr := range events[0].Attributes {
		if string(attr.Key) == "promptc.reason" && attr.Value.AsString() == convert.DropUnknownType {
			found = true
		}
	}
	if !found {
		t.Error("expected promptc.reason attribute on node.dropped event")
	}
}

func TestTracingHandler_FinishWithoutStart(t *testing.T) {
	exporter, tp := newTestTracer()
	h := promptcotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(convert.Event{Kind: convert.EventConvertFinished, ConvertID: "never-started", Time: time.Now()})
	if spans := exporter.GetSpans(); len(spans) != 0 {
		t.Errorf("expected no spans, got %d", len(spans))
	}
}

func TestTracingHandler_WithConvert(t *testing.T) {
	exporter, tp := newTestTracer()
	h := promptcotel.NewTracingHandler(tp.Tracer("test"))

	res, err := convert.Convert(context.Background(), []byte(testWorkflow),
		convert.WithTable(mustTable(t)),
		convert.WithSource("flow.json"),
		convert.WithEventHandler(h.Handle),
	)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(res.Graph) != 3 {
		t.Fatalf("len(Graph) = %d, want 3", len(res.Graph))
	}

	spans := exporter.GetSpans()
	root := findSpan(spans, "convert:flow.json")
	if root == nil {
		t.Fatalf("conversion span missing from %d spans", len(spans))
	}
	if !hasAttr(root, "promptc.entries", "3") {
		t.Errorf("root attributes = %v", root.Attributes)
	}
	if len(root.Events) != 1 {
		t.Errorf("root events = %d, want 1 (the note)", len(root.Events))
	}
	inst := findSpan(spans, "instance:7")
	if inst == nil {
		t.Fatal("instance:7 span missing")
	}
	if !hasAttr(inst, "promptc.definition_name", "Invert twice") {
		t.Errorf("instance attributes = %v", inst.Attributes)
	}
}
