// Package convert turns an editor graph, including nested subgraph
// instances, into the flat execution graph the server runs.
//
// The pass is synchronous and pure: the object-info table is passed in and
// never mutated, so conversions can run concurrently. Nodes that cannot be
// converted are dropped and reported as warning diagnostics; only input
// that is not a graph at all is an error.
package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/petal-labs/promptc/graph"
	"github.com/petal-labs/promptc/objectinfo"
	"github.com/petal-labs/promptc/workflow"
)

var (
	// ErrStructure reports input that is neither an editor graph nor an
	// execution graph.
	ErrStructure = workflow.ErrStructure

	// ErrNoSchema is returned when an editor graph must be converted but no
	// object-info table or provider was supplied.
	ErrNoSchema = errors.New("no object-info table available")
)

// Diagnostic codes produced by a conversion. All are warnings.
const (
	CodeUnknownType       = "CV-001"
	CodeControlWidget     = "CV-002"
	CodeDuplicateOutput   = "CV-003"
	CodeInstanceCycle     = "CV-004"
	CodeUnresolvedInput   = "CV-005"
	CodeRecursiveSubgraph = "CV-006"
	CodeMalformedLink     = "CV-007"
)

// Result is the outcome of a conversion.
type Result struct {
	Graph       graph.ExecutionGraph
	Diagnostics []graph.Diagnostic
	// PassThrough is true when the input already was an execution graph.
	PassThrough bool
}

// Convert converts raw JSON. Execution graphs are returned unchanged, so
// converting an already converted graph is a no-op.
func Convert(ctx context.Context, data []byte, opts ...Option) (*Result, error) {
	var top map[string]json.RawMessage
	if err := sonic.Unmarshal(data, &top); err != nil || top == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrStructure)
	}

	if _, ok := top["nodes"]; !ok {
		if !isExecutionShaped(top) {
			return nil, fmt.Errorf("%w: missing \"nodes\" and not an execution graph", ErrStructure)
		}
		g, err := graph.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStructure, err)
		}
		return &Result{Graph: g, PassThrough: true}, nil
	}

	wf, err := workflow.Parse(data)
	if err != nil {
		return nil, err
	}

	cfg := newConfig(opts)
	table := cfg.table
	if table == nil {
		if cfg.provider == nil {
			return nil, ErrNoSchema
		}
		table, err = cfg.provider.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch object info: %w", err)
		}
		if table == nil {
			return nil, ErrNoSchema
		}
	}

	return ConvertWorkflow(wf, table, opts...), nil
}

// isExecutionShaped reports whether every value is an object carrying a
// class_type. An empty object qualifies.
func isExecutionShaped(top map[string]json.RawMessage) bool {
	for _, raw := range top {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return false
		}
		var probe struct {
			ClassType *string `json:"class_type"`
		}
		if err := sonic.Unmarshal(trimmed, &probe); err != nil || probe.ClassType == nil {
			return false
		}
	}
	return true
}

// ConvertWorkflow converts a decoded editor graph against table. It never
// fails; anything it cannot convert is reported in Result.Diagnostics.
func ConvertWorkflow(wf *workflow.Workflow, table *objectinfo.Table, opts ...Option) *Result {
	cfg := newConfig(opts)
	c := &converter{
		cfg:       cfg,
		table:     table,
		defs:      make(map[string]*workflow.Subgraph, len(wf.Definitions.Subgraphs)),
		out:       make(graph.ExecutionGraph),
		instances: make(map[string]map[int]any),
		id:        uuid.NewString(),
	}
	for i := range wf.Definitions.Subgraphs {
		sg := &wf.Definitions.Subgraphs[i]
		c.defs[sg.ID] = sg
	}

	start := time.Now()
	c.emit(NewEvent(EventConvertStarted, c.id).withPayload(map[string]any{
		"nodes":       len(wf.Nodes),
		"definitions": len(c.defs),
		"source":      cfg.source,
	}))

	c.reportSkippedLinks(wf)
	c.convertLevel(wf.Root(), "", nil, nil)
	c.patchReferences()
	c.sweepDangling()

	elapsed := time.Since(start)
	c.cfg.logger.Debug("conversion finished",
		"entries", len(c.out),
		"instances", len(c.instances),
		"diagnostics", len(c.diags),
		"elapsed", elapsed.String(),
	)
	c.emit(NewEvent(EventConvertFinished, c.id).WithElapsed(elapsed).withPayload(map[string]any{
		"entries":     len(c.out),
		"instances":   len(c.instances),
		"diagnostics": len(c.diags),
	}))

	return &Result{Graph: c.out, Diagnostics: c.diags}
}

func (e Event) withPayload(p map[string]any) Event {
	for k, v := range p {
		e.Payload[k] = v
	}
	return e
}

// converter holds the state of one conversion call.
type converter struct {
	cfg   *config
	table *objectinfo.Table
	defs  map[string]*workflow.Subgraph
	id    string

	out   graph.ExecutionGraph
	diags []graph.Diagnostic

	// instances maps a prefixed instance id to its output-port bindings.
	instances map[string]map[int]any

	// stack holds the definitions currently being expanded.
	stack []string
}

func (c *converter) warn(code, path, format string, args ...any) {
	c.diags = append(c.diags, graph.Diagnostic{
		Code:     code,
		Severity: graph.SeverityWarning,
		Message:  fmt.Sprintf(format, args...),
		Path:     path,
	})
}

// reportSkippedLinks warns about link entries dropped while decoding.
func (c *converter) reportSkippedLinks(wf *workflow.Workflow) {
	for _, i := range wf.SkippedLinks {
		c.warn(CodeMalformedLink, fmt.Sprintf("links[%d]", i), "Link entry %d is malformed and was skipped", i)
	}
	for _, sg := range wf.Definitions.Subgraphs {
		for _, i := range sg.SkippedLinks {
			c.warn(CodeMalformedLink, fmt.Sprintf("%s.links[%d]", sg.ID, i),
				"Link entry %d of subgraph %q is malformed and was skipped", i, sg.ID)
		}
	}
}

func (c *converter) emit(e Event) {
	if c.cfg.handler != nil {
		c.cfg.handler(e)
	}
}
