// Package graph defines the flat execution graph submitted to the execution
// server, its JSON codec, and structural validation.
package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Diagnostic represents a validation error or warning produced by
// conversion or graph validation.
type Diagnostic struct {
	Code     string `json:"code"`           // e.g. "GR-001", "CV-003"
	Severity string `json:"severity"`       // "error" or "warning"
	Message  string `json:"message"`        // human-readable description
	Path     string `json:"path,omitempty"` // location of the offending node or input
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// HasErrors returns true if any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity diagnostics.
func Errors(diags []Diagnostic) []Diagnostic {
	var errs []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Warnings returns only the warning-severity diagnostics.
func Warnings(diags []Diagnostic) []Diagnostic {
	var warns []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityWarning {
			warns = append(warns, d)
		}
	}
	return warns
}

// ExecutionGraph is the flat program accepted by the execution server's
// prompt endpoint, keyed by globally unique node id.
type ExecutionGraph map[string]*Entry

// Entry is one operation in an ExecutionGraph. Input values are either
// literals or a Ref to another entry's output.
type Entry struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *Meta          `json:"_meta,omitempty"`
}

// Meta carries editor-only information the server echoes back in errors.
type Meta struct {
	Title string `json:"title,omitempty"`
}

// Ref points at output Slot of entry NodeID. It encodes as [id, slot].
type Ref struct {
	NodeID string
	Slot   int
}

func (r Ref) String() string {
	return fmt.Sprintf("[%q, %d]", r.NodeID, r.Slot)
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.NodeID, r.Slot})
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("graph: reference must have 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &r.NodeID); err != nil {
		return fmt.Errorf("graph: reference id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &r.Slot); err != nil {
		return fmt.Errorf("graph: reference slot: %w", err)
	}
	return nil
}

// AsRef reports whether an input value is a reference. Both decoded Ref
// values and raw [string, integer] pairs are recognised.
func AsRef(v any) (Ref, bool) {
	switch x := v.(type) {
	case Ref:
		return x, true
	case *Ref:
		if x == nil {
			return Ref{}, false
		}
		return *x, true
	case []any:
		if len(x) != 2 {
			return Ref{}, false
		}
		id, ok := x[0].(string)
		if !ok {
			return Ref{}, false
		}
		slot, ok := integer(x[1])
		if !ok {
			return Ref{}, false
		}
		return Ref{NodeID: id, Slot: slot}, true
	default:
		return Ref{}, false
	}
}

func integer(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// Parse decodes an execution graph. Numbers are kept as json.Number and
// [id, slot] pairs become Ref values.
func Parse(data []byte) (ExecutionGraph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var g ExecutionGraph
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("graph: decode: %w", err)
	}
	if g == nil {
		return nil, fmt.Errorf("graph: decode: expected an object")
	}
	for id, e := range g {
		if e == nil {
			return nil, fmt.Errorf("graph: node %q: entry is null", id)
		}
		for name, v := range e.Inputs {
			if ref, ok := AsRef(v); ok {
				e.Inputs[name] = ref
			}
		}
	}
	return g, nil
}

// Marshal encodes the graph with keys in sorted order.
func (g ExecutionGraph) Marshal(pretty bool) ([]byte, error) {
	if g == nil {
		g = ExecutionGraph{}
	}
	if pretty {
		return json.MarshalIndent(g, "", "  ")
	}
	return json.Marshal(g)
}

// IDs returns every node id, numeric ids first in numeric order.
func (g ExecutionGraph) IDs() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
	return ids
}

// Clone returns a deep copy of the graph.
func (g ExecutionGraph) Clone() ExecutionGraph {
	out := make(ExecutionGraph, len(g))
	for id, e := range g {
		cp := &Entry{ClassType: e.ClassType, Inputs: make(map[string]any, len(e.Inputs))}
		for k, v := range e.Inputs {
			cp.Inputs[k] = cloneValue(v)
		}
		if e.Meta != nil {
			m := *e.Meta
			cp.Meta = &m
		}
		out[id] = cp
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// lessID orders numeric-looking ids numerically and everything else
// lexically, with numbers first.
func lessID(a, b string) bool {
	an, aok := parseUint(a)
	bn, bok := parseUint(b)
	switch {
	case aok && bok:
		if an != bn {
			return an < bn
		}
		return a < b
	case aok != bok:
		return aok
	default:
		return a < b
	}
}

func parseUint(s string) (uint64, bool) {
	if s == "" || len(s) > 19 {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}
