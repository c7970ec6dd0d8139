package graph

import (
	"fmt"
	"sort"

	"github.com/petal-labs/promptc/objectinfo"
)

// Validate checks structural integrity of the execution graph:
//   - GR-001: every reference points at an existing entry
//   - GR-002: entries without a class type
//   - GR-004: references form no cycle
//
// Schema-dependent rules (GR-003, GR-005, GR-006) are checked via
// ValidateWithSchema.
func Validate(g ExecutionGraph) []Diagnostic {
	var diags []Diagnostic

	for _, id := range g.IDs() {
		e := g[id]
		if e.ClassType == "" {
			diags = append(diags, Diagnostic{
				Code:     "GR-002",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %q has no class_type", id),
				Path:     id,
			})
		}
		for _, name := range sortedInputs(e) {
			ref, ok := AsRef(e.Inputs[name])
			if !ok {
				continue
			}
			if _, exists := g[ref.NodeID]; !exists {
				diags = append(diags, Diagnostic{
					Code:     "GR-001",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Input %q references unknown node %q", name, ref.NodeID),
					Path:     fmt.Sprintf("%s.inputs.%s", id, name),
				})
			}
		}
	}

	// Only run if references are valid to avoid confusion.
	if !hasRefErrors(diags) {
		if cycle := detectCycle(g); cycle != "" {
			diags = append(diags, Diagnostic{
				Code:     "GR-004",
				Severity: SeverityError,
				Message:  fmt.Sprintf("Graph contains a cycle: %s", cycle),
			})
		}
	}

	return diags
}

// ValidateWithSchema runs structural validation plus schema-dependent checks:
//   - GR-003: class type exists in the object-info table
//   - GR-005: reference slot is within the producer's declared outputs (warning)
//   - GR-006: required inputs are present (warning)
func ValidateWithSchema(g ExecutionGraph, table *objectinfo.Table) []Diagnostic {
	diags := Validate(g)

	for _, id := range g.IDs() {
		e := g[id]
		nt, ok := table.Get(e.ClassType)
		if !ok {
			if e.ClassType != "" {
				diags = append(diags, Diagnostic{
					Code:     "GR-003",
					Severity: SeverityError,
					Message:  fmt.Sprintf("Node %q has unknown class type %q", id, e.ClassType),
					Path:     id + ".class_type",
				})
			}
			continue
		}

		for _, in := range nt.Inputs {
			if in.Section != objectinfo.SectionRequired {
				continue
			}
			if _, set := e.Inputs[in.Name]; !set {
				diags = append(diags, Diagnostic{
					Code:     "GR-006",
					Severity: SeverityWarning,
					Message:  fmt.Sprintf("Node %q (%s) is missing required input %q", id, e.ClassType, in.Name),
					Path:     fmt.Sprintf("%s.inputs.%s", id, in.Name),
				})
			}
		}

		for _, name := range sortedInputs(e) {
			ref, ok := AsRef(e.Inputs[name])
			if !ok {
				continue
			}
			producer, exists := g[ref.NodeID]
			if !exists {
				continue
			}
			pt, known := table.Get(producer.ClassType)
			if !known || len(pt.Outputs) == 0 {
				continue
			}
			if ref.Slot < 0 || ref.Slot >= len(pt.Outputs) {
				diags = append(diags, Diagnostic{
					Code:     "GR-005",
					Severity: SeverityWarning,
					Message: fmt.Sprintf("Input %q reads output %d of %q (%s), which declares %d outputs",
						name, ref.Slot, ref.NodeID, producer.ClassType, len(pt.Outputs)),
					Path: fmt.Sprintf("%s.inputs.%s", id, name),
				})
			}
		}
	}

	return diags
}

func hasRefErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Code == "GR-001" {
			return true
		}
	}
	return false
}

func sortedInputs(e *Entry) []string {
	names := make([]string, 0, len(e.Inputs))
	for name := range e.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// detectCycle uses Kahn's algorithm to find cycles. Returns a description
// of the cycle if found, or empty string if the graph is acyclic.
func detectCycle(g ExecutionGraph) string {
	ids := g.IDs()
	inDegree := make(map[string]int, len(ids))
	successors := make(map[string][]string)
	for _, id := range ids {
		inDegree[id] += 0
		for _, name := range sortedInputs(g[id]) {
			if ref, ok := AsRef(g[id].Inputs[name]); ok {
				successors[ref.NodeID] = append(successors[ref.NodeID], id)
				inDegree[id]++
			}
		}
	}

	queue := make([]string, 0)
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		for _, succ := range successors[current] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if visited < len(ids) {
		var cycleNodes []string
		for _, id := range ids {
			if inDegree[id] > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		return fmt.Sprintf("nodes involved: %v", cycleNodes)
	}
	return ""
}
