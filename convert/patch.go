package convert

import (
	"sort"

	"github.com/petal-labs/promptc/graph"
)

// patchReferences rewrites references that still name a subgraph instance
// (captured before that instance was expanded) to whatever its output port
// is bound to. Chains through several instances are followed; a chain that
// loops or ends at an unbound port leaves the input unresolved.
func (c *converter) patchReferences() {
	if len(c.instances) == 0 {
		return
	}
	for _, id := range c.out.IDs() {
		e := c.out[id]
		for _, name := range inputNames(e) {
			ref, ok := e.Inputs[name].(graph.Ref)
			if !ok {
				continue
			}
			if _, isInstance := c.instances[ref.NodeID]; !isInstance {
				continue
			}
			v, ok := c.follow(ref)
			if !ok {
				delete(e.Inputs, name)
				c.warn(CodeUnresolvedInput, id+".inputs."+name,
					"Input %q of node %q reads output %d of subgraph instance %q, which is not bound",
					name, id, ref.Slot, ref.NodeID)
				continue
			}
			e.Inputs[name] = v
		}
	}
}

// follow resolves ref through instance output bindings until it reaches a
// real producer or a literal.
func (c *converter) follow(ref graph.Ref) (any, bool) {
	seen := make(map[graph.Ref]bool)
	for {
		outputs, isInstance := c.instances[ref.NodeID]
		if !isInstance {
			return ref, true
		}
		if seen[ref] {
			return nil, false
		}
		seen[ref] = true

		bound, ok := outputs[ref.Slot]
		if !ok {
			return nil, false
		}
		next, isRef := bound.(graph.Ref)
		if !isRef {
			return bound, true
		}
		ref = next
	}
}

// sweepDangling removes references to producers that are not in the
// output, such as bypassed or unknown nodes.
func (c *converter) sweepDangling() {
	for _, id := range c.out.IDs() {
		e := c.out[id]
		for _, name := range inputNames(e) {
			ref, ok := e.Inputs[name].(graph.Ref)
			if !ok {
				continue
			}
			if _, exists := c.out[ref.NodeID]; exists {
				continue
			}
			delete(e.Inputs, name)
			c.warn(CodeUnresolvedInput, id+".inputs."+name,
				"Input %q of node %q was wired from %q, which is not part of the execution graph",
				name, id, ref.NodeID)
		}
	}
}

func inputNames(e *graph.Entry) []string {
	names := make([]string, 0, len(e.Inputs))
	for name := range e.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
