// Package preprocess rewrites an editor graph before conversion so that
// editor-only plumbing does not cut real connections.
//
// The converter drops bypassed nodes, reroutes, and virtual wire nodes,
// which leaves their consumers unconnected. The passes here relink those
// consumers to the real source first. All passes work on a copy.
package preprocess

import (
	"github.com/petal-labs/promptc/registry"
	"github.com/petal-labs/promptc/workflow"
)

// Options selects the passes Apply runs.
type Options struct {
	// RewireBypassed relinks consumers of bypassed nodes to the bypassed
	// node's input of the same type.
	RewireBypassed bool
	// CollapseReroutes relinks consumers of Reroute nodes to their source.
	CollapseReroutes bool
	// InlinePrimitives writes editor-only primitive values into the widget
	// values of the node they feed.
	InlinePrimitives bool
	// ResolveVirtualWires replaces set/get node pairs with direct links.
	ResolveVirtualWires bool

	// Registry classifies node types. Defaults to registry.Global().
	Registry *registry.Registry
}

// DefaultOptions enables every pass.
func DefaultOptions() Options {
	return Options{
		RewireBypassed:      true,
		CollapseReroutes:    true,
		InlinePrimitives:    true,
		ResolveVirtualWires: true,
	}
}

// Stats counts what Apply changed, across the root and all definitions.
type Stats struct {
	Bypassed     int `json:"bypassed"`
	Rerouted     int `json:"rerouted"`
	Inlined      int `json:"inlined"`
	VirtualWires int `json:"virtual_wires"`
	Reenabled    int `json:"reenabled"`
}

// Changed reports whether any pass rewrote the graph.
func (s Stats) Changed() bool {
	return s != Stats{}
}

// Apply runs the selected passes over a deep copy of wf, at the root level
// and inside every subgraph definition. wf is not modified.
func Apply(wf *workflow.Workflow, opts Options) (*workflow.Workflow, Stats) {
	if opts.Registry == nil {
		opts.Registry = registry.Global()
	}
	out := wf.Clone()
	var stats Stats

	p := &pass{opts: opts, stats: &stats}
	out.Nodes, out.Links = p.level(out.Nodes, out.Links)
	for i := range out.Definitions.Subgraphs {
		sg := &out.Definitions.Subgraphs[i]
		sg.Nodes, sg.Links = p.level(sg.Nodes, sg.Links)
	}
	return out, stats
}

type pass struct {
	opts  Options
	stats *Stats
}

// level runs the passes over one graph level. Pass-through nodes go before
// primitive inlining so a primitive routed through a reroute still reaches
// its consumer.
func (p *pass) level(nodes []workflow.Node, links []workflow.Link) ([]workflow.Node, []workflow.Link) {
	if p.opts.ResolveVirtualWires {
		nodes, links = p.resolveVirtualWires(nodes, links)
	}
	if p.opts.RewireBypassed || p.opts.CollapseReroutes {
		nodes, links = p.collapsePassThrough(nodes, links)
	}
	if p.opts.InlinePrimitives {
		nodes, links = p.inlinePrimitives(nodes, links)
	}
	pruneLinkRefs(nodes, links)
	return nodes, links
}

// source is one output slot of a node.
type source struct {
	node workflow.ID
	slot int
}

func linkIndex(links []workflow.Link) map[workflow.ID]workflow.Link {
	idx := make(map[workflow.ID]workflow.Link, len(links))
	for _, lk := range links {
		idx[lk.ID] = lk
	}
	return idx
}

func removeNodes(nodes []workflow.Node, drop map[workflow.ID]bool) []workflow.Node {
	if len(drop) == 0 {
		return nodes
	}
	out := nodes[:0]
	for _, n := range nodes {
		if !drop[n.ID] {
			out = append(out, n)
		}
	}
	return out
}

// pruneLinkRefs clears input and output link ids that no longer name a link.
func pruneLinkRefs(nodes []workflow.Node, links []workflow.Link) {
	valid := make(map[workflow.ID]bool, len(links))
	for _, lk := range links {
		valid[lk.ID] = true
	}
	for i := range nodes {
		n := &nodes[i]
		for j := range n.Inputs {
			if in := &n.Inputs[j]; in.Linked() && !valid[*in.Link] {
				in.Link = nil
			}
		}
		for j := range n.Outputs {
			out := &n.Outputs[j]
			if len(out.Links) == 0 {
				continue
			}
			kept := make([]workflow.ID, 0, len(out.Links))
			for _, id := range out.Links {
				if valid[id] {
					kept = append(kept, id)
				}
			}
			out.Links = kept
		}
	}
}
