package preprocess

import (
	"github.com/petal-labs/promptc/registry"
	"github.com/petal-labs/promptc/workflow"
)

// collapsePassThrough removes bypassed and Reroute nodes, relinking each of
// their consumers to the real upstream source. A bypassed node passes every
// output through from its first linked input of the same type. Executable
// primitive value nodes are never collapsed; a bypassed one is re-enabled.
func (p *pass) collapsePassThrough(nodes []workflow.Node, links []workflow.Link) ([]workflow.Node, []workflow.Link) {
	through := make(map[workflow.ID]bool)
	for i := range nodes {
		n := &nodes[i]
		if p.opts.Registry.InCategory(n.Type, registry.CategoryPrimitiveValue) {
			if n.Mode == workflow.ModeBypass && p.opts.RewireBypassed {
				n.Mode = workflow.ModeAlways
				p.stats.Reenabled++
			}
			continue
		}
		switch {
		case p.opts.CollapseReroutes && p.opts.Registry.InCategory(n.Type, registry.CategoryReroute):
			through[n.ID] = true
			p.stats.Rerouted++
		case p.opts.RewireBypassed && n.Mode == workflow.ModeBypass:
			through[n.ID] = true
			p.stats.Bypassed++
		}
	}
	if len(through) == 0 {
		return nodes, links
	}

	byID := linkIndex(links)
	feeds := make(map[source]source)
	for _, n := range nodes {
		if !through[n.ID] {
			continue
		}
		for slot, src := range passThroughFeeds(n, byID) {
			feeds[source{n.ID, slot}] = src
		}
	}

	resolve := func(s source) source {
		seen := make(map[source]bool)
		for through[s.node] && !seen[s] {
			seen[s] = true
			next, ok := feeds[s]
			if !ok {
				break
			}
			s = next
		}
		return s
	}

	kept := make([]workflow.Link, 0, len(links))
	for _, lk := range links {
		if through[lk.TargetID] {
			continue
		}
		if through[lk.OriginID] {
			root := resolve(source{lk.OriginID, lk.OriginSlot})
			if through[root.node] {
				continue
			}
			lk.OriginID, lk.OriginSlot = root.node, root.slot
		}
		kept = append(kept, lk)
	}
	return removeNodes(nodes, through), kept
}

// passThroughFeeds maps each output slot of n to the source of the input
// that feeds it, matching by type.
func passThroughFeeds(n workflow.Node, byID map[workflow.ID]workflow.Link) map[int]source {
	var (
		types   []string
		sources = make(map[string]source)
	)
	for _, in := range n.Inputs {
		if !in.Linked() || in.Type == "" {
			continue
		}
		lk, ok := byID[*in.Link]
		if !ok {
			continue
		}
		if _, dup := sources[in.Type]; !dup {
			sources[in.Type] = source{lk.OriginID, lk.OriginSlot}
			types = append(types, in.Type)
		}
	}
	if len(types) == 0 {
		return nil
	}

	outputs := n.Outputs
	// A Reroute saved without outputs still has one.
	if len(outputs) == 0 {
		outputs = []workflow.NodeOutput{{Type: "*"}}
	}
	feeds := make(map[int]source, len(outputs))
	for slot, out := range outputs {
		switch src, ok := sources[out.Type]; {
		case ok:
			feeds[slot] = src
		case out.Type == "*" || out.Type == "":
			feeds[slot] = sources[types[0]]
		default:
			if src, ok := sources["*"]; ok {
				feeds[slot] = src
			}
		}
	}
	return feeds
}
