package preprocess

import (
	"github.com/petal-labs/promptc/registry"
	"github.com/petal-labs/promptc/workflow"
)

// inlinePrimitives writes the value of each editor-only primitive node into
// the widget values of every node it feeds, then removes the primitive and
// its links.
func (p *pass) inlinePrimitives(nodes []workflow.Node, links []workflow.Link) ([]workflow.Node, []workflow.Link) {
	values := make(map[workflow.ID]any)
	for _, n := range nodes {
		if p.opts.Registry.InCategory(n.Type, registry.CategoryInlinePrimitive) {
			values[n.ID] = firstWidget(n.WidgetsValues)
		}
	}
	if len(values) == 0 {
		return nodes, links
	}

	index := make(map[workflow.ID]int, len(nodes))
	for i := range nodes {
		index[nodes[i].ID] = i
	}

	kept := make([]workflow.Link, 0, len(links))
	for _, lk := range links {
		v, ok := values[lk.OriginID]
		if !ok {
			kept = append(kept, lk)
			continue
		}
		if i, ok := index[lk.TargetID]; ok {
			if writeWidget(&nodes[i], lk.ID, v) {
				p.stats.Inlined++
			}
		}
	}

	drop := make(map[workflow.ID]bool, len(values))
	for id := range values {
		drop[id] = true
	}
	return removeNodes(nodes, drop), kept
}

// writeWidget stores v as the widget value of the input of n connected by
// link and disconnects that input.
func writeWidget(n *workflow.Node, link workflow.ID, v any) bool {
	for j := range n.Inputs {
		in := &n.Inputs[j]
		if !in.Linked() || *in.Link != link {
			continue
		}
		in.Link = nil
		if n.WidgetsValues.IsKeyed() {
			n.WidgetsValues.Set(in.Name, v)
			return true
		}
		idx := n.WidgetInputIndex(in.Name)
		if idx < 0 || idx >= n.WidgetsValues.Len() {
			return false
		}
		n.WidgetsValues.SetAt(idx, v)
		return true
	}
	return false
}

// firstWidget returns a node's first widget value, or "" when it has none.
// Keyed values of single-widget nodes hold exactly one entry.
func firstWidget(w workflow.WidgetValues) any {
	if v, ok := w.At(0); ok {
		return v
	}
	if w.IsKeyed() {
		for _, key := range []string{"value", "text", "string", "Constant"} {
			if v, ok := w.Get(key); ok {
				return v
			}
		}
		for _, v := range w.Keyed {
			return v
		}
	}
	return ""
}
