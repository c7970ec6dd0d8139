package preprocess

import (
	"fmt"

	"github.com/petal-labs/promptc/registry"
	"github.com/petal-labs/promptc/workflow"
)

// resolveVirtualWires replaces named set/get node pairs with direct links.
// A get node's consumers are relinked to whatever feeds the set node of the
// same name; consumers of a set node's pass-through output likewise. Both
// node kinds are removed, and links from a get node without a matching set
// node are dropped.
func (p *pass) resolveVirtualWires(nodes []workflow.Node, links []workflow.Link) ([]workflow.Node, []workflow.Link) {
	setters := make(map[workflow.ID]bool)
	getters := make(map[workflow.ID]string)
	for _, n := range nodes {
		switch {
		case p.opts.Registry.InCategory(n.Type, registry.CategoryVirtualSet):
			setters[n.ID] = true
		case p.opts.Registry.InCategory(n.Type, registry.CategoryVirtualGet):
			getters[n.ID] = wireName(n.WidgetsValues)
		}
	}
	if len(setters) == 0 && len(getters) == 0 {
		return nodes, links
	}

	byID := linkIndex(links)
	published := make(map[string]source)
	setterSource := make(map[workflow.ID]source)
	for _, n := range nodes {
		if !setters[n.ID] {
			continue
		}
		for _, in := range n.Inputs {
			if !in.Linked() {
				continue
			}
			lk, ok := byID[*in.Link]
			if !ok {
				continue
			}
			src := source{lk.OriginID, lk.OriginSlot}
			setterSource[n.ID] = src
			if name := wireName(n.WidgetsValues); name != "" {
				if _, dup := published[name]; !dup {
					published[name] = src
				}
			}
			break
		}
	}

	kept := make([]workflow.Link, 0, len(links))
	for _, lk := range links {
		if setters[lk.TargetID] {
			continue
		}
		if _, isGetter := getters[lk.TargetID]; isGetter {
			continue
		}
		if name, isGetter := getters[lk.OriginID]; isGetter {
			src, ok := published[name]
			if !ok {
				continue
			}
			lk.OriginID, lk.OriginSlot = src.node, src.slot
			p.stats.VirtualWires++
		} else if setters[lk.OriginID] {
			src, ok := setterSource[lk.OriginID]
			if !ok {
				continue
			}
			lk.OriginID, lk.OriginSlot = src.node, src.slot
		}
		kept = append(kept, lk)
	}

	drop := make(map[workflow.ID]bool, len(setters)+len(getters))
	for id := range setters {
		drop[id] = true
	}
	for id := range getters {
		drop[id] = true
	}
	return removeNodes(nodes, drop), kept
}

// wireName returns the name a set or get node carries in its first widget.
func wireName(w workflow.WidgetValues) string {
	v := firstWidget(w)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
