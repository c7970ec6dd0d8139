package convert

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/petal-labs/promptc/graph"
	"github.com/petal-labs/promptc/workflow"
)

// slotKey addresses one input slot of a node within a level.
type slotKey struct {
	node workflow.ID
	slot int
}

// levelState is the per-level view used while converting one graph level.
type levelState struct {
	lvl    *workflow.Level
	prefix string
	// ports binds the enclosing definition's input ports; nil at the root.
	ports map[int]any

	instances map[workflow.ID]*workflow.Subgraph
	excluded  map[workflow.ID]string
	ordinary  []*workflow.Node

	// expanded holds the output bindings of instances already inlined.
	expanded map[workflow.ID]map[int]any
	incoming map[slotKey]workflow.Link
}

// convertLevel converts every node of lvl into c.out and, for a definition
// level, returns the bindings of def's output ports.
func (c *converter) convertLevel(lvl *workflow.Level, prefix string, ports map[int]any, def *workflow.Subgraph) map[int]any {
	ls := &levelState{
		lvl:       lvl,
		prefix:    prefix,
		ports:     ports,
		instances: make(map[workflow.ID]*workflow.Subgraph),
		excluded:  make(map[workflow.ID]string),
		expanded:  make(map[workflow.ID]map[int]any),
		incoming:  make(map[slotKey]workflow.Link, len(lvl.Links)),
	}
	c.classify(ls)

	for _, lk := range lvl.Links {
		if t := lvl.Target(lk); t.Kind == workflow.EndpointNode {
			ls.incoming[slotKey{t.Node, t.Slot}] = lk
		}
	}

	order, cyclic := orderInstances(ls)
	if len(cyclic) > 0 {
		names := make([]string, len(cyclic))
		for i, id := range cyclic {
			names[i] = prefix + id.String()
		}
		c.warn(CodeInstanceCycle, prefix,
			"Subgraph instances depend on each other in a cycle: %s", strings.Join(names, ", "))
	}
	for _, id := range order {
		c.expandInstance(ls, id)
	}

	for _, node := range ls.ordinary {
		c.convertNode(ls, node)
	}

	if def == nil {
		return nil
	}
	return c.outputBindings(ls, def)
}

// classify sorts the nodes of a level into instances, ordinary nodes, and
// excluded nodes.
func (c *converter) classify(ls *levelState) {
	nodes := make([]*workflow.Node, 0, len(ls.lvl.Nodes))
	for i := range ls.lvl.Nodes {
		nodes = append(nodes, &ls.lvl.Nodes[i])
	}
	sort.SliceStable(nodes, func(i, j int) bool { return workflow.Less(nodes[i].ID, nodes[j].ID) })

	for _, node := range nodes {
		pid := ls.prefix + node.ID.String()
		switch {
		case node.Mode.Disabled():
			c.drop(ls, node, DropDisabled)
		case c.cfg.registry.IsUIOnly(node.Type):
			c.drop(ls, node, DropUIOnly)
		case c.defs[node.Type] != nil:
			if c.expanding(node.Type) {
				c.warn(CodeRecursiveSubgraph, pid,
					"Subgraph instance %q of %q is nested inside itself and was skipped", pid, node.Type)
				c.drop(ls, node, DropRecursive)
				continue
			}
			ls.instances[node.ID] = c.defs[node.Type]
		case c.table.Has(node.Type):
			ls.ordinary = append(ls.ordinary, node)
		default:
			c.warn(CodeUnknownType, pid, "Node %q has unknown type %q and was dropped", pid, node.Type)
			c.drop(ls, node, DropUnknownType)
		}
	}
}

func (c *converter) drop(ls *levelState, node *workflow.Node, reason string) {
	pid := ls.prefix + node.ID.String()
	ls.excluded[node.ID] = reason
	c.cfg.logger.Debug("node dropped", "node", pid, "type", node.Type, "reason", reason)
	c.emit(NewEvent(EventNodeDropped, c.id).WithNode(pid, node.Type).withPayload(map[string]any{
		"reason": reason,
	}))
}

func (c *converter) expanding(defID string) bool {
	for _, id := range c.stack {
		if id == defID {
			return true
		}
	}
	return false
}

// expandInstance inlines one subgraph instance and records its output
// bindings for later consumers.
func (c *converter) expandInstance(ls *levelState, id workflow.ID) {
	node, _ := ls.lvl.Node(id)
	def := ls.instances[id]
	pid := ls.prefix + id.String()
	start := time.Now()

	inputs := make(map[int]any, len(def.Inputs))
	for slot := range def.Inputs {
		if lk, ok := ls.incoming[slotKey{id, slot}]; ok {
			if v, ok := c.resolveSource(ls, lk, pid); ok {
				inputs[slot] = v
			}
			continue
		}
		if v, ok := promotedWidget(node, slot); ok {
			inputs[slot] = v
		}
	}

	before := len(c.out)
	c.stack = append(c.stack, def.ID)
	outputs := c.convertLevel(def.Level(), ls.prefix+"sg"+id.String()+"_", inputs, def)
	c.stack = c.stack[:len(c.stack)-1]

	ls.expanded[id] = outputs
	c.instances[pid] = outputs

	c.cfg.logger.Debug("subgraph instance expanded",
		"instance", pid, "definition", def.ID, "name", def.Name, "depth", len(c.stack)+1)
	c.emit(NewEvent(EventInstanceExpanded, c.id).
		WithNode(pid, def.ID).
		WithElapsed(time.Since(start)).
		withPayload(map[string]any{
			"name":    def.Name,
			"depth":   len(c.stack) + 1,
			"entries": len(c.out) - before,
			"outputs": len(outputs),
		}))
}

// promotedWidget returns the literal an instance holds for an unlinked input
// port that the editor shows as a widget.
func promotedWidget(node *workflow.Node, slot int) (any, bool) {
	if slot >= len(node.Inputs) || node.Inputs[slot].Widget == nil {
		return nil, false
	}
	in := node.Inputs[slot]
	var (
		v  any
		ok bool
	)
	if node.WidgetsValues.IsKeyed() {
		name := in.Widget.Name
		if name == "" {
			name = in.Name
		}
		v, ok = node.WidgetsValues.Get(name)
		if !ok {
			v, ok = node.WidgetsValues.Get(in.Name)
		}
	} else {
		v, ok = node.WidgetsValues.At(node.WidgetInputIndex(in.Name))
	}
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// resolveSource resolves the origin of lk to a Ref or literal. consumer is
// the prefixed id of the node reading it, for diagnostics.
func (c *converter) resolveSource(ls *levelState, lk workflow.Link, consumer string) (any, bool) {
	origin := ls.lvl.Origin(lk)
	switch origin.Kind {
	case workflow.EndpointInputPort:
		v, ok := ls.ports[origin.Slot]
		return v, ok
	case workflow.EndpointNode:
		if _, isInstance := ls.instances[origin.Node]; isInstance {
			if outputs, done := ls.expanded[origin.Node]; done {
				v, ok := outputs[origin.Slot]
				if !ok {
					c.warn(CodeUnresolvedInput, consumer,
						"Output %d of subgraph instance %q is not connected inside its definition",
						origin.Slot, ls.prefix+origin.Node.String())
				}
				return v, ok
			}
		}
		// Instances not yet expanded are fixed up by patchReferences;
		// excluded producers are removed by sweepDangling.
		return graph.Ref{NodeID: ls.prefix + origin.Node.String(), Slot: origin.Slot}, true
	default:
		return nil, false
	}
}

// convertNode resolves one ordinary node into an execution entry.
func (c *converter) convertNode(ls *levelState, node *workflow.Node) {
	pid := ls.prefix + node.ID.String()
	nt, _ := c.table.Get(node.Type)

	linked := make(map[string]any)
	var linkedOrder []string
	for _, in := range node.Inputs {
		if !in.Linked() {
			continue
		}
		lk, ok := ls.lvl.Link(*in.Link)
		if !ok {
			continue
		}
		if v, ok := c.resolveSource(ls, *lk, pid); ok {
			if _, seen := linked[in.Name]; !seen {
				linkedOrder = append(linkedOrder, in.Name)
			}
			linked[in.Name] = v
		}
	}

	entry := &graph.Entry{
		ClassType: node.Type,
		Inputs:    c.consumeWidgets(pid, node, nt, linked, linkedOrder),
	}
	if node.Title != "" {
		entry.Meta = &graph.Meta{Title: node.Title}
	}
	c.out[pid] = entry
}

// outputBindings builds a definition's output-port map from the links that
// target its output sentinel.
func (c *converter) outputBindings(ls *levelState, def *workflow.Subgraph) map[int]any {
	chosen := make(map[int]workflow.Link)
	var slots []int
	for _, lk := range ls.lvl.Links {
		t := ls.lvl.Target(lk)
		if t.Kind != workflow.EndpointOutputPort {
			continue
		}
		prev, dup := chosen[t.Slot]
		if !dup {
			chosen[t.Slot] = lk
			slots = append(slots, t.Slot)
			continue
		}
		want := portType(def.Outputs, t.Slot)
		keep := prev
		if !typeMatches(prev.Type, want) && typeMatches(lk.Type, want) {
			keep = lk
		}
		chosen[t.Slot] = keep
		c.warn(CodeDuplicateOutput, fmt.Sprintf("%soutputs[%d]", ls.prefix, t.Slot),
			"Output port %d of subgraph %q has several links; using link %s", t.Slot, def.ID, keep.ID)
	}

	outputs := make(map[int]any, len(chosen))
	for _, slot := range slots {
		if v, ok := c.resolveSource(ls, chosen[slot], fmt.Sprintf("%soutputs[%d]", ls.prefix, slot)); ok {
			outputs[slot] = v
		}
	}
	return outputs
}

func portType(ports []workflow.Port, slot int) string {
	if slot < 0 || slot >= len(ports) {
		return ""
	}
	return ports[slot].Type
}

// typeMatches reports an exact type match. A wildcard link does not match,
// so an exactly typed link is preferred over it.
func typeMatches(linkType, portType string) bool {
	return portType != "" && linkType == portType
}
