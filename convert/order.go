package convert

import (
	"sort"

	"github.com/petal-labs/promptc/workflow"
)

// orderInstances returns the level's subgraph instances so that an instance
// wired from another instance's output comes after it (Kahn's algorithm).
// Instances caught in a cycle are appended in id order and also returned
// as cyclic.
func orderInstances(ls *levelState) (order, cyclic []workflow.ID) {
	if len(ls.instances) == 0 {
		return nil, nil
	}

	ids := make([]workflow.ID, 0, len(ls.instances))
	for id := range ls.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return workflow.Less(ids[i], ids[j]) })

	deps := make(map[workflow.ID]map[workflow.ID]bool, len(ids))
	dependents := make(map[workflow.ID][]workflow.ID)
	for _, id := range ids {
		deps[id] = make(map[workflow.ID]bool)
	}
	for _, lk := range ls.lvl.Links {
		src, dst := ls.lvl.Origin(lk), ls.lvl.Target(lk)
		if src.Kind != workflow.EndpointNode || dst.Kind != workflow.EndpointNode {
			continue
		}
		if _, ok := ls.instances[src.Node]; !ok {
			continue
		}
		if _, ok := ls.instances[dst.Node]; !ok {
			continue
		}
		if src.Node == dst.Node || deps[dst.Node][src.Node] {
			continue
		}
		deps[dst.Node][src.Node] = true
		dependents[src.Node] = append(dependents[src.Node], dst.Node)
	}

	inDegree := make(map[workflow.ID]int, len(ids))
	queue := make([]workflow.ID, 0, len(ids))
	for _, id := range ids {
		inDegree[id] = len(deps[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order = make([]workflow.ID, 0, len(ids))
	placed := make(map[workflow.ID]bool, len(ids))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		placed[current] = true

		next := dependents[current]
		sort.Slice(next, func(i, j int) bool { return workflow.Less(next[i], next[j]) })
		for _, d := range next {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	for _, id := range ids {
		if !placed[id] {
			order = append(order, id)
			cyclic = append(cyclic, id)
		}
	}
	return order, cyclic
}
