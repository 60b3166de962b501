package engine

import (
	"github.com/flowmesh/flowmesh/pkg/types"
)

// ResolveOrder flattens a workflow graph into a total execution order using
// Kahn's BFS topological sort. It is a pure function: identical input yields
// identical output, and the workflow is never mutated.
//
// The resolver never fails. Degenerate graphs get deterministic fallbacks:
// a graph with no edges resolves to declaration order, edges referencing an
// unknown node id are dropped, and nodes trapped in a cycle are appended in
// declaration order after every reachable node. The returned order always
// covers every declared node exactly once.
func ResolveOrder(wf *types.Workflow) []types.AgentNode {
	nodes := wf.Agents
	if len(nodes) == 0 {
		return nil
	}

	order := make([]types.AgentNode, 0, len(nodes))
	if len(wf.Edges) == 0 {
		order = append(order, nodes...)
		return order
	}

	index := make(map[string]int, len(nodes)) // node id -> declaration position
	for i, n := range nodes {
		index[n.ID] = i
	}

	successors := make(map[string][]string, len(nodes))
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range wf.Edges {
		if _, ok := index[e.Source]; !ok {
			continue
		}
		if _, ok := index[e.Target]; !ok {
			continue
		}
		successors[e.Source] = append(successors[e.Source], e.Target)
		inDegree[e.Target]++
	}

	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	if len(queue) == 0 {
		// Every node has a predecessor, so the whole graph is cyclic.
		order = append(order, nodes...)
		return order
	}

	resolved := make(map[string]bool, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		resolved[id] = true
		order = append(order, nodes[index[id]])
		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	// Nodes inside a cycle never reach in-degree zero. Append them in
	// declaration order so the order always covers the full node set.
	if len(order) < len(nodes) {
		for _, n := range nodes {
			if !resolved[n.ID] {
				order = append(order, n)
			}
		}
	}
	return order
}
