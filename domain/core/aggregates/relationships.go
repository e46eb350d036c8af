package aggregates

import (
	"sort"

	"docgraph/domain/core/entities"
)

// RebuildRelationships derives outgoing and incoming neighbour lists for
// every node purely from the edge list. Existing adjacency fields are
// ignored, lists are deduplicated and sorted, and degree and colour class are
// recomputed from the result. Edges naming an unknown node are skipped.
// Running it on its own output yields the same output.
func RebuildRelationships(nodes []entities.GraphNode, edges []entities.GraphEdge) []entities.GraphNode {
	known := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		known[node.ID] = struct{}{}
	}

	outgoing := make(map[string]map[string]struct{}, len(nodes))
	incoming := make(map[string]map[string]struct{}, len(nodes))
	for _, edge := range edges {
		if edge.Source == edge.Target {
			continue
		}
		if _, ok := known[edge.Source]; !ok {
			continue
		}
		if _, ok := known[edge.Target]; !ok {
			continue
		}
		addNeighbour(outgoing, edge.Source, edge.Target)
		addNeighbour(incoming, edge.Target, edge.Source)
	}

	result := make([]entities.GraphNode, len(nodes))
	for i, node := range nodes {
		node.Outgoing = sortedKeys(outgoing[node.ID])
		node.Incoming = sortedKeys(incoming[node.ID])
		node.Degree = len(node.Outgoing) + len(node.Incoming)
		node.ColorClass = entities.ColorClassFor(node.Kind, node.Degree)
		result[i] = node
	}
	return result
}

func addNeighbour(index map[string]map[string]struct{}, from, to string) {
	set, ok := index[from]
	if !ok {
		set = make(map[string]struct{})
		index[from] = set
	}
	set[to] = struct{}{}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
