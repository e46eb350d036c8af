package services

import (
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

// UpdateResult is the outcome of an incremental update
type UpdateResult struct {
	Graph      *aggregates.Graph
	Index      *OwnerIndex
	Diff       DiffResult
	HadChanges bool
	// Promoted lists placeholders that resolved to a document and were merged
	Promoted []string
	// Pruned lists placeholder and aggregate nodes left without edges
	Pruned    []string
	Discovery Discovery
}

// ApplyIncremental patches graph with the documents named by diff. docs is the
// current listing and trees holds the fetched content of the added and
// modified documents; a missing tree counts as empty.
//
// graph and index are not modified. The patch runs on copies which are
// returned in the result, so a caller either keeps the previous state or
// adopts the new one.
func ApplyIncremental(
	graph *aggregates.Graph,
	diff DiffResult,
	docs []entities.Document,
	trees map[string][]entities.ContentBlock,
	index *OwnerIndex,
	opts AssembleOptions,
) UpdateResult {
	if !diff.HasChanges() {
		return UpdateResult{Graph: graph, Index: index, Diff: diff}
	}

	next := graph.Clone()
	var nextIndex *OwnerIndex
	if index != nil {
		nextIndex = index.Clone()
	} else {
		nextIndex = NewOwnerIndex()
	}
	for _, node := range next.NodesOfKind(entities.NodeKindDocument) {
		nextIndex.Seed(node.ID)
	}

	result := UpdateResult{Diff: diff, HadChanges: true}

	for _, id := range diff.Deleted {
		nextIndex.Unregister(id)
		next.RemoveNode(id)
	}

	byID := make(map[string]entities.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}

	touched := diff.Touched()
	extractions := make(map[string]Extraction, len(touched))
	for _, id := range touched {
		doc, ok := byID[id]
		if !ok {
			doc = entities.Document{ID: id}
		}
		next.RemoveOutgoing(id)
		next.RemoveAggregateEdgesInto(id)
		result.Discovery.addNode(next.UpsertDocument(doc))
		nextIndex.Register(id, trees[id])
		extractions[id] = Extract(trees[id])
	}

	result.Promoted = promotePlaceholders(next, nextIndex)

	linker := referenceLinker{graph: next, index: nextIndex}
	for _, id := range touched {
		linker.link(id, extractions[id].References, true, &result.Discovery)
	}
	for _, id := range touched {
		if opts.IncludeTags {
			linkTags(next, id, extractions[id].Tags, &result.Discovery)
		}
		if opts.IncludeFolders {
			linkFolder(next, id, opts.Folders, &result.Discovery)
		}
	}

	next.Rebuild()
	result.Pruned = pruneOrphans(next)

	result.Graph = next
	result.Index = nextIndex
	return result
}

// promotePlaceholders re-points edges that target a placeholder whose id now
// resolves to a document node, then removes the placeholder
func promotePlaceholders(graph *aggregates.Graph, index *OwnerIndex) []string {
	var promoted []string
	for _, placeholder := range graph.NodesOfKind(entities.NodeKindBlock) {
		owner := index.Resolve(placeholder.ID)
		if owner == placeholder.ID {
			continue
		}
		ownerNode, ok := graph.Node(owner)
		if !ok || ownerNode.Kind != entities.NodeKindDocument {
			continue
		}

		for _, edge := range graph.EdgesInto(placeholder.ID) {
			count := graph.ReferenceCount(edge.Source, edge.Target)
			graph.Disconnect(edge.Source, edge.Target)
			if edge.Source == owner {
				continue
			}
			_, _ = graph.Connect(edge.Source, owner)
			for i := 0; i < count; i++ {
				graph.RecordReference(edge.Source, owner)
			}
		}
		graph.RemoveNode(placeholder.ID)
		promoted = append(promoted, placeholder.ID)
	}
	return promoted
}

// pruneOrphans removes placeholder and aggregate nodes with no edges left.
// Degrees must be current; removing an isolated node leaves every other
// node's adjacency intact.
func pruneOrphans(graph *aggregates.Graph) []string {
	var pruned []string
	for _, node := range graph.Nodes() {
		if node.Kind == entities.NodeKindDocument || node.Degree > 0 {
			continue
		}
		graph.RemoveNode(node.ID)
		pruned = append(pruned, node.ID)
	}
	return pruned
}
