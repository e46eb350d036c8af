package services

import (
	"strings"

	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

// AssembleOptions controls the optional aggregate nodes
type AssembleOptions struct {
	IncludeTags    bool
	IncludeFolders bool
	Folders        entities.FolderMembership
}

// Discovery lists what one assembly step added to the graph
type Discovery struct {
	Nodes []entities.GraphNode
	Edges []entities.GraphEdge
}

// IsEmpty reports whether the step added nothing
func (d Discovery) IsEmpty() bool {
	return len(d.Nodes) == 0 && len(d.Edges) == 0
}

func (d *Discovery) addNode(node *entities.GraphNode) {
	d.Nodes = append(d.Nodes, *node.Clone())
}

func (d *Discovery) addEdge(source, target string) {
	d.Edges = append(d.Edges, entities.GraphEdge{Source: source, Target: target})
}

// Assembly accumulates a graph while document trees arrive one at a time.
//
// Apply may be called in any order. Edges between already-known documents are
// materialized as soon as their source arrives so consumers can render partial
// state; placeholders, aggregate hubs and late-resolving sub-block references
// are settled by Finish, which produces the same graph for any arrival order.
// An Assembly is not safe for concurrent use.
type Assembly struct {
	graph *aggregates.Graph
	index *OwnerIndex
	opts  AssembleOptions

	order      []string
	references map[string][]string
	tags       map[string][]string
	applied    map[string]struct{}
}

// NewAssembly starts an assembly that resolves references through index
func NewAssembly(index *OwnerIndex, opts AssembleOptions) *Assembly {
	if index == nil {
		index = NewOwnerIndex()
	}
	return &Assembly{
		graph:      aggregates.NewGraph(),
		index:      index,
		opts:       opts,
		references: make(map[string][]string),
		tags:       make(map[string][]string),
		applied:    make(map[string]struct{}),
	}
}

// Index returns the owner index used by the assembly
func (a *Assembly) Index() *OwnerIndex {
	return a.index
}

// AddDocuments creates one document node per document. Documents flagged as
// deleted or without an id are skipped.
func (a *Assembly) AddDocuments(docs []entities.Document) []entities.GraphNode {
	nodes := make([]entities.GraphNode, 0, len(docs))
	for _, doc := range docs {
		if doc.ID == "" || doc.Deleted || a.graph.HasNode(doc.ID) {
			continue
		}
		node := a.graph.UpsertDocument(doc)
		a.index.Seed(doc.ID)
		a.order = append(a.order, doc.ID)
		nodes = append(nodes, *node.Clone())
	}
	return nodes
}

// Apply records the content tree of a document and links its references to
// documents already in the graph. A nil tree stands for a failed fetch.
func (a *Assembly) Apply(docID string, blocks []entities.ContentBlock) Discovery {
	var discovery Discovery
	node, ok := a.graph.Node(docID)
	if !ok || node.Kind != entities.NodeKindDocument {
		return discovery
	}
	if _, done := a.applied[docID]; done {
		return discovery
	}
	a.applied[docID] = struct{}{}

	a.index.Register(docID, blocks)
	extraction := Extract(blocks)
	a.references[docID] = extraction.References
	a.tags[docID] = extraction.Tags

	linker := referenceLinker{graph: a.graph, index: a.index}
	linker.link(docID, extraction.References, false, &discovery)
	return discovery
}

// Finish resolves every recorded reference against the complete owner index,
// materializes placeholders and aggregate hubs, and derives node statistics.
// Documents never applied count as having an empty tree.
func (a *Assembly) Finish() (*aggregates.Graph, Discovery) {
	var discovery Discovery
	linker := referenceLinker{graph: a.graph, index: a.index}

	for _, docID := range a.order {
		linker.link(docID, a.references[docID], true, &discovery)
	}
	for _, docID := range a.order {
		if a.opts.IncludeTags {
			linkTags(a.graph, docID, a.tags[docID], &discovery)
		}
		if a.opts.IncludeFolders {
			linkFolder(a.graph, docID, a.opts.Folders, &discovery)
		}
	}

	a.graph.Rebuild()
	return a.graph, discovery
}

// Tags returns the tag labels extracted for a document
func (a *Assembly) Tags(docID string) []string {
	return a.tags[docID]
}

// Assemble builds a complete graph from documents and their content trees.
// Documents missing from trees are treated as having an empty tree.
func Assemble(docs []entities.Document, trees map[string][]entities.ContentBlock, index *OwnerIndex, opts AssembleOptions) *aggregates.Graph {
	assembly := NewAssembly(index, opts)
	assembly.AddDocuments(docs)
	for _, doc := range docs {
		assembly.Apply(doc.ID, trees[doc.ID])
	}
	graph, _ := assembly.Finish()
	return graph
}

// referenceLinker turns raw reference targets of one source document into
// edges
type referenceLinker struct {
	graph *aggregates.Graph
	index *OwnerIndex
}

// link resolves and connects refs. Outside the final pass only targets that
// are already document nodes are linked and nothing is counted.
func (l referenceLinker) link(sourceID string, refs []string, final bool, discovery *Discovery) {
	for _, ref := range refs {
		target := l.index.Resolve(strings.TrimSpace(ref))
		if target == "" || target == sourceID {
			continue
		}

		node, exists := l.graph.Node(target)
		switch {
		case exists && node.Kind.IsAggregate():
			// ids in the hub namespace are never reference targets
			continue
		case exists && !final && node.Kind != entities.NodeKindDocument:
			continue
		case !exists && !final:
			continue
		case !exists:
			created, _ := l.graph.EnsurePlaceholder(target)
			discovery.addNode(created)
		}

		if final {
			l.graph.RecordReference(sourceID, target)
		}
		if added, err := l.graph.Connect(sourceID, target); err == nil && added {
			discovery.addEdge(sourceID, target)
		}
	}
}

// linkTags connects a tag hub to the document for every label
func linkTags(graph *aggregates.Graph, docID string, labels []string, discovery *Discovery) {
	for _, label := range labels {
		hub := ensureHub(graph, entities.NewTagNode(label), discovery)
		if hub == nil {
			continue
		}
		if added, err := graph.Connect(hub.ID, docID); err == nil && added {
			discovery.addEdge(hub.ID, docID)
		}
	}
}

// linkFolder connects the folder hub holding the document to it
func linkFolder(graph *aggregates.Graph, docID string, folders entities.FolderMembership, discovery *Discovery) {
	folderID := folders.DocumentFolders[docID]
	if folderID == "" {
		return
	}
	hub := ensureHub(graph, entities.NewFolderNode(folderID, folders.FolderTitle(folderID)), discovery)
	if hub == nil {
		return
	}
	if added, err := graph.Connect(hub.ID, docID); err == nil && added {
		discovery.addEdge(hub.ID, docID)
	}
}

// ensureHub returns the existing hub with the candidate's id or adds the
// candidate. It returns nil when the id is taken by a node of another kind.
func ensureHub(graph *aggregates.Graph, candidate *entities.GraphNode, discovery *Discovery) *entities.GraphNode {
	if existing, ok := graph.Node(candidate.ID); ok {
		if existing.Kind != candidate.Kind {
			return nil
		}
		return existing
	}
	graph.AddNode(candidate)
	discovery.addNode(candidate)
	return candidate
}
