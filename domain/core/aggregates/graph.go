package aggregates

import (
	"errors"
	"sort"

	"docgraph/domain/core/entities"
)

var (
	// ErrSelfLoop is returned when an edge would connect a node to itself
	ErrSelfLoop = errors.New("cannot connect node to itself")
	// ErrMissingEndpoint is returned when an edge endpoint is not in the graph
	ErrMissingEndpoint = errors.New("both nodes must exist in graph")
)

// GraphData is the serialisable form of a graph
type GraphData struct {
	Nodes []entities.GraphNode `json:"nodes"`
	Edges []entities.GraphEdge `json:"edges"`
}

// Graph is the aggregate root for the document reference graph.
// Node ids are unique across kinds and the edge list is a set of ordered pairs.
type Graph struct {
	nodes      map[string]*entities.GraphNode
	edges      map[string]entities.GraphEdge
	references map[string]int
	version    int
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		nodes:      make(map[string]*entities.GraphNode),
		edges:      make(map[string]entities.GraphEdge),
		references: make(map[string]int),
	}
}

// ReconstructGraph recreates a graph from stored data. Edges with a missing
// endpoint or a self-loop are dropped and adjacency is derived afresh.
func ReconstructGraph(data GraphData) *Graph {
	g := NewGraph()
	for i := range data.Nodes {
		node := data.Nodes[i]
		if node.ID == "" {
			continue
		}
		g.nodes[node.ID] = &node
	}
	for _, edge := range data.Edges {
		_, _ = g.Connect(edge.Source, edge.Target)
	}
	g.Rebuild()
	return g
}

// Clone returns a deep copy that can be mutated independently
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:      make(map[string]*entities.GraphNode, len(g.nodes)),
		edges:      make(map[string]entities.GraphEdge, len(g.edges)),
		references: make(map[string]int, len(g.references)),
		version:    g.version,
	}
	for id, node := range g.nodes {
		c.nodes[id] = node.Clone()
	}
	for key, edge := range g.edges {
		c.edges[key] = edge
	}
	for key, count := range g.references {
		c.references[key] = count
	}
	return c
}

// Version returns the mutation counter of the graph
func (g *Graph) Version() int {
	return g.version
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// HasNode checks if a node exists in the graph
func (g *Graph) HasNode(id string) bool {
	_, exists := g.nodes[id]
	return exists
}

// Node retrieves a node by id
func (g *Graph) Node(id string) (*entities.GraphNode, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// AddNode adds a node if no node with the same id exists
func (g *Graph) AddNode(node *entities.GraphNode) bool {
	if node == nil || node.ID == "" {
		return false
	}
	if _, exists := g.nodes[node.ID]; exists {
		return false
	}
	g.nodes[node.ID] = node
	g.touch()
	return true
}

// UpsertDocument creates the document node or refreshes its metadata. An
// existing placeholder with the same id becomes a document node.
func (g *Graph) UpsertDocument(doc entities.Document) *entities.GraphNode {
	if node, exists := g.nodes[doc.ID]; exists {
		node.ApplyDocument(doc)
		g.touch()
		return node
	}
	node := entities.NewDocumentNode(doc)
	g.nodes[doc.ID] = node
	g.touch()
	return node
}

// EnsurePlaceholder returns the node for id, creating a block-kind
// placeholder when it does not exist yet
func (g *Graph) EnsurePlaceholder(id string) (*entities.GraphNode, bool) {
	if node, exists := g.nodes[id]; exists {
		return node, false
	}
	node := entities.NewPlaceholderNode(id)
	g.nodes[id] = node
	g.touch()
	return node, true
}

// RemoveNode removes a node and every edge touching it
func (g *Graph) RemoveNode(id string) bool {
	if _, exists := g.nodes[id]; !exists {
		return false
	}
	for key, edge := range g.edges {
		if edge.Touches(id) {
			delete(g.edges, key)
			delete(g.references, key)
		}
	}
	delete(g.nodes, id)
	g.touch()
	return true
}

// Connect records the directed edge source->target. It returns false
// without error when the pair is already present.
func (g *Graph) Connect(sourceID, targetID string) (bool, error) {
	if sourceID == targetID {
		return false, ErrSelfLoop
	}
	if !g.HasNode(sourceID) || !g.HasNode(targetID) {
		return false, ErrMissingEndpoint
	}

	edge := entities.GraphEdge{Source: sourceID, Target: targetID}
	if _, exists := g.edges[edge.Key()]; exists {
		return false, nil
	}
	g.edges[edge.Key()] = edge
	g.touch()
	return true, nil
}

// RecordReference counts a raw reference occurrence for the pair. The
// canonical edge list is unaffected.
func (g *Graph) RecordReference(sourceID, targetID string) {
	g.references[entities.GraphEdge{Source: sourceID, Target: targetID}.Key()]++
}

// ReferenceCount returns how many raw references produced the edge
func (g *Graph) ReferenceCount(sourceID, targetID string) int {
	return g.references[entities.GraphEdge{Source: sourceID, Target: targetID}.Key()]
}

// Disconnect removes a single edge
func (g *Graph) Disconnect(sourceID, targetID string) bool {
	key := entities.GraphEdge{Source: sourceID, Target: targetID}.Key()
	if _, exists := g.edges[key]; !exists {
		return false
	}
	delete(g.edges, key)
	delete(g.references, key)
	g.touch()
	return true
}

// RemoveOutgoing removes every edge whose source is id
func (g *Graph) RemoveOutgoing(id string) []entities.GraphEdge {
	return g.removeWhere(func(edge entities.GraphEdge) bool {
		return edge.Source == id
	})
}

// RemoveAggregateEdgesInto removes tag and folder edges pointing at id
func (g *Graph) RemoveAggregateEdgesInto(id string) []entities.GraphEdge {
	return g.removeWhere(func(edge entities.GraphEdge) bool {
		if edge.Target != id {
			return false
		}
		source, ok := g.nodes[edge.Source]
		return ok && source.Kind.IsAggregate()
	})
}

// EdgesInto returns the edges whose target is id
func (g *Graph) EdgesInto(id string) []entities.GraphEdge {
	var result []entities.GraphEdge
	for _, edge := range g.edges {
		if edge.Target == id {
			result = append(result, edge)
		}
	}
	sortEdges(result)
	return result
}

// NodesOfKind returns the nodes of the given kind sorted by id
func (g *Graph) NodesOfKind(kind entities.NodeKind) []*entities.GraphNode {
	var result []*entities.GraphNode
	for _, node := range g.nodes {
		if node.Kind == kind {
			result = append(result, node)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Nodes returns all nodes sorted by id
func (g *Graph) Nodes() []*entities.GraphNode {
	nodes := make([]*entities.GraphNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Edges returns all edges sorted by source then target
func (g *Graph) Edges() []entities.GraphEdge {
	edges := make([]entities.GraphEdge, 0, len(g.edges))
	for _, edge := range g.edges {
		edges = append(edges, edge)
	}
	sortEdges(edges)
	return edges
}

// Data returns a detached, serialisable copy of the graph
func (g *Graph) Data() GraphData {
	nodes := g.Nodes()
	data := GraphData{
		Nodes: make([]entities.GraphNode, 0, len(nodes)),
		Edges: g.Edges(),
	}
	for _, node := range nodes {
		data.Nodes = append(data.Nodes, *node.Clone())
	}
	return data
}

// Rebuild derives adjacency, degree and colour class of every node from the
// edge list
func (g *Graph) Rebuild() {
	nodes := make([]entities.GraphNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, *node)
	}
	for _, rebuilt := range RebuildRelationships(nodes, g.Edges()) {
		node := g.nodes[rebuilt.ID]
		node.Outgoing = rebuilt.Outgoing
		node.Incoming = rebuilt.Incoming
		node.Degree = rebuilt.Degree
		node.ColorClass = rebuilt.ColorClass
	}
}

// Validate ensures graph invariants
func (g *Graph) Validate() error {
	for _, edge := range g.edges {
		if edge.Source == edge.Target {
			return ErrSelfLoop
		}
		if !g.HasNode(edge.Source) || !g.HasNode(edge.Target) {
			return ErrMissingEndpoint
		}
	}
	for _, node := range g.nodes {
		if node.Degree != len(node.Outgoing)+len(node.Incoming) {
			return errors.New("degree does not match adjacency for node " + node.ID)
		}
	}
	return nil
}

func (g *Graph) removeWhere(match func(entities.GraphEdge) bool) []entities.GraphEdge {
	var removed []entities.GraphEdge
	for key, edge := range g.edges {
		if match(edge) {
			removed = append(removed, edge)
			delete(g.edges, key)
			delete(g.references, key)
		}
	}
	if len(removed) > 0 {
		g.touch()
	}
	sortEdges(removed)
	return removed
}

func (g *Graph) touch() {
	g.version++
}

func sortEdges(edges []entities.GraphEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
}
