package entities

import "time"

// NodeKind is the variant of a graph node
type NodeKind string

const (
	NodeKindDocument NodeKind = "document"
	NodeKindBlock    NodeKind = "block"
	NodeKindTag      NodeKind = "tag"
	NodeKindFolder   NodeKind = "folder"
)

// IsAggregate reports whether the kind is a tag or folder hub
func (k NodeKind) IsAggregate() bool {
	return k == NodeKindTag || k == NodeKindFolder
}

// ColorClass is the derived colour bucket of a node
type ColorClass string

const (
	ColorNone    ColorClass = "none"
	ColorLow     ColorClass = "low"
	ColorMid     ColorClass = "mid"
	ColorHigh    ColorClass = "high"
	ColorExtreme ColorClass = "extreme"
	ColorTag     ColorClass = "tag"
	ColorFolder  ColorClass = "folder"
)

// ColorClassFor returns the colour class for a node of the given kind and
// degree. Tag and folder nodes have fixed classes.
func ColorClassFor(kind NodeKind, degree int) ColorClass {
	switch kind {
	case NodeKindTag:
		return ColorTag
	case NodeKindFolder:
		return ColorFolder
	}

	switch {
	case degree <= 0:
		return ColorNone
	case degree <= 2:
		return ColorLow
	case degree <= 5:
		return ColorMid
	case degree <= 10:
		return ColorHigh
	default:
		return ColorExtreme
	}
}

const (
	tagIDPrefix    = "tag:"
	folderIDPrefix = "folder:"
)

// TagNodeID returns the node id for a tag label
func TagNodeID(label string) string {
	return tagIDPrefix + label
}

// FolderNodeID returns the node id for a folder
func FolderNodeID(folderID string) string {
	return folderIDPrefix + folderID
}

// PlaceholderTitle is the deterministic title of an unresolved reference target
func PlaceholderTitle(id string) string {
	return "Block " + id
}

// GraphNode is a node in the output graph
type GraphNode struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Kind           NodeKind   `json:"nodeKind"`
	Degree         int        `json:"degree"`
	Outgoing       []string   `json:"outgoing"`
	Incoming       []string   `json:"incoming"`
	ColorClass     ColorClass `json:"colorClass"`
	SizeHint       float64    `json:"sizeHint,omitempty"`
	ExternalLink   string     `json:"externalLink,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	LastModifiedAt *time.Time `json:"lastModifiedAt,omitempty"`
}

// NewDocumentNode creates a document-kind node from a document
func NewDocumentNode(doc Document) *GraphNode {
	return &GraphNode{
		ID:             doc.ID,
		Title:          doc.DisplayTitle(),
		Kind:           NodeKindDocument,
		ColorClass:     ColorNone,
		ExternalLink:   doc.ExternalLink,
		CreatedAt:      doc.CreatedAt,
		LastModifiedAt: doc.LastModifiedAt,
	}
}

// NewPlaceholderNode creates a block-kind node for an unresolved target
func NewPlaceholderNode(id string) *GraphNode {
	return &GraphNode{
		ID:         id,
		Title:      PlaceholderTitle(id),
		Kind:       NodeKindBlock,
		ColorClass: ColorNone,
	}
}

// NewTagNode creates a tag hub node
func NewTagNode(label string) *GraphNode {
	return &GraphNode{
		ID:         TagNodeID(label),
		Title:      "#" + label,
		Kind:       NodeKindTag,
		ColorClass: ColorTag,
	}
}

// NewFolderNode creates a folder hub node
func NewFolderNode(folderID, title string) *GraphNode {
	return &GraphNode{
		ID:         FolderNodeID(folderID),
		Title:      title,
		Kind:       NodeKindFolder,
		ColorClass: ColorFolder,
	}
}

// ApplyDocument refreshes the document-derived fields, keeping adjacency
func (n *GraphNode) ApplyDocument(doc Document) {
	n.Title = doc.DisplayTitle()
	n.Kind = NodeKindDocument
	n.ExternalLink = doc.ExternalLink
	n.CreatedAt = doc.CreatedAt
	n.LastModifiedAt = doc.LastModifiedAt
}

// Clone returns a deep copy of the node
func (n *GraphNode) Clone() *GraphNode {
	c := *n
	c.Outgoing = append([]string(nil), n.Outgoing...)
	c.Incoming = append([]string(nil), n.Incoming...)
	return &c
}

// GraphEdge is a directed reference between two nodes
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Key returns the canonical key of the ordered pair
func (e GraphEdge) Key() string {
	return e.Source + "->" + e.Target
}

// Touches reports whether the edge has id as an endpoint
func (e GraphEdge) Touches(id string) bool {
	return e.Source == id || e.Target == id
}
