package ports

import (
	"context"
	"errors"
	"time"

	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

// ErrSnapshotNotFound is returned by SnapshotStore.Load when no snapshot is
// stored under the key or it has expired
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotVersion is the current snapshot layout version
const SnapshotVersion = 1

// Snapshot is the persisted state used to seed an incremental refresh
type Snapshot struct {
	Version          int                         `json:"version"`
	DocumentMetadata []entities.DocumentMetadata `json:"documentMetadata"`
	Graph            aggregates.GraphData        `json:"graph"`
	// BlockOwners maps known content block ids to their owning document
	BlockOwners map[string]string `json:"blockOwners,omitempty"`
	Options     SnapshotOptions   `json:"options"`
	SavedAt     time.Time         `json:"savedAt"`
}

// SnapshotOptions records which aggregate nodes the stored graph contains
type SnapshotOptions struct {
	IncludeTags    bool `json:"includeTags"`
	IncludeFolders bool `json:"includeFolders"`
}

// IsStale reports whether the snapshot is older than maxAge. A zero maxAge
// never expires.
func (s *Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(s.SavedAt) > maxAge
}

// ContentTransport is the pass-through to the remote content API
type ContentTransport interface {
	// ListDocuments returns the document roster
	ListDocuments(ctx context.Context) ([]entities.Document, error)

	// FetchDocumentContent returns the content tree of one document
	FetchDocumentContent(ctx context.Context, documentID string) ([]entities.ContentBlock, error)
}

// FolderProvider supplies document to folder assignments
type FolderProvider interface {
	FolderMembership(ctx context.Context) (entities.FolderMembership, error)
}

// SnapshotStore persists snapshots by opaque key
type SnapshotStore interface {
	// Load returns ErrSnapshotNotFound when nothing usable is stored
	Load(ctx context.Context, key string) (*Snapshot, error)

	Save(ctx context.Context, key string, snapshot *Snapshot) error

	// Delete succeeds when the key does not exist
	Delete(ctx context.Context, key string) error
}

// Progress is a progress notification for a running build or refresh
type Progress struct {
	RunID     string `json:"runId"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Label     string `json:"label"`
}

// GraphEventSink receives push notifications while a graph is built.
// Implementations must not block for long; nothing is expected back.
type GraphEventSink interface {
	OnNodesReady(ctx context.Context, runID string, nodes []entities.GraphNode)
	OnEdgesDiscovered(ctx context.Context, runID string, edges []entities.GraphEdge, newNodes []entities.GraphNode)
	OnProgress(ctx context.Context, progress Progress)
	OnComplete(ctx context.Context, runID string, graph aggregates.GraphData)
}

type connectionKey struct{}

// WithConnectionID attaches the client connection that should receive push
// notifications for work done under ctx
func WithConnectionID(ctx context.Context, connectionID string) context.Context {
	if connectionID == "" {
		return ctx
	}
	return context.WithValue(ctx, connectionKey{}, connectionID)
}

// ConnectionIDFromContext returns the connection attached by WithConnectionID
func ConnectionIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(connectionKey{}).(string)
	return id, ok && id != ""
}
