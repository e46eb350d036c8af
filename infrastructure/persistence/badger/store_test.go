package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

func openInMemory(t *testing.T, ttl time.Duration) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true, TTL: ttl}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func snapshotOf(ids ...string) *ports.Snapshot {
	s := &ports.Snapshot{
		Version: ports.SnapshotVersion,
		Graph:   aggregates.GraphData{Nodes: []entities.GraphNode{}, Edges: []entities.GraphEdge{}},
		Options: ports.SnapshotOptions{IncludeTags: true},
		SavedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, id := range ids {
		s.DocumentMetadata = append(s.DocumentMetadata, entities.DocumentMetadata{ID: id, Title: id})
		s.Graph.Nodes = append(s.Graph.Nodes, entities.GraphNode{ID: id, Title: id, Kind: entities.NodeKindDocument})
	}
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{}, zap.NewNop())

	assert.Error(t, err)
}

func TestStore_RoundTrip(t *testing.T) {
	store := openInMemory(t, 0)
	ctx := context.Background()

	_, err := store.Load(ctx, "snapshot#1")
	require.ErrorIs(t, err, ports.ErrSnapshotNotFound)

	require.NoError(t, store.Save(ctx, "snapshot#1", snapshotOf("A", "B")))
	loaded, err := store.Load(ctx, "snapshot#1")

	require.NoError(t, err)
	assert.Len(t, loaded.DocumentMetadata, 2)
	assert.Len(t, loaded.Graph.Nodes, 2)
	assert.True(t, loaded.Options.IncludeTags)
	assert.True(t, loaded.SavedAt.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestStore_SaveOverwrites(t *testing.T) {
	store := openInMemory(t, 0)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "k", snapshotOf("A")))
	require.NoError(t, store.Save(ctx, "k", snapshotOf("A", "B", "C")))

	loaded, err := store.Load(ctx, "k")

	require.NoError(t, err)
	assert.Len(t, loaded.DocumentMetadata, 3)
}

func TestStore_Delete(t *testing.T) {
	store := openInMemory(t, 0)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "k", snapshotOf("A")))

	require.NoError(t, store.Delete(ctx, "k"))
	require.NoError(t, store.Delete(ctx, "absent"))

	_, err := store.Load(ctx, "k")
	assert.ErrorIs(t, err, ports.ErrSnapshotNotFound)
}

func TestStore_OtherVersionReadsAsMissing(t *testing.T) {
	store := openInMemory(t, 0)
	ctx := context.Background()
	old := snapshotOf("A")
	old.Version = ports.SnapshotVersion + 1
	require.NoError(t, store.Save(ctx, "k", old))

	_, err := store.Load(ctx, "k")

	assert.ErrorIs(t, err, ports.ErrSnapshotNotFound)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := Open(Config{Path: dir}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Save(ctx, "k", snapshotOf("A")))
	require.NoError(t, first.Close())

	second, err := Open(Config{Path: dir}, zap.NewNop())
	require.NoError(t, err)
	defer second.Close()

	loaded, err := second.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "A", loaded.DocumentMetadata[0].ID)
}
