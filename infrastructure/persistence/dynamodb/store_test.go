package dynamodb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
	apperrors "docgraph/pkg/errors"
)

// fakeTable is an in-memory stand-in for a PK/SK table
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	err   error
	table string
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func (f *fakeTable) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.table = *in.TableName
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeTable) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.table = *in.TableName
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.items, itemKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func testSnapshot() *ports.Snapshot {
	return &ports.Snapshot{
		Version:          ports.SnapshotVersion,
		DocumentMetadata: []entities.DocumentMetadata{{ID: "A", Title: "Alpha"}},
		Graph: aggregates.GraphData{
			Nodes: []entities.GraphNode{{ID: "A", Title: "Alpha", Kind: entities.NodeKindDocument}},
			Edges: []entities.GraphEdge{},
		},
		BlockOwners: map[string]string{"a1": "A"},
		SavedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_RoundTrip(t *testing.T) {
	table := newFakeTable()
	store := NewStore(table, Config{TableName: "snapshots"}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "snapshot#abc", testSnapshot()))
	loaded, err := store.Load(ctx, "snapshot#abc")

	require.NoError(t, err)
	assert.Equal(t, "snapshots", table.table)
	assert.Equal(t, "Alpha", loaded.DocumentMetadata[0].Title)
	assert.Equal(t, "A", loaded.BlockOwners["a1"])

	stored := table.items["snapshot#abc|SNAPSHOT"]
	require.NotNil(t, stored)
	_, hasTTL := stored["TTL"]
	assert.False(t, hasTTL)
}

func TestStore_LoadMissing(t *testing.T) {
	store := NewStore(newFakeTable(), Config{TableName: "snapshots"}, zap.NewNop())

	_, err := store.Load(context.Background(), "absent")

	assert.ErrorIs(t, err, ports.ErrSnapshotNotFound)
}

func TestStore_ExpiredItemReadsAsMissing(t *testing.T) {
	table := newFakeTable()
	store := NewStore(table, Config{TableName: "snapshots", TTL: time.Hour}, zap.NewNop())
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "k", testSnapshot()))

	_, hasTTL := table.items["k|SNAPSHOT"]["TTL"]
	assert.True(t, hasTTL)

	now = now.Add(2 * time.Hour)
	_, err := store.Load(ctx, "k")

	assert.ErrorIs(t, err, ports.ErrSnapshotNotFound)
}

func TestStore_Delete(t *testing.T) {
	table := newFakeTable()
	store := NewStore(table, Config{TableName: "snapshots"}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "k", testSnapshot()))

	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Load(ctx, "k")
	assert.ErrorIs(t, err, ports.ErrSnapshotNotFound)
}

func TestStore_APIErrorsBecomeStorageErrors(t *testing.T) {
	table := newFakeTable()
	table.err = &smithy.GenericAPIError{Code: "ResourceNotFoundException", Message: "no table"}
	store := NewStore(table, Config{TableName: "missing"}, zap.NewNop())

	_, err := store.Load(context.Background(), "k")

	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrorTypeStorage, appErr.Type)
	assert.Equal(t, "ResourceNotFoundException", appErr.Code)
	assert.Error(t, store.Save(context.Background(), "k", testSnapshot()))
	assert.Error(t, store.Delete(context.Background(), "k"))
}
