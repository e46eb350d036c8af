package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

type MockEventBridge struct {
	mock.Mock
}

func (m *MockEventBridge) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*eventbridge.PutEventsOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func edges(n int) []entities.GraphEdge {
	out := make([]entities.GraphEdge, n)
	for i := range out {
		out[i] = entities.GraphEdge{Source: "A", Target: fmt.Sprintf("B%d", i)}
	}
	return out
}

func TestSink_OnComplete(t *testing.T) {
	client := new(MockEventBridge)
	var input *eventbridge.PutEventsInput
	client.On("PutEvents", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { input = args.Get(1).(*eventbridge.PutEventsInput) }).
		Return(&eventbridge.PutEventsOutput{}, nil)
	sink := NewSink(client, "graph-bus", zap.NewNop())

	sink.OnComplete(context.Background(), "run-1", aggregates.GraphData{
		Nodes: []entities.GraphNode{{ID: "A"}, {ID: "B"}},
		Edges: edges(1),
	})

	require.NotNil(t, input)
	require.Len(t, input.Entries, 1)
	entry := input.Entries[0]
	assert.Equal(t, "graph-bus", aws.ToString(entry.EventBusName))
	assert.Equal(t, Source, aws.ToString(entry.Source))
	assert.Equal(t, DetailGraphCompleted, aws.ToString(entry.DetailType))

	var detail completedDetail
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, "run-1", detail.RunID)
	assert.Equal(t, 2, detail.NodeCount)
	assert.Equal(t, 1, detail.EdgeCount)
	assert.NotEmpty(t, detail.EventID)
}

func TestSink_EdgesSplitAcrossEventsAndBatches(t *testing.T) {
	tests := []struct {
		name      string
		edges     int
		newNodes  int
		wantCalls int
		wantTotal int
	}{
		{name: "no edges no nodes", edges: 0, newNodes: 0, wantCalls: 0, wantTotal: 0},
		{name: "new nodes only", edges: 0, newNodes: 2, wantCalls: 1, wantTotal: 1},
		{name: "one event", edges: 3, wantCalls: 1, wantTotal: 1},
		{name: "exact chunk", edges: edgesPerEvent, wantCalls: 1, wantTotal: 1},
		{name: "two events", edges: edgesPerEvent + 1, wantCalls: 1, wantTotal: 2},
		{name: "two batches", edges: edgesPerEvent*batchSize + 1, wantCalls: 2, wantTotal: batchSize + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := new(MockEventBridge)
			var sizes []int
			var detailEdges int
			client.On("PutEvents", mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					in := args.Get(1).(*eventbridge.PutEventsInput)
					sizes = append(sizes, len(in.Entries))
					for _, e := range in.Entries {
						var d edgesDetail
						require.NoError(t, json.Unmarshal([]byte(aws.ToString(e.Detail)), &d))
						detailEdges += len(d.Edges)
					}
				}).
				Return(&eventbridge.PutEventsOutput{}, nil)
			sink := NewSink(client, "bus", zap.NewNop())

			nodes := make([]entities.GraphNode, tt.newNodes)
			sink.OnEdgesDiscovered(context.Background(), "run", edges(tt.edges), nodes)

			assert.Len(t, sizes, tt.wantCalls)
			total := 0
			for _, n := range sizes {
				assert.LessOrEqual(t, n, batchSize)
				total += n
			}
			assert.Equal(t, tt.wantTotal, total)
			assert.Equal(t, tt.edges, detailEdges)
		})
	}
}

func TestSink_FailuresAreSwallowed(t *testing.T) {
	client := new(MockEventBridge)
	client.On("PutEvents", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()
	client.On("PutEvents", mock.Anything, mock.Anything).Return(&eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries:          []types.PutEventsResultEntry{{ErrorCode: aws.String("InternalFailure")}},
	}, nil).Once()
	sink := NewSink(client, "bus", zap.NewNop())

	assert.NotPanics(t, func() {
		sink.OnNodesReady(context.Background(), "run", []entities.GraphNode{{ID: "A"}})
		sink.OnNodesReady(context.Background(), "run", []entities.GraphNode{{ID: "A"}})
	})
	client.AssertNumberOfCalls(t, "PutEvents", 2)
}

func TestSink_ProgressIsNotPublished(t *testing.T) {
	client := new(MockEventBridge)
	sink := NewSink(client, "bus", zap.NewNop())

	sink.OnProgress(context.Background(), ports.Progress{RunID: "run", Completed: 1, Total: 2})

	client.AssertNotCalled(t, "PutEvents", mock.Anything, mock.Anything)
}
