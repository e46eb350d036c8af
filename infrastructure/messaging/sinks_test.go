package messaging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

type countingSink struct {
	nodes, edges, progress, complete int
}

func (c *countingSink) OnNodesReady(context.Context, string, []entities.GraphNode) { c.nodes++ }
func (c *countingSink) OnEdgesDiscovered(context.Context, string, []entities.GraphEdge, []entities.GraphNode) {
	c.edges++
}
func (c *countingSink) OnProgress(context.Context, ports.Progress)                { c.progress++ }
func (c *countingSink) OnComplete(context.Context, string, aggregates.GraphData) { c.complete++ }

func TestMultiSink_ForwardsToEverySink(t *testing.T) {
	first, second := &countingSink{}, &countingSink{}
	sink := NewMultiSink(first, nil, second)
	ctx := context.Background()

	sink.OnNodesReady(ctx, "run", nil)
	sink.OnEdgesDiscovered(ctx, "run", nil, nil)
	sink.OnProgress(ctx, ports.Progress{RunID: "run"})
	sink.OnProgress(ctx, ports.Progress{RunID: "run"})
	sink.OnComplete(ctx, "run", aggregates.GraphData{})

	assert.Len(t, sink, 2)
	for _, c := range []*countingSink{first, second} {
		assert.Equal(t, 1, c.nodes)
		assert.Equal(t, 1, c.edges)
		assert.Equal(t, 2, c.progress)
		assert.Equal(t, 1, c.complete)
	}
}

func TestLogSink_LogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))

	sink.OnNodesReady(context.Background(), "run-1", []entities.GraphNode{{ID: "A"}})
	sink.OnComplete(context.Background(), "run-1", aggregates.GraphData{
		Nodes: []entities.GraphNode{{ID: "A"}, {ID: "B"}},
		Edges: []entities.GraphEdge{{Source: "A", Target: "B"}},
	})

	complete := logs.FilterMessage("graph complete").All()
	if assert.Len(t, complete, 1) {
		fields := complete[0].ContextMap()
		assert.Equal(t, "run-1", fields["run_id"])
		assert.EqualValues(t, 2, fields["nodes"])
		assert.EqualValues(t, 1, fields["edges"])
	}
	assert.Equal(t, 1, logs.FilterMessage("nodes ready").Len())
}
