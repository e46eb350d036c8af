// Package messaging holds the graph event sinks that do not need a remote
// service, and the fan-out that combines them with the ones that do.
package messaging

import (
	"context"

	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

// LogSink writes graph events to the logger at debug level, progress every
// step and completion at info
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a logging sink
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

func (s *LogSink) OnNodesReady(ctx context.Context, runID string, nodes []entities.GraphNode) {
	s.logger.Debug("nodes ready", zap.String("run_id", runID), zap.Int("nodes", len(nodes)))
}

func (s *LogSink) OnEdgesDiscovered(ctx context.Context, runID string, edges []entities.GraphEdge, newNodes []entities.GraphNode) {
	s.logger.Debug("edges discovered",
		zap.String("run_id", runID),
		zap.Int("edges", len(edges)),
		zap.Int("new_nodes", len(newNodes)))
}

func (s *LogSink) OnProgress(ctx context.Context, progress ports.Progress) {
	s.logger.Debug("progress",
		zap.String("run_id", progress.RunID),
		zap.Int("completed", progress.Completed),
		zap.Int("total", progress.Total),
		zap.String("label", progress.Label))
}

func (s *LogSink) OnComplete(ctx context.Context, runID string, graph aggregates.GraphData) {
	s.logger.Info("graph complete",
		zap.String("run_id", runID),
		zap.Int("nodes", len(graph.Nodes)),
		zap.Int("edges", len(graph.Edges)))
}

// MultiSink forwards every event to each sink in order
type MultiSink []ports.GraphEventSink

// NewMultiSink drops nil sinks
func NewMultiSink(sinks ...ports.GraphEventSink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiSink) OnNodesReady(ctx context.Context, runID string, nodes []entities.GraphNode) {
	for _, s := range m {
		s.OnNodesReady(ctx, runID, nodes)
	}
}

func (m MultiSink) OnEdgesDiscovered(ctx context.Context, runID string, edges []entities.GraphEdge, newNodes []entities.GraphNode) {
	for _, s := range m {
		s.OnEdgesDiscovered(ctx, runID, edges, newNodes)
	}
}

func (m MultiSink) OnProgress(ctx context.Context, progress ports.Progress) {
	for _, s := range m {
		s.OnProgress(ctx, progress)
	}
}

func (m MultiSink) OnComplete(ctx context.Context, runID string, graph aggregates.GraphData) {
	for _, s := range m {
		s.OnComplete(ctx, runID, graph)
	}
}
