// Package websocket pushes graph events to the API Gateway WebSocket
// connection that requested the run.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwTypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

// Message actions
const (
	ActionNodes    = "graphNodes"
	ActionEdges    = "graphEdges"
	ActionProgress = "graphProgress"
	ActionComplete = "graphComplete"
)

// API Gateway frames are capped at 128KB
const itemsPerMessage = 200

// API is the subset of the management API client the sink uses
type API interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// Message is the JSON frame sent to the client
type Message struct {
	Action    string               `json:"action"`
	RunID     string               `json:"runId"`
	Nodes     []entities.GraphNode `json:"nodes,omitempty"`
	Edges     []entities.GraphEdge `json:"edges,omitempty"`
	Completed int                  `json:"completed,omitempty"`
	Total     int                  `json:"total,omitempty"`
	Label     string               `json:"label,omitempty"`
	NodeCount int                  `json:"nodeCount,omitempty"`
	EdgeCount int                  `json:"edgeCount,omitempty"`
}

// Sink posts to the connection attached to the run context. Runs without a
// connection are ignored, as are connections API Gateway reports gone.
type Sink struct {
	client API
	logger *zap.Logger

	mu   sync.Mutex
	gone map[string]struct{}
}

// NewSink creates a WebSocket sink
func NewSink(client API, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: client, logger: logger, gone: make(map[string]struct{})}
}

func (s *Sink) OnNodesReady(ctx context.Context, runID string, nodes []entities.GraphNode) {
	for start := 0; start < len(nodes); start += itemsPerMessage {
		end := min(start+itemsPerMessage, len(nodes))
		s.post(ctx, Message{Action: ActionNodes, RunID: runID, Nodes: nodes[start:end]})
	}
}

func (s *Sink) OnEdgesDiscovered(ctx context.Context, runID string, edges []entities.GraphEdge, newNodes []entities.GraphNode) {
	if len(newNodes) > 0 {
		s.OnNodesReady(ctx, runID, newNodes)
	}
	for start := 0; start < len(edges); start += itemsPerMessage {
		end := min(start+itemsPerMessage, len(edges))
		s.post(ctx, Message{Action: ActionEdges, RunID: runID, Edges: edges[start:end]})
	}
}

func (s *Sink) OnProgress(ctx context.Context, progress ports.Progress) {
	s.post(ctx, Message{
		Action:    ActionProgress,
		RunID:     progress.RunID,
		Completed: progress.Completed,
		Total:     progress.Total,
		Label:     progress.Label,
	})
}

func (s *Sink) OnComplete(ctx context.Context, runID string, graph aggregates.GraphData) {
	s.post(ctx, Message{
		Action:    ActionComplete,
		RunID:     runID,
		NodeCount: len(graph.Nodes),
		EdgeCount: len(graph.Edges),
	})
}

func (s *Sink) post(ctx context.Context, msg Message) {
	connectionID, ok := ports.ConnectionIDFromContext(ctx)
	if !ok || s.isGone(connectionID) {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("failed to marshal message", zap.String("action", msg.Action), zap.Error(err))
		return
	}

	_, err = s.client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: aws.String(connectionID),
		Data:         data,
	})
	if err == nil {
		return
	}

	var goneErr *apigwTypes.GoneException
	if errors.As(err, &goneErr) {
		s.logger.Info("connection gone, dropping further messages", zap.String("connection_id", connectionID))
		s.mu.Lock()
		s.gone[connectionID] = struct{}{}
		s.mu.Unlock()
		return
	}
	s.logger.Warn("failed to post to connection",
		zap.String("connection_id", connectionID),
		zap.String("action", msg.Action),
		zap.Error(err))
}

func (s *Sink) isGone(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.gone[connectionID]
	return ok
}
