// Package eventbridge publishes graph events to an AWS EventBridge bus.
package eventbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

// Source is the EventBridge source of every published event
const Source = "docgraph.graph"

// Detail types
const (
	DetailNodesReady     = "GraphNodesReady"
	DetailEdgesAdded     = "GraphEdgesDiscovered"
	DetailGraphCompleted = "GraphCompleted"
)

const (
	// EventBridge accepts at most 10 entries per PutEvents call
	batchSize = 10
	// edgesPerEvent keeps a detail well below the 256KB entry limit
	edgesPerEvent = 500
)

// API is the subset of the EventBridge client the sink uses
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Sink publishes run summaries and discovered edges. Progress is not
// published. Failures are logged; graph runs never wait on the bus.
type Sink struct {
	client       API
	eventBusName string
	logger       *zap.Logger
	now          func() time.Time
}

type nodesReadyDetail struct {
	EventID   string `json:"eventId"`
	RunID     string `json:"runId"`
	NodeCount int    `json:"nodeCount"`
}

type edgesDetail struct {
	EventID  string   `json:"eventId"`
	RunID    string   `json:"runId"`
	Edges    []string `json:"edges"`
	NewNodes []string `json:"newNodes,omitempty"`
}

type completedDetail struct {
	EventID   string `json:"eventId"`
	RunID     string `json:"runId"`
	NodeCount int    `json:"nodeCount"`
	EdgeCount int    `json:"edgeCount"`
}

type event struct {
	detailType string
	runID      string
	detail     interface{}
}

// NewSink creates an EventBridge sink
func NewSink(client API, eventBusName string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: client, eventBusName: eventBusName, logger: logger, now: time.Now}
}

func (s *Sink) OnNodesReady(ctx context.Context, runID string, nodes []entities.GraphNode) {
	s.publish(ctx, []event{{
		detailType: DetailNodesReady,
		runID:      runID,
		detail:     nodesReadyDetail{EventID: uuid.NewString(), RunID: runID, NodeCount: len(nodes)},
	}})
}

func (s *Sink) OnEdgesDiscovered(ctx context.Context, runID string, edges []entities.GraphEdge, newNodes []entities.GraphNode) {
	if len(edges) == 0 && len(newNodes) == 0 {
		return
	}
	nodeIDs := make([]string, 0, len(newNodes))
	for _, n := range newNodes {
		nodeIDs = append(nodeIDs, n.ID)
	}

	var events []event
	for start := 0; start < len(edges) || start == 0; start += edgesPerEvent {
		end := start + edgesPerEvent
		if end > len(edges) {
			end = len(edges)
		}
		keys := make([]string, 0, end-start)
		for _, e := range edges[start:end] {
			keys = append(keys, e.Key())
		}
		d := edgesDetail{EventID: uuid.NewString(), RunID: runID, Edges: keys}
		if start == 0 {
			d.NewNodes = nodeIDs
		}
		events = append(events, event{detailType: DetailEdgesAdded, runID: runID, detail: d})
		if end == len(edges) {
			break
		}
	}
	s.publish(ctx, events)
}

func (s *Sink) OnProgress(context.Context, ports.Progress) {}

func (s *Sink) OnComplete(ctx context.Context, runID string, graph aggregates.GraphData) {
	s.publish(ctx, []event{{
		detailType: DetailGraphCompleted,
		runID:      runID,
		detail: completedDetail{
			EventID:   uuid.NewString(),
			RunID:     runID,
			NodeCount: len(graph.Nodes),
			EdgeCount: len(graph.Edges),
		},
	}})
}

func (s *Sink) publish(ctx context.Context, events []event) {
	for i := 0; i < len(events); i += batchSize {
		end := i + batchSize
		if end > len(events) {
			end = len(events)
		}
		if err := s.publishBatch(ctx, events[i:end]); err != nil {
			s.logger.Warn("failed to publish graph events",
				zap.String("event_bus", s.eventBusName),
				zap.Error(err))
		}
	}
}

func (s *Sink) publishBatch(ctx context.Context, events []event) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e.detail)
		if err != nil {
			s.logger.Error("failed to marshal event", zap.String("detail_type", e.detailType), zap.Error(err))
			continue
		}
		entries = append(entries, types.PutEventsRequestEntry{
			EventBusName: aws.String(s.eventBusName),
			Source:       aws.String(Source),
			DetailType:   aws.String(e.detailType),
			Detail:       aws.String(string(data)),
			Time:         aws.Time(s.now()),
			Resources:    []string{"arn:aws:docgraph::run/" + e.runID},
		})
	}
	if len(entries) == 0 {
		return nil
	}

	result, err := s.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil && i < len(entries) {
				s.logger.Error("event rejected",
					zap.String("detail_type", aws.ToString(entries[i].DetailType)),
					zap.String("error_code", aws.ToString(entry.ErrorCode)),
					zap.String("error_message", aws.ToString(entry.ErrorMessage)))
			}
		}
		return fmt.Errorf("%d events failed to publish", result.FailedEntryCount)
	}

	s.logger.Debug("published graph events",
		zap.Int("count", len(entries)),
		zap.String("event_bus", s.eventBusName))
	return nil
}
