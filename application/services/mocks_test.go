package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
)

// stubTransport serves a fixed corpus. Fetches can be delayed, failed or
// held until released.
type stubTransport struct {
	mu       sync.Mutex
	docs     []entities.Document
	trees    map[string][]entities.ContentBlock
	failures map[string]error
	listErr  error
	delay    time.Duration
	hold     map[string]chan struct{}

	inFlight atomic.Int64
	peak     atomic.Int64
	fetches  map[string]int
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		trees:    make(map[string][]entities.ContentBlock),
		failures: make(map[string]error),
		hold:     make(map[string]chan struct{}),
		fetches:  make(map[string]int),
	}
}

func (s *stubTransport) addDocument(doc entities.Document, blocks ...entities.ContentBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.docs {
		if existing.ID == doc.ID {
			s.docs[i] = doc
			s.trees[doc.ID] = blocks
			return
		}
	}
	s.docs = append(s.docs, doc)
	s.trees[doc.ID] = blocks
}

func (s *stubTransport) removeDocument(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.docs[:0]
	for _, doc := range s.docs {
		if doc.ID != id {
			kept = append(kept, doc)
		}
	}
	s.docs = kept
	delete(s.trees, id)
}

func (s *stubTransport) fail(id string, err error) {
	s.mu.Lock()
	s.failures[id] = err
	s.mu.Unlock()
}

func (s *stubTransport) clearFailure(id string) {
	s.mu.Lock()
	delete(s.failures, id)
	s.mu.Unlock()
}

// holdFetch blocks the fetch of id until the returned channel is closed or
// the request context ends
func (s *stubTransport) holdFetch(id string) chan struct{} {
	ch := make(chan struct{})
	s.mu.Lock()
	s.hold[id] = ch
	s.mu.Unlock()
	return ch
}

func (s *stubTransport) fetchCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[id]
}

func (s *stubTransport) totalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.fetches {
		total += n
	}
	return total
}

func (s *stubTransport) ListDocuments(ctx context.Context) ([]entities.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]entities.Document(nil), s.docs...), nil
}

func (s *stubTransport) FetchDocumentContent(ctx context.Context, documentID string) ([]entities.ContentBlock, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		old := s.peak.Load()
		if n <= old || s.peak.CompareAndSwap(old, n) {
			break
		}
	}

	s.mu.Lock()
	s.fetches[documentID]++
	hold := s.hold[documentID]
	err := s.failures[documentID]
	tree, ok := s.trees[documentID]
	delay := s.delay
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("document %s not found", documentID)
	}
	return tree, nil
}

// MockSnapshotStore is a testify mock of ports.SnapshotStore
type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ports.Snapshot), args.Error(1)
}

func (m *MockSnapshotStore) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	args := m.Called(ctx, key, snapshot)
	return args.Error(0)
}

func (m *MockSnapshotStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockFolderProvider is a testify mock of ports.FolderProvider
type MockFolderProvider struct {
	mock.Mock
}

func (m *MockFolderProvider) FolderMembership(ctx context.Context) (entities.FolderMembership, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return entities.FolderMembership{}, args.Error(1)
	}
	return args.Get(0).(entities.FolderMembership), args.Error(1)
}

// memoryStore is a map backed snapshot store
type memoryStore struct {
	mu        sync.Mutex
	snapshots map[string]*ports.Snapshot
	saves     int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snapshots: make(map[string]*ports.Snapshot)}
}

func (m *memoryStore) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[key]
	if !ok {
		return nil, ports.ErrSnapshotNotFound
	}
	return snapshot, nil
}

func (m *memoryStore) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key] = snapshot
	m.saves++
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, key)
	return nil
}

// recordingSink captures every push notification
type recordingSink struct {
	mu        sync.Mutex
	nodes     []entities.GraphNode
	edges     []entities.GraphEdge
	progress  []ports.Progress
	completed []aggregates.GraphData
	runIDs    map[string]struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{runIDs: make(map[string]struct{})}
}

func (r *recordingSink) OnNodesReady(ctx context.Context, runID string, nodes []entities.GraphNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runIDs[runID] = struct{}{}
	r.nodes = append(r.nodes, nodes...)
}

func (r *recordingSink) OnEdgesDiscovered(ctx context.Context, runID string, edges []entities.GraphEdge, newNodes []entities.GraphNode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runIDs[runID] = struct{}{}
	r.edges = append(r.edges, edges...)
	r.nodes = append(r.nodes, newNodes...)
}

func (r *recordingSink) OnProgress(ctx context.Context, progress ports.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progress)
}

func (r *recordingSink) OnComplete(ctx context.Context, runID string, graph aggregates.GraphData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, graph)
}

func stamp(minutes int) *time.Time {
	t := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(minutes) * time.Minute)
	return &t
}

func document(id, title string, modified int) entities.Document {
	return entities.Document{ID: id, Title: title, LastModifiedAt: stamp(modified)}
}

func paragraph(id, text string, children ...entities.ContentBlock) entities.ContentBlock {
	return entities.ContentBlock{ID: id, BodyText: text, Children: children}
}

func link(target string) string {
	return fmt.Sprintf("[see](block://%s)", target)
}
