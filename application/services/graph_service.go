package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"docgraph/application/ports"
	"docgraph/domain/core/aggregates"
	"docgraph/domain/core/entities"
	domain "docgraph/domain/services"
	"docgraph/internal/observability"
	apperrors "docgraph/pkg/errors"
)

// Run modes reported in results and metrics
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
	ModeNoop        = "noop"
)

// SnapshotKey derives the snapshot store key for a content endpoint
func SnapshotKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return "snapshot#" + hex.EncodeToString(sum[:])[:16]
}

// GraphServiceConfig configures the graph service
type GraphServiceConfig struct {
	// Endpoint identifies the content source; it scopes the snapshot key
	Endpoint       string
	IncludeTags    bool
	IncludeFolders bool
	// SnapshotMaxAge bounds how old a snapshot may be to seed a refresh
	SnapshotMaxAge time.Duration
}

// RunOptions override the configured aggregate options for one run
type RunOptions struct {
	IncludeTags    *bool
	IncludeFolders *bool
	// ConnectionID names the client connection receiving push events
	ConnectionID string
}

// RunResult describes a finished build or refresh
type RunResult struct {
	RunID      string               `json:"runId"`
	Mode       string               `json:"mode"`
	HadChanges bool                 `json:"hadChanges"`
	Aborted    bool                 `json:"aborted"`
	Added      []string             `json:"added"`
	Modified   []string             `json:"modified"`
	Deleted    []string             `json:"deleted"`
	Failed     []string             `json:"failed"`
	Documents  int                  `json:"documents"`
	Graph      aggregates.GraphData `json:"graph"`
	Duration   time.Duration        `json:"duration"`
}

// GraphView is the current graph with its provenance
type GraphView struct {
	Graph     aggregates.GraphData `json:"graph"`
	Documents int                  `json:"documents"`
	BuiltAt   time.Time            `json:"builtAt"`
}

// session is the graph state adopted after the last successful run
type session struct {
	graph    *aggregates.Graph
	index    *domain.OwnerIndex
	metadata []entities.DocumentMetadata
	options  ports.SnapshotOptions
	builtAt  time.Time
}

// GraphService builds the document graph and keeps it current. Build and
// refresh runs are serialized; concurrent requests for the same kind of run
// share one execution.
type GraphService struct {
	transport ports.ContentTransport
	folders   ports.FolderProvider
	store     ports.SnapshotStore
	sink      ports.GraphEventSink
	scheduler *FetchScheduler
	config    GraphServiceConfig
	logger    *zap.Logger
	metrics   *observability.Collector
	tracer    *observability.TracerProvider
	now       func() time.Time

	group singleflight.Group
	runMu sync.Mutex

	mu      sync.RWMutex
	session *session

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc
	activeRun string
}

// NewGraphService creates the service. folders and sink may be nil.
func NewGraphService(
	transport ports.ContentTransport,
	folders ports.FolderProvider,
	store ports.SnapshotStore,
	sink ports.GraphEventSink,
	scheduler *FetchScheduler,
	config GraphServiceConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer *observability.TracerProvider,
) *GraphService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = noopSink{}
	}
	return &GraphService{
		transport: transport,
		folders:   folders,
		store:     store,
		sink:      sink,
		scheduler: scheduler,
		config:    config,
		logger:    logger,
		metrics:   metrics,
		tracer:    tracer,
		now:       time.Now,
	}
}

// SnapshotKey returns the key this service persists under
func (s *GraphService) SnapshotKey() string {
	return SnapshotKey(s.config.Endpoint)
}

// Scheduler returns the fetch scheduler used for runs
func (s *GraphService) Scheduler() *FetchScheduler {
	return s.scheduler
}

// Build assembles the graph from scratch
func (s *GraphService) Build(ctx context.Context, opts RunOptions) (*RunResult, error) {
	assembleOpts := s.resolveOptions(opts)
	key := runKey("build", assembleOpts, opts.ConnectionID)
	return s.shared(ctx, key, opts, func(ctx context.Context) (*RunResult, error) {
		return s.build(ctx, assembleOpts)
	})
}

// Refresh brings the graph up to date by re-fetching only documents that
// changed since the last snapshot. Without a usable snapshot it builds from
// scratch.
func (s *GraphService) Refresh(ctx context.Context, opts RunOptions) (*RunResult, error) {
	assembleOpts := s.resolveOptions(opts)
	key := runKey("refresh", assembleOpts, opts.ConnectionID)
	return s.shared(ctx, key, opts, func(ctx context.Context) (*RunResult, error) {
		return s.refresh(ctx, assembleOpts)
	})
}

// Current returns the graph of the session, restoring it from the snapshot
// store when the process has not built one yet
func (s *GraphService) Current(ctx context.Context) (*GraphView, error) {
	if current := s.currentSession(); current != nil {
		return viewOf(current), nil
	}

	restored, err := s.restore(ctx)
	if err != nil {
		return nil, err
	}
	if restored == nil {
		return nil, apperrors.NewNotFoundError("graph")
	}
	s.adopt(restored)
	return viewOf(restored), nil
}

// Invalidate deletes the stored snapshot and forgets the session, so the
// next refresh builds from scratch
func (s *GraphService) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	err := s.store.Delete(ctx, s.SnapshotKey())
	if err != nil {
		return apperrors.NewStorageError("delete snapshot", err)
	}
	s.logger.Info("snapshot invalidated", zap.String("key", s.SnapshotKey()))
	return nil
}

// Abort cancels the running build or refresh. It reports the run id that
// was cancelled, or false when nothing was running.
func (s *GraphService) Abort() (string, bool) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()

	if s.cancelRun == nil {
		return "", false
	}
	s.cancelRun()
	s.logger.Info("run abort requested", zap.String("run_id", s.activeRun))
	return s.activeRun, true
}

func (s *GraphService) shared(ctx context.Context, key string, opts RunOptions, run func(context.Context) (*RunResult, error)) (*RunResult, error) {
	// a shared run outlives the request that started it; Abort stops it
	runCtx := ports.WithConnectionID(context.WithoutCancel(ctx), opts.ConnectionID)

	ch := s.group.DoChan(key, func() (interface{}, error) {
		s.runMu.Lock()
		defer s.runMu.Unlock()
		return run(runCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RunResult), nil
	case <-ctx.Done():
		return nil, apperrors.NewTimeoutError("graph run").WithCause(ctx.Err())
	}
}

func (s *GraphService) build(ctx context.Context, opts domain.AssembleOptions) (result *RunResult, err error) {
	runCtx, runID, done := s.beginRun(ctx)
	defer done()

	start := s.now()
	runCtx, span := s.tracer.StartSpan(runCtx, "GraphService.Build")
	defer func() {
		s.finishSpan(span, result, err)
		s.recordRun(result, err, start)
	}()

	docs, err := s.listDocuments(runCtx)
	if err != nil {
		return nil, err
	}
	requested := snapshotOptions(opts)
	opts = s.withFolders(runCtx, opts)

	assembly := domain.NewAssembly(domain.NewOwnerIndex(), opts)
	nodes := assembly.AddDocuments(docs)
	s.sink.OnNodesReady(runCtx, runID, nodes)

	active := activeDocuments(docs)
	stats, err := s.scheduler.Run(runCtx, active, FetchHandlers{
		OnResult: func(r FetchResult) {
			step := assembly.Apply(r.DocumentID, r.Blocks)
			if !step.IsEmpty() {
				s.sink.OnEdgesDiscovered(runCtx, runID, step.Edges, step.Nodes)
			}
		},
		OnProgress: s.progress(runCtx, runID),
	})
	if errors.Is(err, ErrRunCancelled) {
		return s.aborted(runID, ModeFull, start), nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "fetch document content")
	}

	graph, final := assembly.Finish()
	if !final.IsEmpty() {
		s.sink.OnEdgesDiscovered(runCtx, runID, final.Edges, final.Nodes)
	}

	next := &session{
		graph:    graph,
		index:    assembly.Index(),
		metadata: withoutFailed(entities.MetadataOf(docs), stats.Failures),
		options:  requested,
		builtAt:  s.now(),
	}
	s.commit(runCtx, next)
	data := graph.Data()
	s.sink.OnComplete(runCtx, runID, data)

	s.logger.Info("graph built",
		zap.String("run_id", runID),
		zap.Int("documents", len(active)),
		zap.Int("nodes", graph.NodeCount()),
		zap.Int("edges", graph.EdgeCount()),
		zap.Int("failed", stats.Failed))

	return &RunResult{
		RunID:      runID,
		Mode:       ModeFull,
		HadChanges: true,
		Added:      idsOf(active),
		Modified:   []string{},
		Deleted:    []string{},
		Failed:     stats.FailedIDs(),
		Documents:  len(active),
		Graph:      data,
		Duration:   s.now().Sub(start),
	}, nil
}

func (s *GraphService) refresh(ctx context.Context, opts domain.AssembleOptions) (result *RunResult, err error) {
	previous, err := s.previousSession(ctx)
	if err != nil {
		return nil, err
	}
	if previous == nil || previous.options != snapshotOptions(opts) {
		s.logger.Info("no reusable snapshot, building from scratch")
		return s.build(ctx, opts)
	}

	runCtx, runID, done := s.beginRun(ctx)
	defer done()

	start := s.now()
	runCtx, span := s.tracer.StartSpan(runCtx, "GraphService.Refresh")
	defer func() {
		s.finishSpan(span, result, err)
		s.recordRun(result, err, start)
	}()

	docs, err := s.listDocuments(runCtx)
	if err != nil {
		return nil, err
	}

	current := entities.MetadataOf(docs)
	diff := domain.Diff(previous.metadata, current)
	span.SetAttributes(
		attribute.Int("diff.added", len(diff.Added)),
		attribute.Int("diff.modified", len(diff.Modified)),
		attribute.Int("diff.deleted", len(diff.Deleted)),
	)

	if !diff.HasChanges() {
		s.adopt(previous)
		data := previous.graph.Data()
		s.sink.OnComplete(runCtx, runID, data)
		return &RunResult{
			RunID:     runID,
			Mode:      ModeNoop,
			Added:     diff.Added,
			Modified:  diff.Modified,
			Deleted:   diff.Deleted,
			Failed:    []string{},
			Documents: len(current),
			Graph:     data,
			Duration:  s.now().Sub(start),
		}, nil
	}

	requested := snapshotOptions(opts)
	opts = s.withFolders(runCtx, opts)

	touched := documentsByID(docs, diff.Touched())
	trees := make(map[string][]entities.ContentBlock, len(touched))
	stats, err := s.scheduler.Run(runCtx, touched, FetchHandlers{
		OnResult: func(r FetchResult) {
			trees[r.DocumentID] = r.Blocks
		},
		OnProgress: s.progress(runCtx, runID),
	})
	if errors.Is(err, ErrRunCancelled) {
		return s.aborted(runID, ModeIncremental, start), nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "fetch document content")
	}

	update := domain.ApplyIncremental(previous.graph, diff, docs, trees, previous.index, opts)
	if len(update.Discovery.Nodes) > 0 {
		s.sink.OnNodesReady(runCtx, runID, update.Discovery.Nodes)
	}
	if len(update.Discovery.Edges) > 0 {
		s.sink.OnEdgesDiscovered(runCtx, runID, update.Discovery.Edges, nil)
	}

	s.commit(runCtx, &session{
		graph:    update.Graph,
		index:    update.Index,
		metadata: withoutFailed(current, stats.Failures),
		options:  requested,
		builtAt:  s.now(),
	})
	data := update.Graph.Data()
	s.sink.OnComplete(runCtx, runID, data)

	s.logger.Info("graph refreshed",
		zap.String("run_id", runID),
		zap.Int("added", len(diff.Added)),
		zap.Int("modified", len(diff.Modified)),
		zap.Int("deleted", len(diff.Deleted)),
		zap.Int("promoted", len(update.Promoted)),
		zap.Int("pruned", len(update.Pruned)),
		zap.Int("failed", stats.Failed))

	return &RunResult{
		RunID:      runID,
		Mode:       ModeIncremental,
		HadChanges: true,
		Added:      diff.Added,
		Modified:   diff.Modified,
		Deleted:    diff.Deleted,
		Failed:     stats.FailedIDs(),
		Documents:  len(current),
		Graph:      data,
		Duration:   s.now().Sub(start),
	}, nil
}

// beginRun registers a cancellable run so Abort can reach it
func (s *GraphService) beginRun(ctx context.Context) (context.Context, string, func()) {
	runCtx, cancel := context.WithCancel(ctx)
	runID := uuid.New().String()

	s.cancelMu.Lock()
	s.cancelRun = cancel
	s.activeRun = runID
	s.cancelMu.Unlock()

	return runCtx, runID, func() {
		s.cancelMu.Lock()
		if s.activeRun == runID {
			s.cancelRun = nil
			s.activeRun = ""
		}
		s.cancelMu.Unlock()
		cancel()
	}
}

func (s *GraphService) listDocuments(ctx context.Context) ([]entities.Document, error) {
	docs, err := s.transport.ListDocuments(ctx)
	if err != nil {
		s.logger.Error("document listing failed", zap.Error(err))
		if apperrors.IsAppError(err) {
			return nil, apperrors.Wrap(err, "list documents")
		}
		return nil, apperrors.NewExternalError("content-api", err)
	}
	return docs, nil
}

// withFolders loads folder membership when folder hubs are requested. The
// provider is optional; without it, or when it fails, folder hubs are skipped.
func (s *GraphService) withFolders(ctx context.Context, opts domain.AssembleOptions) domain.AssembleOptions {
	if !opts.IncludeFolders {
		return opts
	}
	if s.folders == nil {
		opts.IncludeFolders = false
		return opts
	}
	membership, err := s.folders.FolderMembership(ctx)
	if apperrors.IsNotFound(err) {
		s.logger.Info("content API exposes no folders, skipping folder nodes")
		opts.IncludeFolders = false
		return opts
	}
	if err != nil {
		s.logger.Warn("folder membership unavailable, skipping folder nodes", zap.Error(err))
		opts.IncludeFolders = false
		return opts
	}
	opts.Folders = membership
	return opts
}

func (s *GraphService) progress(ctx context.Context, runID string) func(int, int, string) {
	return func(completed, total int, label string) {
		s.sink.OnProgress(ctx, ports.Progress{
			RunID:     runID,
			Completed: completed,
			Total:     total,
			Label:     label,
		})
	}
}

func (s *GraphService) aborted(runID, mode string, start time.Time) *RunResult {
	s.logger.Info("run aborted, keeping previous graph", zap.String("run_id", runID))
	result := &RunResult{
		RunID:    runID,
		Mode:     mode,
		Aborted:  true,
		Added:    []string{},
		Modified: []string{},
		Deleted:  []string{},
		Failed:   []string{},
		Duration: s.now().Sub(start),
	}
	if current := s.currentSession(); current != nil {
		result.Graph = current.graph.Data()
		result.Documents = len(current.metadata)
	}
	return result
}

// commit adopts the new session and persists it. A failed save is logged;
// the in-memory graph stays authoritative until the next run.
func (s *GraphService) commit(ctx context.Context, next *session) {
	s.adopt(next)

	snapshot := &ports.Snapshot{
		Version:          ports.SnapshotVersion,
		DocumentMetadata: next.metadata,
		Graph:            next.graph.Data(),
		BlockOwners:      next.index.Entries(),
		Options:          next.options,
		SavedAt:          next.builtAt,
	}
	err := s.store.Save(ctx, s.SnapshotKey(), snapshot)
	if err != nil {
		s.logger.Error("failed to persist snapshot", zap.String("key", s.SnapshotKey()), zap.Error(err))
	}
}

func (s *GraphService) adopt(next *session) {
	s.mu.Lock()
	s.session = next
	s.mu.Unlock()
}

func (s *GraphService) currentSession() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// previousSession returns the state a refresh diffs against: the live
// session when fresh, otherwise the stored snapshot. nil means none usable.
func (s *GraphService) previousSession(ctx context.Context) (*session, error) {
	if current := s.currentSession(); current != nil && !s.isStale(current.builtAt) {
		return current, nil
	}
	return s.restore(ctx)
}

// restore loads the stored snapshot. Missing, stale, unreadable or
// incompatible snapshots count as absent.
func (s *GraphService) restore(ctx context.Context) (*session, error) {
	snapshot, err := s.store.Load(ctx, s.SnapshotKey())
	switch {
	case errors.Is(err, ports.ErrSnapshotNotFound):
		return nil, nil
	case err != nil:
		s.logger.Warn("snapshot load failed, treating as absent", zap.Error(err))
		return nil, nil
	case snapshot == nil || snapshot.Version != ports.SnapshotVersion:
		return nil, nil
	case snapshot.IsStale(s.now(), s.config.SnapshotMaxAge):
		s.logger.Info("snapshot is stale", zap.Time("saved_at", snapshot.SavedAt))
		return nil, nil
	}

	graph := aggregates.ReconstructGraph(snapshot.Graph)
	index := domain.NewOwnerIndex()
	for _, node := range graph.NodesOfKind(entities.NodeKindDocument) {
		index.Seed(node.ID)
	}
	index.Restore(snapshot.BlockOwners)

	return &session{
		graph:    graph,
		index:    index,
		metadata: snapshot.DocumentMetadata,
		options:  snapshot.Options,
		builtAt:  snapshot.SavedAt,
	}, nil
}

func (s *GraphService) isStale(builtAt time.Time) bool {
	return s.config.SnapshotMaxAge > 0 && s.now().Sub(builtAt) > s.config.SnapshotMaxAge
}

func (s *GraphService) resolveOptions(opts RunOptions) domain.AssembleOptions {
	resolved := domain.AssembleOptions{
		IncludeTags:    s.config.IncludeTags,
		IncludeFolders: s.config.IncludeFolders,
	}
	if opts.IncludeTags != nil {
		resolved.IncludeTags = *opts.IncludeTags
	}
	if opts.IncludeFolders != nil {
		resolved.IncludeFolders = *opts.IncludeFolders
	}
	return resolved
}

func (s *GraphService) finishSpan(span trace.Span, result *RunResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if result != nil {
		span.SetAttributes(
			attribute.String("run.id", result.RunID),
			attribute.String("run.mode", result.Mode),
			attribute.Bool("run.aborted", result.Aborted),
			attribute.Int("graph.nodes", len(result.Graph.Nodes)),
			attribute.Int("graph.edges", len(result.Graph.Edges)),
		)
	}
	span.End()
}

func (s *GraphService) recordRun(result *RunResult, err error, start time.Time) {
	mode := ModeFull
	nodes, edges := 0, 0
	if result != nil {
		mode = result.Mode
		nodes, edges = len(result.Graph.Nodes), len(result.Graph.Edges)
	}
	s.metrics.RecordGraphRun(mode, err, s.now().Sub(start), nodes, edges)
}

func viewOf(current *session) *GraphView {
	return &GraphView{
		Graph:     current.graph.Data(),
		Documents: len(current.metadata),
		BuiltAt:   current.builtAt,
	}
}

// runKey groups concurrent requests that may share one run. Runs pushing to
// different connections are kept apart so each connection sees its events.
func runKey(kind string, opts domain.AssembleOptions, connectionID string) string {
	return fmt.Sprintf("%s:%t:%t:%s", kind, opts.IncludeTags, opts.IncludeFolders, connectionID)
}

// withoutFailed drops documents whose content could not be fetched, so the
// next refresh sees them as added and fetches them again
func withoutFailed(metadata []entities.DocumentMetadata, failures map[string]error) []entities.DocumentMetadata {
	if len(failures) == 0 {
		return metadata
	}
	kept := make([]entities.DocumentMetadata, 0, len(metadata))
	for _, entry := range metadata {
		if _, failed := failures[entry.ID]; failed {
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

func snapshotOptions(opts domain.AssembleOptions) ports.SnapshotOptions {
	return ports.SnapshotOptions{IncludeTags: opts.IncludeTags, IncludeFolders: opts.IncludeFolders}
}

func activeDocuments(docs []entities.Document) []entities.Document {
	active := make([]entities.Document, 0, len(docs))
	seen := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if doc.ID == "" || doc.Deleted {
			continue
		}
		if _, dup := seen[doc.ID]; dup {
			continue
		}
		seen[doc.ID] = struct{}{}
		active = append(active, doc)
	}
	return active
}

func documentsByID(docs []entities.Document, ids []string) []entities.Document {
	byID := make(map[string]entities.Document, len(docs))
	for _, doc := range docs {
		byID[doc.ID] = doc
	}
	out := make([]entities.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			out = append(out, doc)
		}
	}
	return out
}

func idsOf(docs []entities.Document) []string {
	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	return sortStrings(ids)
}

func sortStrings(ids []string) []string {
	sort.Strings(ids)
	return ids
}

type noopSink struct{}

func (noopSink) OnNodesReady(context.Context, string, []entities.GraphNode) {}
func (noopSink) OnEdgesDiscovered(context.Context, string, []entities.GraphEdge, []entities.GraphNode) {
}
func (noopSink) OnProgress(context.Context, ports.Progress)                  {}
func (noopSink) OnComplete(context.Context, string, aggregates.GraphData) {}
