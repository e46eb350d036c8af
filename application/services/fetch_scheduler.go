package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/domain/core/entities"
	"docgraph/internal/concurrency"
	"docgraph/internal/observability"
)

// DefaultFetchConcurrency is the in-flight request limit when none is configured
const DefaultFetchConcurrency = 12

// ErrRunCancelled is returned when a fetch run is abandoned before every
// document completed
var ErrRunCancelled = errors.New("fetch run cancelled")

// FetchResult is the outcome of fetching one document. Blocks is nil when Err
// is set.
type FetchResult struct {
	DocumentID string
	Title      string
	Blocks     []entities.ContentBlock
	Err        error
	Duration   time.Duration
}

// FetchHandlers are invoked on the coordinating goroutine, one call at a time
type FetchHandlers struct {
	OnResult   func(result FetchResult)
	OnProgress func(completed, total int, label string)
}

// RunStats summarises a fetch run
type RunStats struct {
	Total     int
	Completed int
	Failed    int
	Discarded int
	Failures  map[string]error
	Duration  time.Duration
}

// FailedIDs returns the ids of documents whose fetch failed
func (s RunStats) FailedIDs() []string {
	ids := make([]string, 0, len(s.Failures))
	for id := range s.Failures {
		ids = append(ids, id)
	}
	return sortStrings(ids)
}

// FetchScheduler retrieves document content trees with bounded parallelism.
// Workers only fetch; every result is handed back over a channel to the
// goroutine that called Run, which is the only one touching caller state.
type FetchScheduler struct {
	transport   ports.ContentTransport
	limit       atomic.Int32
	environment concurrency.RuntimeEnvironment
	logger      *zap.Logger
	metrics     *observability.Collector
}

// NewFetchScheduler creates a scheduler. A limit of zero or less picks a
// limit suited to the runtime environment.
func NewFetchScheduler(transport ports.ContentTransport, limit int, logger *zap.Logger, metrics *observability.Collector) *FetchScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FetchScheduler{
		transport:   transport,
		environment: concurrency.DetectEnvironment(),
		logger:      logger,
		metrics:     metrics,
	}
	s.SetLimit(limit)
	return s
}

// SetLimit changes the in-flight limit for subsequent runs
func (s *FetchScheduler) SetLimit(limit int) {
	if limit <= 0 {
		limit = concurrency.GetOptimalWorkerCount(s.environment)
		if limit > DefaultFetchConcurrency {
			limit = DefaultFetchConcurrency
		}
	}
	s.limit.Store(int32(limit))
}

// Limit returns the in-flight limit
func (s *FetchScheduler) Limit() int {
	return int(s.limit.Load())
}

// Run fetches every document exactly once. A failed fetch is recorded and
// reported with a nil tree; it never stops the others. When ctx is cancelled
// Run returns ErrRunCancelled at once, queued documents are not started and
// results of in-flight requests are dropped.
func (s *FetchScheduler) Run(ctx context.Context, docs []entities.Document, handlers FetchHandlers) (RunStats, error) {
	start := time.Now()
	stats := RunStats{Total: len(docs), Failures: make(map[string]error)}
	if len(docs) == 0 {
		return stats, nil
	}
	if err := ctx.Err(); err != nil {
		stats.Discarded = stats.Total
		return stats, fmt.Errorf("%w: %v", ErrRunCancelled, err)
	}

	workers := s.Limit()
	if workers > len(docs) {
		workers = len(docs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := concurrency.NewPool(runCtx, concurrency.PoolConfig{
		Name:        "fetch",
		MaxWorkers:  workers,
		QueueSize:   len(docs),
		Environment: s.environment,
		Logger:      s.logger,
		Observer:    s.metrics,
	})

	// sized so a worker never blocks on delivery, even after Run returned
	results := make(chan FetchResult, len(docs))

	for _, doc := range docs {
		var blocks []entities.ContentBlock
		var began time.Time
		err := pool.Submit(concurrency.Task{
			ID: doc.ID,
			Execute: func(ctx context.Context) error {
				began = time.Now()
				var err error
				blocks, err = s.transport.FetchDocumentContent(ctx, doc.ID)
				return err
			},
			Callback: func(id string, err error) {
				results <- FetchResult{
					DocumentID: id,
					Title:      doc.DisplayTitle(),
					Blocks:     blocks,
					Err:        err,
					Duration:   time.Since(began),
				}
			},
		})
		if err != nil {
			results <- FetchResult{DocumentID: doc.ID, Title: doc.DisplayTitle(), Err: err}
		}
	}

	for stats.Completed < stats.Total {
		select {
		case <-ctx.Done():
			return s.abandon(pool, stats, start, ctx.Err())

		case result := <-results:
			if ctx.Err() != nil {
				return s.abandon(pool, stats, start, ctx.Err())
			}
			stats.Completed++

			if result.Err != nil {
				stats.Failed++
				stats.Failures[result.DocumentID] = result.Err
				result.Blocks = nil
				s.metrics.RecordFetch("failed", result.Duration)
				s.logger.Warn("document fetch failed, using empty content",
					zap.String("document_id", result.DocumentID),
					zap.Error(result.Err))
			} else {
				s.metrics.RecordFetch("ok", result.Duration)
			}

			if handlers.OnResult != nil {
				handlers.OnResult(result)
			}
			if handlers.OnProgress != nil {
				handlers.OnProgress(stats.Completed, stats.Total, result.Title)
			}
		}
	}

	pool.Drain()
	stats.Duration = time.Since(start)
	s.logger.Debug("fetch run complete",
		zap.Int("documents", stats.Total),
		zap.Int("failed", stats.Failed),
		zap.Int("workers", pool.Workers()),
		zap.Duration("duration", stats.Duration),
		zap.Any("pool", pool.GetStats()))
	return stats, nil
}

// abandon stops dispatching and returns without waiting for in-flight work
func (s *FetchScheduler) abandon(pool *concurrency.Pool, stats RunStats, start time.Time, cause error) (RunStats, error) {
	pool.Shutdown()
	stats.Discarded = stats.Total - stats.Completed
	stats.Duration = time.Since(start)
	for i := 0; i < stats.Discarded; i++ {
		s.metrics.RecordFetch("discarded", 0)
	}
	s.logger.Info("fetch run abandoned",
		zap.Int("completed", stats.Completed),
		zap.Int("discarded", stats.Discarded))
	return stats, fmt.Errorf("%w: %v", ErrRunCancelled, cause)
}
