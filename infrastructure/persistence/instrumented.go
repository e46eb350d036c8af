package persistence

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/internal/observability"
)

// InstrumentedStore wraps a SnapshotStore with metrics and logging. Misses
// are not counted as errors.
type InstrumentedStore struct {
	inner         ports.SnapshotStore
	backend       string
	metrics       *observability.Collector
	logger        *zap.Logger
	slowThreshold time.Duration
}

// NewInstrumentedStore wraps inner; backend labels its metrics
func NewInstrumentedStore(inner ports.SnapshotStore, backend string, metrics *observability.Collector, logger *zap.Logger) *InstrumentedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InstrumentedStore{
		inner:         inner,
		backend:       backend,
		metrics:       metrics,
		logger:        logger.Named("snapshot_store"),
		slowThreshold: time.Second,
	}
}

func (s *InstrumentedStore) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	start := time.Now()
	snapshot, err := s.inner.Load(ctx, key)
	if errors.Is(err, ports.ErrSnapshotNotFound) {
		s.observe("load_miss", key, nil, start)
		return nil, err
	}
	s.observe("load", key, err, start)
	return snapshot, err
}

func (s *InstrumentedStore) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	start := time.Now()
	err := s.inner.Save(ctx, key, snapshot)
	s.observe("save", key, err, start)
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	s.observe("delete", key, err, start)
	return err
}

func (s *InstrumentedStore) observe(operation, key string, err error, start time.Time) {
	s.metrics.RecordSnapshotOperation(operation, s.backend, err)

	duration := time.Since(start)
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("backend", s.backend),
		zap.String("key", key),
		zap.Duration("duration", duration),
	}
	switch {
	case err != nil:
		s.logger.Error("snapshot operation failed", append(fields, zap.Error(err))...)
	case duration > s.slowThreshold:
		s.logger.Warn("slow snapshot operation", fields...)
	default:
		s.logger.Debug("snapshot operation", fields...)
	}
}
