// Package badger is a snapshot store on an embedded BadgerDB.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/infrastructure/persistence"
)

const keyPrefix = "docgraph/"

// Config holds configuration for the BadgerDB instance
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM, for tests
	InMemory   bool
	SyncWrites bool
	// TTL expires snapshots; zero keeps them
	TTL time.Duration
	// GCInterval runs value log GC; zero disables it
	GCInterval time.Duration
}

// Store persists snapshots in BadgerDB
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger

	stopGC    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type zapLogger struct {
	logger *zap.SugaredLogger
}

func (l zapLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l zapLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l zapLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l zapLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// Open opens the database described by cfg
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(zapLogger{logger: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db, ttl: cfg.TTL, logger: logger, stopGC: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.wg.Add(1)
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// Load returns the snapshot stored under key
func (s *Store) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ports.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return persistence.DecodeSnapshot(data)
}

// Save stores the snapshot under key
func (s *Store) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	data, err := persistence.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	entry := badger.NewEntry([]byte(keyPrefix+key), data)
	if s.ttl > 0 {
		entry = entry.WithTTL(s.ttl)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	}); err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	s.logger.Debug("snapshot stored", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	}); err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

// Close stops GC and closes the database
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopGC)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *Store) runGC(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// rewrite until nothing is left to reclaim
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}
