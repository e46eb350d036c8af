// Package memory is an in-process snapshot store with LRU eviction and TTL.
package memory

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/infrastructure/persistence"
)

// Store keeps encoded snapshots in memory. Entries are copied in and out so
// callers never share a snapshot with the store.
type Store struct {
	mu       sync.Mutex
	items    map[string]*entry
	lru      *list.List
	maxItems int
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	hits, misses, evictions int64
}

type entry struct {
	key     string
	value   []byte
	expiry  time.Time
	element *list.Element
}

// NewStore creates a store holding at most maxItems snapshots. A zero ttl
// keeps entries until evicted.
func NewStore(maxItems int, ttl time.Duration, logger *zap.Logger) *Store {
	if maxItems <= 0 {
		maxItems = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		items:    make(map[string]*entry),
		lru:      list.New(),
		maxItems: maxItems,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Load returns the snapshot stored under key
func (s *Store) Load(ctx context.Context, key string) (*ports.Snapshot, error) {
	s.mu.Lock()
	item, ok := s.items[key]
	if ok && !item.expiry.IsZero() && s.now().After(item.expiry) {
		s.remove(item)
		ok = false
	}
	if !ok {
		s.misses++
		s.mu.Unlock()
		return nil, ports.ErrSnapshotNotFound
	}
	s.lru.MoveToFront(item.element)
	s.hits++
	data := item.value
	s.mu.Unlock()

	return persistence.DecodeSnapshot(data)
}

// Save stores the snapshot under key, evicting the least recently used
// entries beyond capacity
func (s *Store) Save(ctx context.Context, key string, snapshot *ports.Snapshot) error {
	data, err := persistence.EncodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[key]; ok {
		s.remove(existing)
	}
	for len(s.items) >= s.maxItems && s.lru.Len() > 0 {
		oldest := s.lru.Back().Value.(*entry)
		s.remove(oldest)
		s.evictions++
		s.logger.Debug("evicted snapshot", zap.String("key", oldest.key))
	}

	item := &entry{key: key, value: data}
	if s.ttl > 0 {
		item.expiry = s.now().Add(s.ttl)
	}
	item.element = s.lru.PushFront(item)
	s.items[key] = item
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.items[key]; ok {
		s.remove(item)
	}
	return nil
}

// Stats returns hit, miss and eviction counts
func (s *Store) Stats() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int64{
		"items":     int64(len(s.items)),
		"hits":      s.hits,
		"misses":    s.misses,
		"evictions": s.evictions,
	}
}

func (s *Store) remove(item *entry) {
	s.lru.Remove(item.element)
	delete(s.items, item.key)
}
