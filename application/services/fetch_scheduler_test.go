package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docgraph/domain/core/entities"
)

func corpusOf(t *testing.T, transport *stubTransport, n int) []entities.Document {
	t.Helper()
	docs := make([]entities.Document, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("doc-%02d", i)
		doc := document(id, "Doc "+id, i)
		transport.addDocument(doc, paragraph(id+"-p", "body"))
		docs = append(docs, doc)
	}
	return docs
}

func TestFetchScheduler_SetLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		check func(t *testing.T, got int)
	}{
		{name: "explicit", limit: 3, check: func(t *testing.T, got int) { assert.Equal(t, 3, got) }},
		{name: "zero picks default", limit: 0, check: func(t *testing.T, got int) {
			assert.Greater(t, got, 0)
			assert.LessOrEqual(t, got, DefaultFetchConcurrency)
		}},
		{name: "negative picks default", limit: -5, check: func(t *testing.T, got int) {
			assert.Greater(t, got, 0)
			assert.LessOrEqual(t, got, DefaultFetchConcurrency)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewFetchScheduler(newStubTransport(), tt.limit, zap.NewNop(), nil)
			tt.check(t, s.Limit())
		})
	}
}

func TestFetchScheduler_FetchesEveryDocumentOnce(t *testing.T) {
	transport := newStubTransport()
	docs := corpusOf(t, transport, 25)
	s := NewFetchScheduler(transport, 4, zap.NewNop(), nil)

	seen := make(map[string]int)
	stats, err := s.Run(context.Background(), docs, FetchHandlers{
		OnResult: func(r FetchResult) {
			seen[r.DocumentID]++
			assert.NoError(t, r.Err)
			assert.Len(t, r.Blocks, 1)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 25, stats.Total)
	assert.Equal(t, 25, stats.Completed)
	assert.Zero(t, stats.Failed)
	assert.Len(t, seen, 25)
	for _, doc := range docs {
		assert.Equal(t, 1, seen[doc.ID], doc.ID)
		assert.Equal(t, 1, transport.fetchCount(doc.ID), doc.ID)
	}
}

func TestFetchScheduler_BoundsInFlightRequests(t *testing.T) {
	transport := newStubTransport()
	transport.delay = 3 * time.Millisecond
	docs := corpusOf(t, transport, 30)
	s := NewFetchScheduler(transport, 3, zap.NewNop(), nil)

	_, err := s.Run(context.Background(), docs, FetchHandlers{})

	require.NoError(t, err)
	assert.LessOrEqual(t, transport.peak.Load(), int64(3))
	assert.Equal(t, 30, transport.totalFetches())
}

func TestFetchScheduler_FailureYieldsEmptyTree(t *testing.T) {
	transport := newStubTransport()
	docs := corpusOf(t, transport, 5)
	transport.fail("doc-02", errors.New("HTTP 500"))
	s := NewFetchScheduler(transport, 2, zap.NewNop(), nil)

	results := make(map[string]FetchResult)
	stats, err := s.Run(context.Background(), docs, FetchHandlers{
		OnResult: func(r FetchResult) { results[r.DocumentID] = r },
	})

	require.NoError(t, err)
	assert.Equal(t, 5, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, []string{"doc-02"}, stats.FailedIDs())

	failed := results["doc-02"]
	assert.Error(t, failed.Err)
	assert.Nil(t, failed.Blocks)
	assert.NotNil(t, results["doc-03"].Blocks)
}

func TestFetchScheduler_ProgressAdvancesOnFailure(t *testing.T) {
	transport := newStubTransport()
	docs := corpusOf(t, transport, 6)
	for _, doc := range docs {
		transport.fail(doc.ID, errors.New("unreachable"))
	}
	s := NewFetchScheduler(transport, 2, zap.NewNop(), nil)

	var completed []int
	stats, err := s.Run(context.Background(), docs, FetchHandlers{
		OnProgress: func(done, total int, label string) {
			assert.Equal(t, 6, total)
			assert.NotEmpty(t, label)
			completed = append(completed, done)
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 6, stats.Failed)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, completed)
}

func TestFetchScheduler_CancellationDiscardsInFlight(t *testing.T) {
	transport := newStubTransport()
	docs := corpusOf(t, transport, 8)
	release := transport.holdFetch("doc-00")
	defer close(release)
	s := NewFetchScheduler(transport, 1, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var delivered int
	stats, err := s.Run(ctx, docs, FetchHandlers{
		OnResult: func(FetchResult) { delivered++ },
	})

	require.ErrorIs(t, err, ErrRunCancelled)
	assert.Zero(t, delivered)
	assert.Equal(t, 8, stats.Discarded)

	// queued documents never start
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, transport.totalFetches(), 2)
}

func TestFetchScheduler_HungRequestDoesNotBlockCancellation(t *testing.T) {
	transport := newStubTransport()
	docs := corpusOf(t, transport, 3)
	hang := make(chan struct{})
	defer close(hang)

	// a transport that ignores its context entirely
	stuck := &ignoringTransport{stubTransport: transport, hang: hang}
	s := NewFetchScheduler(stuck, 3, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(ctx, docs, FetchHandlers{})
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRunCancelled)
	case <-time.After(time.Second):
		t.Fatal("Run blocked on a request that never returns")
	}
}

func TestFetchScheduler_AlreadyCancelled(t *testing.T) {
	transport := newStubTransport()
	docs := corpusOf(t, transport, 3)
	s := NewFetchScheduler(transport, 2, zap.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := s.Run(ctx, docs, FetchHandlers{})

	assert.ErrorIs(t, err, ErrRunCancelled)
	assert.Equal(t, 3, stats.Discarded)
	assert.Zero(t, transport.totalFetches())
}

func TestFetchScheduler_EmptyInput(t *testing.T) {
	s := NewFetchScheduler(newStubTransport(), 2, zap.NewNop(), nil)

	stats, err := s.Run(context.Background(), nil, FetchHandlers{
		OnResult: func(FetchResult) { t.Fatal("unexpected result") },
	})

	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

type ignoringTransport struct {
	*stubTransport
	hang chan struct{}
}

func (i *ignoringTransport) FetchDocumentContent(ctx context.Context, documentID string) ([]entities.ContentBlock, error) {
	<-i.hang
	return nil, nil
}
