package concurrency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectEnvironment(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected RuntimeEnvironment
	}{
		{
			name:     "Lambda environment",
			envVars:  map[string]string{"AWS_LAMBDA_FUNCTION_NAME": "test-function"},
			expected: EnvironmentLambda,
		},
		{
			name:     "ECS environment",
			envVars:  map[string]string{"ECS_CONTAINER_METADATA_URI": "http://169.254.170.2/v3"},
			expected: EnvironmentECS,
		},
		{
			name:     "ECS Fargate environment",
			envVars:  map[string]string{"ECS_CONTAINER_METADATA_URI_V4": "http://169.254.170.2/v4"},
			expected: EnvironmentECS,
		},
		{
			name:     "Local environment",
			envVars:  map[string]string{},
			expected: EnvironmentLocal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"AWS_LAMBDA_FUNCTION_NAME", "ECS_CONTAINER_METADATA_URI", "ECS_CONTAINER_METADATA_URI_V4"} {
				t.Setenv(key, "")
				require.NoError(t, os.Unsetenv(key))
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			assert.Equal(t, tt.expected, DetectEnvironment())
		})
	}
}

func TestGetOptimalWorkerCount(t *testing.T) {
	tests := []struct {
		name     string
		env      RuntimeEnvironment
		memoryMB string
		min, max int
	}{
		{name: "Lambda small memory", env: EnvironmentLambda, memoryMB: "256", min: 4, max: 4},
		{name: "Lambda default memory", env: EnvironmentLambda, memoryMB: "", min: 6, max: 6},
		{name: "Lambda large memory", env: EnvironmentLambda, memoryMB: "4096", min: 12, max: 12},
		{name: "ECS", env: EnvironmentECS, min: 4, max: 40},
		{name: "Local", env: EnvironmentLocal, min: 8, max: 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE", tt.memoryMB)

			workers := GetOptimalWorkerCount(tt.env)

			assert.GreaterOrEqual(t, workers, tt.min)
			assert.LessOrEqual(t, workers, tt.max)
		})
	}
}

func TestPool_RunsEveryTask(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{MaxWorkers: 3, QueueSize: 50, Environment: EnvironmentLocal})

	var executed int64
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("task-%d", i)
		err := pool.Submit(Task{
			ID: id,
			Execute: func(ctx context.Context) error {
				atomic.AddInt64(&executed, 1)
				return nil
			},
			Callback: func(id string, err error) {
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			},
		})
		require.NoError(t, err)
	}

	pool.Drain()

	assert.Equal(t, int64(50), atomic.LoadInt64(&executed))
	assert.Len(t, seen, 50)
	stats := pool.GetStats()
	assert.Equal(t, uint64(50), stats["tasks_completed"])
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const limit = 4
	pool := NewPool(context.Background(), PoolConfig{MaxWorkers: limit, QueueSize: 40})

	var current, peak int64
	for i := 0; i < 40; i++ {
		require.NoError(t, pool.Submit(Task{
			ID: fmt.Sprint(i),
			Execute: func(ctx context.Context) error {
				n := atomic.AddInt64(&current, 1)
				for {
					old := atomic.LoadInt64(&peak)
					if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			},
		}))
	}
	pool.Drain()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestPool_PanicReportedToCallback(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{MaxWorkers: 1, QueueSize: 2})

	errs := make(chan error, 2)
	require.NoError(t, pool.Submit(Task{
		ID:       "boom",
		Execute:  func(ctx context.Context) error { panic("kaboom") },
		Callback: func(id string, err error) { errs <- err },
	}))
	require.NoError(t, pool.Submit(Task{
		ID:       "after",
		Execute:  func(ctx context.Context) error { return nil },
		Callback: func(id string, err error) { errs <- err },
	}))
	pool.Drain()

	first := <-errs
	require.Error(t, first)
	assert.Contains(t, first.Error(), "kaboom")
	assert.NoError(t, <-errs)
	assert.Equal(t, uint64(1), pool.GetStats()["worker_panics"])
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{MaxWorkers: 1, QueueSize: 1})
	pool.Shutdown()
	pool.Shutdown()

	err := pool.Submit(Task{ID: "late", Execute: func(ctx context.Context) error { return nil }})

	assert.True(t, errors.Is(err, ErrPoolStopped))
}

func TestPool_QueueFull(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{MaxWorkers: 1, QueueSize: 1})
	defer pool.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	block := Task{ID: "block", Execute: func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}}
	require.NoError(t, pool.Submit(block))
	<-started
	require.NoError(t, pool.Submit(Task{ID: "queued", Execute: func(ctx context.Context) error { return nil }}))

	err := pool.Submit(Task{ID: "overflow", Execute: func(ctx context.Context) error { return nil }})

	assert.ErrorIs(t, err, ErrQueueFull)
	close(release)
}

func TestPool_ShutdownDoesNotWaitForHungTask(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{MaxWorkers: 1, QueueSize: 4})

	started := make(chan struct{})
	hang := make(chan struct{})
	defer close(hang)
	require.NoError(t, pool.Submit(Task{ID: "hung", Execute: func(ctx context.Context) error {
		close(started)
		<-hang
		return nil
	}}))
	<-started

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown blocked on a running task")
	}
}
