// Package concurrency provides bounded goroutine pools sized for the
// deployment environment.
//
// Lambda functions get fewer workers because CPU scales with configured
// memory; ECS tasks and local runs get more, since the work submitted here is
// I/O bound.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RuntimeEnvironment represents the deployment environment
type RuntimeEnvironment string

const (
	EnvironmentLambda RuntimeEnvironment = "lambda"
	EnvironmentECS    RuntimeEnvironment = "ecs"
	EnvironmentLocal  RuntimeEnvironment = "local"
)

var (
	// ErrPoolStopped is returned by Submit once the pool is shutting down
	ErrPoolStopped = errors.New("worker pool is shutting down")
	// ErrQueueFull is returned by Submit when the queue has no room left
	ErrQueueFull = errors.New("worker pool queue is full")
)

// TaskObserver receives the outcome of every executed task
type TaskObserver interface {
	ObserveTask(pool string, duration time.Duration, err error)
}

// PoolConfig contains configuration for the worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	QueueSize   int
	Environment RuntimeEnvironment
	Logger      *zap.Logger
	Observer    TaskObserver
}

// Task represents a unit of work to be executed
type Task struct {
	ID       string
	Execute  func(ctx context.Context) error
	Callback func(id string, err error)
}

// Pool runs submitted tasks on a fixed number of workers. Workers start on the
// first submission. A task that panics is reported to its callback as an
// error and the worker carries on.
type Pool struct {
	name        string
	environment RuntimeEnvironment
	workers     int
	taskQueue   chan Task
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	running     bool
	stopped     bool
	poolStarted sync.Once
	logger      *zap.Logger
	observer    TaskObserver
	metrics     *PoolMetrics
}

// DetectEnvironment automatically detects the runtime environment
func DetectEnvironment() RuntimeEnvironment {
	if _, exists := os.LookupEnv("AWS_LAMBDA_FUNCTION_NAME"); exists {
		return EnvironmentLambda
	}
	if _, exists := os.LookupEnv("ECS_CONTAINER_METADATA_URI"); exists {
		return EnvironmentECS
	}
	if _, exists := os.LookupEnv("ECS_CONTAINER_METADATA_URI_V4"); exists {
		return EnvironmentECS
	}
	return EnvironmentLocal
}

// GetLambdaMemoryMB returns the configured memory for Lambda function
func GetLambdaMemoryMB() int {
	mem, err := strconv.Atoi(os.Getenv("AWS_LAMBDA_FUNCTION_MEMORY_SIZE"))
	if err != nil || mem <= 0 {
		return 512
	}
	return mem
}

// GetOptimalWorkerCount returns the number of concurrent I/O workers suited to
// the environment
func GetOptimalWorkerCount(env RuntimeEnvironment) int {
	switch env {
	case EnvironmentLambda:
		// Lambda gets 1 vCPU at ~1769 MB
		memoryMB := GetLambdaMemoryMB()
		switch {
		case memoryMB < 512:
			return 4
		case memoryMB < 1024:
			return 6
		case memoryMB < 1769:
			return 8
		case memoryMB < 3008:
			return 10
		}
		return 12

	case EnvironmentECS:
		workers := runtime.NumCPU() * 4
		if workers > 40 {
			return 40
		}
		return workers

	default:
		workers := runtime.NumCPU() * 2
		if workers < 8 {
			return 8
		}
		if workers > 20 {
			return 20
		}
		return workers
	}
}

// NewPool creates a pool bound to ctx. Cancelling ctx stops the pool.
func NewPool(ctx context.Context, config PoolConfig) *Pool {
	if config.Environment == "" {
		config.Environment = DetectEnvironment()
	}
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = GetOptimalWorkerCount(config.Environment)
	}
	if config.QueueSize <= 0 {
		switch config.Environment {
		case EnvironmentLambda:
			config.QueueSize = 100
		case EnvironmentECS:
			config.QueueSize = 1000
		default:
			config.QueueSize = 500
		}
	}
	if config.Name == "" {
		config.Name = "pool"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	poolCtx, cancel := context.WithCancel(ctx)

	return &Pool{
		name:        config.Name,
		environment: config.Environment,
		workers:     config.MaxWorkers,
		taskQueue:   make(chan Task, config.QueueSize),
		ctx:         poolCtx,
		cancel:      cancel,
		logger:      config.Logger.With(zap.String("pool", config.Name)),
		observer:    config.Observer,
		metrics:     NewPoolMetrics(),
	}
}

// Workers returns the number of workers
func (p *Pool) Workers() int {
	return p.workers
}

// startWorkersLazy starts workers on first task submission
func (p *Pool) startWorkersLazy() {
	p.poolStarted.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.running || p.stopped {
			return
		}
		p.logger.Debug("starting workers",
			zap.Int("workers", p.workers),
			zap.String("environment", string(p.environment)))

		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.running = true
		p.metrics.RecordPoolStart()
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			// both cases may be ready at once; never start work after stop
			if p.ctx.Err() != nil {
				return
			}
			p.execute(id, task)
		}
	}
}

func (p *Pool) execute(workerID int, task Task) {
	start := time.Now()
	err := p.runRecovered(workerID, task)
	duration := time.Since(start)

	p.metrics.RecordTaskExecution(err)
	if p.observer != nil {
		p.observer.ObserveTask(p.name, duration, err)
	}
	if task.Callback != nil {
		task.Callback(task.ID, err)
	}
}

func (p *Pool) runRecovered(workerID int, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordWorkerPanic()
			p.logger.Error("task panicked",
				zap.Int("worker", workerID),
				zap.String("task_id", task.ID),
				zap.Any("panic", r))
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return task.Execute(p.ctx)
}

// Submit queues a task without blocking. It fails when the pool is stopping
// or the queue is full.
func (p *Pool) Submit(task Task) error {
	p.startWorkersLazy()

	p.mu.RLock()
	// hold the lock until queued so Stop cannot close the queue underneath
	defer p.mu.RUnlock()

	if p.stopped || p.ctx.Err() != nil {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		p.metrics.RecordTaskSubmission()
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops the pool without waiting for running tasks. Queued tasks
// are dropped and workers exit once their current task returns.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true
	p.running = false
	p.cancel()
	close(p.taskQueue)
}

// Stop shuts the pool down and waits for running tasks to return
func (p *Pool) Stop() {
	p.Shutdown()
	p.wg.Wait()
}

// Drain waits until every queued task has run, then stops the pool
func (p *Pool) Drain() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.taskQueue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// GetStats returns current pool statistics
func (p *Pool) GetStats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := map[string]interface{}{
		"name":           p.name,
		"environment":    string(p.environment),
		"workers":        p.workers,
		"queue_size":     len(p.taskQueue),
		"queue_capacity": cap(p.taskQueue),
		"running":        p.running,
	}
	for k, v := range p.metrics.GetSummary() {
		stats[k] = v
	}
	return stats
}
