package concurrency

import "sync/atomic"

// PoolMetrics counts pool activity
type PoolMetrics struct {
	tasksSubmitted uint64
	tasksCompleted uint64
	tasksFailed    uint64
	workerPanics   uint64
	poolStarts     uint64
}

// NewPoolMetrics creates a new metrics collector
func NewPoolMetrics() *PoolMetrics {
	return &PoolMetrics{}
}

// RecordTaskSubmission records that a task was queued
func (m *PoolMetrics) RecordTaskSubmission() {
	atomic.AddUint64(&m.tasksSubmitted, 1)
}

// RecordTaskExecution records the outcome of a task
func (m *PoolMetrics) RecordTaskExecution(err error) {
	if err != nil {
		atomic.AddUint64(&m.tasksFailed, 1)
		return
	}
	atomic.AddUint64(&m.tasksCompleted, 1)
}

// RecordWorkerPanic records a recovered panic
func (m *PoolMetrics) RecordWorkerPanic() {
	atomic.AddUint64(&m.workerPanics, 1)
}

// RecordPoolStart records pool initialization
func (m *PoolMetrics) RecordPoolStart() {
	atomic.AddUint64(&m.poolStarts, 1)
}

// GetSummary returns a summary of collected metrics
func (m *PoolMetrics) GetSummary() map[string]interface{} {
	return map[string]interface{}{
		"tasks_submitted": atomic.LoadUint64(&m.tasksSubmitted),
		"tasks_completed": atomic.LoadUint64(&m.tasksCompleted),
		"tasks_failed":    atomic.LoadUint64(&m.tasksFailed),
		"worker_panics":   atomic.LoadUint64(&m.workerPanics),
		"pool_starts":     atomic.LoadUint64(&m.poolStarts),
	}
}
