package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application. A nil
// *Collector is valid and records nothing.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Fetch metrics
	DocumentFetches *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
	PoolTasks       *prometheus.CounterVec
	PoolDuration    *prometheus.HistogramVec

	// Graph metrics
	GraphRuns     *prometheus.CounterVec
	GraphDuration *prometheus.HistogramVec
	GraphNodes    prometheus.Gauge
	GraphEdges    prometheus.Gauge

	// Snapshot store metrics
	SnapshotOperations *prometheus.CounterVec

	// Transport resilience
	BreakerState *prometheus.GaugeVec
}

// NewCollector creates a new metrics collector with the given namespace on a
// private registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		DocumentFetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "document_fetches_total",
				Help:      "Document content fetches by outcome",
			},
			[]string{"status"},
		),
		FetchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "document_fetch_duration_seconds",
				Help:      "Document content fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PoolTasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_tasks_total",
				Help:      "Worker pool tasks by pool and outcome",
			},
			[]string{"pool", "status"},
		),
		PoolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_task_duration_seconds",
				Help:      "Worker pool task duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool"},
		),
		GraphRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "graph_runs_total",
				Help:      "Graph builds and refreshes by mode and outcome",
			},
			[]string{"mode", "status"},
		),
		GraphDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "graph_run_duration_seconds",
				Help:      "Graph build and refresh duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),
		GraphNodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_nodes",
				Help:      "Node count of the current graph",
			},
		),
		GraphEdges: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "graph_edges",
				Help:      "Edge count of the current graph",
			},
		),
		SnapshotOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_operations_total",
				Help:      "Snapshot store operations by backend and outcome",
			},
			[]string{"operation", "backend", "status"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.DocumentFetches,
		c.FetchDuration,
		c.PoolTasks,
		c.PoolDuration,
		c.GraphRuns,
		c.GraphDuration,
		c.GraphNodes,
		c.GraphEdges,
		c.SnapshotOperations,
		c.BreakerState,
	)

	return c
}

// RecordHTTPRequest records a served request
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordFetch records one document fetch. status is ok, failed or discarded.
func (c *Collector) RecordFetch(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.DocumentFetches.WithLabelValues(status).Inc()
	if duration > 0 {
		c.FetchDuration.Observe(duration.Seconds())
	}
}

// ObserveTask records a worker pool task
func (c *Collector) ObserveTask(pool string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	c.PoolTasks.WithLabelValues(pool, statusLabel(err)).Inc()
	c.PoolDuration.WithLabelValues(pool).Observe(duration.Seconds())
}

// RecordGraphRun records a build or refresh and the resulting graph size
func (c *Collector) RecordGraphRun(mode string, err error, duration time.Duration, nodes, edges int) {
	if c == nil {
		return
	}
	c.GraphRuns.WithLabelValues(mode, statusLabel(err)).Inc()
	c.GraphDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if err == nil {
		c.GraphNodes.Set(float64(nodes))
		c.GraphEdges.Set(float64(edges))
	}
}

// RecordSnapshotOperation records a snapshot store call
func (c *Collector) RecordSnapshotOperation(operation, backend string, err error) {
	if c == nil {
		return
	}
	c.SnapshotOperations.WithLabelValues(operation, backend, statusLabel(err)).Inc()
}

// SetBreakerState records the state of a named circuit breaker
func (c *Collector) SetBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
