// Package metrics provides Prometheus-based metrics collection for taskpipe.
package metrics

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace for all taskpipe metrics
	namespace = "taskpipe"

	// Subsystems
	subsystemSystem = "system"
	subsystemAPI    = "api"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Task metrics
	tasksTotal        *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	tasksActive       prometheus.Gauge
	messagesProduced  *prometheus.CounterVec
	messagesApplied   *prometheus.CounterVec
	messagesDiscarded *prometheus.CounterVec
	observerErrors    *prometheus.CounterVec
	startRejected     *prometheus.CounterVec

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	goroutines prometheus.Gauge
	uptime     prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initTaskMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initTaskMetrics() {
	pm.tasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total number of finished tasks by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	pm.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task instances in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0, 1800.0},
		},
		[]string{"kind"},
	)

	pm.tasksActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_active",
			Help:      "Number of currently running tasks",
		},
	)

	pm.messagesProduced = newKindCounter("messages_produced_total", "Progress messages produced by workers")
	pm.messagesApplied = newKindCounter("messages_applied_total", "Progress messages applied to observers")
	pm.messagesDiscarded = newKindCounter("messages_discarded_total", "Progress messages discarded by cancellation")
	pm.observerErrors = newKindCounter("observer_errors_total", "Observer apply failures")
	pm.startRejected = newKindCounter("start_rejected_total", "Task starts rejected because a task was running")
}

func newKindCounter(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		[]string{"kind"},
	)
}

// initAPIMetrics initializes API-related metrics
func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

// initSystemMetrics initializes system-related metrics
func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		pm.tasksTotal,
		pm.taskDuration,
		pm.tasksActive,
		pm.messagesProduced,
		pm.messagesApplied,
		pm.messagesDiscarded,
		pm.observerErrors,
		pm.startRejected,
		pm.httpRequests,
		pm.httpDuration,
		pm.goroutines,
		pm.uptime,
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Handler returns an HTTP handler exposing the registry.
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{Registry: pm.registry})
}

// Task Metrics Methods

// TaskStarted increments the active task gauge.
func (pm *PrometheusMetrics) TaskStarted(kind string) {
	pm.tasksActive.Inc()
}

// TaskFinished counts a finished task and records its duration.
func (pm *PrometheusMetrics) TaskFinished(kind, outcome string, duration time.Duration) {
	pm.tasksActive.Dec()
	pm.tasksTotal.WithLabelValues(kind, outcome).Inc()
	pm.taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (pm *PrometheusMetrics) MessagesProduced(kind string, n int) {
	pm.messagesProduced.WithLabelValues(kind).Add(float64(n))
}

func (pm *PrometheusMetrics) MessagesApplied(kind string, n int) {
	pm.messagesApplied.WithLabelValues(kind).Add(float64(n))
}

func (pm *PrometheusMetrics) MessagesDiscarded(kind string, n int) {
	pm.messagesDiscarded.WithLabelValues(kind).Add(float64(n))
}

func (pm *PrometheusMetrics) ObserverErrors(kind string, n int) {
	pm.observerErrors.WithLabelValues(kind).Add(float64(n))
}

func (pm *PrometheusMetrics) StartRejected(kind string) {
	pm.startRejected.WithLabelValues(kind).Inc()
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Update immediately
	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}
