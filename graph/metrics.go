package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rudihinds/langgraph-agent-sub011/graph/store"
)

// PrometheusMetrics collects control-plane metrics under the "workflow"
// namespace:
//
//   - step_latency_ms{node,status}: histogram of node execution time
//   - checkpoint_writes_total{status}: checkpoint writes by outcome
//   - storage_retries_total{op}: store operations retried after a transient error
//   - storage_fallback: 1 while the in-memory fallback store is in use
//   - cycles_detected_total{node}
//   - resource_breaches_total{resource}
//   - interrupts_total{event}: interrupted, resumed, reinterrupted, terminated
//   - active_runs: runs currently holding a thread
//
// Thread ids are deliberately not labels. A nil *PrometheusMetrics is valid
// and records nothing.
type PrometheusMetrics struct {
	stepLatency      *prometheus.HistogramVec
	checkpointWrites *prometheus.CounterVec
	storageRetries   *prometheus.CounterVec
	storageFallback  prometheus.Gauge
	cycles           *prometheus.CounterVec
	breaches         *prometheus.CounterVec
	interrupts       *prometheus.CounterVec
	activeRuns       prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers the collectors with registry (the default
// registerer when nil).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflow",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"node", "status"}),
		checkpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint writes by outcome",
		}, []string{"status"}),
		storageRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "storage_retries_total",
			Help:      "Store operations retried after a transient failure",
		}, []string{"op"}),
		storageFallback: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "storage_fallback",
			Help:      "1 while checkpoints are kept in the non-durable in-memory fallback store",
		}),
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "cycles_detected_total",
			Help:      "Runs failed because of a detected execution cycle",
		}, []string{"node"}),
		breaches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "resource_breaches_total",
			Help:      "Resource limit breaches observed by the governor",
		}, []string{"resource"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflow",
			Name:      "interrupts_total",
			Help:      "Human-in-the-loop interrupt transitions",
		}, []string{"event"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "workflow",
			Name:      "active_runs",
			Help:      "Runs currently holding a thread in this process",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency observes one node execution. status is ok, error or
// timeout.
func (pm *PrometheusMetrics) RecordStepLatency(node string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stepLatency.WithLabelValues(node, status).Observe(float64(latency) / float64(time.Millisecond))
}

// RecordCheckpointWrite counts a checkpoint write with status ok or error.
func (pm *PrometheusMetrics) RecordCheckpointWrite(status string) {
	if !pm.on() {
		return
	}
	pm.checkpointWrites.WithLabelValues(status).Inc()
}

// RecordStorageRetry counts one retried store operation.
func (pm *PrometheusMetrics) RecordStorageRetry(op string) {
	if !pm.on() {
		return
	}
	pm.storageRetries.WithLabelValues(op).Inc()
}

// SetStorageFallback flips the fallback gauge.
func (pm *PrometheusMetrics) SetStorageFallback(active bool) {
	if !pm.on() {
		return
	}
	if active {
		pm.storageFallback.Set(1)
		return
	}
	pm.storageFallback.Set(0)
}

// RecordCycle counts a detected cycle.
func (pm *PrometheusMetrics) RecordCycle(node string) {
	if !pm.on() {
		return
	}
	pm.cycles.WithLabelValues(node).Inc()
}

// RecordBreach counts a resource over its limit.
func (pm *PrometheusMetrics) RecordBreach(resource string) {
	if !pm.on() {
		return
	}
	pm.breaches.WithLabelValues(resource).Inc()
}

// RecordInterrupt counts an interrupt transition.
func (pm *PrometheusMetrics) RecordInterrupt(event string) {
	if !pm.on() {
		return
	}
	pm.interrupts.WithLabelValues(event).Inc()
}

func (pm *PrometheusMetrics) runStarted() {
	if pm.on() {
		pm.activeRuns.Inc()
	}
}

func (pm *PrometheusMetrics) runEnded() {
	if pm.on() {
		pm.activeRuns.Dec()
	}
}

// StoreHooks returns callbacks for store.Config so retries and fallback are
// reflected in these metrics.
func (pm *PrometheusMetrics) StoreHooks() (onRetry func(op string, attempt int, err error), onFallback func(*store.StorageUnavailableError)) {
	onRetry = func(op string, _ int, _ error) { pm.RecordStorageRetry(op) }
	onFallback = func(*store.StorageUnavailableError) { pm.SetStorageFallback(true) }
	return onRetry, onFallback
}

// Disable stops recording.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.activeRuns.Set(0)
	pm.storageFallback.Set(0)
}
