package observability

import "sync"

// Metrics provides counters, gauges, and histogram recording primitives.
type Metrics interface {
	IncCounter(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}

var defaultMetrics Metrics = noopMetrics{}

// SetMetrics overrides the global metrics implementation used by the system.
func SetMetrics(metrics Metrics) {
	if metrics == nil {
		defaultMetrics = noopMetrics{}
		return
	}
	defaultMetrics = metrics
}

// Telemetry returns the current global metrics collector.
func Telemetry() Metrics {
	return defaultMetrics
}

type noopMetrics struct{}

func (noopMetrics) IncCounter(string, float64, map[string]string)       {}
func (noopMetrics) ObserveHistogram(string, float64, map[string]string) {}
func (noopMetrics) SetGauge(string, float64, map[string]string)         {}

// ManagerMetricsSnapshot captures EnvelopeManager queue runtime counters, keyed
// by project ID formatted as a decimal string.
type ManagerMetricsSnapshot struct {
	QueueDepth            map[string]int   `json:"queue_depth"`
	DroppedEnvelopes      map[string]int   `json:"dropped_envelopes"`
	ThrottledMilliseconds map[string]int64 `json:"throttled_ms"`
}

// RuntimeMetrics accumulates manager metrics in-memory for periodic export.
type RuntimeMetrics struct {
	mu      sync.Mutex
	manager ManagerMetricsSnapshot
}

// NewRuntimeMetrics constructs a metrics accumulator with empty maps.
func NewRuntimeMetrics() *RuntimeMetrics {
	metrics := new(RuntimeMetrics)
	metrics.manager = ManagerMetricsSnapshot{
		QueueDepth:            make(map[string]int),
		DroppedEnvelopes:      make(map[string]int),
		ThrottledMilliseconds: make(map[string]int64),
	}
	return metrics
}

// RecordQueueDepth tracks the latest queue depth for a project key.
func (m *RuntimeMetrics) RecordQueueDepth(project string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manager.QueueDepth[project] = depth
}

// IncrementDroppedEnvelopes increments the dropped-envelope counter for a project.
func (m *RuntimeMetrics) IncrementDroppedEnvelopes(project string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manager.DroppedEnvelopes[project]++
}

// AddThrottledMilliseconds accumulates throttled (backpressure wait) time for a project.
func (m *RuntimeMetrics) AddThrottledMilliseconds(project string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manager.ThrottledMilliseconds[project] += delta
}

// Snapshot copies the current manager metrics state for reporting.
func (m *RuntimeMetrics) Snapshot() ManagerMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := ManagerMetricsSnapshot{
		QueueDepth:            make(map[string]int, len(m.manager.QueueDepth)),
		DroppedEnvelopes:      make(map[string]int, len(m.manager.DroppedEnvelopes)),
		ThrottledMilliseconds: make(map[string]int64, len(m.manager.ThrottledMilliseconds)),
	}
	for k, v := range m.manager.QueueDepth {
		snapshot.QueueDepth[k] = v
	}
	for k, v := range m.manager.DroppedEnvelopes {
		snapshot.DroppedEnvelopes[k] = v
	}
	for k, v := range m.manager.ThrottledMilliseconds {
		snapshot.ThrottledMilliseconds[k] = v
	}
	return snapshot
}
