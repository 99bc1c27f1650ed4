package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
	Gauge   MetricType = "gauge"
)

// Metric represents a single metric with its metadata
type Metric struct {
	Name       string            `json:"name"`
	Type       MetricType        `json:"type"`
	Value      float64           `json:"value"`
	Labels     map[string]string `json:"labels,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
}

// TimerMetric stores timing information
type TimerMetric struct {
	Count   int64   `json:"count"`
	Sum     float64 `json:"sum_ms"`
	Min     float64 `json:"min_ms"`
	Max     float64 `json:"max_ms"`
	Average float64 `json:"avg_ms"`
}

// Registry manages all metrics in memory
type Registry struct {
	mu        sync.RWMutex
	counters  map[string]*Metric
	timers    map[string]*TimerMetric
	gauges    map[string]*Metric
	startTime time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:  make(map[string]*Metric),
		timers:    make(map[string]*TimerMetric),
		gauges:    make(map[string]*Metric),
		startTime: time.Now(),
	}
}

var globalRegistry = NewRegistry()

// GetRegistry returns the global registry instance
func GetRegistry() *Registry {
	return globalRegistry
}

// IncrementCounter increments a counter metric
func (r *Registry) IncrementCounter(name string, labels map[string]string) {
	r.AddToCounter(name, 1, labels)
}

// AddToCounter adds a value to a counter metric
func (r *Registry) AddToCounter(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if counter, exists := r.counters[key]; exists {
		counter.Value += value
		counter.LastUpdate = time.Now()
		return
	}
	r.counters[key] = &Metric{
		Name:       name,
		Type:       Counter,
		Value:      value,
		Labels:     copyLabels(labels),
		LastUpdate: time.Now(),
	}
}

// SetGauge sets a gauge metric to the given value
func (r *Registry) SetGauge(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	if gauge, exists := r.gauges[key]; exists {
		gauge.Value = value
		gauge.LastUpdate = time.Now()
		return
	}
	r.gauges[key] = &Metric{
		Name:       name,
		Type:       Gauge,
		Value:      value,
		Labels:     copyLabels(labels),
		LastUpdate: time.Now(),
	}
}

// RecordTimer records a timing measurement
func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	durationMs := float64(duration.Nanoseconds()) / 1e6

	timer, exists := r.timers[key]
	if !exists {
		timer = &TimerMetric{}
		r.timers[key] = timer
	}

	timer.Count++
	timer.Sum += durationMs
	if durationMs < timer.Min || timer.Min == 0 {
		timer.Min = durationMs
	}
	if durationMs > timer.Max {
		timer.Max = durationMs
	}
	timer.Average = timer.Sum / float64(timer.Count)
}

// Snapshot is the JSON-serializable view served by the metrics endpoint.
type Snapshot struct {
	UptimeSeconds float64                 `json:"uptime_seconds"`
	Counters      map[string]*Metric      `json:"counters"`
	Gauges        map[string]*Metric      `json:"gauges"`
	Timers        map[string]*TimerMetric `json:"timers"`
}

// GetSnapshot returns a point-in-time copy of all metrics.
func (r *Registry) GetSnapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(r.startTime).Seconds(),
		Counters:      make(map[string]*Metric, len(r.counters)),
		Gauges:        make(map[string]*Metric, len(r.gauges)),
		Timers:        make(map[string]*TimerMetric, len(r.timers)),
	}
	for k, v := range r.counters {
		m := *v
		snap.Counters[k] = &m
	}
	for k, v := range r.gauges {
		m := *v
		snap.Gauges[k] = &m
	}
	for k, v := range r.timers {
		m := *v
		snap.Timers[k] = &m
	}
	return snap
}

// Reset clears all metrics. Tests only.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = make(map[string]*Metric)
	r.timers = make(map[string]*TimerMetric)
	r.gauges = make(map[string]*Metric)
	r.startTime = time.Now()
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString(",")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Domain helpers used by the dispatcher and publish clients.

func RecordPublishAttempt(platform string) {
	globalRegistry.IncrementCounter("publish_attempts_total", map[string]string{"platform": platform})
}

func RecordPublishResult(platform string, success bool, duration time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	globalRegistry.IncrementCounter("publish_results_total", map[string]string{
		"platform": platform,
		"outcome":  outcome,
	})
	globalRegistry.RecordTimer("publish_duration", duration, map[string]string{"platform": platform})
}

func RecordReconcilePass(inserted, updated, failed int) {
	globalRegistry.AddToCounter("reconcile_inserted_total", float64(inserted), nil)
	globalRegistry.AddToCounter("reconcile_updated_total", float64(updated), nil)
	globalRegistry.AddToCounter("reconcile_failed_total", float64(failed), nil)
}
