package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the monitor's counters to Prometheus.
//
// All metrics use the feedcache_ prefix. A nil *Metrics is a valid no-op
// collector.
type Metrics struct {
	// CacheEvents counts cache outcomes by event (hit, miss, write, eviction, error)
	CacheEvents *prometheus.CounterVec

	// CacheDuration tracks cache operation latency
	CacheDuration prometheus.Histogram

	// SyncEvents counts sync outcomes by event (success, failure, retry)
	SyncEvents *prometheus.CounterVec

	// SyncDuration tracks fetch latency of completed syncs
	SyncDuration prometheus.Histogram

	// PredictionEvents counts predictions by event (issued, hit, miss)
	PredictionEvents *prometheus.CounterVec

	// OperationDuration tracks observation markers by operation and outcome
	OperationDuration *prometheus.HistogramVec

	// ActiveAlerts is the number of unresolved alerts
	ActiveAlerts prometheus.Gauge

	// HealthScore is the last computed health score (0-100)
	HealthScore prometheus.Gauge

	// StorageUsage is the last sampled storage utilization ratio
	StorageUsage prometheus.Gauge
}

// NewMetrics creates the monitor metrics and registers them with reg.
// Panics if registration fails.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcache_cache_events_total",
				Help: "Cache operations by outcome",
			},
			[]string{"event"},
		),
		CacheDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedcache_cache_duration_seconds",
				Help:    "Cache operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		SyncEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcache_sync_events_total",
				Help: "Sync attempts by outcome",
			},
			[]string{"event"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "feedcache_sync_duration_seconds",
				Help:    "Sync duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		PredictionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedcache_prediction_events_total",
				Help: "Behavior predictions by outcome",
			},
			[]string{"event"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedcache_operation_duration_seconds",
				Help:    "Observed operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "success"},
		),
		ActiveAlerts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedcache_active_alerts",
				Help: "Current number of unresolved performance alerts",
			},
		),
		HealthScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedcache_health_score",
				Help: "Overall health score from 0 to 100",
			},
		),
		StorageUsage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedcache_storage_usage_ratio",
				Help: "Cache storage used over the configured maximum",
			},
		),
	}

	reg.MustRegister(
		m.CacheEvents,
		m.CacheDuration,
		m.SyncEvents,
		m.SyncDuration,
		m.PredictionEvents,
		m.OperationDuration,
		m.ActiveAlerts,
		m.HealthScore,
		m.StorageUsage,
	)

	return m
}

// RecordCache records a cache outcome and, when measured, its latency.
func (m *Metrics) RecordCache(event string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.CacheEvents.WithLabelValues(event).Inc()
	if durationSeconds > 0 {
		m.CacheDuration.Observe(durationSeconds)
	}
}

// RecordSync records a sync outcome and, when measured, its duration.
func (m *Metrics) RecordSync(event string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SyncEvents.WithLabelValues(event).Inc()
	if durationSeconds > 0 {
		m.SyncDuration.Observe(durationSeconds)
	}
}

// RecordPrediction records a prediction outcome.
func (m *Metrics) RecordPrediction(event string) {
	if m == nil {
		return
	}
	m.PredictionEvents.WithLabelValues(event).Inc()
}

// RecordOperation records a completed observation marker.
func (m *Metrics) RecordOperation(operation string, success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.OperationDuration.WithLabelValues(operation, label).Observe(durationSeconds)
}

// SetGauges updates the sampled gauges.
func (m *Metrics) SetGauges(activeAlerts int, healthScore, storageUsage float64) {
	if m == nil {
		return
	}
	m.ActiveAlerts.Set(float64(activeAlerts))
	m.HealthScore.Set(healthScore)
	m.StorageUsage.Set(storageUsage)
}
