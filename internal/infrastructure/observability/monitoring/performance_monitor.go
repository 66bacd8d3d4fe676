// Package monitoring observes the engine's cache, sync and prediction
// activity, keeps running rates with periodic snapshots, and raises
// de-duplicated threshold alerts.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

// Thresholds is the fixed alert table.
type Thresholds struct {
	MinHitRate         float64       `json:"minHitRate"`
	MinHitRateSamples  int64         `json:"minHitRateSamples"`
	MaxResponseTime    time.Duration `json:"maxResponseTime"`
	MaxStorageUsage    float64       `json:"maxStorageUsage"`
	MaxSyncTime        time.Duration `json:"maxSyncTime"`
	MaxErrorRate       float64       `json:"maxErrorRate"`
	MinAccuracy        float64       `json:"minAccuracy"`
	MinAccuracySamples int64         `json:"minAccuracySamples"`
}

// MonitorConfig holds configuration for the performance monitor
type MonitorConfig struct {
	Interval        time.Duration
	QuietPeriod     time.Duration
	MaxSnapshots    int
	MaxAlertHistory int
	Thresholds      Thresholds
}

// DefaultMonitorConfig returns the default monitor configuration
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Interval:        10 * time.Second,
		QuietPeriod:     5 * time.Minute,
		MaxSnapshots:    100,
		MaxAlertHistory: 50,
		Thresholds: Thresholds{
			MinHitRate:         0.8,
			MinHitRateSamples:  10,
			MaxResponseTime:    200 * time.Millisecond,
			MaxStorageUsage:    0.8,
			MaxSyncTime:        5 * time.Second,
			MaxErrorRate:       0.1,
			MinAccuracy:        0.6,
			MinAccuracySamples: 5,
		},
	}
}

// NewMonitorConfig bridges pkg/config into a MonitorConfig.
func NewMonitorConfig() *MonitorConfig {
	cfg := DefaultMonitorConfig()
	cfg.Interval = config.MonitorInterval
	cfg.QuietPeriod = config.MonitorAlertQuietPeriod
	return cfg
}

// CacheMetrics are the running cache rates.
type CacheMetrics struct {
	Hits            int64         `json:"hits"`
	Misses          int64         `json:"misses"`
	Writes          int64         `json:"writes"`
	Evictions       int64         `json:"evictions"`
	Errors          int64         `json:"errors"`
	Fallbacks       int64         `json:"fallbacks"`
	Operations      int64         `json:"operations"`
	HitRate         float64       `json:"hitRate"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
}

func (c CacheMetrics) reads() int64 { return c.Hits + c.Misses }

// SyncMetrics are the running sync rates.
type SyncMetrics struct {
	Successful  int64         `json:"successful"`
	Failed      int64         `json:"failed"`
	Retries     int64         `json:"retries"`
	AvgSyncTime time.Duration `json:"avgSyncTime"`
	LastSync    time.Time     `json:"lastSync,omitempty"`
}

// PredictionMetrics are the running prediction rates.
type PredictionMetrics struct {
	Issued   int64   `json:"issued"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	Accuracy float64 `json:"accuracy"`
}

func (p PredictionMetrics) samples() int64 { return p.Hits + p.Misses }

// SystemMetrics are sampled from the environment on each tick.
type SystemMetrics struct {
	StorageUsage   float64       `json:"storageUsage"`
	NetworkLatency time.Duration `json:"networkLatency"`
	ErrorRate      float64       `json:"errorRate"`
}

// Snapshot is an immutable copy of the running metrics.
type Snapshot struct {
	Timestamp   time.Time         `json:"timestamp"`
	Cache       CacheMetrics      `json:"cache"`
	Sync        SyncMetrics       `json:"sync"`
	Predictions PredictionMetrics `json:"predictions"`
	System      SystemMetrics     `json:"system"`
}

func (s Snapshot) empty() bool {
	return s.Cache.Operations == 0 && s.Sync.Successful == 0 && s.Sync.Failed == 0 && s.Predictions.Issued == 0
}

// Trends compares the two most recent snapshots.
type Trends struct {
	HitRate         float64       `json:"hitRate"`
	AvgResponseTime time.Duration `json:"avgResponseTime"`
	ErrorRate       float64       `json:"errorRate"`
}

// OperationStats aggregates completed observations of one operation.
type OperationStats struct {
	Count         int64         `json:"count"`
	Failures      int64         `json:"failures"`
	TotalDuration time.Duration `json:"totalDuration"`
	AvgDuration   time.Duration `json:"avgDuration"`
	MaxDuration   time.Duration `json:"maxDuration"`
}

// AlertSummary is the alert section of a report.
type AlertSummary struct {
	Active int     `json:"active"`
	Total  int     `json:"total"`
	Recent []Alert `json:"recent"`
}

// HistorySummary describes the retained snapshots.
type HistorySummary struct {
	Snapshots    int        `json:"snapshots"`
	MaxSnapshots int        `json:"maxSnapshots"`
	Oldest       *time.Time `json:"oldest,omitempty"`
	Newest       *time.Time `json:"newest,omitempty"`
}

// Report is the detailed performance report.
type Report struct {
	Generated          time.Time                 `json:"generated"`
	Health             Health                    `json:"health"`
	Ratings            Ratings                   `json:"ratings"`
	Current            Snapshot                  `json:"current"`
	Trends             *Trends                   `json:"trends,omitempty"`
	Alerts             AlertSummary              `json:"alerts"`
	History            HistorySummary            `json:"history"`
	Thresholds         Thresholds                `json:"thresholds"`
	ActiveObservations int                       `json:"activeObservations"`
	Operations         map[string]OperationStats `json:"operations"`
	Recommendations    []Recommendation          `json:"recommendations"`
}

// MonitorOption customizes a PerformanceMonitor.
type MonitorOption func(*PerformanceMonitor)

// WithMonitorClock overrides the time source.
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *PerformanceMonitor) { m.now = now }
}

// WithStorageUsage sets the sampler for storage utilization (0..1).
func WithStorageUsage(fn func() float64) MonitorOption {
	return func(m *PerformanceMonitor) { m.storageUsage = fn }
}

// WithNetworkLatency sets the sampler for the last network round trip.
func WithNetworkLatency(fn func() time.Duration) MonitorOption {
	return func(m *PerformanceMonitor) { m.networkLatency = fn }
}

// WithMetrics exports every recorded event to Prometheus.
func WithMetrics(metrics *Metrics) MonitorOption {
	return func(m *PerformanceMonitor) { m.metrics = metrics }
}

// PerformanceMonitor is a passive performance.Recorder. It never calls into
// the components that report to it; environment samplers run only on Sample.
type PerformanceMonitor struct {
	config  *MonitorConfig
	logger  *logging.ChanneledLogger
	metrics *Metrics
	now     func() time.Time

	storageUsage   func() float64
	networkLatency func() time.Duration

	mu            sync.Mutex
	current       Snapshot
	cacheDuration time.Duration
	cacheTimed    int64
	syncDuration  time.Duration
	snapshots     []Snapshot
	alerts        *alertBook
	operations    map[string]*OperationStats
	observations  map[*performance.Marker]struct{}
	started       time.Time

	listenerMu sync.Mutex
	nextID     int
	listeners  map[int]AlertListener
}

// NewPerformanceMonitor creates a monitor with empty metrics.
func NewPerformanceMonitor(cfg *MonitorConfig, logger *logging.ChanneledLogger, opts ...MonitorOption) *PerformanceMonitor {
	if cfg == nil {
		cfg = DefaultMonitorConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &PerformanceMonitor{
		config:    cfg,
		logger:    logger,
		now:       time.Now,
		listeners: make(map[int]AlertListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resetLocked()
	return m
}

func (m *PerformanceMonitor) resetLocked() {
	m.current = Snapshot{}
	m.cacheDuration, m.cacheTimed, m.syncDuration = 0, 0, 0
	m.snapshots = nil
	m.alerts = newAlertBook(m.config.MaxAlertHistory)
	m.operations = make(map[string]*OperationStats)
	m.observations = make(map[*performance.Marker]struct{})
	m.started = m.now()
}

// Subscribe registers listener for raised and resolved alerts. Listeners run
// outside the monitor lock.
func (m *PerformanceMonitor) Subscribe(listener AlertListener) (unsubscribe func()) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

func (m *PerformanceMonitor) notify(alerts []Alert) {
	if len(alerts) == 0 {
		return
	}
	m.listenerMu.Lock()
	fns := make([]AlertListener, 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.listenerMu.Unlock()

	for _, alert := range alerts {
		for _, fn := range fns {
			fn(alert)
		}
	}
}

// RecordCache implements performance.Recorder.
func (m *PerformanceMonitor) RecordCache(event performance.CacheEvent, key string, duration time.Duration) {
	m.metrics.RecordCache(string(event), duration.Seconds())

	m.mu.Lock()
	c := &m.current.Cache
	switch event {
	case performance.CacheHit:
		c.Hits++
	case performance.CacheMiss:
		c.Misses++
	case performance.CacheWrite:
		c.Writes++
	case performance.CacheEviction:
		c.Evictions++
		m.mu.Unlock()
		return
	case performance.CacheError:
		c.Errors++
		m.mu.Unlock()
		return
	case performance.CacheFallback:
		c.Fallbacks++
		m.mu.Unlock()
		return
	}
	c.Operations++
	if duration > 0 {
		m.cacheDuration += duration
		m.cacheTimed++
		c.AvgResponseTime = m.cacheDuration / time.Duration(m.cacheTimed)
	}
	if reads := c.reads(); reads > 0 {
		c.HitRate = float64(c.Hits) / float64(reads)
	}
	m.updateErrorRateLocked()

	var raised []Alert
	raised = m.checkCacheLocked(key, duration, raised)
	m.mu.Unlock()

	m.notify(raised)
}

// RecordSync implements performance.Recorder.
func (m *PerformanceMonitor) RecordSync(event performance.SyncEvent, key string, duration time.Duration) {
	m.metrics.RecordSync(string(event), duration.Seconds())

	m.mu.Lock()
	s := &m.current.Sync
	var raised []Alert
	switch event {
	case performance.SyncSuccess:
		s.Successful++
		m.syncDuration += duration
		s.AvgSyncTime = m.syncDuration / time.Duration(s.Successful)
		s.LastSync = m.now()
		if duration > m.config.Thresholds.MaxSyncTime {
			raised = m.raiseLocked(raised, AlertSyncTime, performance.AlertWarning,
				fmt.Sprintf("Sync of %s took %s, above %s", key, duration.Round(time.Millisecond), m.config.Thresholds.MaxSyncTime),
				duration.Seconds(), m.config.Thresholds.MaxSyncTime.Seconds())
		}
	case performance.SyncFailure:
		s.Failed++
	case performance.SyncRetry:
		s.Retries++
	}
	m.updateErrorRateLocked()
	raised = m.checkErrorRateLocked(raised)
	m.mu.Unlock()

	m.notify(raised)
}

// RecordPrediction implements performance.Recorder.
func (m *PerformanceMonitor) RecordPrediction(event performance.PredictionEvent, subject string) {
	m.metrics.RecordPrediction(string(event))

	m.mu.Lock()
	p := &m.current.Predictions
	switch event {
	case performance.PredictionIssued:
		p.Issued++
	case performance.PredictionHit:
		p.Hits++
	case performance.PredictionMiss:
		p.Misses++
	}
	if samples := p.samples(); samples > 0 {
		p.Accuracy = float64(p.Hits) / float64(samples)
	}
	m.mu.Unlock()
}

// RecordMarker implements performance.Recorder.
func (m *PerformanceMonitor) RecordMarker(marker *performance.Marker) {
	if marker == nil {
		return
	}
	marker.Complete()
	m.metrics.RecordOperation(marker.Operation, marker.Success, marker.Duration.Seconds())

	m.mu.Lock()
	delete(m.observations, marker)
	stats, ok := m.operations[marker.Operation]
	if !ok {
		stats = &OperationStats{}
		m.operations[marker.Operation] = stats
	}
	stats.Count++
	if !marker.Success {
		stats.Failures++
	}
	stats.TotalDuration += marker.Duration
	stats.AvgDuration = stats.TotalDuration / time.Duration(stats.Count)
	if marker.Duration > stats.MaxDuration {
		stats.MaxDuration = marker.Duration
	}
	m.mu.Unlock()
}

// StartObservation begins timing operation. Operations prefixed "sync:" are
// also counted as sync outcomes when they end.
func (m *PerformanceMonitor) StartObservation(operation, key string) *performance.Marker {
	marker := performance.NewMarker(operation, key)
	m.mu.Lock()
	m.observations[marker] = struct{}{}
	m.mu.Unlock()
	return marker
}

// EndObservation completes marker with the outcome err.
func (m *PerformanceMonitor) EndObservation(marker *performance.Marker, err error) {
	if marker == nil {
		return
	}
	m.mu.Lock()
	_, tracked := m.observations[marker]
	m.mu.Unlock()
	if !tracked {
		m.logger.Perf().Warn("Observation not found", slog.String("operation", marker.Operation))
		return
	}

	marker.SetError(err)
	marker.Complete()
	m.RecordMarker(marker)

	if strings.HasPrefix(marker.Operation, "sync:") {
		event := performance.SyncSuccess
		if !marker.Success {
			event = performance.SyncFailure
		}
		m.RecordSync(event, marker.Key, marker.Duration)
	}
}

func (m *PerformanceMonitor) updateErrorRateLocked() {
	total := m.current.Cache.Operations + m.current.Sync.Successful + m.current.Sync.Failed
	if total == 0 {
		m.current.System.ErrorRate = 0
		return
	}
	m.current.System.ErrorRate = float64(m.current.Sync.Failed) / float64(total)
}

func (m *PerformanceMonitor) raiseLocked(raised []Alert, typ AlertType, severity performance.AlertSeverity, message string, current, threshold float64) []Alert {
	alert, created := m.alerts.raise(m.now(), typ, severity, message, current, threshold)
	if !created {
		return raised
	}
	level := slog.LevelWarn
	if severity == performance.AlertInfo {
		level = slog.LevelInfo
	}
	m.logger.Alert().Log(context.Background(), level, "Performance alert raised",
		slog.String("alertId", alert.ID),
		slog.String("type", string(typ)),
		slog.String("severity", string(severity)),
		slog.String("message", message))
	return append(raised, alert)
}

func (m *PerformanceMonitor) checkCacheLocked(key string, duration time.Duration, raised []Alert) []Alert {
	t := m.config.Thresholds
	c := m.current.Cache
	if c.reads() > t.MinHitRateSamples && c.HitRate < t.MinHitRate {
		raised = m.raiseLocked(raised, AlertCacheHitRate, performance.AlertWarning,
			fmt.Sprintf("Cache hit rate %.0f%% below %.0f%%", c.HitRate*100, t.MinHitRate*100),
			c.HitRate, t.MinHitRate)
	}
	if duration > t.MaxResponseTime {
		raised = m.raiseLocked(raised, AlertCacheResponseTime, performance.AlertWarning,
			fmt.Sprintf("Cache response for %s took %s, above %s", key, duration.Round(time.Millisecond), t.MaxResponseTime),
			duration.Seconds(), t.MaxResponseTime.Seconds())
	}
	return raised
}

func (m *PerformanceMonitor) checkErrorRateLocked(raised []Alert) []Alert {
	t := m.config.Thresholds
	if rate := m.current.System.ErrorRate; rate > t.MaxErrorRate {
		raised = m.raiseLocked(raised, AlertErrorRate, performance.AlertCritical,
			fmt.Sprintf("Error rate %.0f%% above %.0f%%", rate*100, t.MaxErrorRate*100),
			rate, t.MaxErrorRate)
	}
	return raised
}

func (m *PerformanceMonitor) checkSampledLocked(raised []Alert) []Alert {
	t := m.config.Thresholds
	if usage := m.current.System.StorageUsage; usage > t.MaxStorageUsage {
		raised = m.raiseLocked(raised, AlertStorageUsage, performance.AlertCritical,
			fmt.Sprintf("Storage usage %.0f%% above %.0f%%", usage*100, t.MaxStorageUsage*100),
			usage, t.MaxStorageUsage)
	}
	p := m.current.Predictions
	if p.samples() > t.MinAccuracySamples && p.Accuracy < t.MinAccuracy {
		raised = m.raiseLocked(raised, AlertPredictionAccuracy, performance.AlertInfo,
			fmt.Sprintf("Prediction accuracy %.0f%% below %.0f%%", p.Accuracy*100, t.MinAccuracy*100),
			p.Accuracy, t.MinAccuracy)
	}
	return m.checkErrorRateLocked(raised)
}

// Sample reads the environment samplers, evaluates every threshold, resolves
// quiet alerts and appends a snapshot.
func (m *PerformanceMonitor) Sample() Snapshot {
	var usage float64
	if m.storageUsage != nil {
		usage = m.storageUsage()
	}
	var latency time.Duration
	if m.networkLatency != nil {
		latency = m.networkLatency()
	}

	m.mu.Lock()
	now := m.now()
	m.current.System.StorageUsage = usage
	m.current.System.NetworkLatency = latency

	raised := m.checkSampledLocked(nil)
	resolved := m.alerts.resolveQuiet(now, m.config.QuietPeriod)
	for _, alert := range resolved {
		m.logger.Alert().Info("Performance alert resolved",
			slog.String("alertId", alert.ID),
			slog.String("type", string(alert.Type)),
			slog.Int("count", alert.Count))
	}

	snap := m.current
	snap.Timestamp = now
	m.snapshots = append(m.snapshots, snap)
	if over := len(m.snapshots) - m.config.MaxSnapshots; over > 0 {
		m.snapshots = append([]Snapshot(nil), m.snapshots[over:]...)
	}
	health := computeHealth(snap)
	active := len(m.alerts.active)
	m.mu.Unlock()

	m.metrics.SetGauges(active, health.Score, usage)
	m.notify(append(raised, resolved...))
	return snap
}

// Start samples every interval until ctx is cancelled.
func (m *PerformanceMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.logger.Perf().Info("Performance monitor started", slog.Duration("interval", m.config.Interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Perf().Info("Performance monitor stopped")
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Stats returns a copy of the running metrics.
func (m *PerformanceMonitor) Stats() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.current
	snap.Timestamp = m.now()
	return snap
}

// Health scores the running metrics.
func (m *PerformanceMonitor) Health() Health {
	return computeHealth(m.Stats())
}

// ActiveAlerts returns unresolved alerts, oldest first.
func (m *PerformanceMonitor) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.activeAlerts()
}

// AlertHistory returns resolved alerts, oldest first.
func (m *PerformanceMonitor) AlertHistory() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alerts.historyAlerts()
}

// Snapshots returns the retained snapshots, oldest first.
func (m *PerformanceMonitor) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snapshots...)
}

// Report builds the detailed performance report.
func (m *PerformanceMonitor) Report() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current
	current.Timestamp = m.now()

	active := m.alerts.activeAlerts()
	recent := active
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}

	report := Report{
		Generated: current.Timestamp,
		Health:    computeHealth(current),
		Ratings:   computeRatings(current),
		Current:   current,
		Alerts: AlertSummary{
			Active: len(active),
			Total:  len(m.alerts.history),
			Recent: recent,
		},
		History: HistorySummary{
			Snapshots:    len(m.snapshots),
			MaxSnapshots: m.config.MaxSnapshots,
		},
		Thresholds:         m.config.Thresholds,
		ActiveObservations: len(m.observations),
		Operations:         make(map[string]OperationStats, len(m.operations)),
		Recommendations:    recommendations(current, m.config.Thresholds),
	}
	if n := len(m.snapshots); n > 0 {
		oldest, newest := m.snapshots[0].Timestamp, m.snapshots[n-1].Timestamp
		report.History.Oldest, report.History.Newest = &oldest, &newest
	}
	if n := len(m.snapshots); n >= 2 {
		last, prev := m.snapshots[n-1], m.snapshots[n-2]
		report.Trends = &Trends{
			HitRate:         last.Cache.HitRate - prev.Cache.HitRate,
			AvgResponseTime: last.Cache.AvgResponseTime - prev.Cache.AvgResponseTime,
			ErrorRate:       last.System.ErrorRate - prev.System.ErrorRate,
		}
	}
	for op, stats := range m.operations {
		report.Operations[op] = *stats
	}
	return report
}

// Reset clears metrics, snapshots, alerts and observations.
func (m *PerformanceMonitor) Reset() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
	m.metrics.SetGauges(0, 100, 0)
	m.logger.Perf().Info("Performance monitor reset")
}
