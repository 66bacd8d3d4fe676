package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type alertLog struct {
	mu     sync.Mutex
	alerts []Alert
}

func (l *alertLog) listen(a Alert) {
	l.mu.Lock()
	l.alerts = append(l.alerts, a)
	l.mu.Unlock()
}

func (l *alertLog) all() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Alert(nil), l.alerts...)
}

func newTestMonitor(t *testing.T, opts ...MonitorOption) (*PerformanceMonitor, *fakeClock, *alertLog) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]MonitorOption{WithMonitorClock(clock.Now)}, opts...)
	m := NewPerformanceMonitor(DefaultMonitorConfig(), logging.NewNop(), opts...)
	log := &alertLog{}
	t.Cleanup(m.Subscribe(log.listen))
	return m, clock, log
}

func TestMonitorCoalescesAlertsByType(t *testing.T) {
	t.Parallel()

	m, _, log := newTestMonitor(t)
	for i := 0; i < 14; i++ {
		m.RecordCache(performance.CacheMiss, "rss:cs", time.Millisecond)
	}

	active := m.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, AlertCacheHitRate, active[0].Type)
	assert.Equal(t, performance.AlertWarning, active[0].Severity)
	// raised on the 11th read, coalesced for the next three
	assert.Equal(t, 4, active[0].Count)
	assert.NotEmpty(t, active[0].ID)

	raised := log.all()
	require.Len(t, raised, 1)
	assert.Equal(t, active[0].ID, raised[0].ID)
}

func TestMonitorResolvesQuietAlerts(t *testing.T) {
	t.Parallel()

	m, clock, log := newTestMonitor(t)
	m.RecordCache(performance.CacheHit, "department:cs", 300*time.Millisecond)
	require.Len(t, m.ActiveAlerts(), 1)

	clock.Advance(4 * time.Minute)
	m.Sample()
	assert.Len(t, m.ActiveAlerts(), 1)

	clock.Advance(time.Minute + time.Second)
	m.Sample()
	assert.Empty(t, m.ActiveAlerts())

	history := m.AlertHistory()
	require.Len(t, history, 1)
	assert.True(t, history[0].Resolved)
	require.NotNil(t, history[0].ResolvedAt)
	assert.Equal(t, AlertCacheResponseTime, history[0].Type)

	events := log.all()
	require.Len(t, events, 2)
	assert.False(t, events[0].Resolved)
	assert.True(t, events[1].Resolved)
}

func TestMonitorSyncAlerts(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMonitor(t)
	m.RecordSync(performance.SyncSuccess, "rss:cs", 6*time.Second)
	m.RecordSync(performance.SyncFailure, "rss:math", 0)
	m.RecordSync(performance.SyncRetry, "rss:math", 0)

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Sync.Successful)
	assert.Equal(t, int64(1), stats.Sync.Failed)
	assert.Equal(t, int64(1), stats.Sync.Retries)
	assert.Equal(t, 6*time.Second, stats.Sync.AvgSyncTime)
	assert.InDelta(t, 0.5, stats.System.ErrorRate, 1e-9)

	types := map[AlertType]performance.AlertSeverity{}
	for _, a := range m.ActiveAlerts() {
		types[a.Type] = a.Severity
	}
	assert.Equal(t, map[AlertType]performance.AlertSeverity{
		AlertSyncTime:  performance.AlertWarning,
		AlertErrorRate: performance.AlertCritical,
	}, types)
}

func TestMonitorSampledThresholds(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMonitor(t,
		WithStorageUsage(func() float64 { return 0.9 }),
		WithNetworkLatency(func() time.Duration { return 40 * time.Millisecond }))

	for i := 0; i < 6; i++ {
		m.RecordPrediction(performance.PredictionMiss, "cs")
	}
	assert.Empty(t, m.ActiveAlerts())

	snap := m.Sample()
	assert.Equal(t, 0.9, snap.System.StorageUsage)
	assert.Equal(t, 40*time.Millisecond, snap.System.NetworkLatency)

	types := map[AlertType]performance.AlertSeverity{}
	for _, a := range m.ActiveAlerts() {
		types[a.Type] = a.Severity
	}
	assert.Equal(t, map[AlertType]performance.AlertSeverity{
		AlertStorageUsage:       performance.AlertCritical,
		AlertPredictionAccuracy: performance.AlertInfo,
	}, types)
}

func TestMonitorHealth(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMonitor(t)
	h := m.Health()
	assert.Equal(t, 100.0, h.Score)
	assert.Equal(t, performance.HealthUnknown, h.Status)

	for i := 0; i < 7; i++ {
		m.RecordCache(performance.CacheHit, "k", 0)
	}
	for i := 0; i < 3; i++ {
		m.RecordCache(performance.CacheMiss, "k", 0)
	}
	h = m.Health()
	assert.InDelta(t, 92.0, h.Score, 0.01)
	assert.Equal(t, RatingExcellent, h.Rating)
	assert.Equal(t, performance.HealthHealthy, h.Status)

	report := m.Report()
	assert.Equal(t, RatingFair, report.Ratings.Cache)
	require.Len(t, report.Recommendations, 1)
	assert.Equal(t, "cache", report.Recommendations[0].Type)

	m.RecordSync(performance.SyncFailure, "k", 0)
	m.RecordSync(performance.SyncFailure, "k", 0)
	h = m.Health()
	// error rate 2/12 costs the full 30 points
	assert.InDelta(t, 62.0, h.Score, 0.01)
	assert.Equal(t, RatingFair, h.Rating)
	assert.Equal(t, performance.HealthDegraded, h.Status)
	assert.Equal(t, RatingPoor, m.Report().Ratings.Sync)
}

func TestFallbacksDoNotMoveHitRate(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMonitor(t)
	m.RecordCache(performance.CacheHit, "k", 0)
	m.RecordCache(performance.CacheMiss, "k", 0)
	m.RecordCache(performance.CacheFallback, "k", 0)
	m.RecordCache(performance.CacheFallback, "k", 0)

	stats := m.Stats().Cache
	assert.Equal(t, int64(2), stats.Fallbacks)
	assert.Equal(t, int64(2), stats.Operations)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestMonitorReportTrendsAndHistory(t *testing.T) {
	t.Parallel()

	cfg := DefaultMonitorConfig()
	cfg.MaxSnapshots = 3
	clock := newFakeClock()
	m := NewPerformanceMonitor(cfg, logging.NewNop(), WithMonitorClock(clock.Now))

	m.RecordCache(performance.CacheHit, "k", 0)
	m.Sample()
	m.RecordCache(performance.CacheMiss, "k", 0)
	for i := 0; i < 4; i++ {
		clock.Advance(10 * time.Second)
		m.Sample()
	}

	report := m.Report()
	assert.Equal(t, 3, report.History.Snapshots)
	require.NotNil(t, report.History.Oldest)
	assert.Equal(t, 20*time.Second, report.History.Newest.Sub(*report.History.Oldest))
	require.NotNil(t, report.Trends)
	assert.Equal(t, 0.0, report.Trends.HitRate)

	snaps := m.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, 0.5, snaps[2].Cache.HitRate)
}

func TestMonitorObservations(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMonitor(t)
	ok := m.StartObservation("http:GET /api/v1/stats", "")
	failed := m.StartObservation("sync:rss:cs", "rss:cs")
	assert.Equal(t, 2, m.Report().ActiveObservations)

	m.EndObservation(ok, nil)
	m.EndObservation(failed, errors.New("boom"))
	m.EndObservation(failed, nil)

	report := m.Report()
	assert.Equal(t, 0, report.ActiveObservations)
	assert.Equal(t, int64(1), report.Operations["http:GET /api/v1/stats"].Count)
	assert.Equal(t, int64(1), report.Operations["sync:rss:cs"].Failures)
	assert.Equal(t, int64(1), report.Current.Sync.Failed)
}

func TestMonitorReset(t *testing.T) {
	t.Parallel()

	m, _, _ := newTestMonitor(t)
	m.RecordSync(performance.SyncFailure, "k", 0)
	m.Sample()
	require.NotEmpty(t, m.ActiveAlerts())

	m.Reset()
	assert.Empty(t, m.ActiveAlerts())
	assert.Empty(t, m.Snapshots())
	assert.Equal(t, int64(0), m.Stats().Sync.Failed)
}

func TestMonitorExportsMetrics(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics(prometheus.NewRegistry())
	m, _, _ := newTestMonitor(t, WithMetrics(metrics), WithStorageUsage(func() float64 { return 0.25 }))

	m.RecordCache(performance.CacheHit, "k", time.Millisecond)
	m.RecordCache(performance.CacheHit, "k", time.Millisecond)
	m.RecordCache(performance.CacheEviction, "k", 0)
	m.RecordSync(performance.SyncSuccess, "k", 10*time.Millisecond)
	m.RecordPrediction(performance.PredictionIssued, "cs")
	m.Sample()

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.CacheEvents.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheEvents.WithLabelValues("eviction")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SyncEvents.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PredictionEvents.WithLabelValues("issued")))
	assert.Equal(t, 0.25, testutil.ToFloat64(metrics.StorageUsage))
	assert.Equal(t, 100.0, testutil.ToFloat64(metrics.HealthScore))
}

func TestNilMetricsAreNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordCache("hit", 1)
		metrics.RecordSync("success", 1)
		metrics.RecordPrediction("issued")
		metrics.RecordOperation("op", true, 1)
		metrics.SetGauges(1, 50, 0.5)
	})
}
