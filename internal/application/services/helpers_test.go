package services

import (
	"sync"
	"testing"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/services/conflict"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/storage"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	// a Monday morning
	return &testClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type submission struct {
	Task     task.Task
	Priority task.Priority
}

// recordingSubmitter accepts every task and remembers it.
type recordingSubmitter struct {
	mu   sync.Mutex
	subs []submission
}

func (r *recordingSubmitter) QueueSync(t task.Task, p task.Priority) task.QueueOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, submission{Task: t, Priority: p})
	return task.Queued
}

func (r *recordingSubmitter) all() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

// countingRecorder tallies cache events.
type countingRecorder struct {
	performance.NopRecorder
	mu     sync.Mutex
	events map[performance.CacheEvent]int
}

func (r *countingRecorder) RecordCache(event performance.CacheEvent, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[performance.CacheEvent]int)
	}
	r.events[event]++
}

func (r *countingRecorder) count(event performance.CacheEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[event]
}

func newTestStore(t *testing.T, clock *testClock) *store.Store {
	t.Helper()
	st, err := store.New(storage.NewMemory(), store.DefaultConfig(), logging.NewNop(), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestRehydration(t *testing.T, clock *testClock) (*RehydrationService, *store.Store) {
	t.Helper()
	st := newTestStore(t, clock)
	cfg := DefaultRehydrationConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 4 * time.Millisecond
	cfg.Timeout = time.Second
	svc := NewRehydrationService(st, conflict.NewResolver(logging.NewNop()), cfg, logging.NewNop(),
		WithRehydrationClock(clock.Now))
	t.Cleanup(svc.Close)
	return svc, st
}
