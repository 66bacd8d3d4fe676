package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/network"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
)

type fakeExecutor struct {
	mu        sync.Mutex
	events    []string
	calls     map[string]int
	timeouts  []time.Duration
	active    int
	maxActive int
	gate      chan struct{}
	fail      func(t task.Task) error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{calls: make(map[string]int)}
}

func (f *fakeExecutor) Execute(ctx context.Context, t task.Task, timeout time.Duration) error {
	f.mu.Lock()
	f.events = append(f.events, "start:"+t.Key)
	f.calls[t.Key]++
	f.timeouts = append(f.timeouts, timeout)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	gate := f.gate
	fail := f.fail
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	var err error
	if fail != nil {
		err = fail(t)
	}

	f.mu.Lock()
	f.active--
	f.events = append(f.events, "end:"+t.Key)
	f.mu.Unlock()
	return err
}

func (f *fakeExecutor) starts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		if len(e) > 6 && e[:6] == "start:" {
			out = append(out, e[6:])
		}
	}
	return out
}

func (f *fakeExecutor) indexOf(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.events {
		if e == event {
			return i
		}
	}
	return -1
}

func (f *fakeExecutor) callsFor(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func syncTask(key string, deps ...string) task.Task {
	return task.Task{
		Key:          key,
		Category:     "departments",
		Dependencies: deps,
		Fetch: func(context.Context, task.FetchRequest) (any, error) {
			return nil, nil
		},
	}
}

func testSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.Debounce = 20 * time.Millisecond
	cfg.RetryDelays = []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}
	cfg.MaxRetryDelay = 10 * time.Millisecond
	return cfg
}

func newTestScheduler(t *testing.T, exec TaskExecutor, source network.Source, cfg *SyncConfig) *SyncScheduler {
	t.Helper()
	if cfg == nil {
		cfg = testSyncConfig()
	}
	s := NewSyncScheduler(exec, source, cfg, logging.NewNop())
	t.Cleanup(s.Stop)
	return s
}

func waitIdle(t *testing.T, s *SyncScheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.WaitIdle(ctx))
}

func TestSyncSchedulerRunsByPriority(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	cfg := testSyncConfig()
	cfg.MaxConcurrent = 1
	s := newTestScheduler(t, exec, nil, cfg)

	assert.Equal(t, task.Queued, s.QueueSync(syncTask("low"), task.PriorityLow))
	assert.Equal(t, task.Queued, s.QueueSync(syncTask("medium"), task.PriorityMedium))
	assert.Equal(t, task.Queued, s.QueueSync(syncTask("critical"), task.PriorityCritical))
	assert.Equal(t, task.Queued, s.QueueSync(syncTask("high"), task.PriorityHigh))
	waitIdle(t, s)

	assert.Equal(t, []string{"critical", "high", "medium", "low"}, exec.starts())

	stats := s.Stats()
	assert.Equal(t, int64(4), stats.TotalSynced)
	assert.Equal(t, 100.0, stats.SuccessRate)
	assert.Len(t, stats.RecentHistory, 4)
	assert.False(t, stats.LastSuccessfulSync.IsZero())
}

func TestSyncSchedulerQueueOutcomes(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	s := newTestScheduler(t, exec, network.NewStatic(network.Offline), nil)

	assert.Equal(t, task.Queued, s.QueueSync(syncTask("department:cs"), task.PriorityLow))
	assert.Equal(t, task.Dropped, s.QueueSync(syncTask("department:cs"), task.PriorityLow))
	assert.Equal(t, task.Promoted, s.QueueSync(syncTask("department:cs"), task.PriorityHigh))
	assert.Equal(t, task.Dropped, s.QueueSync(syncTask("department:cs"), task.PriorityMedium))

	assert.Equal(t, task.Invalid, s.QueueSync(syncTask(""), task.PriorityLow))
	assert.Equal(t, task.Invalid, s.QueueSync(task.Task{Key: "no-fetch"}, task.PriorityLow))
	assert.Equal(t, task.Invalid, s.QueueSync(syncTask("department:math"), task.Priority(9)))

	stats := s.Stats()
	assert.Equal(t, 1, stats.TotalQueued)
	assert.Equal(t, 1, stats.Queued["high"])
	assert.Equal(t, 0, stats.Queued["low"])
	assert.False(t, stats.Online)
}

func TestSyncSchedulerRejectsExecutingKey(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	exec.gate = make(chan struct{})
	s := newTestScheduler(t, exec, nil, nil)

	require.Equal(t, task.Queued, s.QueueSync(syncTask("department:cs"), task.PriorityMedium))
	require.Eventually(t, func() bool {
		return len(s.Stats().Executing) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, task.Rejected, s.QueueSync(syncTask("department:cs"), task.PriorityCritical))
	close(exec.gate)
	waitIdle(t, s)
	assert.Equal(t, 1, exec.callsFor("department:cs"))
}

func TestSyncSchedulerBoundsConcurrency(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	exec.fail = func(task.Task) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	}
	cfg := testSyncConfig()
	cfg.MaxConcurrent = 2
	s := newTestScheduler(t, exec, nil, cfg)

	for _, key := range []string{"a", "b", "c", "d", "e", "f"} {
		s.QueueSync(syncTask(key), task.PriorityMedium)
	}
	waitIdle(t, s)

	assert.Len(t, exec.starts(), 6)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.LessOrEqual(t, exec.maxActive, 2)
}

func TestSyncSchedulerRunsDependenciesFirst(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	s := newTestScheduler(t, exec, nil, nil)

	s.QueueSync(syncTask("rss:predictive:cs", "department:cs"), task.PriorityCritical)
	s.QueueSync(syncTask("department:cs"), task.PriorityLow)
	waitIdle(t, s)

	parentDone := exec.indexOf("end:department:cs")
	childStart := exec.indexOf("start:rss:predictive:cs")
	require.GreaterOrEqual(t, parentDone, 0)
	require.GreaterOrEqual(t, childStart, 0)
	assert.Less(t, parentDone, childStart)
}

func TestSyncSchedulerNeverDeadlocksOnDependencies(t *testing.T) {
	t.Parallel()

	t.Run("dependency outside the run", func(t *testing.T) {
		t.Parallel()
		exec := newFakeExecutor()
		s := newTestScheduler(t, exec, nil, nil)

		s.QueueSync(syncTask("child", "never-queued"), task.PriorityHigh)
		waitIdle(t, s)
		assert.Equal(t, 1, exec.callsFor("child"))
	})

	t.Run("failed dependency", func(t *testing.T) {
		t.Parallel()
		exec := newFakeExecutor()
		exec.fail = func(t task.Task) error {
			if t.Key == "parent" {
				return faults.Permanent(errors.New("gone"))
			}
			return nil
		}
		s := newTestScheduler(t, exec, nil, nil)

		s.QueueSync(syncTask("child", "parent"), task.PriorityHigh)
		s.QueueSync(syncTask("parent"), task.PriorityLow)
		waitIdle(t, s)

		assert.Equal(t, 1, exec.callsFor("parent"))
		assert.Equal(t, 1, exec.callsFor("child"))
		assert.Len(t, s.FailedTasks(), 1)
	})

	t.Run("dependency cycle", func(t *testing.T) {
		t.Parallel()
		exec := newFakeExecutor()
		s := newTestScheduler(t, exec, nil, nil)

		s.QueueSync(syncTask("a", "b"), task.PriorityMedium)
		s.QueueSync(syncTask("b", "a"), task.PriorityMedium)
		waitIdle(t, s)

		assert.Equal(t, 1, exec.callsFor("a"))
		assert.Equal(t, 1, exec.callsFor("b"))
	})
}

func TestSyncSchedulerRetriesThenFailsPermanently(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	exec.fail = func(task.Task) error { return errors.New("connection reset") }
	cfg := testSyncConfig()
	cfg.MaxRetries = 2
	s := newTestScheduler(t, exec, nil, cfg)

	s.QueueSync(syncTask("department:cs"), task.PriorityHigh)
	waitIdle(t, s)

	assert.Equal(t, 3, exec.callsFor("department:cs"))
	failed := s.FailedTasks()
	require.Len(t, failed, 1)
	assert.Equal(t, "department:cs", failed[0].Key)
	assert.Equal(t, 2, failed[0].RetryCount)
	assert.Equal(t, "connection reset", failed[0].Error)

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.TotalRetries)
	assert.Equal(t, int64(3), stats.TotalFailures)
	assert.Equal(t, 0.0, stats.SuccessRate)

	assert.Equal(t, 1, s.ClearFailures())
	assert.Empty(t, s.FailedTasks())
}

func TestSyncSchedulerSkipsRetryForPermanentErrors(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	exec.fail = func(task.Task) error { return faults.Permanent(errors.New("404")) }
	s := newTestScheduler(t, exec, nil, nil)

	s.QueueSync(syncTask("department:gone"), task.PriorityHigh)
	waitIdle(t, s)

	assert.Equal(t, 1, exec.callsFor("department:gone"))
	assert.Equal(t, int64(0), s.Stats().TotalRetries)
}

func TestSyncSchedulerSucceedsOnRetry(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	var mu sync.Mutex
	attempts := 0
	exec.fail = func(task.Task) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("temporary")
		}
		return nil
	}
	s := newTestScheduler(t, exec, nil, nil)

	s.QueueSync(syncTask("department:cs"), task.PriorityHigh)
	waitIdle(t, s)

	assert.Equal(t, 2, exec.callsFor("department:cs"))
	assert.Empty(t, s.FailedTasks())
	history := s.History()
	require.Len(t, history, 2)
	assert.False(t, history[0].Success)
	assert.True(t, history[1].Success)
	assert.Equal(t, 1, history[1].RetryCount)
}

func TestSyncRetryDelayIsBoundedAndNonDecreasing(t *testing.T) {
	t.Parallel()

	cfg := DefaultSyncConfig()
	assert.Equal(t, time.Second, cfg.RetryDelay(0))
	assert.Equal(t, 3*time.Second, cfg.RetryDelay(1))
	assert.Equal(t, 10*time.Second, cfg.RetryDelay(2))

	previous := time.Duration(0)
	for i := -1; i < 20; i++ {
		d := cfg.RetryDelay(i)
		assert.GreaterOrEqual(t, d, previous)
		assert.LessOrEqual(t, d, cfg.MaxRetryDelay)
		previous = d
	}

	cfg.MaxRetryDelay = 2 * time.Second
	assert.Equal(t, 2*time.Second, cfg.RetryDelay(5))
}

func TestSyncSchedulerPausesWhileOffline(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	source := network.NewStatic(network.Offline)
	s := newTestScheduler(t, exec, source, nil)

	s.QueueSync(syncTask("department:cs"), task.PriorityCritical)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, exec.callsFor("department:cs"))
	assert.Equal(t, 1, s.Stats().TotalQueued)

	source.SetQuality(network.Slow)
	waitIdle(t, s)
	assert.Equal(t, 1, exec.callsFor("department:cs"))

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, []time.Duration{testSyncConfig().TimeoutSlow}, exec.timeouts)
}

func TestSyncSchedulerStopCancelsWork(t *testing.T) {
	t.Parallel()

	exec := newFakeExecutor()
	exec.gate = make(chan struct{})
	s := NewSyncScheduler(exec, nil, testSyncConfig(), logging.NewNop())

	s.QueueSync(syncTask("department:cs"), task.PriorityHigh)
	require.Eventually(t, func() bool {
		return exec.callsFor("department:cs") == 1
	}, 2*time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, task.Rejected, s.QueueSync(syncTask("department:math"), task.PriorityHigh))
}
