package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/network"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

const (
	syncHistorySize     = 100
	syncSuccessWindow   = 20
	syncRecentHistory   = 10
	defaultSyncDebounce = 10 * time.Millisecond
)

// TaskExecutor performs one scheduled fetch.
type TaskExecutor interface {
	Execute(ctx context.Context, t task.Task, timeout time.Duration) error
}

// SyncConfig tunes the scheduler.
type SyncConfig struct {
	Interval      time.Duration
	MaxConcurrent int
	MaxRetries    int
	RetryDelays   []time.Duration
	MaxRetryDelay time.Duration
	TimeoutFast   time.Duration
	TimeoutSlow   time.Duration
	// Debounce delays dispatch after an enqueue so a burst is ordered as a whole.
	Debounce time.Duration
}

// DefaultSyncConfig returns the built-in defaults.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Interval:      5 * time.Minute,
		MaxConcurrent: 3,
		MaxRetries:    3,
		RetryDelays:   []time.Duration{time.Second, 3 * time.Second, 10 * time.Second},
		MaxRetryDelay: 10 * time.Second,
		TimeoutFast:   5 * time.Second,
		TimeoutSlow:   15 * time.Second,
		Debounce:      defaultSyncDebounce,
	}
}

// NewSyncConfig builds the configuration from pkg/config.
func NewSyncConfig() *SyncConfig {
	cfg := DefaultSyncConfig()
	cfg.Interval = config.SyncInterval
	cfg.MaxConcurrent = config.SyncMaxConcurrent
	cfg.MaxRetries = config.SyncMaxRetries
	cfg.TimeoutFast = config.SyncTimeoutFast
	cfg.TimeoutSlow = config.SyncTimeoutSlow
	return cfg
}

// RetryDelay returns the wait before retry number retryCount+1. Delays follow
// the fixed schedule, repeat its last step, and never exceed MaxRetryDelay.
func (c *SyncConfig) RetryDelay(retryCount int) time.Duration {
	if len(c.RetryDelays) == 0 {
		return c.MaxRetryDelay
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(c.RetryDelays) {
		retryCount = len(c.RetryDelays) - 1
	}
	d := c.RetryDelays[retryCount]
	if c.MaxRetryDelay > 0 && d > c.MaxRetryDelay {
		d = c.MaxRetryDelay
	}
	return d
}

// SyncRecord is one entry of the sync history.
type SyncRecord struct {
	Key         string        `json:"key"`
	Category    string        `json:"category"`
	Priority    string        `json:"priority"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	RetryCount  int           `json:"retryCount"`
	QueuedAt    time.Time     `json:"queuedAt"`
	CompletedAt time.Time     `json:"completedAt"`
	Duration    time.Duration `json:"duration"`
}

// FailedTask is a task that exhausted its retries.
type FailedTask struct {
	Key        string    `json:"key"`
	Category   string    `json:"category"`
	Priority   string    `json:"priority"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retryCount"`
	FailedAt   time.Time `json:"failedAt"`
}

// SyncStats is a snapshot of scheduler state.
type SyncStats struct {
	Queued             map[string]int `json:"queued"`
	TotalQueued        int            `json:"totalQueued"`
	Executing          []string       `json:"executing"`
	Retrying           int            `json:"retrying"`
	Failed             int            `json:"failed"`
	NetworkQuality     string         `json:"networkQuality"`
	Online             bool           `json:"online"`
	RunActive          bool           `json:"runActive"`
	Runs               int64          `json:"runs"`
	TotalSynced        int64          `json:"totalSynced"`
	TotalFailures      int64          `json:"totalFailures"`
	TotalRetries       int64          `json:"totalRetries"`
	SuccessRate        float64        `json:"successRate"`
	AverageDuration    time.Duration  `json:"averageDuration"`
	LastSuccessfulSync time.Time      `json:"lastSuccessfulSync,omitempty"`
	RecentHistory      []SyncRecord   `json:"recentHistory"`
}

// SyncScheduler runs sync tasks from four strict priority queues. A key has at
// most one outstanding task and never executes twice at once. Tasks whose
// dependencies are pending in the current run are deferred, not failed.
type SyncScheduler struct {
	executor TaskExecutor
	network  network.Source
	config   *SyncConfig
	logger   *logging.ChanneledLogger
	recorder performance.Recorder
	now      func() time.Time

	executing *caching.KeyLock
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	unsub     func()

	mu          sync.Mutex
	queues      map[task.Priority][]*task.Task
	queued      map[string]*task.Task
	retrying    map[string]*task.Task
	timers      map[string]*time.Timer
	debounce    *time.Timer
	runActive   bool
	runKeys     map[string]struct{}
	completed   map[string]struct{}
	failed      map[string]FailedTask
	history     []SyncRecord
	idle        chan struct{}
	closed      bool
	runs        int64
	synced      int64
	failures    int64
	retries     int64
	lastSuccess time.Time
}

// SyncOption customizes a SyncScheduler.
type SyncOption func(*SyncScheduler)

// WithSyncClock replaces time.Now, for tests.
func WithSyncClock(now func() time.Time) SyncOption {
	return func(s *SyncScheduler) { s.now = now }
}

// WithSyncRecorder attaches instrumentation.
func WithSyncRecorder(r performance.Recorder) SyncOption {
	return func(s *SyncScheduler) { s.recorder = performance.OrNop(r) }
}

// NewSyncScheduler creates a scheduler. Work is dispatched as soon as it is
// queued; Start only adds the periodic tick.
func NewSyncScheduler(executor TaskExecutor, source network.Source, cfg *SyncConfig, logger *logging.ChanneledLogger, opts ...SyncOption) *SyncScheduler {
	if cfg == nil {
		cfg = DefaultSyncConfig()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if source == nil {
		source = network.NewStatic(network.Fast)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	s := &SyncScheduler{
		executor:  executor,
		network:   source,
		config:    cfg,
		logger:    logger,
		recorder:  performance.NopRecorder{},
		now:       time.Now,
		executing: caching.NewKeyLock(),
		ctx:       ctx,
		cancel:    cancel,
		queues:    make(map[task.Priority][]*task.Task, len(task.Priorities)),
		queued:    make(map[string]*task.Task),
		retrying:  make(map[string]*task.Task),
		timers:    make(map[string]*time.Timer),
		runKeys:   make(map[string]struct{}),
		completed: make(map[string]struct{}),
		failed:    make(map[string]FailedTask),
		idle:      idle,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsub = source.Subscribe(s.onNetworkChange)
	return s
}

// QueueSync adds t at priority. A key already executing is rejected; a key
// already queued is promoted when priority is higher and dropped otherwise.
func (s *SyncScheduler) QueueSync(t task.Task, priority task.Priority) task.QueueOutcome {
	if t.Key == "" || t.Fetch == nil || !priority.Valid() {
		return task.Invalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return task.Rejected
	}
	if s.executing.Held(t.Key) {
		s.logger.Sync().Debug("Sync already in progress", slog.String("key", t.Key))
		return task.Rejected
	}

	outcome := task.Queued
	if existing, ok := s.queued[t.Key]; ok {
		if priority <= existing.Priority {
			s.logger.Sync().Debug("Sync already queued", slog.String("key", t.Key), slog.String("priority", existing.Priority.String()))
			return task.Dropped
		}
		s.removeQueuedLocked(t.Key)
		outcome = task.Promoted
	} else if pending, ok := s.retrying[t.Key]; ok {
		if priority <= pending.Priority {
			return task.Dropped
		}
		s.cancelRetryLocked(t.Key)
		outcome = task.Promoted
	}

	queued := t
	queued.Priority = priority
	queued.QueuedAt = s.now()
	if queued.Source == "" {
		queued.Source = task.SourceConsumer
	}
	s.enqueueLocked(&queued)

	s.logger.Sync().Debug("Queued sync",
		slog.String("key", t.Key),
		slog.String("priority", priority.String()),
		slog.String("outcome", outcome.String()))
	s.kickLocked()
	return outcome
}

func (s *SyncScheduler) enqueueLocked(t *task.Task) {
	s.queues[t.Priority] = append(s.queues[t.Priority], t)
	s.queued[t.Key] = t
	if s.runActive {
		s.runKeys[t.Key] = struct{}{}
	}
	s.markBusyLocked()
}

func (s *SyncScheduler) removeQueuedLocked(key string) {
	t, ok := s.queued[key]
	if !ok {
		return
	}
	delete(s.queued, key)
	queue := s.queues[t.Priority]
	for i, candidate := range queue {
		if candidate == t {
			s.queues[t.Priority] = append(queue[:i:i], queue[i+1:]...)
			return
		}
	}
}

func (s *SyncScheduler) cancelRetryLocked(key string) {
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
		delete(s.timers, key)
	}
	delete(s.retrying, key)
}

// kickLocked schedules a dispatch after the debounce window.
func (s *SyncScheduler) kickLocked() {
	if s.debounce != nil {
		return
	}
	s.debounce = time.AfterFunc(s.config.Debounce, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.debounce = nil
		s.dispatchLocked()
	})
}

// dispatchLocked starts eligible tasks up to the concurrency bound.
func (s *SyncScheduler) dispatchLocked() {
	if s.closed {
		return
	}
	quality := s.network.Quality()
	if !quality.Online() {
		return
	}
	timeout := s.timeoutFor(quality)

	restarted := false
	for {
		if !s.runActive && len(s.queued) > 0 {
			s.startRunLocked()
			restarted = true
		}
		if s.fillLocked(timeout, false) > 0 {
			return
		}
		if restarted && s.executing.Len() == 0 && len(s.retrying) == 0 && len(s.queued) > 0 {
			// a fresh run with nothing eligible: the queued tasks depend on each other
			s.logger.Sync().Warn("Dependency cycle among queued syncs, dispatching in queue order",
				slog.Int("queued", len(s.queued)))
			s.fillLocked(timeout, true)
			return
		}
		if !s.endRunIfIdleLocked() || len(s.queued) == 0 {
			return
		}
		// only deferred tasks remain; their dependencies now lie outside the next run
	}
}

// fillLocked starts tasks up to the concurrency bound and returns how many it
// started. In relaxed mode it starts at most one task and only waits for
// dependencies that are executing.
func (s *SyncScheduler) fillLocked(timeout time.Duration, relaxed bool) int {
	started := 0
	for s.executing.Len() < s.config.MaxConcurrent {
		next := s.nextEligibleLocked(relaxed)
		if next == nil {
			break
		}
		s.startLocked(next, timeout)
		started++
		if relaxed {
			break
		}
	}
	return started
}

func (s *SyncScheduler) startRunLocked() {
	s.runActive = true
	s.runs++
	s.runKeys = make(map[string]struct{}, len(s.queued))
	for key := range s.queued {
		s.runKeys[key] = struct{}{}
	}
	s.completed = make(map[string]struct{})
	s.logger.Sync().Debug("Sync run started",
		slog.Int64("run", s.runs),
		slog.Int("tasks", len(s.queued)),
		slog.String("network", s.network.Quality().String()))
}

// endRunIfIdleLocked closes the current run when nothing is executing or
// waiting to retry. It reports whether the run ended.
func (s *SyncScheduler) endRunIfIdleLocked() bool {
	if !s.runActive || s.executing.Len() > 0 || len(s.retrying) > 0 {
		return false
	}
	s.runActive = false
	s.runKeys = make(map[string]struct{})
	s.completed = make(map[string]struct{})
	if len(s.queued) == 0 {
		s.markIdleLocked()
	}
	return true
}

// nextEligibleLocked picks the highest-priority, longest-waiting task whose
// dependencies are satisfied.
func (s *SyncScheduler) nextEligibleLocked(relaxed bool) *task.Task {
	for _, priority := range task.Priorities {
		queue := s.queues[priority]
		if len(queue) == 0 {
			continue
		}
		ordered := append([]*task.Task(nil), queue...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].QueuedAt.Before(ordered[j].QueuedAt) })
		for _, candidate := range ordered {
			if s.executing.Held(candidate.Key) {
				continue
			}
			if err := s.checkDependenciesLocked(candidate, relaxed); err != nil {
				s.logger.Sync().Debug("Sync deferred", slog.String("key", candidate.Key), slog.String("reason", err.Error()))
				continue
			}
			s.removeQueuedLocked(candidate.Key)
			return candidate
		}
	}
	return nil
}

// checkDependenciesLocked returns ErrDependencyUnsatisfied for a task that must
// wait. A dependency is met once it completed in this run. One that belongs to
// the run, or is still queued, executing or waiting to retry, is unmet.
// Anything else lies outside the run and counts as met.
func (s *SyncScheduler) checkDependenciesLocked(t *task.Task, relaxed bool) error {
	for _, dep := range t.Dependencies {
		if dep == t.Key {
			continue
		}
		if relaxed {
			if s.executing.Held(dep) {
				return fmt.Errorf("%w: %s is executing", faults.ErrDependencyUnsatisfied, dep)
			}
			continue
		}
		if _, done := s.completed[dep]; done {
			continue
		}
		_, inRun := s.runKeys[dep]
		_, isQueued := s.queued[dep]
		_, isRetrying := s.retrying[dep]
		if inRun || isQueued || isRetrying || s.executing.Held(dep) {
			return fmt.Errorf("%w: %s", faults.ErrDependencyUnsatisfied, dep)
		}
	}
	return nil
}

func (s *SyncScheduler) startLocked(t *task.Task, timeout time.Duration) {
	s.executing.TryLock(t.Key)
	s.wg.Add(1)

	go func(t task.Task) {
		defer s.wg.Done()
		start := time.Now()
		err := s.executeSafely(t, timeout)
		s.complete(t, err, time.Since(start))
	}(*t)
}

func (s *SyncScheduler) executeSafely(t task.Task, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync of %s panicked: %v", t.Key, r)
		}
	}()
	if s.executor == nil {
		return errors.New("sync scheduler has no executor")
	}
	return s.executor.Execute(s.ctx, t, timeout)
}

func (s *SyncScheduler) complete(t task.Task, err error, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.executing.Unlock(t.Key)
	if s.closed {
		return
	}

	now := s.now()
	record := SyncRecord{
		Key:         t.Key,
		Category:    t.Category,
		Priority:    t.Priority.String(),
		Success:     err == nil,
		RetryCount:  t.RetryCount,
		QueuedAt:    t.QueuedAt,
		CompletedAt: now,
		Duration:    duration,
	}

	if err == nil {
		s.completed[t.Key] = struct{}{}
		delete(s.failed, t.Key)
		s.synced++
		s.lastSuccess = now
		s.logger.Sync().Debug("Sync completed", slog.String("key", t.Key), slog.Duration("duration", duration))
	} else {
		record.Error = err.Error()
		s.handleFailureLocked(t, err)
	}
	s.appendHistoryLocked(record)

	s.dispatchLocked()
	s.endRunIfIdleLocked()
}

func (s *SyncScheduler) handleFailureLocked(t task.Task, err error) {
	s.failures++
	if t.RetryCount < s.config.MaxRetries && faults.IsRetryable(err) {
		delay := s.config.RetryDelay(t.RetryCount)
		retry := t
		s.retrying[t.Key] = &retry
		s.retries++
		s.recorder.RecordSync(performance.SyncRetry, t.Key, 0)
		s.timers[t.Key] = time.AfterFunc(delay, func() { s.requeueRetry(t.Key) })
		s.logger.Sync().Info("Sync failed, retry scheduled",
			slog.String("key", t.Key),
			slog.Int("attempt", t.RetryCount+1),
			slog.Int("maxRetries", s.config.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		return
	}

	s.failed[t.Key] = FailedTask{
		Key:        t.Key,
		Category:   t.Category,
		Priority:   t.Priority.String(),
		Error:      err.Error(),
		RetryCount: t.RetryCount,
		FailedAt:   s.now(),
	}
	s.logger.LogError(logging.ChannelSync, "sync", err, map[string]any{
		"key":        t.Key,
		"retryCount": t.RetryCount,
		"permanent":  true,
	})
}

func (s *SyncScheduler) requeueRetry(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.retrying[key]
	delete(s.timers, key)
	if !ok || s.closed {
		return
	}
	delete(s.retrying, key)

	if existing, queued := s.queued[key]; queued {
		if existing.Priority >= t.Priority {
			return
		}
		s.removeQueuedLocked(key)
	}
	t.RetryCount++
	t.QueuedAt = s.now()
	t.Source = task.SourceRetry
	s.enqueueLocked(t)
	s.dispatchLocked()
}

func (s *SyncScheduler) appendHistoryLocked(record SyncRecord) {
	s.history = append(s.history, record)
	if overflow := len(s.history) - syncHistorySize; overflow > 0 {
		s.history = append([]SyncRecord(nil), s.history[overflow:]...)
	}
}

func (s *SyncScheduler) timeoutFor(q network.Quality) time.Duration {
	if q == network.Slow {
		return s.config.TimeoutSlow
	}
	return s.config.TimeoutFast
}

func (s *SyncScheduler) onNetworkChange(previous, current network.Quality) {
	s.logger.Sync().Info("Sync network state changed",
		slog.String("from", previous.String()),
		slog.String("to", current.String()))
	if !previous.Online() && current.Online() {
		s.mu.Lock()
		s.dispatchLocked()
		s.mu.Unlock()
	}
}

func (s *SyncScheduler) markBusyLocked() {
	select {
	case <-s.idle:
		s.idle = make(chan struct{})
	default:
	}
}

func (s *SyncScheduler) markIdleLocked() {
	select {
	case <-s.idle:
	default:
		close(s.idle)
	}
}

// WaitIdle blocks until no task is queued, executing or waiting to retry.
func (s *SyncScheduler) WaitIdle(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the periodic tick until ctx is done, then stops the scheduler.
func (s *SyncScheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Sync().Info("Sync scheduler started",
		slog.Duration("interval", s.config.Interval),
		slog.Int("maxConcurrent", s.config.MaxConcurrent))
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			s.mu.Lock()
			if len(s.queued) > 0 {
				s.logger.Sync().Debug("Periodic sync triggered", slog.Int("queued", len(s.queued)))
			}
			s.dispatchLocked()
			s.mu.Unlock()
		}
	}
}

// Stop cancels executing tasks and pending retries and waits for workers.
// Queued tasks are discarded.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for key := range s.timers {
		s.cancelRetryLocked(key)
	}
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.cancel()
	s.markIdleLocked()
	s.mu.Unlock()

	s.unsub()
	s.wg.Wait()
	s.logger.Sync().Info("Sync scheduler stopped")
}

// FailedTasks returns the tasks that exhausted their retries.
func (s *SyncScheduler) FailedTasks() []FailedTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FailedTask, 0, len(s.failed))
	for _, f := range s.failed {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ClearFailures forgets permanently failed tasks and returns how many there were.
func (s *SyncScheduler) ClearFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.failed)
	s.failed = make(map[string]FailedTask)
	return n
}

// History returns the sync history, oldest first.
func (s *SyncScheduler) History() []SyncRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SyncRecord(nil), s.history...)
}

// Stats returns a snapshot of queue depths, outcomes and recent history.
func (s *SyncScheduler) Stats() SyncStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	quality := s.network.Quality()
	stats := SyncStats{
		Queued:             make(map[string]int, len(task.Priorities)),
		TotalQueued:        len(s.queued),
		Executing:          s.executing.Keys(),
		Retrying:           len(s.retrying),
		Failed:             len(s.failed),
		NetworkQuality:     quality.String(),
		Online:             quality.Online(),
		RunActive:          s.runActive,
		Runs:               s.runs,
		TotalSynced:        s.synced,
		TotalFailures:      s.failures,
		TotalRetries:       s.retries,
		SuccessRate:        100,
		LastSuccessfulSync: s.lastSuccess,
	}
	for _, p := range task.Priorities {
		stats.Queued[p.String()] = len(s.queues[p])
	}

	if len(s.history) > 0 {
		var total time.Duration
		for _, r := range s.history {
			total += r.Duration
		}
		stats.AverageDuration = total / time.Duration(len(s.history))

		window := s.history
		if len(window) > syncSuccessWindow {
			window = window[len(window)-syncSuccessWindow:]
		}
		ok := 0
		for _, r := range window {
			if r.Success {
				ok++
			}
		}
		stats.SuccessRate = float64(ok) / float64(len(window)) * 100
	}

	recent := s.history
	if len(recent) > syncRecentHistory {
		recent = recent[len(recent)-syncRecentHistory:]
	}
	stats.RecentHistory = append([]SyncRecord(nil), recent...)
	return stats
}
