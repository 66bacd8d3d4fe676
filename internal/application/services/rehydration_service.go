// Package services provides the application-level services of the cache
// engine: the cache-first read path, the sync scheduler, the behavior
// predictor and the feed sync orchestration built on top of them.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/cache"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/services/conflict"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RehydrationConfig tunes the cache-first read path.
type RehydrationConfig struct {
	MaxAttempts       int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	Timeout           time.Duration
	BackgroundTimeout time.Duration
	StaleRatio        float64
	SweepInterval     time.Duration
	PreloadLimit      int
	// RefreshPriorities maps a category to the priority of its background refresh.
	RefreshPriorities map[string]task.Priority
}

// DefaultRefreshPriorities returns the category refresh priority table.
func DefaultRefreshPriorities() map[string]task.Priority {
	return map[string]task.Priority{
		cache.CategoryDepartments: task.PriorityHigh,
		cache.CategoryPreferences: task.PriorityHigh,
		cache.CategoryUserState:   task.PriorityMedium,
		cache.CategoryRSSItems:    task.PriorityMedium,
		cache.CategoryDefault:     task.PriorityLow,
	}
}

// DefaultRehydrationConfig returns the built-in defaults.
func DefaultRehydrationConfig() *RehydrationConfig {
	return &RehydrationConfig{
		MaxAttempts:       3,
		RetryDelay:        time.Second,
		MaxRetryDelay:     10 * time.Second,
		Timeout:           10 * time.Second,
		BackgroundTimeout: 15 * time.Second,
		StaleRatio:        0.7,
		SweepInterval:     30 * time.Second,
		PreloadLimit:      3,
		RefreshPriorities: DefaultRefreshPriorities(),
	}
}

// NewRehydrationConfig builds the configuration from pkg/config.
func NewRehydrationConfig() *RehydrationConfig {
	cfg := DefaultRehydrationConfig()
	cfg.MaxAttempts = config.RehydrationMaxRetries
	cfg.RetryDelay = config.RehydrationRetryDelay
	cfg.MaxRetryDelay = config.RehydrationMaxRetryDelay
	cfg.Timeout = config.RehydrationTimeout
	cfg.BackgroundTimeout = config.RehydrationBackgroundTimeout
	cfg.StaleRatio = config.RehydrationStaleRatio
	cfg.SweepInterval = config.RehydrationSweepInterval
	cfg.PreloadLimit = config.SyncMaxConcurrent
	return cfg
}

// GetOptions tune one GetData call.
type GetOptions struct {
	Category     string
	ForceRefresh bool
	// DisableStaleFallback surfaces the fetch error instead of serving expired data.
	DisableStaleFallback bool
	// Timeout bounds each fetch attempt; zero uses the configured timeout.
	Timeout time.Duration
	// MaxAttempts overrides the configured attempt count when positive.
	MaxAttempts int
	// IfModifiedSince overrides the conditional hint derived from the cached copy.
	IfModifiedSince time.Time
}

// Result is the data returned by GetData with its provenance.
type Result struct {
	Key              string        `json:"key"`
	Category         string        `json:"category"`
	Data             any           `json:"data"`
	Cached           bool          `json:"cached"`
	Fresh            bool          `json:"fresh"`
	Stale            bool          `json:"stale"`
	Fallback         bool          `json:"fallback"`
	Shared           bool          `json:"shared"`
	NotModified      bool          `json:"notModified"`
	Age              time.Duration `json:"age"`
	Attempts         int           `json:"attempts,omitempty"`
	ConflictStrategy string        `json:"conflictStrategy,omitempty"`
	// Err is the fetch failure behind a fallback result; ErrorMessage is its
	// serialized form.
	Err          error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// PreloadItem is one key warmed by Preload.
type PreloadItem struct {
	Key      string
	Category string
	Fetch    task.FetchFunc
}

// PreloadReport summarises a Preload call.
type PreloadReport struct {
	Loaded   int           `json:"loaded"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// RehydrationStats are the counters of the read path.
type RehydrationStats struct {
	InFlight        int   `json:"inFlight"`
	TrackedKeys     int   `json:"trackedKeys"`
	Requests        int64 `json:"requests"`
	CacheHits       int64 `json:"cacheHits"`
	CacheMisses     int64 `json:"cacheMisses"`
	StaleServed     int64 `json:"staleServed"`
	Fetches         int64 `json:"fetches"`
	FetchFailures   int64 `json:"fetchFailures"`
	Fallbacks       int64 `json:"fallbacks"`
	SharedWaits     int64 `json:"sharedWaits"`
	NotModified     int64 `json:"notModified"`
	RefreshesQueued int64 `json:"refreshesQueued"`
	Conflicts       int64 `json:"conflicts"`
}

type rehydrationCounters struct {
	requests, hits, misses, stale, fetches, failures     atomic.Int64
	fallbacks, shared, notModified, refreshes, conflicts atomic.Int64
}

// RehydrationService is the cache-first read path. Concurrent misses for the
// same key share one fetch; stale hits are served immediately and refreshed in
// the background through the sync scheduler.
type RehydrationService struct {
	store    *store.Store
	resolver *conflict.Resolver
	config   *RehydrationConfig
	logger   *logging.ChanneledLogger
	recorder performance.Recorder
	now      func() time.Time

	group singleflight.Group

	// ctx bounds every fetch; shared fetches outlive the caller that started them.
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	refresher task.Submitter
	inFlight  map[string]struct{}
	fetchers  map[string]trackedFetch

	counters rehydrationCounters
}

type trackedFetch struct {
	category string
	fetch    task.FetchFunc
}

// RehydrationOption customizes a RehydrationService.
type RehydrationOption func(*RehydrationService)

// WithRehydrationClock replaces time.Now, for tests.
func WithRehydrationClock(now func() time.Time) RehydrationOption {
	return func(s *RehydrationService) { s.now = now }
}

// WithRehydrationRecorder attaches instrumentation.
func WithRehydrationRecorder(r performance.Recorder) RehydrationOption {
	return func(s *RehydrationService) { s.recorder = performance.OrNop(r) }
}

// NewRehydrationService creates the read path over a store and a resolver.
func NewRehydrationService(st *store.Store, resolver *conflict.Resolver, cfg *RehydrationConfig, logger *logging.ChanneledLogger, opts ...RehydrationOption) *RehydrationService {
	if cfg == nil {
		cfg = DefaultRehydrationConfig()
	}
	if cfg.RefreshPriorities == nil {
		cfg.RefreshPriorities = DefaultRefreshPriorities()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if resolver == nil {
		resolver = conflict.NewResolver(logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &RehydrationService{
		store:    st,
		resolver: resolver,
		config:   cfg,
		logger:   logger,
		recorder: performance.NopRecorder{},
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		inFlight: make(map[string]struct{}),
		fetchers: make(map[string]trackedFetch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachRefresher sets where background refreshes are queued. Without one,
// stale entries are refreshed by a direct background fetch.
func (s *RehydrationService) AttachRefresher(refresher task.Submitter) {
	s.mu.Lock()
	s.refresher = refresher
	s.mu.Unlock()
}

// GetData returns the data for key, serving the cache first. The only hard
// failure is an exhausted fetch with no usable cached copy.
func (s *RehydrationService) GetData(ctx context.Context, key string, fetch task.FetchFunc, opts GetOptions) (*Result, error) {
	if key == "" || fetch == nil {
		return nil, faults.Permanent(errors.New("getData requires a key and a fetch capability"))
	}
	if opts.Category == "" {
		opts.Category = cache.CategoryDefault
	}
	s.counters.requests.Add(1)
	s.track(key, opts.Category, fetch)

	marker := performance.NewMarker("rehydration:get", key)
	defer func() {
		marker.Complete()
		s.recorder.RecordMarker(marker)
	}()

	readCache := !opts.ForceRefresh && !s.isInFlight(key)
	if readCache {
		if result, ok := s.serveCached(key, fetch, opts); ok {
			marker.AddMetadata("source", "cache")
			return result, nil
		}
	}

	result, shared, err := s.fetchShared(ctx, key, fetch, opts)
	if shared {
		s.counters.shared.Add(1)
	}
	if err == nil {
		marker.AddMetadata("source", "network")
		return result, nil
	}

	if !opts.DisableStaleFallback {
		// a fallback is not a hit: serveCached already counted the miss
		if entry, ok := s.store.Peek(key); ok {
			if !readCache {
				s.recorder.RecordCache(performance.CacheMiss, key, 0)
			}
			s.recorder.RecordCache(performance.CacheFallback, key, 0)
			s.counters.fallbacks.Add(1)
			s.logger.Sync().Warn("Serving stale data after fetch failure",
				slog.String("key", key),
				slog.Duration("age", entry.Age(s.now())),
				slog.String("error", err.Error()))
			marker.AddMetadata("source", "fallback")
			return &Result{
				Key:          key,
				Category:     opts.Category,
				Data:         entry.Payload,
				Cached:       true,
				Stale:        true,
				Fallback:     true,
				Shared:       shared,
				Age:          entry.Age(s.now()),
				Err:          err,
				ErrorMessage: err.Error(),
			}, nil
		}
	}

	marker.SetError(err)
	return nil, err
}

// serveCached answers from a live cache entry, scheduling a refresh when the
// entry is past its stale threshold.
func (s *RehydrationService) serveCached(key string, fetch task.FetchFunc, opts GetOptions) (*Result, bool) {
	if !s.store.Has(key, opts.Category) {
		s.counters.misses.Add(1)
		s.recorder.RecordCache(performance.CacheMiss, key, 0)
		return nil, false
	}
	entry, ok := s.store.Get(key, opts.Category, false)
	if !ok {
		s.counters.misses.Add(1)
		return nil, false
	}
	s.counters.hits.Add(1)

	stale := s.isStale(entry, opts.Category)
	if stale {
		s.counters.stale.Add(1)
		s.scheduleRefresh(key, opts.Category, fetch, entry.CreatedAt)
	}
	return &Result{
		Key:      key,
		Category: opts.Category,
		Data:     entry.Payload,
		Cached:   true,
		Fresh:    !stale,
		Stale:    stale,
		Age:      entry.Age(s.now()),
	}, true
}

func (s *RehydrationService) isStale(entry *cache.Entry, category string) bool {
	ttl := s.store.Policies().TTL(category)
	return float64(entry.Age(s.now())) > float64(ttl)*s.config.StaleRatio
}

// fetchShared joins or starts the single fetch for key and waits for it or
// for ctx, whichever comes first.
func (s *RehydrationService) fetchShared(ctx context.Context, key string, fetch task.FetchFunc, opts GetOptions) (*Result, bool, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetchAndStore(key, fetch, opts)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		result := *res.Val.(*Result)
		result.Shared = res.Shared
		return &result, res.Shared, nil
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%w: %s: %v", faults.ErrFetchAborted, key, ctx.Err())
	}
}

func (s *RehydrationService) fetchAndStore(key string, fetch task.FetchFunc, opts GetOptions) (*Result, error) {
	s.setInFlight(key, true)
	defer s.setInFlight(key, false)

	start := time.Now()
	baseline, hasBaseline := s.store.Peek(key)
	since := opts.IfModifiedSince
	if since.IsZero() && hasBaseline {
		since = baseline.CreatedAt
	}

	payload, attempts, err := s.fetchWithRetry(key, fetch, since, opts)
	s.counters.fetches.Add(1)

	if errors.Is(err, faults.ErrNotModified) && hasBaseline {
		s.counters.notModified.Add(1)
		s.store.Renew(key)
		s.recorder.RecordSync(performance.SyncSuccess, key, time.Since(start))
		s.logger.Sync().Debug("Remote data unchanged", slog.String("key", key))
		return &Result{
			Key:         key,
			Category:    opts.Category,
			Data:        baseline.Payload,
			Cached:      true,
			Fresh:       true,
			NotModified: true,
			Attempts:    attempts,
		}, nil
	}
	if err != nil {
		s.counters.failures.Add(1)
		s.recorder.RecordSync(performance.SyncFailure, key, time.Since(start))
		return nil, &faults.FetchError{Key: key, Attempts: attempts, Err: err}
	}
	s.recorder.RecordSync(performance.SyncSuccess, key, time.Since(start))

	result := &Result{
		Key:      key,
		Category: opts.Category,
		Data:     payload,
		Fresh:    true,
		Attempts: attempts,
	}
	if hasBaseline {
		resolution := s.resolver.Resolve(key, opts.Category, baseline.Payload, payload, conflict.Options{})
		result.Data = resolution.Data
		if resolution.Strategy != conflict.NoConflict {
			s.counters.conflicts.Add(1)
			result.ConflictStrategy = resolution.Strategy.String()
		}
	}

	if !s.store.Set(key, opts.Category, result.Data) {
		s.logger.Sync().Warn("Fetched data could not be cached", slog.String("key", key))
	}
	return result, nil
}

// fetchWithRetry runs fetch with exponential backoff. Each attempt races its
// own timeout so a fetch that ignores its context cannot stall the key.
func (s *RehydrationService) fetchWithRetry(key string, fetch task.FetchFunc, since time.Time, opts GetOptions) (any, int, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.config.MaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.config.Timeout
	}

	var (
		payload  any
		attempts int
	)
	operation := func() error {
		attempts++
		v, err := s.attempt(key, fetch, task.FetchRequest{Key: key, Attempt: attempts, IfModifiedSince: since}, timeout)
		switch {
		case err == nil:
			payload = v
			return nil
		case errors.Is(err, faults.ErrNotModified), !faults.IsRetryable(err):
			return backoff.Permanent(err)
		case s.ctx.Err() != nil:
			return backoff.Permanent(fmt.Errorf("%w: %v", faults.ErrFetchAborted, err))
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), uint64(maxAttempts-1)), s.ctx)
	err := backoff.RetryNotify(operation, policy, func(err error, wait time.Duration) {
		s.recorder.RecordSync(performance.SyncRetry, key, 0)
		s.logger.Sync().Debug("Retrying fetch",
			slog.String("key", key),
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("kind", faults.Classify(err).Error()),
			slog.String("error", err.Error()))
	})
	return payload, attempts, err
}

func (s *RehydrationService) attempt(key string, fetch task.FetchFunc, req task.FetchRequest, timeout time.Duration) (any, error) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: faults.Permanent(fmt.Errorf("fetch for %s panicked: %v", key, r))}
			}
		}()
		v, err := fetch(ctx, req)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", faults.ErrFetchTimeout, key, timeout)
		}
		return nil, fmt.Errorf("%w: %s", faults.ErrFetchAborted, key)
	}
}

// newBackOff yields base * 2^(attempt-1) capped at the maximum delay.
func (s *RehydrationService) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = s.config.MaxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Execute runs one scheduled task through the shared fetch path. The scheduler
// owns retries, so a single attempt is made.
func (s *RehydrationService) Execute(ctx context.Context, t task.Task, timeout time.Duration) error {
	_, err := s.GetData(ctx, t.Key, t.Fetch, GetOptions{
		Category:             t.Category,
		ForceRefresh:         true,
		DisableStaleFallback: true,
		Timeout:              timeout,
		MaxAttempts:          1,
		IfModifiedSince:      t.LastModified,
	})
	return err
}

func (s *RehydrationService) scheduleRefresh(key, category string, fetch task.FetchFunc, lastModified time.Time) {
	priority, ok := s.config.RefreshPriorities[category]
	if !ok {
		priority = task.PriorityLow
	}

	s.mu.Lock()
	refresher := s.refresher
	s.mu.Unlock()

	if refresher != nil {
		outcome := refresher.QueueSync(task.Task{
			Key:          key,
			Category:     category,
			Fetch:        fetch,
			LastModified: lastModified,
			Source:       task.SourceRefresh,
		}, priority)
		if outcome.Accepted() {
			s.counters.refreshes.Add(1)
		}
		s.logger.Sync().Debug("Background refresh requested",
			slog.String("key", key),
			slog.String("priority", priority.String()),
			slog.String("outcome", outcome.String()))
		return
	}

	if s.isInFlight(key) {
		return
	}
	s.counters.refreshes.Add(1)
	go func() {
		_, err := s.GetData(s.ctx, key, fetch, GetOptions{
			Category:             category,
			ForceRefresh:         true,
			DisableStaleFallback: true,
			Timeout:              s.config.BackgroundTimeout,
		})
		if err != nil {
			s.logger.Sync().Warn("Background refresh failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}()
}

// Preload warms critical keys concurrently. Individual failures are logged
// and counted, never returned.
func (s *RehydrationService) Preload(ctx context.Context, items []PreloadItem) PreloadReport {
	start := time.Now()
	var loaded, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	if s.config.PreloadLimit > 0 {
		g.SetLimit(s.config.PreloadLimit)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			if _, err := s.GetData(gctx, item.Key, item.Fetch, GetOptions{Category: item.Category}); err != nil {
				failed.Add(1)
				s.logger.Sync().Warn("Preload failed", slog.String("key", item.Key), slog.String("error", err.Error()))
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report := PreloadReport{Loaded: int(loaded.Load()), Failed: int(failed.Load()), Duration: time.Since(start)}
	s.logger.Sync().Info("Preload completed",
		slog.Int("loaded", report.Loaded),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))
	return report
}

// RefreshStale schedules a refresh for every tracked key past its stale
// threshold and forgets keys that left the cache. It returns how many
// refreshes were requested.
func (s *RehydrationService) RefreshStale(ctx context.Context) int {
	s.mu.Lock()
	tracked := make(map[string]trackedFetch, len(s.fetchers))
	for k, v := range s.fetchers {
		tracked[k] = v
	}
	s.mu.Unlock()

	requested := 0
	for key, tf := range tracked {
		if ctx.Err() != nil {
			break
		}
		entry, ok := s.store.Peek(key)
		if !ok {
			s.mu.Lock()
			delete(s.fetchers, key)
			s.mu.Unlock()
			continue
		}
		if s.isStale(entry, tf.category) && !s.isInFlight(key) {
			s.scheduleRefresh(key, tf.category, tf.fetch, entry.CreatedAt)
			requested++
		}
	}
	if requested > 0 {
		s.logger.Sync().Info("Stale sweep scheduled refreshes", slog.Int("count", requested))
	}
	return requested
}

// Start runs the stale sweep on its interval until ctx is done.
func (s *RehydrationService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	s.logger.Sync().Info("Rehydration sweep started", slog.Duration("interval", s.config.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Sync().Info("Rehydration sweep stopped")
			return
		case <-ticker.C:
			s.RefreshStale(ctx)
		}
	}
}

// Close aborts every outstanding fetch.
func (s *RehydrationService) Close() {
	s.cancel()
}

// Stats returns the read path counters.
func (s *RehydrationService) Stats() RehydrationStats {
	s.mu.Lock()
	inFlight, tracked := len(s.inFlight), len(s.fetchers)
	s.mu.Unlock()

	return RehydrationStats{
		InFlight:        inFlight,
		TrackedKeys:     tracked,
		Requests:        s.counters.requests.Load(),
		CacheHits:       s.counters.hits.Load(),
		CacheMisses:     s.counters.misses.Load(),
		StaleServed:     s.counters.stale.Load(),
		Fetches:         s.counters.fetches.Load(),
		FetchFailures:   s.counters.failures.Load(),
		Fallbacks:       s.counters.fallbacks.Load(),
		SharedWaits:     s.counters.shared.Load(),
		NotModified:     s.counters.notModified.Load(),
		RefreshesQueued: s.counters.refreshes.Load(),
		Conflicts:       s.counters.conflicts.Load(),
	}
}

// Fetcher returns the fetch capability last used for key and its category.
func (s *RehydrationService) Fetcher(key string) (task.FetchFunc, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.fetchers[key]
	return tf.fetch, tf.category, ok
}

func (s *RehydrationService) track(key, category string, fetch task.FetchFunc) {
	s.mu.Lock()
	s.fetchers[key] = trackedFetch{category: category, fetch: fetch}
	s.mu.Unlock()
}

func (s *RehydrationService) isInFlight(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

func (s *RehydrationService) setInFlight(key string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.inFlight[key] = struct{}{}
	} else {
		delete(s.inFlight, key)
	}
}
