// Package container provides dependency injection for the engine's components
package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AtRiskMedia/feedcache-go/internal/application/services"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/services/conflict"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/storage"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/network"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/monitoring"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/remote"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

// Storage backend names accepted by STORAGE_BACKEND.
const (
	BackendSQLite = "sqlite"
	BackendLibSQL = "libsql"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Options selects the storage and remote endpoints. Zero values fall back to
// pkg/config.
type Options struct {
	StorageBackend string
	StoragePath    string
	StorageDSN     string
	RemoteBaseURL  string
	ProbeURL       string
}

func (o Options) withDefaults() Options {
	if o.StorageBackend == "" {
		o.StorageBackend = config.StorageBackend
	}
	if o.StoragePath == "" {
		o.StoragePath = config.StoragePath
	}
	if o.StorageDSN == "" {
		o.StorageDSN = config.StorageDSN
	}
	if o.RemoteBaseURL == "" {
		o.RemoteBaseURL = config.RemoteAPIBaseURL
	}
	if o.ProbeURL == "" {
		o.ProbeURL = config.NetworkProbeURL
	}
	return o
}

// Container holds every engine component and owns their lifecycle
type Container struct {
	Logger *logging.ChanneledLogger

	// Observability
	Registry    *prometheus.Registry
	Metrics     *monitoring.Metrics
	Monitor     *monitoring.PerformanceMonitor
	Broadcaster *messaging.AlertBroadcaster

	// Infrastructure
	Store    *store.Store
	Behavior storage.Backend
	Remote   *remote.Client
	Detector *network.Detector
	Cleanup  *cleanup.Worker

	// Engine services
	Resolver    *conflict.Resolver
	Rehydration *services.RehydrationService
	Scheduler   *services.SyncScheduler
	Predictor   *services.BehaviorPredictor
	FeedSync    *services.FeedSyncService

	closers  []func() error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closeOne sync.Once
}

// NewContainer builds every component from configuration. Nothing runs until
// Start is called.
func NewContainer(logger *logging.ChanneledLogger, opts Options) (*Container, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	opts = opts.withDefaults()
	c := &Container{Logger: logger}

	start := time.Now()
	if err := c.build(opts); err != nil {
		c.closeResources()
		logger.LogStartupPhase("container", time.Since(start), false, map[string]any{"error": err.Error()})
		return nil, err
	}
	logger.LogStartupPhase("container", time.Since(start), true, map[string]any{
		"storageBackend": opts.StorageBackend,
		"remoteBaseURL":  c.Remote.BaseURL(),
	})
	return c, nil
}

func (c *Container) build(opts Options) error {
	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = monitoring.NewMetrics(c.Registry)
	c.Broadcaster = messaging.NewAlertBroadcaster(c.Logger)

	cacheBackend, behaviorBackend, err := c.openBackends(opts)
	if err != nil {
		return err
	}
	c.Behavior = behaviorBackend

	storeConfig := store.NewConfig()
	quota, err := storage.NewQuota(cacheBackend, storeConfig.MaxStorageBytes)
	if err != nil {
		return err
	}

	c.Remote, err = remote.NewClient(opts.RemoteBaseURL, config.RemoteAPITimeout, c.Logger)
	if err != nil {
		return err
	}
	probe := c.Remote.Probe
	if opts.ProbeURL != "" {
		prober, err := remote.NewClient(opts.ProbeURL, config.RemoteAPITimeout, c.Logger)
		if err != nil {
			return fmt.Errorf("invalid network probe url: %w", err)
		}
		probe = prober.Probe
	}
	c.Detector = network.NewDetector(probe, network.NewDetectorConfig(), c.Logger)

	// The monitor samples the store lazily, so it can be built before it.
	var st *store.Store
	c.Monitor = monitoring.NewPerformanceMonitor(monitoring.NewMonitorConfig(), c.Logger,
		monitoring.WithMetrics(c.Metrics),
		monitoring.WithStorageUsage(func() float64 {
			if st == nil {
				return 0
			}
			return st.Utilization()
		}),
		monitoring.WithNetworkLatency(c.Detector.LastRoundTrip))
	c.Monitor.Subscribe(c.Broadcaster.Publish)

	st, err = store.New(quota, storeConfig, c.Logger, store.WithRecorder(c.Monitor))
	if err != nil {
		return err
	}
	c.Store = st
	c.closers = append(c.closers, st.Close)
	c.Cleanup = cleanup.NewWorker(st, cleanup.NewConfig(), c.Logger)

	c.Resolver = conflict.NewResolver(c.Logger)
	c.Rehydration = services.NewRehydrationService(st, c.Resolver, services.NewRehydrationConfig(), c.Logger,
		services.WithRehydrationRecorder(c.Monitor))
	c.Scheduler = services.NewSyncScheduler(c.Rehydration, c.Detector, services.NewSyncConfig(), c.Logger,
		services.WithSyncRecorder(c.Monitor))
	c.Rehydration.AttachRefresher(c.Scheduler)

	c.FeedSync = services.NewFeedSyncService(c.Rehydration, st, c.Scheduler, c.Remote, c.Logger)
	c.Predictor = services.NewBehaviorPredictor(c.Scheduler, c.FeedSync.PredictiveTasks, behaviorBackend, c.Detector,
		services.NewBehaviorConfig(), c.Logger, services.WithBehaviorRecorder(c.Monitor))
	return nil
}

// openBackends returns the cache and behavior-aggregate backends for the
// configured storage. Both share one connection.
func (c *Container) openBackends(opts Options) (storage.Backend, storage.Backend, error) {
	switch opts.StorageBackend {
	case BackendSQLite, BackendLibSQL:
		driver, dsn := database.DriverSQLite, database.SQLiteDSN(opts.StoragePath)
		if opts.StorageBackend == BackendLibSQL {
			if opts.StorageDSN == "" {
				return nil, nil, errors.New("STORAGE_DSN is required for the libsql backend")
			}
			driver, dsn = database.DriverLibSQL, opts.StorageDSN
		} else if err := ensureDir(opts.StoragePath); err != nil {
			return nil, nil, err
		}
		db, err := database.Open(driver, dsn, c.Logger)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, db.Close)

		entries, err := storage.NewSQL(db, database.TableCacheEntries, c.Logger)
		if err != nil {
			return nil, nil, err
		}
		aggregates, err := storage.NewSQL(db, database.TableBehaviorAggregates, c.Logger)
		if err != nil {
			return nil, nil, err
		}
		return entries, aggregates, nil

	case BackendBadger:
		if err := ensureDir(opts.StoragePath); err != nil {
			return nil, nil, err
		}
		db, err := storage.OpenBadger(opts.StoragePath)
		if err != nil {
			return nil, nil, err
		}
		c.closers = append(c.closers, db.Close)
		c.startBadgerGC(db)
		return storage.NewBadger(db, "cache"), storage.NewBadger(db, "behavior"), nil

	case BackendMemory:
		return storage.NewMemory(), storage.NewMemory(), nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", opts.StorageBackend)
}

func (c *Container) startBadgerGC(db *badgerdb.DB) {
	done := make(chan struct{})
	c.closers = append(c.closers, func() error {
		close(done)
		return nil
	})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				for db.RunValueLogGC(0.5) == nil {
				}
			}
		}
	}()
}

func ensureDir(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %q: %w", dir, err)
	}
	return nil
}

// Start launches every background loop. Loops stop when ctx is cancelled or
// Close is called.
func (c *Container) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	loops := []struct {
		name string
		run  func(context.Context)
	}{
		{"network detector", c.Detector.Start},
		{"performance monitor", c.Monitor.Start},
		{"cleanup worker", c.Cleanup.Start},
		{"rehydration sweep", c.Rehydration.Start},
		{"sync scheduler", c.Scheduler.Start},
		{"behavior persistence", c.Predictor.Start},
	}
	for _, loop := range loops {
		c.wg.Add(1)
		go func(name string, run func(context.Context)) {
			defer c.wg.Done()
			run(ctx)
			c.Logger.Shutdown().Debug("Background loop exited", slog.String("loop", name))
		}(loop.name, loop.run)
	}
	c.Logger.Startup().Info("Background loops started", slog.Int("loops", len(loops)))
}

// Close stops every loop and releases components in reverse startup order.
func (c *Container) Close() error {
	var err error
	c.closeOne.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()

		c.Scheduler.Stop()
		if perr := c.Predictor.Close(); perr != nil {
			c.Logger.LogError(logging.ChannelShutdown, "persist behavior aggregates", perr, nil)
		}
		c.Rehydration.Close()
		err = c.closeResources()
		c.Logger.Shutdown().Info("Container closed")
	})
	return err
}

func (c *Container) closeResources() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
