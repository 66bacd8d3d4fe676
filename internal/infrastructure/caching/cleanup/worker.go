// Package cleanup provides background worker
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
)

// Store is the part of the cache store the worker drives.
type Store interface {
	Utilization() float64
	Cleanup() store.CleanupReport
	Stats() store.Stats
}

// Worker reclaims capacity in the background. Expiry is lazy and needs no
// sweep; the worker only evicts when the store sits above its high-water mark.
type Worker struct {
	store  Store
	config *Config
	logger *logging.ChanneledLogger
}

// NewWorker creates a new cleanup worker with injected configuration
func NewWorker(s Store, config *Config, logger *logging.ChanneledLogger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		store:  s,
		config: config,
		logger: logger,
	}
}

// Start begins the cleanup worker routine, using the configured interval
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	w.logger.Cache().Info("Cache cleanup worker started",
		"interval", w.config.CleanupInterval,
		"verbose", w.config.VerboseReporting)

	for {
		select {
		case <-ctx.Done():
			w.logger.Cache().Info("Cache cleanup worker stopping")
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs one check and returns the cleanup report, or nil when the
// store was below its high-water mark.
func (w *Worker) RunOnce() *store.CleanupReport {
	start := time.Now()
	reporter := NewReporter(w.store)

	if w.config.VerboseReporting {
		reporter.LogStage("PERIODIC CACHE CLEANUP")
		fmt.Print(reporter.GenerateStoreReport())
	}

	utilization := w.store.Utilization()
	if utilization <= w.config.HighWaterRatio {
		if w.config.VerboseReporting {
			reporter.LogInfo("Cache cleanup skipped - utilization %.1f%% (%v)", utilization*100, time.Since(start))
		}
		return nil
	}

	report := w.store.Cleanup()
	if report.Evicted > 0 {
		reporter.LogSuccess("Cache cleanup finished: %d entries evicted, %d bytes freed in %v",
			report.Evicted, report.FreedBytes, time.Since(start))
	}
	w.logger.Cache().Info("Periodic cleanup ran",
		"utilization", utilization,
		"evicted", report.Evicted,
		"freedBytes", report.FreedBytes)
	return &report
}
