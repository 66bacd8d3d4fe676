package network

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

// ProbeFunc performs one round trip against the remote side.
type ProbeFunc func(ctx context.Context) error

// DetectorConfig holds probe timing.
type DetectorConfig struct {
	Interval          time.Duration
	ProbeTimeout      time.Duration
	FastThreshold     time.Duration
	FailuresToOffline int
}

// DefaultDetectorConfig returns the probe defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Interval:          30 * time.Second,
		ProbeTimeout:      5 * time.Second,
		FastThreshold:     time.Second,
		FailuresToOffline: 2,
	}
}

// NewDetectorConfig reads the probe interval from pkg/config.
func NewDetectorConfig() DetectorConfig {
	cfg := DefaultDetectorConfig()
	cfg.Interval = config.NetworkProbeInterval
	return cfg
}

// Detector derives network quality from periodic round-trip probes.
type Detector struct {
	probe  ProbeFunc
	config DetectorConfig
	logger *logging.ChanneledLogger
	subs   listeners

	mu       sync.RWMutex
	quality  Quality
	failures int
	lastRTT  time.Duration
}

// NewDetector creates a detector that starts out assuming a fast link.
func NewDetector(probe ProbeFunc, cfg DetectorConfig, logger *logging.ChanneledLogger) *Detector {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.FailuresToOffline <= 0 {
		cfg.FailuresToOffline = 1
	}
	return &Detector{
		probe:   probe,
		config:  cfg,
		logger:  logger,
		quality: Fast,
	}
}

func (d *Detector) Quality() Quality {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.quality
}

// LastRoundTrip returns the duration of the last successful probe.
func (d *Detector) LastRoundTrip() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRTT
}

func (d *Detector) Subscribe(listener Listener) func() {
	return d.subs.add(listener)
}

// Start probes immediately and then on every interval until ctx is done.
func (d *Detector) Start(ctx context.Context) {
	d.logger.System().Info("Network detector started", slog.Duration("interval", d.config.Interval))
	d.Check(ctx)

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.Check(ctx)
		case <-ctx.Done():
			d.logger.System().Info("Network detector stopped")
			return
		}
	}
}

// Check runs a single probe and updates the quality.
func (d *Detector) Check(ctx context.Context) Quality {
	probeCtx, cancel := context.WithTimeout(ctx, d.config.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := d.probe(probeCtx)
	rtt := time.Since(start)

	d.mu.Lock()
	previous := d.quality
	switch {
	case err != nil:
		d.failures++
		if d.failures >= d.config.FailuresToOffline {
			d.quality = Offline
		}
	case rtt < d.config.FastThreshold:
		d.failures = 0
		d.lastRTT = rtt
		d.quality = Fast
	default:
		d.failures = 0
		d.lastRTT = rtt
		d.quality = Slow
	}
	current := d.quality
	d.mu.Unlock()

	if err != nil {
		d.logger.System().Debug("Network probe failed", slog.String("error", err.Error()))
	}
	if previous != current {
		d.logger.System().Info("Network quality changed",
			slog.String("from", previous.String()),
			slog.String("to", current.String()),
			slog.Duration("rtt", rtt))
		d.subs.notify(previous, current)
	}
	return current
}
