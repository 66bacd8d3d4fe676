// Package store implements the bounded persistent cache: TTL per category,
// opportunistic compression and retention-scored eviction.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/cache"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/storage"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
)

// Store owns every cache entry persisted in its backend. All operations are
// atomic with respect to each other. Nothing returns a storage error: failures
// are logged and reported as a miss or a failed write.
type Store struct {
	backend  storage.Backend
	config   *Config
	codec    *codec
	logger   *logging.ChanneledLogger
	recorder performance.Recorder
	now      func() time.Time

	mu sync.Mutex
}

// Option customizes a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRecorder attaches instrumentation.
func WithRecorder(r performance.Recorder) Option {
	return func(s *Store) { s.recorder = performance.OrNop(r) }
}

// New creates a store over backend.
func New(backend storage.Backend, cfg *Config, logger *logging.ChanneledLogger, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("store requires a backend")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Policies == nil {
		cfg.Policies = cache.DefaultPolicyTable()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	c, err := newCodec(cfg.CompressionThreshold, cfg.CompressionMinSaving)
	if err != nil {
		return nil, err
	}

	s := &Store{
		backend:  backend,
		config:   cfg,
		codec:    c,
		logger:   logger,
		recorder: performance.NopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Policies exposes the category policy table.
func (s *Store) Policies() *cache.PolicyTable { return s.config.Policies }

// Config returns the store configuration.
func (s *Store) Config() *Config { return s.config }

// Get returns the entry for key, or false when it is absent, expired or
// unreadable. category selects the TTL; an empty category uses the stored one.
// A hit updates and persists the access bookkeeping.
func (s *Store) Get(key, category string, ignoreTTL bool) (*cache.Entry, bool) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.readLocked(key, category, ignoreTTL, true)
	if ok {
		s.recorder.RecordCache(performance.CacheHit, key, time.Since(start))
	} else {
		s.recorder.RecordCache(performance.CacheMiss, key, time.Since(start))
	}
	s.logger.LogCacheOperation("get", key, ok, time.Since(start))
	return entry, ok
}

// Peek returns the entry ignoring TTL and without touching its bookkeeping.
func (s *Store) Peek(key string) (*cache.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(key, "", true, false)
}

// Has reports whether a live entry exists, without bookkeeping.
func (s *Store) Has(key, category string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.loadLocked(key)
	if !ok {
		return false
	}
	if category == "" {
		category = rec.Category
	}
	return s.now().Sub(rec.CreatedAt) <= s.config.Policies.TTL(category)
}

func (s *Store) readLocked(key, category string, ignoreTTL, touch bool) (*cache.Entry, bool) {
	rec, ok := s.loadLocked(key)
	if !ok {
		return nil, false
	}
	if category == "" {
		category = rec.Category
	}

	now := s.now()
	if !ignoreTTL && now.Sub(rec.CreatedAt) > s.config.Policies.TTL(category) {
		s.deleteLocked(key)
		s.logger.Cache().Debug("Cache entry expired", "key", key, "category", category, "age", now.Sub(rec.CreatedAt))
		return nil, false
	}

	payload, err := s.codec.decode(rec.stored())
	if err != nil {
		s.logger.Cache().Warn("Dropping corrupted cache entry", "key", key, "error", err.Error())
		s.deleteLocked(key)
		return nil, false
	}

	if touch {
		rec.AccessCount++
		if now.After(rec.LastAccessedAt) {
			rec.LastAccessedAt = now
		}
		if err := s.persistLocked(key, rec); err != nil {
			s.logger.Cache().Warn("Failed to persist access bookkeeping", "key", key, "error", err.Error())
		}
	}

	entry := rec.entry(key)
	entry.Payload = payload
	return entry, true
}

// loadLocked reads and decodes a record, deleting it when it is corrupted.
func (s *Store) loadLocked(key string) (*record, bool) {
	raw, err := s.backend.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Cache().Error("Cache read failed", "key", key, "error", err.Error())
			s.recorder.RecordCache(performance.CacheError, key, 0)
		}
		return nil, false
	}

	rec, err := decodeRecord(raw)
	if err != nil {
		s.logger.Cache().Warn("Dropping corrupted cache entry", "key", key, "error", err.Error())
		s.deleteLocked(key)
		return nil, false
	}
	return rec, true
}

// Set writes payload under key. It returns false when the write could not be
// completed even after reclaiming space once.
func (s *Store) Set(key, category string, payload any) bool {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.codec.encode(payload)
	if err != nil {
		s.logger.Cache().Error("Cache write rejected", "key", key, "error", err.Error())
		s.recorder.RecordCache(performance.CacheError, key, time.Since(start))
		return false
	}

	now := s.now()
	rec := &record{
		Category:       category,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	rec.setStored(stored)

	raw, err := encodeRecord(rec)
	if err != nil {
		s.logger.Cache().Error("Cache write rejected", "key", key, "error", err.Error())
		return false
	}

	if s.aboveHighWaterLocked(storage.RecordSize(key, raw)) {
		s.cleanupLocked()
	}

	err = s.backend.Put(key, raw)
	if errors.Is(err, storage.ErrQuotaExceeded) {
		s.logger.Cache().Warn("Storage quota exceeded, reclaiming space", "key", key)
		s.cleanupLocked()
		err = s.backend.Put(key, raw)
	}
	if err != nil {
		s.logger.Cache().Error("Cache write failed", "key", key, "size", len(raw), "error", err.Error())
		s.recorder.RecordCache(performance.CacheError, key, time.Since(start))
		return false
	}

	if stored.IsCompressed() {
		s.logger.Cache().Debug("Cache entry compressed", "key", key,
			"originalSize", stored.OriginalSize(), "compressedSize", stored.Size())
	}
	s.recorder.RecordCache(performance.CacheWrite, key, time.Since(start))
	return true
}

func (s *Store) persistLocked(key string, rec *record) error {
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.backend.Put(key, raw)
}

func (s *Store) aboveHighWaterLocked(incoming int64) bool {
	if s.config.MaxStorageBytes <= 0 {
		return false
	}
	used, err := s.backend.Size("")
	if err != nil {
		return false
	}
	return float64(used+incoming) > float64(s.config.MaxStorageBytes)*s.config.HighWaterRatio
}

// Renew restarts the TTL of key without rewriting its payload. Used when the
// remote side confirms the cached copy is still current.
func (s *Store) Renew(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.loadLocked(key)
	if !ok {
		return false
	}
	now := s.now()
	rec.CreatedAt = now
	if rec.LastAccessedAt.Before(now) {
		rec.LastAccessedAt = now
	}
	if err := s.persistLocked(key, rec); err != nil {
		s.logger.Cache().Warn("Failed to renew cache entry", "key", key, "error", err.Error())
		return false
	}
	return true
}

// Delete removes key. It reports whether an entry existed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.backend.Get(key); err != nil {
		return false
	}
	return s.deleteLocked(key)
}

func (s *Store) deleteLocked(key string) bool {
	if err := s.backend.Delete(key); err != nil {
		s.logger.Cache().Error("Cache delete failed", "key", key, "error", err.Error())
		return false
	}
	return true
}

// Clear removes every entry, or only those of category when it is non-empty.
// Unreadable entries are removed regardless of the filter.
func (s *Store) Clear(category string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys("")
	if err != nil {
		s.logger.Cache().Error("Cache clear failed to list keys", "error", err.Error())
		return 0
	}

	removed := 0
	for _, key := range keys {
		if category != "" {
			raw, err := s.backend.Get(key)
			if err == nil {
				rec, derr := decodeRecord(raw)
				if derr == nil && rec.Category != category {
					continue
				}
			}
		}
		if s.deleteLocked(key) {
			removed++
		}
	}

	s.logger.Cache().Info("Cache cleared", "category", category, "removed", removed)
	return removed
}

// List returns metadata for every readable entry of category (all when empty).
// Payloads are not decoded and no bookkeeping is touched.
func (s *Store) List(category string) []*cache.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.backend.Keys("")
	if err != nil {
		return nil
	}

	out := make([]*cache.Entry, 0, len(keys))
	for _, key := range keys {
		raw, err := s.backend.Get(key)
		if err != nil {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil || (category != "" && rec.Category != category) {
			continue
		}
		out = append(out, rec.entry(key))
	}
	return out
}

// Keys returns the sorted keys of every readable entry of category (all when empty).
func (s *Store) Keys(category string) []string {
	entries := s.List(category)
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	sort.Strings(keys)
	return keys
}

// IsStale reports whether an entry of category is past the stale fraction of its TTL.
func (s *Store) IsStale(entry *cache.Entry, ratio float64) bool {
	ttl := s.config.Policies.TTL(entry.Category)
	return float64(entry.Age(s.now())) > float64(ttl)*ratio
}

// Close releases the codec and the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codec.close()
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("failed to close storage backend: %w", err)
	}
	return nil
}
