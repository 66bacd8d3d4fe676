package store

import (
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/cache"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

// KeyRule adjusts the retention priority of every key containing Contains.
type KeyRule struct {
	Contains string
	Delta    int
}

// Config holds the store's capacity, compression and eviction policy.
type Config struct {
	Policies *cache.PolicyTable

	MaxStorageBytes int64
	HighWaterRatio  float64

	CompressionThreshold int
	CompressionMinSaving float64

	EvictionRatio       float64
	EvictionMinEntries  int
	EvictionTargetBytes int64
	RecencyHalfLife     time.Duration

	KeyRules []KeyRule
}

// DefaultKeyRules boosts keys for the landing departments and the active user
// and penalizes speculative fetches.
func DefaultKeyRules() []KeyRule {
	return []KeyRule{
		{Contains: "main", Delta: 2},
		{Contains: "academic", Delta: 2},
		{Contains: "user:", Delta: 1},
		{Contains: "active-", Delta: 1},
		{Contains: "predictive", Delta: -3},
		{Contains: "background", Delta: -2},
	}
}

// DefaultConfig returns the stock policy: a 10MB store that reclaims at 80%.
func DefaultConfig() *Config {
	return &Config{
		Policies:             cache.DefaultPolicyTable(),
		MaxStorageBytes:      10 * 1024 * 1024,
		HighWaterRatio:       0.8,
		CompressionThreshold: 10 * 1024,
		CompressionMinSaving: 0.15,
		EvictionRatio:        0.3,
		EvictionMinEntries:   5,
		EvictionTargetBytes:  2 * 1024 * 1024,
		RecencyHalfLife:      24 * time.Hour,
		KeyRules:             DefaultKeyRules(),
	}
}

// NewConfig creates a store configuration from the centralized config package.
func NewConfig() *Config {
	return &Config{
		Policies: cache.NewPolicyTable(
			cache.Policy{Category: cache.CategoryDefault, TTL: config.DefaultTTL, BasePriority: 5},
			cache.Policy{Category: cache.CategoryDepartments, TTL: config.DepartmentsTTL, BasePriority: 10},
			cache.Policy{Category: cache.CategoryRSSItems, TTL: config.RSSItemsTTL, BasePriority: 7},
			cache.Policy{Category: cache.CategoryPreferences, TTL: config.PreferencesTTL, BasePriority: 9},
			cache.Policy{Category: cache.CategoryUserState, TTL: 2 * time.Hour, BasePriority: 8},
		),
		MaxStorageBytes:      config.CacheMaxStorageBytes,
		HighWaterRatio:       config.CacheHighWaterRatio,
		CompressionThreshold: config.CacheCompressionThreshold,
		CompressionMinSaving: config.CacheCompressionMinSaving,
		EvictionRatio:        config.CacheEvictionRatio,
		EvictionMinEntries:   config.CacheEvictionMinEntries,
		EvictionTargetBytes:  config.CacheEvictionTargetBytes,
		RecencyHalfLife:      config.CacheRecencyHalfLife,
		KeyRules:             DefaultKeyRules(),
	}
}
