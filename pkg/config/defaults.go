// Package config provides centralized default values for the feed cache engine
package config

import (
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envLoaded sync.Once

// loadEnvFile applies .env values that the environment does not already set.
func loadEnvFile() {
	envLoaded.Do(func() {
		if _, err := os.Stat(".env"); err != nil {
			return
		}
		if err := godotenv.Load(); err != nil {
			log.Printf("Failed to load .env file: %v", err)
			return
		}
		log.Println("Loaded configuration overrides from .env file")
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseFloat(valStr, 64); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%g (default: %g)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	CORSAllowedOrigins string
	AdminJWTSecret     string

	// Logging
	LogLevel     string
	LogDirectory string
	LogToFile    bool

	// Storage
	StorageBackend string
	StoragePath    string
	StorageDSN     string

	// Database Pool
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int

	// Cache Store
	CacheMaxStorageBytes      int64
	CacheHighWaterRatio       float64
	CacheCompressionThreshold int
	CacheCompressionMinSaving float64
	CacheEvictionRatio        float64
	CacheEvictionMinEntries   int
	CacheEvictionTargetBytes  int64
	CacheRecencyHalfLife      time.Duration
	CacheCleanupInterval      time.Duration
	CacheCleanupVerbose       bool

	// Category TTLs
	DepartmentsTTL time.Duration
	RSSItemsTTL    time.Duration
	PreferencesTTL time.Duration
	DefaultTTL     time.Duration

	// Rehydration
	RehydrationMaxRetries        int
	RehydrationRetryDelay        time.Duration
	RehydrationMaxRetryDelay     time.Duration
	RehydrationTimeout           time.Duration
	RehydrationBackgroundTimeout time.Duration
	RehydrationStaleRatio        float64
	RehydrationSweepInterval     time.Duration

	// Sync Scheduler
	SyncInterval      time.Duration
	SyncMaxConcurrent int
	SyncMaxRetries    int
	SyncTimeoutFast   time.Duration
	SyncTimeoutSlow   time.Duration

	// Network
	NetworkProbeURL      string
	NetworkProbeInterval time.Duration

	// Remote API
	RemoteAPIBaseURL string
	RemoteAPITimeout time.Duration

	// Behavior Predictor
	PredictEnabled         bool
	PredictMinConfidence   float64
	PredictMaxPredictions  int
	PredictMaxConcurrent   int
	PredictThrottleDelay   time.Duration
	PredictDelay           time.Duration
	PredictPersistInterval time.Duration

	// Performance Monitor
	MonitorInterval         time.Duration
	MonitorAlertQuietPeriod time.Duration
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	CORSAllowedOrigins = getEnvString("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	AdminJWTSecret = getEnvString("ADMIN_JWT_SECRET", "")

	// Logging
	LogLevel = getEnvString("LOG_LEVEL", "info")
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
	LogToFile = getEnvBool("LOG_TO_FILE", false)

	// Storage
	StorageBackend = getEnvString("STORAGE_BACKEND", "sqlite")
	StoragePath = getEnvString("STORAGE_PATH", "data/feedcache.db")
	StorageDSN = getEnvString("STORAGE_DSN", "")

	// Database Pool
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 1)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 1)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)

	// Cache Store
	CacheMaxStorageBytes = int64(getEnvInt("CACHE_MAX_STORAGE_BYTES", 10*1024*1024))
	CacheHighWaterRatio = getEnvFloat("CACHE_HIGH_WATER_RATIO", 0.8)
	CacheCompressionThreshold = getEnvInt("CACHE_COMPRESSION_THRESHOLD", 10*1024)
	CacheCompressionMinSaving = getEnvFloat("CACHE_COMPRESSION_MIN_SAVING", 0.15)
	CacheEvictionRatio = getEnvFloat("CACHE_EVICTION_RATIO", 0.3)
	CacheEvictionMinEntries = getEnvInt("CACHE_EVICTION_MIN_ENTRIES", 5)
	CacheEvictionTargetBytes = int64(getEnvInt("CACHE_EVICTION_TARGET_BYTES", 2*1024*1024))
	CacheRecencyHalfLife = getEnvDuration("CACHE_RECENCY_HALF_LIFE", 24*time.Hour)
	CacheCleanupInterval = getEnvDuration("CACHE_CLEANUP_INTERVAL", 5*time.Minute)
	CacheCleanupVerbose = getEnvBool("CACHE_CLEANUP_VERBOSE", false)

	// Category TTLs
	DepartmentsTTL = getEnvDuration("TTL_DEPARTMENTS", 24*time.Hour)
	RSSItemsTTL = getEnvDuration("TTL_RSS_ITEMS", 30*time.Minute)
	PreferencesTTL = getEnvDuration("TTL_PREFERENCES", 7*24*time.Hour)
	DefaultTTL = getEnvDuration("TTL_DEFAULT", 5*time.Minute)

	// Rehydration
	RehydrationMaxRetries = getEnvInt("REHYDRATION_MAX_RETRIES", 3)
	RehydrationRetryDelay = getEnvDuration("REHYDRATION_RETRY_DELAY", time.Second)
	RehydrationMaxRetryDelay = getEnvDuration("REHYDRATION_MAX_RETRY_DELAY", 10*time.Second)
	RehydrationTimeout = getEnvDuration("REHYDRATION_TIMEOUT", 10*time.Second)
	RehydrationBackgroundTimeout = getEnvDuration("REHYDRATION_BACKGROUND_TIMEOUT", 15*time.Second)
	RehydrationStaleRatio = getEnvFloat("REHYDRATION_STALE_RATIO", 0.7)
	RehydrationSweepInterval = getEnvDuration("REHYDRATION_SWEEP_INTERVAL", 30*time.Second)

	// Sync Scheduler
	SyncInterval = getEnvDuration("SYNC_INTERVAL", 5*time.Minute)
	SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 3)
	SyncMaxRetries = getEnvInt("SYNC_MAX_RETRIES", 3)
	SyncTimeoutFast = getEnvDuration("SYNC_TIMEOUT_FAST", 5*time.Second)
	SyncTimeoutSlow = getEnvDuration("SYNC_TIMEOUT_SLOW", 15*time.Second)

	// Network
	NetworkProbeURL = getEnvString("NETWORK_PROBE_URL", "")
	NetworkProbeInterval = getEnvDuration("NETWORK_PROBE_INTERVAL", 30*time.Second)

	// Remote API
	RemoteAPIBaseURL = getEnvString("REMOTE_API_BASE_URL", "http://localhost:8000/api")
	RemoteAPITimeout = getEnvDuration("REMOTE_API_TIMEOUT", 20*time.Second)

	// Behavior Predictor
	PredictEnabled = getEnvBool("PREDICT_ENABLED", true)
	PredictMinConfidence = getEnvFloat("PREDICT_MIN_CONFIDENCE", 0.6)
	PredictMaxPredictions = getEnvInt("PREDICT_MAX_PREDICTIONS", 5)
	PredictMaxConcurrent = getEnvInt("PREDICT_MAX_CONCURRENT", 2)
	PredictThrottleDelay = getEnvDuration("PREDICT_THROTTLE_DELAY", time.Second)
	PredictDelay = getEnvDuration("PREDICT_DELAY", 500*time.Millisecond)
	PredictPersistInterval = getEnvDuration("PREDICT_PERSIST_INTERVAL", 30*time.Second)

	// Performance Monitor
	MonitorInterval = getEnvDuration("MONITOR_INTERVAL", 10*time.Second)
	MonitorAlertQuietPeriod = getEnvDuration("MONITOR_ALERT_QUIET_PERIOD", 5*time.Minute)
}
