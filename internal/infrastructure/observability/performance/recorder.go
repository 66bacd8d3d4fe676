package performance

import "time"

// CacheEvent is an outcome observed by the cache store or the rehydration path.
type CacheEvent string

const (
	CacheHit      CacheEvent = "hit"
	CacheMiss     CacheEvent = "miss"
	CacheWrite    CacheEvent = "write"
	CacheEviction CacheEvent = "eviction"
	CacheError    CacheEvent = "error"
	// CacheFallback is expired data served after a failed fetch.
	CacheFallback CacheEvent = "fallback"
)

// SyncEvent is an outcome of a fetch or scheduled sync.
type SyncEvent string

const (
	SyncSuccess SyncEvent = "success"
	SyncFailure SyncEvent = "failure"
	SyncRetry   SyncEvent = "retry"
)

// PredictionEvent is an outcome of a behavior prediction.
type PredictionEvent string

const (
	PredictionIssued PredictionEvent = "issued"
	PredictionHit    PredictionEvent = "hit"
	PredictionMiss   PredictionEvent = "miss"
)

// Recorder receives instrumentation from the engine. Implementations must be
// safe for concurrent use and must not call back into the reporting component.
type Recorder interface {
	RecordCache(event CacheEvent, key string, duration time.Duration)
	RecordSync(event SyncEvent, key string, duration time.Duration)
	RecordPrediction(event PredictionEvent, subject string)
	RecordMarker(marker *Marker)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordCache(CacheEvent, string, time.Duration) {}
func (NopRecorder) RecordSync(SyncEvent, string, time.Duration)   {}
func (NopRecorder) RecordPrediction(PredictionEvent, string)      {}
func (NopRecorder) RecordMarker(*Marker)                          {}

// OrNop returns r, or a NopRecorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	return r
}
