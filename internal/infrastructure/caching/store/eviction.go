package store

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
)

// CleanupReport summarizes one reclamation pass.
type CleanupReport struct {
	Candidates  int           `json:"candidates"`
	Evicted     int           `json:"evicted"`
	FreedBytes  int64         `json:"freedBytes"`
	Duration    time.Duration `json:"duration"`
	EvictedKeys []string      `json:"evictedKeys,omitempty"`
}

// RetentionScore ranks an entry for eviction; lower scores are evicted first.
// Priority dominates, recency decays exponentially with idle time, frequency
// grows logarithmically and size is a mild penalty.
func RetentionScore(priority int, idle time.Duration, accessCount, sizeBytes int64, halfLife time.Duration) float64 {
	if idle < 0 {
		idle = 0
	}
	recency := 0.0
	if halfLife > 0 {
		recency = math.Exp(-idle.Seconds() / halfLife.Seconds())
	}
	if accessCount < 0 {
		accessCount = 0
	}
	if sizeBytes < 0 {
		sizeBytes = 0
	}
	return float64(priority)*1000 +
		recency*500 +
		math.Log1p(float64(accessCount))*100 -
		math.Sqrt(float64(sizeBytes))*0.1
}

// KeyPriority is the category base priority adjusted by every matching key rule.
func (s *Store) KeyPriority(key, category string) int {
	priority := s.config.Policies.BasePriority(category)
	for _, rule := range s.config.KeyRules {
		if rule.Contains != "" && strings.Contains(key, rule.Contains) {
			priority += rule.Delta
		}
	}
	return priority
}

type evictionCandidate struct {
	key   string
	score float64
	size  int64
}

// Cleanup evicts the lowest-scoring entries: the bottom EvictionRatio of the
// store (at least EvictionMinEntries), stopping once EvictionTargetBytes are freed.
func (s *Store) Cleanup() CleanupReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *Store) cleanupLocked() CleanupReport {
	start := time.Now()
	report := CleanupReport{}

	keys, err := s.backend.Keys("")
	if err != nil {
		s.logger.Cache().Error("Cleanup failed to list keys", "error", err.Error())
		return report
	}

	now := s.now()
	candidates := make([]evictionCandidate, 0, len(keys))
	for _, key := range keys {
		raw, err := s.backend.Get(key)
		if err != nil {
			continue
		}
		c := evictionCandidate{key: key, size: int64(len(key) + len(raw))}

		rec, err := decodeRecord(raw)
		if err != nil {
			c.score = math.Inf(-1)
		} else {
			c.score = RetentionScore(
				s.KeyPriority(key, rec.Category),
				now.Sub(rec.LastAccessedAt),
				rec.AccessCount,
				rec.SizeBytes,
				s.config.RecencyHalfLife,
			)
		}
		candidates = append(candidates, c)
	}

	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		return report
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].score < candidates[j].score
	})

	target := int(math.Ceil(float64(len(candidates)) * s.config.EvictionRatio))
	if target < s.config.EvictionMinEntries {
		target = s.config.EvictionMinEntries
	}
	if target > len(candidates) {
		target = len(candidates)
	}

	for _, c := range candidates[:target] {
		if !s.deleteLocked(c.key) {
			continue
		}
		report.Evicted++
		report.FreedBytes += c.size
		report.EvictedKeys = append(report.EvictedKeys, c.key)
		s.recorder.RecordCache(performance.CacheEviction, c.key, 0)

		if s.config.EvictionTargetBytes > 0 && report.FreedBytes >= s.config.EvictionTargetBytes {
			break
		}
	}

	report.Duration = time.Since(start)
	s.logger.Cache().Info("Cache cleanup completed",
		"candidates", report.Candidates,
		"evicted", report.Evicted,
		"freedBytes", report.FreedBytes,
		"duration", report.Duration)
	return report
}
