package monitoring

import (
	"math"
	"sort"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
)

// Rating grades one area of the engine.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingFair      Rating = "fair"
	RatingPoor      Rating = "poor"
)

// Health is the overall score derived from a snapshot.
type Health struct {
	Score  float64                  `json:"score"`
	Rating Rating                   `json:"rating"`
	Status performance.HealthStatus `json:"status"`
}

// Ratings grades each metric family.
type Ratings struct {
	Cache      Rating `json:"cache"`
	Sync       Rating `json:"sync"`
	Prediction Rating `json:"prediction"`
}

// Recommendation is a rule-based tuning hint.
type Recommendation struct {
	Type        string `json:"type"`
	Priority    string `json:"priority"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
}

// computeHealth scores a snapshot from 100 down. Families without samples are
// not penalized.
func computeHealth(s Snapshot) Health {
	score := 100.0

	if s.Cache.reads() > 0 {
		if s.Cache.HitRate < 0.9 {
			score -= (0.9 - s.Cache.HitRate) * 40
		}
		if avg := millis(s.Cache.AvgResponseTime); avg > 100 {
			score -= math.Min(20, (avg-100)/10)
		}
	}
	if s.System.ErrorRate > 0.05 {
		score -= math.Min(30, s.System.ErrorRate*600)
	}
	if s.System.StorageUsage > 0.7 {
		score -= (s.System.StorageUsage - 0.7) * 67
	}
	if s.Predictions.samples() > 0 && s.Predictions.Accuracy < 0.7 {
		score -= (0.7 - s.Predictions.Accuracy) * 10
	}
	score = math.Max(0, score)

	h := Health{Score: math.Round(score*10) / 10}
	switch {
	case score >= 90:
		h.Rating, h.Status = RatingExcellent, performance.HealthHealthy
	case score >= 75:
		h.Rating, h.Status = RatingGood, performance.HealthHealthy
	case score >= 60:
		h.Rating, h.Status = RatingFair, performance.HealthDegraded
	default:
		h.Rating, h.Status = RatingPoor, performance.HealthUnhealthy
	}
	if s.empty() {
		h.Status = performance.HealthUnknown
	}
	return h
}

func computeRatings(s Snapshot) Ratings {
	return Ratings{
		Cache:      cacheRating(s),
		Sync:       syncRating(s),
		Prediction: predictionRating(s),
	}
}

func cacheRating(s Snapshot) Rating {
	avg := millis(s.Cache.AvgResponseTime)
	switch {
	case s.Cache.HitRate >= 0.9 && avg <= 100:
		return RatingExcellent
	case s.Cache.HitRate >= 0.8 && avg <= 200:
		return RatingGood
	case s.Cache.HitRate >= 0.7:
		return RatingFair
	}
	return RatingPoor
}

func syncRating(s Snapshot) Rating {
	avg := millis(s.Sync.AvgSyncTime)
	switch {
	case s.System.ErrorRate <= 0.02 && avg <= 2000:
		return RatingExcellent
	case s.System.ErrorRate <= 0.05 && avg <= 3000:
		return RatingGood
	case s.System.ErrorRate <= 0.1:
		return RatingFair
	}
	return RatingPoor
}

func predictionRating(s Snapshot) Rating {
	switch {
	case s.Predictions.Accuracy >= 0.8:
		return RatingExcellent
	case s.Predictions.Accuracy >= 0.7:
		return RatingGood
	case s.Predictions.Accuracy >= 0.6:
		return RatingFair
	}
	return RatingPoor
}

func recommendations(s Snapshot, t Thresholds) []Recommendation {
	var recs []Recommendation
	if s.Cache.reads() > 0 && s.Cache.HitRate < t.MinHitRate {
		recs = append(recs, Recommendation{
			Type:        "cache",
			Priority:    "high",
			Title:       "Improve cache hit rate",
			Description: "Increase category TTLs or widen predictive prefetching",
			Impact:      "Fewer remote fetches on the read path",
		})
	}
	if s.Cache.AvgResponseTime > t.MaxResponseTime {
		recs = append(recs, Recommendation{
			Type:        "cache",
			Priority:    "medium",
			Title:       "Reduce cache response time",
			Description: "Lower the compression threshold or move to a faster storage backend",
			Impact:      "Faster reads for cached data",
		})
	}
	if s.System.ErrorRate > t.MaxErrorRate {
		recs = append(recs, Recommendation{
			Type:        "sync",
			Priority:    "high",
			Title:       "Reduce sync error rate",
			Description: "Check remote API availability and the retry configuration",
			Impact:      "Keeps cached data fresh",
		})
	}
	if s.System.StorageUsage > t.MaxStorageUsage {
		recs = append(recs, Recommendation{
			Type:        "storage",
			Priority:    "high",
			Title:       "Reduce storage usage",
			Description: "Run cleanup more often or raise the storage budget",
			Impact:      "Avoids quota errors on write",
		})
	}
	if s.Predictions.samples() > 0 && s.Predictions.Accuracy < t.MinAccuracy {
		recs = append(recs, Recommendation{
			Type:        "prediction",
			Priority:    "low",
			Title:       "Improve prediction accuracy",
			Description: "Raise the minimum confidence or collect more behavior data",
			Impact:      "Less wasted prefetching",
		})
	}
	return recs
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func sortAlerts(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
		}
		return alerts[i].Type < alerts[j].Type
	})
}
