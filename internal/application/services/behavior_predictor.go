package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/behavior"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/storage"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/network"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

const (
	behaviorSnapshotKey = "aggregates"
	// neighborSlotWeight scales predictions from the adjacent hour buckets.
	neighborSlotWeight = 0.7
	recencyHorizon     = 7 * 24 * time.Hour
	dwellNormalization = 5 * time.Minute
	frequencyTopN      = 3
	sequenceLookback   = 3
	topSubjectsLimit   = 5
)

// SignalWeights weight the three prediction families when merging.
type SignalWeights struct {
	Temporal   float64 `json:"temporal"`
	Sequential float64 `json:"sequential"`
	Frequency  float64 `json:"frequency"`
}

// BehaviorConfig tunes tracking, prediction and prefetch throttling.
type BehaviorConfig struct {
	Enabled         bool
	MinConfidence   float64
	MaxPredictions  int
	MaxConcurrent   int
	ThrottleDelay   time.Duration
	PredictDelay    time.Duration
	PersistInterval time.Duration
	// BackgroundOnly suppresses prefetching while the consumer is in the foreground.
	BackgroundOnly bool
	// HitWindow is how long a prediction waits for the matching access before it counts as a miss.
	HitWindow time.Duration
	Weights   SignalWeights
}

// DefaultBehaviorConfig returns the built-in defaults.
func DefaultBehaviorConfig() *BehaviorConfig {
	return &BehaviorConfig{
		Enabled:         true,
		MinConfidence:   0.6,
		MaxPredictions:  5,
		MaxConcurrent:   2,
		ThrottleDelay:   time.Second,
		PredictDelay:    500 * time.Millisecond,
		PersistInterval: 30 * time.Second,
		BackgroundOnly:  true,
		HitWindow:       30 * time.Minute,
		Weights:         SignalWeights{Temporal: 0.3, Sequential: 0.4, Frequency: 0.3},
	}
}

// NewBehaviorConfig builds the configuration from pkg/config.
func NewBehaviorConfig() *BehaviorConfig {
	cfg := DefaultBehaviorConfig()
	cfg.Enabled = config.PredictEnabled
	cfg.MinConfidence = config.PredictMinConfidence
	cfg.MaxPredictions = config.PredictMaxPredictions
	cfg.MaxConcurrent = config.PredictMaxConcurrent
	cfg.ThrottleDelay = config.PredictThrottleDelay
	cfg.PredictDelay = config.PredictDelay
	cfg.PersistInterval = config.PredictPersistInterval
	return cfg
}

// PrefetchPlanner turns a predicted subject into the sync tasks that warm it.
type PrefetchPlanner func(subject string) []task.Task

// SubjectStat summarizes one tracked subject.
type SubjectStat struct {
	Subject      string        `json:"subject"`
	Count        int           `json:"count"`
	LastSeen     time.Time     `json:"lastSeen"`
	AverageDwell time.Duration `json:"averageDwell"`
}

// BehaviorStats is a snapshot of the predictor.
type BehaviorStats struct {
	Enabled           bool          `json:"enabled"`
	SessionStart      time.Time     `json:"sessionStart"`
	SessionDuration   time.Duration `json:"sessionDuration"`
	Interactions      int           `json:"interactions"`
	PageViews         int           `json:"pageViews"`
	TrackedSubjects   int           `json:"trackedSubjects"`
	TemporalBuckets   int           `json:"temporalBuckets"`
	SequencePatterns  int           `json:"sequencePatterns"`
	TopSubjects       []SubjectStat `json:"topSubjects"`
	PendingPrefetches int           `json:"pendingPrefetches"`
	PrefetchesQueued  int64         `json:"prefetchesQueued"`
	PredictionsIssued int64         `json:"predictionsIssued"`
	Hits              int64         `json:"hits"`
	Misses            int64         `json:"misses"`
	// Accuracy is hits / (hits + misses), zero before any prediction resolved.
	Accuracy    float64       `json:"accuracy"`
	LastBatchID string        `json:"lastBatchId,omitempty"`
	Weights     SignalWeights `json:"weights"`
}

// BehaviorPredictor tracks interactions, predicts the next subjects and warms
// them through the sync scheduler at low priority. Tracking never blocks on
// prediction or prefetch.
type BehaviorPredictor struct {
	submitter task.Submitter
	planner   PrefetchPlanner
	backend   storage.Backend
	network   network.Source
	config    *BehaviorConfig
	logger    *logging.ChanneledLogger
	recorder  performance.Recorder
	now       func() time.Time

	mu           sync.Mutex
	snapshot     *behavior.Snapshot
	dirty        bool
	foreground   bool
	sessionStart time.Time
	interactions int
	outstanding  map[string]time.Time
	pending      []string
	predictTimer *time.Timer
	drainTimer   *time.Timer
	closed       bool
	issued       int64
	hits         int64
	misses       int64
	prefetched   int64
	lastBatchID  string
}

// BehaviorOption customizes a BehaviorPredictor.
type BehaviorOption func(*BehaviorPredictor)

// WithBehaviorClock replaces time.Now, for tests.
func WithBehaviorClock(now func() time.Time) BehaviorOption {
	return func(p *BehaviorPredictor) { p.now = now }
}

// WithBehaviorRecorder attaches instrumentation.
func WithBehaviorRecorder(r performance.Recorder) BehaviorOption {
	return func(p *BehaviorPredictor) { p.recorder = performance.OrNop(r) }
}

// NewBehaviorPredictor creates a predictor and restores persisted aggregates
// from backend. A nil backend keeps aggregates in memory only.
func NewBehaviorPredictor(submitter task.Submitter, planner PrefetchPlanner, backend storage.Backend, source network.Source, cfg *BehaviorConfig, logger *logging.ChanneledLogger, opts ...BehaviorOption) *BehaviorPredictor {
	if cfg == nil {
		cfg = DefaultBehaviorConfig()
	}
	if source == nil {
		source = network.NewStatic(network.Fast)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &BehaviorPredictor{
		submitter:   submitter,
		planner:     planner,
		backend:     backend,
		network:     source,
		config:      cfg,
		logger:      logger,
		recorder:    performance.NopRecorder{},
		now:         time.Now,
		snapshot:    behavior.NewSnapshot(),
		outstanding: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.sessionStart = p.now()
	p.load()
	return p
}

func (p *BehaviorPredictor) load() {
	if p.backend == nil {
		return
	}
	raw, err := p.backend.Get(behaviorSnapshotKey)
	if errors.Is(err, faults.ErrNotFound) {
		return
	}
	if err != nil {
		p.logger.Predict().Warn("Failed to load behavior data", slog.String("error", err.Error()))
		return
	}

	snap := behavior.NewSnapshot()
	if err := json.Unmarshal(raw, snap); err != nil {
		p.logger.Predict().Warn("Discarding corrupt behavior data",
			slog.String("error", fmt.Errorf("%w: %v", faults.ErrStorageCorruption, err).Error()))
		_ = p.backend.Delete(behaviorSnapshotKey)
		return
	}
	if snap.SubjectAccess == nil {
		snap.SubjectAccess = make(map[string]*behavior.SubjectAccess)
	}
	if snap.TemporalBuckets == nil {
		snap.TemporalBuckets = make(map[string]*behavior.TemporalBucket)
	}
	p.snapshot = snap
	p.logger.Predict().Info("Loaded behavior data",
		slog.Int("pageViews", len(snap.PageViews)),
		slog.Int("subjects", len(snap.SubjectAccess)),
		slog.Int("temporalBuckets", len(snap.TemporalBuckets)),
		slog.Int("sequences", len(snap.Sequences)))
}

// Track records an interaction and schedules prediction after PredictDelay.
func (p *BehaviorPredictor) Track(view behavior.PageView) error {
	if view.Subject == "" {
		return errors.New("behavior: subject is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if view.Timestamp.IsZero() {
		view.Timestamp = p.now()
	}
	p.settleOutstandingLocked(view.Subject, view.Timestamp)
	p.snapshot.Record(view)
	p.interactions++
	p.dirty = true

	p.logger.Predict().Debug("Tracked interaction",
		slog.String("subject", view.Subject),
		slog.String("route", view.Route),
		slog.Duration("dwell", view.Dwell))

	if p.config.Enabled && !p.closed && p.predictTimer == nil {
		p.predictTimer = time.AfterFunc(p.config.PredictDelay, p.predictAndPrefetch)
	}
	return nil
}

// settleOutstandingLocked expires old predictions as misses and counts a hit
// when subject was predicted within the window.
func (p *BehaviorPredictor) settleOutstandingLocked(subject string, at time.Time) {
	for predicted, issuedAt := range p.outstanding {
		if at.Sub(issuedAt) > p.config.HitWindow {
			delete(p.outstanding, predicted)
			p.misses++
			p.recorder.RecordPrediction(performance.PredictionMiss, predicted)
		}
	}
	if _, ok := p.outstanding[subject]; ok {
		delete(p.outstanding, subject)
		p.hits++
		p.recorder.RecordPrediction(performance.PredictionHit, subject)
	}
}

// SetForeground tells the predictor whether the consumer is actively in the
// foreground. Prefetching waits while it is and BackgroundOnly is set.
func (p *BehaviorPredictor) SetForeground(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.foreground = active
	if !active && len(p.pending) > 0 {
		p.scheduleDrainLocked()
	}
}

// Predict returns the current predictions without prefetching them.
func (p *BehaviorPredictor) Predict() []behavior.Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.predictLocked(p.now())
}

func (p *BehaviorPredictor) predictAndPrefetch() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.predictTimer = nil
	if p.closed || !p.config.Enabled {
		return
	}

	now := p.now()
	predictions := p.predictLocked(now)
	if len(predictions) == 0 {
		return
	}

	batchID := ulid.Make().String()
	p.lastBatchID = batchID
	for _, prediction := range predictions {
		p.outstanding[prediction.Subject] = now
		p.issued++
		p.recorder.RecordPrediction(performance.PredictionIssued, prediction.Subject)
		p.enqueuePrefetchLocked(prediction.Subject)
	}

	p.logger.Predict().Info("Generated predictions",
		slog.String("batch", batchID),
		slog.Int("count", len(predictions)),
		slog.String("top", predictions[0].Subject),
		slog.Float64("confidence", predictions[0].Confidence))

	if p.shouldPrefetchLocked() {
		p.scheduleDrainLocked()
	}
}

func (p *BehaviorPredictor) enqueuePrefetchLocked(subject string) {
	for _, queued := range p.pending {
		if queued == subject {
			return
		}
	}
	p.pending = append(p.pending, subject)
}

// shouldPrefetchLocked gates background work on foreground state and network quality.
func (p *BehaviorPredictor) shouldPrefetchLocked() bool {
	if !p.config.Enabled || p.planner == nil || p.submitter == nil {
		return false
	}
	if p.config.BackgroundOnly && p.foreground {
		return false
	}
	return p.network.Quality() == network.Fast
}

func (p *BehaviorPredictor) scheduleDrainLocked() {
	if p.drainTimer != nil || p.closed {
		return
	}
	p.drainTimer = time.AfterFunc(p.config.ThrottleDelay, p.drainPrefetches)
}

// drainPrefetches submits up to MaxConcurrent subjects and reschedules itself
// while work remains.
func (p *BehaviorPredictor) drainPrefetches() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drainTimer = nil
	if p.closed || len(p.pending) == 0 || !p.shouldPrefetchLocked() {
		return
	}

	limit := p.config.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	if limit > len(p.pending) {
		limit = len(p.pending)
	}
	batch := p.pending[:limit]
	p.pending = append([]string(nil), p.pending[limit:]...)

	for _, subject := range batch {
		for _, t := range p.planner(subject) {
			t.Source = task.SourcePredictive
			outcome := p.submitter.QueueSync(t, task.PriorityLow)
			if outcome.Accepted() {
				p.prefetched++
			}
			p.logger.Predict().Debug("Queued prefetch",
				slog.String("subject", subject),
				slog.String("key", t.Key),
				slog.String("outcome", outcome.String()))
		}
	}

	if len(p.pending) > 0 {
		p.scheduleDrainLocked()
	}
}

type familyScore struct {
	confidence float64
	weight     float64
	reason     behavior.Reason
}

func (p *BehaviorPredictor) predictLocked(now time.Time) []behavior.Prediction {
	scores := make(map[string][]familyScore)
	add := func(family map[string]float64, weight float64, reason behavior.Reason) {
		for subject, confidence := range family {
			scores[subject] = append(scores[subject], familyScore{confidence: confidence, weight: weight, reason: reason})
		}
	}
	add(p.temporalScoresLocked(now), p.config.Weights.Temporal, behavior.ReasonTemporal)
	add(p.sequentialScoresLocked(), p.config.Weights.Sequential, behavior.ReasonSequential)
	add(p.frequencyScoresLocked(now), p.config.Weights.Frequency, behavior.ReasonFrequency)

	predictions := make([]behavior.Prediction, 0, len(scores))
	for subject, families := range scores {
		var weighted, weights float64
		reasons := make([]behavior.Reason, 0, len(families))
		for _, f := range families {
			weighted += f.confidence * f.weight
			weights += f.weight
			reasons = append(reasons, f.reason)
		}
		if weights == 0 {
			continue
		}
		confidence := math.Min(1, weighted/weights)
		if confidence < p.config.MinConfidence {
			continue
		}
		predictions = append(predictions, behavior.Prediction{
			Subject:    subject,
			Confidence: confidence,
			Reasons:    reasons,
			CreatedAt:  now,
		})
	}

	sort.Slice(predictions, func(i, j int) bool {
		if predictions[i].Confidence != predictions[j].Confidence {
			return predictions[i].Confidence > predictions[j].Confidence
		}
		return predictions[i].Subject < predictions[j].Subject
	})
	if p.config.MaxPredictions > 0 && len(predictions) > p.config.MaxPredictions {
		predictions = predictions[:p.config.MaxPredictions]
	}
	return predictions
}

// temporalScoresLocked scores subjects by their share of the current
// day-of-week x hour bucket, with the adjacent hours at reduced weight.
func (p *BehaviorPredictor) temporalScoresLocked(now time.Time) map[string]float64 {
	out := make(map[string]float64)
	slots := []struct {
		hour   int
		weight float64
	}{
		{now.Hour(), 1},
		{now.Hour() - 1, neighborSlotWeight},
		{now.Hour() + 1, neighborSlotWeight},
	}
	for _, slot := range slots {
		bucket, ok := p.snapshot.TemporalBuckets[behavior.SlotKey(now.Weekday(), slot.hour)]
		if !ok || bucket.Total == 0 {
			continue
		}
		for subject, count := range bucket.Subjects {
			score := float64(count) / float64(bucket.Total) * slot.weight
			if score > out[subject] {
				out[subject] = score
			}
		}
	}
	return out
}

// sequentialScoresLocked matches the most recent subjects against the
// beginning of each stored sequence and predicts the element that follows.
func (p *BehaviorPredictor) sequentialScoresLocked() map[string]float64 {
	out := make(map[string]float64)
	if len(p.snapshot.Sequences) == 0 {
		return out
	}
	recent := p.snapshot.RecentSubjects(sequenceLookback)
	maxCount := 0
	for _, seq := range p.snapshot.Sequences {
		if seq.Count > maxCount {
			maxCount = seq.Count
		}
	}

	for _, seq := range p.snapshot.Sequences {
		n := len(seq.Subjects)
		matched := prefixMatch(recent, seq.Subjects)
		if matched == 0 || matched >= n {
			continue
		}
		next := seq.Subjects[matched]
		score := float64(seq.Count) / float64(maxCount) * float64(matched) / float64(n)
		if score > out[next] {
			out[next] = score
		}
	}
	return out
}

// prefixMatch returns the longest m such that the last m recent subjects equal
// the first m subjects of pattern, leaving at least one subject to predict.
func prefixMatch(recent, pattern []string) int {
	limit := len(recent)
	if len(pattern)-1 < limit {
		limit = len(pattern) - 1
	}
	for m := limit; m > 0; m-- {
		tail := recent[len(recent)-m:]
		if equalPrefix(tail, pattern[:m]) {
			return m
		}
	}
	return 0
}

func equalPrefix(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// frequencyScoresLocked blends access share, recency decay over a week and
// normalized average dwell for the most accessed subjects.
func (p *BehaviorPredictor) frequencyScoresLocked(now time.Time) map[string]float64 {
	out := make(map[string]float64)
	total := p.snapshot.TotalAccess()
	if total == 0 {
		return out
	}

	type scored struct {
		subject string
		score   float64
	}
	ranked := make([]scored, 0, len(p.snapshot.SubjectAccess))
	for subject, access := range p.snapshot.SubjectAccess {
		share := float64(access.Count) / float64(total)
		recency := math.Max(0, 1-float64(now.Sub(access.LastSeen))/float64(recencyHorizon))
		dwell := math.Min(1, float64(access.AverageDwell())/float64(dwellNormalization))
		ranked = append(ranked, scored{subject: subject, score: share*0.5 + recency*0.3 + dwell*0.2})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].subject < ranked[j].subject
	})
	if len(ranked) > frequencyTopN {
		ranked = ranked[:frequencyTopN]
	}
	for _, r := range ranked {
		out[r.subject] = r.score
	}
	return out
}

// Start persists dirty aggregates every PersistInterval until ctx is done.
func (p *BehaviorPredictor) Start(ctx context.Context) {
	interval := p.config.PersistInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Persist(); err != nil {
				p.logger.LogError(logging.ChannelPredict, "persist", err, nil)
			}
		}
	}
}

// Persist writes the aggregates when they changed since the last write.
func (p *BehaviorPredictor) Persist() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.persistLocked()
}

func (p *BehaviorPredictor) persistLocked() error {
	if p.backend == nil || !p.dirty {
		return nil
	}
	p.snapshot.SavedAt = p.now()
	raw, err := json.Marshal(p.snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode behavior data: %w", err)
	}
	if err := p.backend.Put(behaviorSnapshotKey, raw); err != nil {
		return fmt.Errorf("failed to save behavior data: %w", err)
	}
	p.dirty = false
	return nil
}

// Reset clears every aggregate, pending prefetch and persisted record.
func (p *BehaviorPredictor) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snapshot = behavior.NewSnapshot()
	p.outstanding = make(map[string]time.Time)
	p.pending = nil
	p.interactions = 0
	p.issued, p.hits, p.misses, p.prefetched = 0, 0, 0, 0
	p.dirty = false
	p.sessionStart = p.now()

	if p.backend != nil {
		if err := p.backend.Delete(behaviorSnapshotKey); err != nil && !errors.Is(err, faults.ErrNotFound) {
			return fmt.Errorf("failed to clear behavior data: %w", err)
		}
	}
	p.logger.Predict().Info("Cleared behavior data")
	return nil
}

// Close stops pending timers and persists the aggregates.
func (p *BehaviorPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.predictTimer != nil {
		p.predictTimer.Stop()
		p.predictTimer = nil
	}
	if p.drainTimer != nil {
		p.drainTimer.Stop()
		p.drainTimer = nil
	}
	return p.persistLocked()
}

// Stats returns tracking, prediction and prefetch counters.
func (p *BehaviorPredictor) Stats() BehaviorStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	stats := BehaviorStats{
		Enabled:           p.config.Enabled,
		SessionStart:      p.sessionStart,
		SessionDuration:   now.Sub(p.sessionStart),
		Interactions:      p.interactions,
		PageViews:         len(p.snapshot.PageViews),
		TrackedSubjects:   len(p.snapshot.SubjectAccess),
		TemporalBuckets:   len(p.snapshot.TemporalBuckets),
		SequencePatterns:  len(p.snapshot.Sequences),
		PendingPrefetches: len(p.pending),
		PrefetchesQueued:  p.prefetched,
		PredictionsIssued: p.issued,
		Hits:              p.hits,
		Misses:            p.misses,
		LastBatchID:       p.lastBatchID,
		Weights:           p.config.Weights,
	}
	if resolved := p.hits + p.misses; resolved > 0 {
		stats.Accuracy = float64(p.hits) / float64(resolved)
	}

	for subject, access := range p.snapshot.SubjectAccess {
		stats.TopSubjects = append(stats.TopSubjects, SubjectStat{
			Subject:      subject,
			Count:        access.Count,
			LastSeen:     access.LastSeen,
			AverageDwell: access.AverageDwell(),
		})
	}
	sort.Slice(stats.TopSubjects, func(i, j int) bool {
		if stats.TopSubjects[i].Count != stats.TopSubjects[j].Count {
			return stats.TopSubjects[i].Count > stats.TopSubjects[j].Count
		}
		return stats.TopSubjects[i].Subject < stats.TopSubjects[j].Subject
	})
	if len(stats.TopSubjects) > topSubjectsLimit {
		stats.TopSubjects = stats.TopSubjects[:topSubjectsLimit]
	}
	return stats
}
