package conflict

import (
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/oklog/ulid/v2"
)

const defaultHistorySize = 100

// Options tune a single Resolve call.
type Options struct {
	// Strategy forces a strategy; Auto selects one from key rules and category.
	Strategy Strategy
	// IdentityField keys list items during merge-dedup. Defaults to "id".
	IdentityField string
	// SortField orders merged lists newest or largest first when set.
	SortField string
	// DefaultFieldStrategy resolves fields absent from both field tables.
	DefaultFieldStrategy Strategy
}

// Resolution is the outcome of reconciling a cached and a fresh value.
type Resolution struct {
	Data           any             `json:"data"`
	Strategy       Strategy        `json:"strategy"`
	ConflictType   ConflictType    `json:"conflictType"`
	Resolved       bool            `json:"conflictResolved"`
	Winner         string          `json:"winner,omitempty"`
	FieldConflicts []FieldConflict `json:"fieldConflicts,omitempty"`
	Err            error           `json:"-"`
}

// Record is one entry of the bounded resolution history.
type Record struct {
	ID           string       `json:"id"`
	Key          string       `json:"key"`
	Category     string       `json:"category"`
	ConflictType ConflictType `json:"conflictType"`
	Strategy     Strategy     `json:"strategy"`
	Success      bool         `json:"success"`
	Error        string       `json:"error,omitempty"`
	ResolvedAt   time.Time    `json:"resolvedAt"`
}

// Stats summarises the resolution history.
type Stats struct {
	TotalConflicts        int            `json:"totalConflicts"`
	SuccessfulResolutions int            `json:"successfulResolutions"`
	SuccessRate           float64        `json:"successRate"`
	StrategiesUsed        map[string]int `json:"strategiesUsed"`
	CategoriesAffected    map[string]int `json:"categoriesAffected"`
	RecentConflicts       []Record       `json:"recentConflicts"`
}

// Resolver reconciles cached and fresh values. Resolution itself is pure; the
// resolver only keeps a diagnostic history of past calls.
type Resolver struct {
	categories   map[string]Strategy
	keyRules     []KeyRule
	clientFields map[string]struct{}
	serverFields map[string]struct{}
	historySize  int
	now          func() time.Time
	newID        func() string
	logger       *logging.ChanneledLogger

	mu      sync.Mutex
	history []Record
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCategoryStrategy overrides the strategy for one category.
func WithCategoryStrategy(category string, strategy Strategy) Option {
	return func(r *Resolver) { r.categories[category] = strategy }
}

// WithKeyRules replaces the key-pattern overrides.
func WithKeyRules(rules ...KeyRule) Option {
	return func(r *Resolver) { r.keyRules = append([]KeyRule(nil), rules...) }
}

// WithHistorySize bounds the resolution history.
func WithHistorySize(size int) Option {
	return func(r *Resolver) {
		if size > 0 {
			r.historySize = size
		}
	}
}

// WithClock sets the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver with the default strategy tables.
func NewResolver(logger *logging.ChanneledLogger, opts ...Option) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Resolver{
		categories:   DefaultCategoryStrategies(),
		keyRules:     DefaultKeyRules(),
		clientFields: toSet(DefaultClientFields),
		serverFields: toSet(DefaultServerFields),
		historySize:  defaultHistorySize,
		now:          time.Now,
		newID:        func() string { return ulid.Make().String() },
		logger:       logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// StrategyFor returns the strategy Auto would pick for key and category.
func (r *Resolver) StrategyFor(key, category string) Strategy {
	for _, rule := range r.keyRules {
		if rule.Contains != "" && strings.Contains(key, rule.Contains) {
			return rule.Strategy
		}
	}
	if strategy, ok := r.categories[category]; ok {
		return strategy
	}
	if strategy, ok := r.categories["default"]; ok {
		return strategy
	}
	return TimestampWins
}

// Resolve reconciles cached with fresh. It never panics and never fails past
// this call: on any error the fresh value is returned unmodified with
// Strategy FallbackServer and Err set.
func (r *Resolver) Resolve(key, category string, cached, fresh any, opts Options) (res Resolution) {
	strategy := opts.Strategy
	if strategy == Auto {
		strategy = r.StrategyFor(key, category)
	}
	conflictType := ConflictNone

	defer func() {
		if recovered := recover(); recovered != nil {
			res = r.fail(key, category, conflictType, strategy, fresh, fmt.Errorf("panic: %v", recovered))
		}
	}()

	cFull, c, err := normalize(cached)
	if err != nil {
		return r.fail(key, category, conflictType, strategy, fresh, err)
	}
	fFull, f, err := normalize(fresh)
	if err != nil {
		return r.fail(key, category, conflictType, strategy, fresh, err)
	}

	if c == nil || f == nil || reflect.DeepEqual(c, f) {
		return Resolution{Data: fresh, Strategy: NoConflict, ConflictType: ConflictNone}
	}

	conflictType = conflictTypeOf(c, f)
	res = r.apply(strategy, cached, fresh, sides{c, f, cFull, fFull}, opts)
	res.Strategy = strategy
	res.ConflictType = conflictType
	res.Resolved = true

	r.record(Record{Key: key, Category: category, ConflictType: conflictType, Strategy: strategy, Success: true})
	r.logger.Conflict().Debug("Conflict resolved",
		slog.String("key", key),
		slog.String("category", category),
		slog.String("conflictType", string(conflictType)),
		slog.String("strategy", strategy.String()),
		slog.String("winner", res.Winner))
	return res
}

// sides holds both normalized values. The full forms keep _metadata for
// timestamp lookups.
type sides struct {
	c, f         any
	cFull, fFull any
}

func (r *Resolver) apply(strategy Strategy, cached, fresh any, s sides, opts Options) Resolution {
	c, f := s.c, s.f
	switch strategy {
	case ClientWins:
		return Resolution{Data: cached, Winner: "cache"}
	case ServerWins:
		return Resolution{Data: fresh, Winner: "server"}
	case MergeDedup:
		identity := opts.IdentityField
		if identity == "" {
			identity = "id"
		}
		if cl, ok := c.([]any); ok {
			if fl, ok := f.([]any); ok {
				return Resolution{Data: mergeLists(cl, fl, identity, opts.SortField), Winner: "merged"}
			}
		}
		if cm, ok := c.(map[string]any); ok {
			if fm, ok := f.(map[string]any); ok {
				return Resolution{Data: mergeObjects(cm, fm), Winner: "merged"}
			}
		}
		return Resolution{Data: fresh, Winner: "server"}
	case FieldLevelMerge:
		if cm, ok := c.(map[string]any); ok {
			if fm, ok := f.(map[string]any); ok {
				merged, conflicts := r.mergeFields(cm, fm, opts.DefaultFieldStrategy)
				return Resolution{Data: merged, Winner: "merged", FieldConflicts: conflicts}
			}
		}
		return resolveByTimestamp(cached, fresh, s.cFull, s.fFull)
	case TimestampWins:
		return resolveByTimestamp(cached, fresh, s.cFull, s.fFull)
	default:
		panic(fmt.Sprintf("strategy %s cannot resolve a conflict", strategy))
	}
}

// resolveByTimestamp keeps the newer side. Without timestamps the server wins;
// the cached side is kept unless the fresh one is strictly newer.
func resolveByTimestamp(cached, fresh, c, f any) Resolution {
	cts, cok := extractTimestamp(c)
	fts, fok := extractTimestamp(f)
	if !cok && !fok {
		return Resolution{Data: fresh, Winner: "server"}
	}
	if fok && (!cok || fts.After(cts)) {
		return Resolution{Data: fresh, Winner: "server"}
	}
	return Resolution{Data: cached, Winner: "cache"}
}

func (r *Resolver) fail(key, category string, conflictType ConflictType, strategy Strategy, fresh any, cause error) Resolution {
	err := fmt.Errorf("%w: %s: %v", faults.ErrConflictResolution, key, cause)
	r.record(Record{
		Key:          key,
		Category:     category,
		ConflictType: conflictType,
		Strategy:     strategy,
		Error:        cause.Error(),
	})
	r.logger.LogError(logging.ChannelConflict, "resolve", err, map[string]any{
		"key":      key,
		"category": category,
		"strategy": strategy.String(),
	})
	return Resolution{Data: fresh, Strategy: FallbackServer, ConflictType: conflictType, Err: err}
}

func (r *Resolver) record(rec Record) {
	rec.ID = r.newID()
	rec.ResolvedAt = r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, rec)
	if overflow := len(r.history) - r.historySize; overflow > 0 {
		r.history = append([]Record(nil), r.history[overflow:]...)
	}
}

// RecentConflicts returns up to n of the newest records, oldest first.
func (r *Resolver) RecentConflicts(n int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n <= 0 || n > len(r.history) {
		n = len(r.history)
	}
	return append([]Record(nil), r.history[len(r.history)-n:]...)
}

// Stats aggregates the history by strategy and category.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalConflicts:     len(r.history),
		SuccessRate:        100,
		StrategiesUsed:     make(map[string]int),
		CategoriesAffected: make(map[string]int),
	}
	for _, rec := range r.history {
		if rec.Success {
			stats.SuccessfulResolutions++
		}
		stats.StrategiesUsed[rec.Strategy.String()]++
		stats.CategoriesAffected[rec.Category]++
	}
	if stats.TotalConflicts > 0 {
		stats.SuccessRate = math.Round(float64(stats.SuccessfulResolutions) / float64(stats.TotalConflicts) * 100)
	}
	recent := len(r.history) - 10
	if recent < 0 {
		recent = 0
	}
	stats.RecentConflicts = append([]Record(nil), r.history[recent:]...)
	return stats
}

// ClearHistory drops every recorded resolution.
func (r *Resolver) ClearHistory() {
	r.mu.Lock()
	r.history = nil
	r.mu.Unlock()
	r.logger.Conflict().Info("Conflict history cleared")
}
