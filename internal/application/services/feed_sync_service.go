package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/cache"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/remote"
)

const (
	departmentPrefix     = "department:"
	feedPrefix           = "rss:"
	predictiveFeedPrefix = "rss:predictive:"
	preferencesPrefix    = "preferences:"
)

// ErrInvalidResource is returned when a resource identifier is empty.
var ErrInvalidResource = errors.New("resource is required")

// DepartmentKey is the cache key of a department configuration.
func DepartmentKey(id string) string { return departmentPrefix + id }

// FeedKey is the cache key of a department's feed items.
func FeedKey(id string) string { return feedPrefix + id }

// PredictiveFeedKey is the cache key of feed items warmed by prediction.
func PredictiveFeedKey(id string) string { return predictiveFeedPrefix + id }

// PreferencesKey is the cache key of a user's preferences.
func PreferencesKey(user string) string { return preferencesPrefix + user }

// RemoteFetcher adapts remote API paths into fetch capabilities.
type RemoteFetcher interface {
	Fetcher(path string) task.FetchFunc
}

// SyncReport summarizes a batch of queueSync calls.
type SyncReport struct {
	Outcomes map[string]string `json:"outcomes"`
	Accepted int               `json:"accepted"`
	Skipped  int               `json:"skipped"`
}

func newSyncReport() SyncReport {
	return SyncReport{Outcomes: make(map[string]string)}
}

func (r *SyncReport) add(key string, outcome task.QueueOutcome) {
	r.Outcomes[key] = outcome.String()
	if outcome.Accepted() {
		r.Accepted++
	} else {
		r.Skipped++
	}
}

// FeedSyncService maps feed resources onto cache keys and fetch capabilities
// and drives the read path and the scheduler with them.
type FeedSyncService struct {
	rehydration *RehydrationService
	store       *store.Store
	submitter   task.Submitter
	remote      RemoteFetcher
	logger      *logging.ChanneledLogger
}

// NewFeedSyncService creates the feed orchestration service.
func NewFeedSyncService(rehydration *RehydrationService, st *store.Store, submitter task.Submitter, fetcher RemoteFetcher, logger *logging.ChanneledLogger) *FeedSyncService {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &FeedSyncService{
		rehydration: rehydration,
		store:       st,
		submitter:   submitter,
		remote:      fetcher,
		logger:      logger,
	}
}

// Resolve returns the cache key and fetch capability for a resource of category.
func (s *FeedSyncService) Resolve(category, resource string) (string, task.FetchFunc, error) {
	resource = strings.Trim(strings.TrimSpace(resource), "/")
	if resource == "" {
		return "", nil, ErrInvalidResource
	}
	if category == "" {
		category = cache.CategoryDefault
	}

	var key, path string
	switch category {
	case cache.CategoryDepartments:
		key, path = DepartmentKey(resource), remote.DepartmentPath(resource)
	case cache.CategoryRSSItems:
		key, path = FeedKey(resource), remote.DepartmentItemsPath(resource)
	case cache.CategoryPreferences:
		key, path = PreferencesKey(resource), remote.PreferencesPath(resource)
	default:
		key, path = category+":"+resource, resource
	}
	return key, s.remote.Fetcher(path), nil
}

// resolveKey recovers the fetch capability and category of a cached key.
func (s *FeedSyncService) resolveKey(key, category string) (task.FetchFunc, string, error) {
	if s.rehydration != nil {
		if fetch, tracked, ok := s.rehydration.Fetcher(key); ok {
			return fetch, tracked, nil
		}
	}

	var resource string
	switch {
	case strings.HasPrefix(key, predictiveFeedPrefix):
		category, resource = cache.CategoryRSSItems, strings.TrimPrefix(key, predictiveFeedPrefix)
	case strings.HasPrefix(key, departmentPrefix):
		category, resource = cache.CategoryDepartments, strings.TrimPrefix(key, departmentPrefix)
	case strings.HasPrefix(key, feedPrefix):
		category, resource = cache.CategoryRSSItems, strings.TrimPrefix(key, feedPrefix)
	case strings.HasPrefix(key, preferencesPrefix):
		category, resource = cache.CategoryPreferences, strings.TrimPrefix(key, preferencesPrefix)
	default:
		prefix := category + ":"
		if category == "" || !strings.HasPrefix(key, prefix) {
			return nil, "", fmt.Errorf("no fetcher known for %q", key)
		}
		resource = strings.TrimPrefix(key, prefix)
	}
	_, fetch, err := s.Resolve(category, resource)
	return fetch, category, err
}

// GetData serves a resource through the cache-first read path.
func (s *FeedSyncService) GetData(ctx context.Context, category, resource string, opts GetOptions) (*Result, error) {
	key, fetch, err := s.Resolve(category, resource)
	if err != nil {
		return nil, err
	}
	opts.Category = category
	return s.rehydration.GetData(ctx, key, fetch, opts)
}

// QueueSync queues a resource for background sync.
func (s *FeedSyncService) QueueSync(category, resource string, priority task.Priority, dependencies []string) (string, task.QueueOutcome) {
	key, fetch, err := s.Resolve(category, resource)
	if err != nil {
		return "", task.Invalid
	}
	return key, s.submitter.QueueSync(task.Task{
		Key:          key,
		Category:     category,
		Fetch:        fetch,
		Dependencies: dependencies,
		Source:       task.SourceConsumer,
	}, priority)
}

// SyncActiveDepartments queues each department configuration at high
// priority and its feed at medium priority behind it.
func (s *FeedSyncService) SyncActiveDepartments(ids []string) SyncReport {
	report := newSyncReport()
	for _, id := range ids {
		if id == "" {
			continue
		}
		deptKey, outcome := s.QueueSync(cache.CategoryDepartments, id, task.PriorityHigh, nil)
		report.add(deptKey, outcome)

		feedKey, outcome := s.QueueSync(cache.CategoryRSSItems, id, task.PriorityMedium, []string{deptKey})
		report.add(feedKey, outcome)
	}
	s.logger.Sync().Info("Queued department sync",
		slog.Int("departments", len(ids)),
		slog.Int("accepted", report.Accepted),
		slog.Int("skipped", report.Skipped))
	return report
}

// SyncUserPreferences queues a user's preferences at critical priority.
func (s *FeedSyncService) SyncUserPreferences(user string) task.QueueOutcome {
	_, outcome := s.QueueSync(cache.CategoryPreferences, user, task.PriorityCritical, nil)
	return outcome
}

// TriggerCategorySync re-queues every cached key of category at medium priority.
func (s *FeedSyncService) TriggerCategorySync(category string) SyncReport {
	report := newSyncReport()
	entries := s.store.List(category)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	for _, entry := range entries {
		fetch, resolved, err := s.resolveKey(entry.Key, entry.Category)
		if err != nil {
			s.logger.Sync().Warn("Skipping category sync for key", slog.String("key", entry.Key), slog.String("error", err.Error()))
			report.add(entry.Key, task.Invalid)
			continue
		}
		outcome := s.submitter.QueueSync(task.Task{
			Key:          entry.Key,
			Category:     resolved,
			Fetch:        fetch,
			LastModified: entry.CreatedAt,
			Source:       task.SourceRefresh,
		}, task.PriorityMedium)
		report.add(entry.Key, outcome)
	}
	s.logger.Sync().Info("Triggered category sync",
		slog.String("category", category),
		slog.Int("keys", len(entries)),
		slog.Int("accepted", report.Accepted))
	return report
}

// PreloadCritical warms department configurations and, when user is set,
// that user's preferences.
func (s *FeedSyncService) PreloadCritical(ctx context.Context, departments []string, user string) PreloadReport {
	items := make([]PreloadItem, 0, len(departments)+1)
	for _, id := range departments {
		key, fetch, err := s.Resolve(cache.CategoryDepartments, id)
		if err != nil {
			continue
		}
		items = append(items, PreloadItem{Key: key, Category: cache.CategoryDepartments, Fetch: fetch})
	}
	if user != "" {
		if key, fetch, err := s.Resolve(cache.CategoryPreferences, user); err == nil {
			items = append(items, PreloadItem{Key: key, Category: cache.CategoryPreferences, Fetch: fetch})
		}
	}
	return s.rehydration.Preload(ctx, items)
}

// PredictiveTasks plans the prefetch of a predicted department: its
// configuration and its feed, the feed depending on the configuration.
func (s *FeedSyncService) PredictiveTasks(subject string) []task.Task {
	subject = strings.Trim(strings.TrimSpace(subject), "/")
	if subject == "" {
		return nil
	}
	deptKey, deptFetch, err := s.Resolve(cache.CategoryDepartments, subject)
	if err != nil {
		return nil
	}
	return []task.Task{
		{
			Key:      deptKey,
			Category: cache.CategoryDepartments,
			Fetch:    deptFetch,
		},
		{
			Key:          PredictiveFeedKey(subject),
			Category:     cache.CategoryRSSItems,
			Fetch:        s.remote.Fetcher(remote.DepartmentItemsPath(subject)),
			Dependencies: []string{deptKey},
		},
	}
}
