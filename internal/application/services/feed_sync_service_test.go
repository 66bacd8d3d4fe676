package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/cache"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
)

type fakeRemote struct {
	mu    sync.Mutex
	paths []string
}

func (f *fakeRemote) Fetcher(path string) task.FetchFunc {
	return func(context.Context, task.FetchRequest) (any, error) {
		f.mu.Lock()
		f.paths = append(f.paths, path)
		f.mu.Unlock()
		return map[string]any{"path": path}, nil
	}
}

func (f *fakeRemote) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func fetchPath(t *testing.T, fetch task.FetchFunc) string {
	t.Helper()
	payload, err := fetch(context.Background(), task.FetchRequest{})
	require.NoError(t, err)
	return payload.(map[string]any)["path"].(string)
}

func newTestFeedSync(t *testing.T) (*FeedSyncService, *recordingSubmitter, *fakeRemote, *testClock) {
	t.Helper()
	clock := newTestClock()
	rehydration, st := newTestRehydration(t, clock)
	submitter := &recordingSubmitter{}
	fetcher := &fakeRemote{}
	return NewFeedSyncService(rehydration, st, submitter, fetcher, logging.NewNop()), submitter, fetcher, clock
}

func TestFeedSyncResolve(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestFeedSync(t)

	cases := []struct {
		category, resource, key, path string
	}{
		{cache.CategoryDepartments, "cs", "department:cs", "departments/cs"},
		{cache.CategoryRSSItems, "/cs/", "rss:cs", "departments/cs/items"},
		{cache.CategoryPreferences, "ana", "preferences:ana", "users/ana/preferences"},
		{"", "notices/latest", "default:notices/latest", "notices/latest"},
	}
	for _, tc := range cases {
		key, fetch, err := svc.Resolve(tc.category, tc.resource)
		require.NoError(t, err)
		assert.Equal(t, tc.key, key)
		assert.Equal(t, tc.path, fetchPath(t, fetch))
	}

	_, _, err := svc.Resolve(cache.CategoryDepartments, " / ")
	assert.Error(t, err)
}

func TestFeedSyncActiveDepartments(t *testing.T) {
	t.Parallel()

	svc, submitter, _, _ := newTestFeedSync(t)
	report := svc.SyncActiveDepartments([]string{"cs", "", "math"})

	assert.Equal(t, 4, report.Accepted)
	assert.Equal(t, 0, report.Skipped)
	assert.Equal(t, "queued", report.Outcomes["rss:math"])

	subs := submitter.all()
	require.Len(t, subs, 4)
	assert.Equal(t, "department:cs", subs[0].Task.Key)
	assert.Equal(t, task.PriorityHigh, subs[0].Priority)
	assert.Equal(t, "rss:cs", subs[1].Task.Key)
	assert.Equal(t, task.PriorityMedium, subs[1].Priority)
	assert.Equal(t, []string{"department:cs"}, subs[1].Task.Dependencies)
	assert.Equal(t, cache.CategoryRSSItems, subs[1].Task.Category)
}

func TestFeedSyncUserPreferences(t *testing.T) {
	t.Parallel()

	svc, submitter, _, _ := newTestFeedSync(t)
	assert.Equal(t, task.Queued, svc.SyncUserPreferences("ana"))
	assert.Equal(t, task.Invalid, svc.SyncUserPreferences(""))

	subs := submitter.all()
	require.Len(t, subs, 1)
	assert.Equal(t, "preferences:ana", subs[0].Task.Key)
	assert.Equal(t, task.PriorityCritical, subs[0].Priority)
}

func TestFeedSyncGetDataCachesResource(t *testing.T) {
	t.Parallel()

	svc, _, fetcher, _ := newTestFeedSync(t)
	ctx := context.Background()

	first, err := svc.GetData(ctx, cache.CategoryDepartments, "cs", GetOptions{})
	require.NoError(t, err)
	assert.True(t, first.Fresh)
	assert.Equal(t, map[string]any{"path": "departments/cs"}, first.Data)

	second, err := svc.GetData(ctx, cache.CategoryDepartments, "cs", GetOptions{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, []string{"departments/cs"}, fetcher.fetched())
}

func TestFeedSyncTriggerCategorySync(t *testing.T) {
	t.Parallel()

	svc, submitter, _, _ := newTestFeedSync(t)
	require.True(t, svc.store.Set("rss:cs", cache.CategoryRSSItems, []any{"a"}))
	require.True(t, svc.store.Set("rss:predictive:math", cache.CategoryRSSItems, []any{"b"}))
	require.True(t, svc.store.Set("orphan", cache.CategoryRSSItems, []any{"c"}))
	require.True(t, svc.store.Set("department:cs", cache.CategoryDepartments, map[string]any{"id": "cs"}))

	report := svc.TriggerCategorySync(cache.CategoryRSSItems)
	assert.Equal(t, 2, report.Accepted)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, "invalid", report.Outcomes["orphan"])

	subs := submitter.all()
	require.Len(t, subs, 2)
	byKey := map[string]submission{}
	for _, s := range subs {
		byKey[s.Task.Key] = s
		assert.Equal(t, task.PriorityMedium, s.Priority)
		assert.Equal(t, task.SourceRefresh, s.Task.Source)
		assert.False(t, s.Task.LastModified.IsZero())
	}
	assert.Equal(t, "departments/cs/items", fetchPath(t, byKey["rss:cs"].Task.Fetch))
	assert.Equal(t, "departments/math/items", fetchPath(t, byKey["rss:predictive:math"].Task.Fetch))
}

func TestFeedSyncPredictiveTasks(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestFeedSync(t)
	tasks := svc.PredictiveTasks("cs")
	require.Len(t, tasks, 2)
	assert.Equal(t, "department:cs", tasks[0].Key)
	assert.Equal(t, "rss:predictive:cs", tasks[1].Key)
	assert.Equal(t, []string{"department:cs"}, tasks[1].Dependencies)
	assert.Equal(t, "departments/cs/items", fetchPath(t, tasks[1].Fetch))
	assert.Nil(t, svc.PredictiveTasks(""))
}

func TestFeedSyncPreloadCritical(t *testing.T) {
	t.Parallel()

	svc, _, fetcher, _ := newTestFeedSync(t)
	report := svc.PreloadCritical(context.Background(), []string{"cs", "math"}, "ana")

	assert.Equal(t, 3, report.Loaded)
	assert.Equal(t, 0, report.Failed)
	assert.ElementsMatch(t, []string{"departments/cs", "departments/math", "users/ana/preferences"}, fetcher.fetched())
	assert.True(t, svc.store.Has("preferences:ana", cache.CategoryPreferences))
}
