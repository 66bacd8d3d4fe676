package container

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/application/services"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/cache"
)

func newRemote(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs","items":[{"id":"1","title":"Welcome"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestContainerServesThroughMemoryBackend(t *testing.T) {
	t.Parallel()

	c, err := NewContainer(nil, Options{StorageBackend: BackendMemory, RemoteBaseURL: newRemote(t).URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	result, err := c.FeedSync.GetData(ctx, cache.CategoryRSSItems, "cs", services.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "rss:cs", result.Key)
	assert.True(t, c.Store.Has("rss:cs", cache.CategoryRSSItems))
	assert.Equal(t, int64(1), c.Monitor.Stats().Cache.Misses)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}

func TestContainerPersistsToSQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "feedcache.db")
	remote := newRemote(t)

	c, err := NewContainer(nil, Options{StorageBackend: BackendSQLite, StoragePath: path, RemoteBaseURL: remote.URL})
	require.NoError(t, err)
	_, err = c.FeedSync.GetData(context.Background(), cache.CategoryDepartments, "cs", services.GetOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := NewContainer(nil, Options{StorageBackend: BackendSQLite, StoragePath: path, RemoteBaseURL: remote.URL})
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Store.Has("department:cs", cache.CategoryDepartments))
}

func TestContainerRejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := NewContainer(nil, Options{StorageBackend: "floppy", RemoteBaseURL: "http://localhost:1"})
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestContainerRequiresLibSQLDSN(t *testing.T) {
	t.Parallel()

	_, err := NewContainer(nil, Options{StorageBackend: BackendLibSQL, RemoteBaseURL: "http://localhost:1"})
	assert.ErrorContains(t, err, "STORAGE_DSN")
}
