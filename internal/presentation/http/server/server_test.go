package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/routes"
)

func newTestContainer(t *testing.T) *container.Container {
	t.Helper()
	gin.SetMode(gin.TestMode)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(remote.Close)

	c, err := container.NewContainer(nil, container.Options{
		StorageBackend: container.BackendMemory,
		RemoteBaseURL:  remote.URL,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestBarePortIsNormalized(t *testing.T) {
	c := newTestContainer(t)

	assert.Equal(t, ":8080", New("8080", c, routes.Settings{}).Addr())
	assert.Equal(t, "127.0.0.1:9000", New("127.0.0.1:9000", c, routes.Settings{}).Addr())
}

func TestServeAndStop(t *testing.T) {
	c := newTestContainer(t)
	srv := New("127.0.0.1:0", c, routes.Settings{AllowedOrigins: "*"})
	require.NoError(t, srv.Listen())
	require.NotEqual(t, "127.0.0.1:0", srv.Addr())

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
