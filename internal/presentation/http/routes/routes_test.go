package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/monitoring"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/security"
)

const testSecret = "test-admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	container *container.Container
	router    *gin.Engine
	fetches   *atomic.Int64
	upstream  *atomic.Bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	var fetches atomic.Int64
	var upstream atomic.Bool
	upstream.Store(true)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "":
			w.WriteHeader(http.StatusOK)
		case "/departments/cs":
			fetches.Add(1)
			if !upstream.Load() {
				http.Error(w, "gone", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"cs","name":"Computer Science"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(remote.Close)

	c, err := container.NewContainer(nil, container.Options{
		StorageBackend: container.BackendMemory,
		RemoteBaseURL:  remote.URL,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return &testEnv{
		container: c,
		router:    NewRouter(c, Settings{AllowedOrigins: "*", AdminSecret: testSecret}),
		fetches:   &fetches,
		upstream:  &upstream,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGetDataServesCacheFirst(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/data/departments/cs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "miss", w.Header().Get("X-Cache-Status"))
	body := decode(t, w)
	assert.Equal(t, "department:cs", body["key"])
	assert.Equal(t, "Computer Science", body["data"].(map[string]any)["name"])

	w = env.do(t, http.MethodGet, "/api/v1/data/departments/cs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hit", w.Header().Get("X-Cache-Status"))
	assert.Equal(t, int64(1), env.fetches.Load())

	w = env.do(t, http.MethodGet, "/api/v1/data/departments/cs?refresh=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), env.fetches.Load())
}

func TestGetDataRemoteFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/data/departments/unknown", "", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decode(t, w)["error"], "404")
}

func TestGetDataFallbackCarriesFetchError(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/data/departments/cs", "", "").Code)
	env.upstream.Store(false)

	w := env.do(t, http.MethodGet, "/api/v1/data/departments/cs?refresh=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fallback", w.Header().Get("X-Cache-Status"))
	body := decode(t, w)
	assert.Equal(t, true, body["fallback"])
	assert.Equal(t, true, body["stale"])
	assert.Contains(t, body["error"], "404")
	assert.Equal(t, "Computer Science", body["data"].(map[string]any)["name"])

	w = env.do(t, http.MethodGet, "/api/v1/data/departments/cs?refresh=1&stale=0", "", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestQueueSyncValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/sync", `{"category":"departments","resource":"math","priority":"high"}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, "department:math", body["key"])
	assert.Equal(t, "queued", body["outcome"])

	w = env.do(t, http.MethodPost, "/api/v1/sync", `{"resource":"math","priority":"urgent"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/sync", `{"category":"departments"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/sync/departments", `{"departmentIds":[]}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBehaviorTracking(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/behavior/track", `{"subject":"cs","route":"/departments/cs","dwellMs":1500}`, "")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = env.do(t, http.MethodPost, "/api/v1/behavior/track", `{"route":"/"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/behavior/predictions", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotNil(t, body["predictions"])
	assert.Equal(t, float64(1), body["stats"].(map[string]any)["pageViews"])
}

func TestHealthStatsAndAlerts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "fast", body["network"])
	assert.Equal(t, float64(0), body["activeAlerts"])

	w = env.do(t, http.MethodGet, "/api/v1/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	for _, section := range []string{"cache", "rehydration", "sync", "conflicts", "prediction", "performance"} {
		assert.Contains(t, body, section)
	}

	env.container.Monitor.RecordSync(performance.SyncFailure, "department:cs", 0)
	w = env.do(t, http.MethodGet, "/api/v1/alerts", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	require.Len(t, body["active"], 1)
	assert.Empty(t, body["history"])
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, http.MethodDelete, "/api/v1/cache", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/cache", "", "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	viewer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "viewer",
		"role": "viewer",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	w = env.do(t, http.MethodDelete, "/api/v1/cache", "", viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin, err := security.GenerateAdminToken("ops", testSecret, time.Hour)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/data/departments/cs", "", "").Code)
	w = env.do(t, http.MethodGet, "/api/v1/cache/keys?category=departments", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"department:cs"}, decode(t, w)["keys"])

	w = env.do(t, http.MethodDelete, "/api/v1/cache?category=departments", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["removed"])
	assert.Equal(t, "departments", body["category"])

	w = env.do(t, http.MethodPost, "/api/v1/cache/cleanup", "", admin)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/sync/failures", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["cleared"])

	w = env.do(t, http.MethodPost, "/api/v1/behavior/reset", "", admin)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutesDisabledWithoutSecret(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	router := NewRouter(env.container, Settings{AllowedOrigins: "*"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cache/cleanup", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/data/departments/cs", "", "").Code)
	w := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "feedcache_cache_events_total")
}

func TestAlertStream(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/alerts/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool {
		return env.container.Broadcaster.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	env.container.Monitor.RecordSync(performance.SyncFailure, "department:cs", 0)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var event messaging.AlertEvent
	require.NoError(t, json.Unmarshal(msg, &event))
	assert.Equal(t, "alert_raised", event.Event)
	assert.Equal(t, monitoring.AlertErrorRate, event.Alert.Type)
}
