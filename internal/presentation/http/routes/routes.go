// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/middleware"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
)

// Settings carries the security configuration of the router.
type Settings struct {
	AllowedOrigins string
	AdminSecret    string
}

// ConfigSettings reads router settings from pkg/config.
func ConfigSettings() Settings {
	return Settings{
		AllowedOrigins: config.CORSAllowedOrigins,
		AdminSecret:    config.AdminJWTSecret,
	}
}

// NewRouter configures all HTTP routes and middleware with dependency injection.
func NewRouter(container *container.Container, settings Settings) *gin.Engine {
	r := gin.Default()

	r.Use(middleware.CORSMiddleware(settings.AllowedOrigins))
	r.Use(middleware.ObservationMiddleware(container.Monitor))

	// Initialize handlers
	dataHandlers := handlers.NewDataHandlers(container.FeedSync, container.Logger)
	behaviorHandlers := handlers.NewBehaviorHandlers(container.Predictor, container.Logger)
	monitorHandlers := handlers.NewMonitorHandlers(container, container.Logger)
	cacheHandlers := handlers.NewCacheHandlers(container.Store, container.Scheduler, container.Logger)

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(container.Registry, promhttp.HandlerOpts{})))

	api := r.Group("/api/v1")
	{
		api.GET("/health", monitorHandlers.Health)
		api.GET("/data/:category/*resource", dataHandlers.GetData)

		api.POST("/sync", dataHandlers.QueueSync)
		api.POST("/sync/departments", dataHandlers.SyncDepartments)
		api.POST("/sync/category/:category", dataHandlers.SyncCategory)
		api.GET("/sync/failures", cacheHandlers.SyncFailures)
		api.GET("/sync/history", cacheHandlers.SyncHistory)

		api.POST("/behavior/track", behaviorHandlers.Track)
		api.GET("/behavior/predictions", behaviorHandlers.Predictions)

		api.GET("/cache/keys", cacheHandlers.Keys)
		api.GET("/stats", monitorHandlers.Stats)
		api.GET("/alerts", monitorHandlers.Alerts)
		api.GET("/alerts/stream", monitorHandlers.StreamAlerts)
	}

	// Admin endpoints require a bearer JWT with the admin role
	admin := r.Group("/api/v1")
	admin.Use(middleware.AdminAuthMiddleware(settings.AdminSecret, container.Logger))
	{
		admin.DELETE("/cache", cacheHandlers.ClearCache)
		admin.POST("/cache/cleanup", cacheHandlers.Cleanup)
		admin.DELETE("/sync/failures", cacheHandlers.ClearSyncFailures)
		admin.POST("/behavior/reset", behaviorHandlers.Reset)
	}

	return r
}
