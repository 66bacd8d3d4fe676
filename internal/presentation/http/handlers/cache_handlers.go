package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/feedcache-go/internal/application/services"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/middleware"
)

// CacheHandlers handles cache maintenance and sync failure management
type CacheHandlers struct {
	store     *store.Store
	scheduler *services.SyncScheduler
	logger    *logging.ChanneledLogger
}

// NewCacheHandlers creates cache handlers with injected dependencies
func NewCacheHandlers(st *store.Store, scheduler *services.SyncScheduler, logger *logging.ChanneledLogger) *CacheHandlers {
	return &CacheHandlers{
		store:     st,
		scheduler: scheduler,
		logger:    logger,
	}
}

// ClearCache removes every entry, or only those of ?category=.
func (h *CacheHandlers) ClearCache(c *gin.Context) {
	category := c.Query("category")
	removed := h.store.Clear(category)

	h.logger.Cache().Info("Cache cleared by admin",
		slog.String("admin", middleware.AdminSubject(c)),
		slog.String("category", category),
		slog.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"removed": removed, "category": category})
}

// Keys lists cached keys, optionally of one ?category=.
func (h *CacheHandlers) Keys(c *gin.Context) {
	category := c.Query("category")
	c.JSON(http.StatusOK, gin.H{"category": category, "keys": h.store.Keys(category)})
}

// Cleanup runs one expiry and eviction pass.
func (h *CacheHandlers) Cleanup(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Cleanup())
}

// SyncFailures lists tasks that exhausted their retries.
func (h *CacheHandlers) SyncFailures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"failures": h.scheduler.FailedTasks()})
}

// ClearSyncFailures forgets permanently failed tasks.
func (h *CacheHandlers) ClearSyncFailures(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cleared": h.scheduler.ClearFailures()})
}

// SyncHistory returns recent sync attempts, oldest first.
func (h *CacheHandlers) SyncHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"history": h.scheduler.History()})
}
