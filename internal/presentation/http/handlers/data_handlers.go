// Package handlers provides HTTP handlers for the presentation layer.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/feedcache-go/internal/application/services"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/task"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
)

// QueueSyncRequest queues one resource for background sync.
type QueueSyncRequest struct {
	Category     string   `json:"category"`
	Resource     string   `json:"resource" binding:"required"`
	Priority     string   `json:"priority"`
	Dependencies []string `json:"dependencies"`
}

// SyncDepartmentsRequest queues department configurations and their feeds.
type SyncDepartmentsRequest struct {
	DepartmentIDs []string `json:"departmentIds" binding:"required,min=1"`
	UserID        string   `json:"userId"`
}

// DataHandlers serves cached data and sync requests
type DataHandlers struct {
	feedSync *services.FeedSyncService
	logger   *logging.ChanneledLogger
}

// NewDataHandlers creates data handlers with injected dependencies
func NewDataHandlers(feedSync *services.FeedSyncService, logger *logging.ChanneledLogger) *DataHandlers {
	return &DataHandlers{
		feedSync: feedSync,
		logger:   logger,
	}
}

// GetData serves a resource cache-first. ?refresh=1 bypasses the cache and
// ?stale=0 disables the stale fallback.
func (h *DataHandlers) GetData(c *gin.Context) {
	start := time.Now()
	category := c.Param("category")
	resource := c.Param("resource")

	opts := services.GetOptions{
		ForceRefresh:         queryFlag(c, "refresh", false),
		DisableStaleFallback: !queryFlag(c, "stale", true),
	}

	result, err := h.feedSync.GetData(c.Request.Context(), category, resource, opts)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidResource):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, faults.ErrFetchTimeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		default:
			h.logger.HTTP().Warn("Data request failed", "category", category, "resource", resource, "error", err.Error())
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}

	c.Header("X-Cache-Status", cacheStatus(result))
	h.logger.HTTP().Debug("Data request completed",
		"key", result.Key, "cached", result.Cached, "stale", result.Stale, "duration", time.Since(start))
	c.JSON(http.StatusOK, result)
}

// QueueSync queues a resource for background sync.
func (h *DataHandlers) QueueSync(c *gin.Context) {
	var req QueueSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}

	priority := task.PriorityMedium
	if req.Priority != "" {
		p, err := task.ParsePriority(req.Priority)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		priority = p
	}

	key, outcome := h.feedSync.QueueSync(req.Category, req.Resource, priority, req.Dependencies)
	response := gin.H{
		"key":      key,
		"outcome":  outcome.String(),
		"priority": priority.String(),
	}
	if outcome == task.Rejected {
		response["error"] = faults.ErrKeyExecuting.Error()
	}
	c.JSON(outcomeStatus(outcome), response)
}

// SyncDepartments queues department configurations at high priority, their
// feeds behind them, and optionally a user's preferences.
func (h *DataHandlers) SyncDepartments(c *gin.Context) {
	var req SyncDepartmentsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}

	report := h.feedSync.SyncActiveDepartments(req.DepartmentIDs)
	response := gin.H{"departments": report}
	if req.UserID != "" {
		response["preferences"] = h.feedSync.SyncUserPreferences(req.UserID).String()
	}
	c.JSON(http.StatusAccepted, response)
}

// SyncCategory re-queues every cached key of a category.
func (h *DataHandlers) SyncCategory(c *gin.Context) {
	report := h.feedSync.TriggerCategorySync(c.Param("category"))
	c.JSON(http.StatusAccepted, report)
}

func queryFlag(c *gin.Context, name string, fallback bool) bool {
	switch c.Query(name) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}

func cacheStatus(r *services.Result) string {
	switch {
	case r.Fallback:
		return "fallback"
	case r.Stale:
		return "stale"
	case r.Cached:
		return "hit"
	}
	return "miss"
}

func outcomeStatus(o task.QueueOutcome) int {
	switch o {
	case task.Queued, task.Promoted:
		return http.StatusAccepted
	case task.Rejected:
		return http.StatusConflict
	case task.Invalid:
		return http.StatusBadRequest
	}
	return http.StatusOK
}
