package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/feedcache-go/internal/application/services"
	"github.com/AtRiskMedia/feedcache-go/internal/domain/entities/behavior"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/presentation/http/middleware"
)

// TrackRequest records one page view.
type TrackRequest struct {
	Subject    string     `json:"subject" binding:"required"`
	Route      string     `json:"route"`
	Timestamp  *time.Time `json:"timestamp"`
	DwellMs    int64      `json:"dwellMs"`
	Foreground *bool      `json:"foreground"`
}

// BehaviorHandlers exposes interaction tracking and predictions
type BehaviorHandlers struct {
	predictor *services.BehaviorPredictor
	logger    *logging.ChanneledLogger
}

// NewBehaviorHandlers creates behavior handlers with injected dependencies
func NewBehaviorHandlers(predictor *services.BehaviorPredictor, logger *logging.ChanneledLogger) *BehaviorHandlers {
	return &BehaviorHandlers{
		predictor: predictor,
		logger:    logger,
	}
}

// Track records a page view. Prediction runs later and never delays the response.
func (h *BehaviorHandlers) Track(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format", "details": err.Error()})
		return
	}
	if req.DwellMs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "dwellMs must not be negative"})
		return
	}

	if req.Foreground != nil {
		h.predictor.SetForeground(*req.Foreground)
	}

	view := behavior.PageView{
		Subject: req.Subject,
		Route:   req.Route,
		Dwell:   time.Duration(req.DwellMs) * time.Millisecond,
	}
	if req.Timestamp != nil {
		view.Timestamp = *req.Timestamp
	}
	if err := h.predictor.Track(view); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"tracked": req.Subject})
}

// Predictions returns the current ranked predictions.
func (h *BehaviorHandlers) Predictions(c *gin.Context) {
	predictions := h.predictor.Predict()
	if predictions == nil {
		predictions = []behavior.Prediction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"predictions": predictions,
		"stats":       h.predictor.Stats(),
	})
}

// Reset discards every learned aggregate.
func (h *BehaviorHandlers) Reset(c *gin.Context) {
	if err := h.predictor.Reset(); err != nil {
		h.logger.LogError(logging.ChannelPredict, "reset behavior data", err, nil)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset behavior data"})
		return
	}
	h.logger.Predict().Info("Behavior data reset", "admin", middleware.AdminSubject(c))
	c.JSON(http.StatusOK, gin.H{"reset": true})
}
