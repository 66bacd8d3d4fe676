package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/monitoring"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/security"
)

const (
	streamWriteWait    = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongWait     = 2 * streamPingInterval
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MonitorHandlers serves health, statistics and the alert stream
type MonitorHandlers struct {
	container *container.Container
	logger    *logging.ChanneledLogger
}

// NewMonitorHandlers creates monitor handlers with injected dependencies
func NewMonitorHandlers(c *container.Container, logger *logging.ChanneledLogger) *MonitorHandlers {
	return &MonitorHandlers{
		container: c,
		logger:    logger,
	}
}

// Health reports the overall score. Unhealthy engines answer 503.
func (h *MonitorHandlers) Health(c *gin.Context) {
	health := h.container.Monitor.Health()
	status := http.StatusOK
	if health.Status == performance.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":       health.Status,
		"score":        health.Score,
		"rating":       health.Rating,
		"network":      h.container.Detector.Quality().String(),
		"activeAlerts": len(h.container.Monitor.ActiveAlerts()),
		"timestamp":    time.Now().UTC(),
	})
}

// Stats returns every component's statistics and the performance report.
func (h *MonitorHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cache":       h.container.Store.Stats(),
		"rehydration": h.container.Rehydration.Stats(),
		"sync":        h.container.Scheduler.Stats(),
		"conflicts":   h.container.Resolver.Stats(),
		"prediction":  h.container.Predictor.Stats(),
		"performance": h.container.Monitor.Report(),
	})
}

// Alerts lists active alerts and resolved history.
func (h *MonitorHandlers) Alerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":  nonNilAlerts(h.container.Monitor.ActiveAlerts()),
		"history": nonNilAlerts(h.container.Monitor.AlertHistory()),
	})
}

// StreamAlerts upgrades to a websocket and pushes alert events. Active alerts
// are sent first.
func (h *MonitorHandlers) StreamAlerts(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.HTTP().Warn("Alert stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	broadcaster := h.container.Broadcaster
	clientID := security.NewStreamClientID()
	ch := broadcaster.AddClient(clientID)
	defer broadcaster.RemoveClient(ch, clientID)

	h.logger.HTTP().Info("Alert stream connected", slog.String("clientId", clientID))

	for _, alert := range h.container.Monitor.ActiveAlerts() {
		msg, err := json.Marshal(messaging.AlertEvent{Event: "alert_active", Alert: alert})
		if err != nil {
			continue
		}
		if err := writeMessage(conn, websocket.TextMessage, msg); err != nil {
			return
		}
	}

	// The reader only drains control frames and notices the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.HTTP().Info("Alert stream disconnected", slog.String("clientId", clientID))
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := writeMessage(conn, websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := writeMessage(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeMessage(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteMessage(messageType, data)
}

func nonNilAlerts(alerts []monitoring.Alert) []monitoring.Alert {
	if alerts == nil {
		return []monitoring.Alert{}
	}
	return alerts
}
