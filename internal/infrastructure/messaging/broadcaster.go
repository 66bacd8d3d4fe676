// Package messaging provides the alert stream broadcaster.
package messaging

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/monitoring"
)

const clientBuffer = 10

// AlertEvent is the message written to stream clients.
type AlertEvent struct {
	Event string           `json:"event"`
	Alert monitoring.Alert `json:"alert"`
}

// AlertBroadcaster manages alert stream clients.
type AlertBroadcaster struct {
	clients map[string][]chan []byte // clientId -> []channels
	mu      sync.Mutex
	logger  *logging.ChanneledLogger
}

var _ Broadcaster = (*AlertBroadcaster)(nil)

// NewAlertBroadcaster creates an empty broadcaster.
func NewAlertBroadcaster(logger *logging.ChanneledLogger) *AlertBroadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AlertBroadcaster{
		clients: make(map[string][]chan []byte),
		logger:  logger,
	}
}

// AddClient registers a stream client and returns its message channel.
func (b *AlertBroadcaster) AddClient(clientID string) chan []byte {
	ch := make(chan []byte, clientBuffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.clients[clientID] = append(b.clients[clientID], ch)
	b.logger.Alert().Debug("Alert stream client registered", slog.String("clientId", clientID))
	return ch
}

// RemoveClient unregisters ch and closes it.
func (b *AlertBroadcaster) RemoveClient(ch chan []byte, clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, exists := b.clients[clientID]
	if !exists {
		return
	}
	remaining := make([]chan []byte, 0, len(clients))
	for _, client := range clients {
		if client == ch {
			close(ch)
			continue
		}
		remaining = append(remaining, client)
	}
	if len(remaining) == 0 {
		delete(b.clients, clientID)
	} else {
		b.clients[clientID] = remaining
	}
	b.logger.Alert().Debug("Alert stream client unregistered", slog.String("clientId", clientID))
}

// ClientCount returns the number of registered channels.
func (b *AlertBroadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, clients := range b.clients {
		n += len(clients)
	}
	return n
}

// Publish sends alert to every client without blocking. Full channels drop
// the message.
func (b *AlertBroadcaster) Publish(alert monitoring.Alert) {
	event := AlertEvent{Event: "alert_raised", Alert: alert}
	if alert.Resolved {
		event.Event = "alert_resolved"
	}
	message, err := json.Marshal(event)
	if err != nil {
		b.logger.LogError(logging.ChannelAlert, "publish alert", err, map[string]any{"alertId": alert.ID})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for clientID, clients := range b.clients {
		for _, ch := range clients {
			select {
			case ch <- message:
			default:
				b.logger.Alert().Warn("Alert stream channel full, message dropped",
					slog.String("clientId", clientID),
					slog.String("alertId", alert.ID))
			}
		}
	}
}
