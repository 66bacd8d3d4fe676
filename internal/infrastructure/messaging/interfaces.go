// Package messaging defines interfaces for real-time communication.
package messaging

import "github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/monitoring"

// Broadcaster fans alert events out to connected stream clients.
type Broadcaster interface {
	AddClient(clientID string) chan []byte
	RemoveClient(ch chan []byte, clientID string)
	ClientCount() int
	Publish(alert monitoring.Alert)
}
