package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/monitoring"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
)

func testAlert(id string) monitoring.Alert {
	return monitoring.Alert{
		ID:        id,
		Type:      monitoring.AlertErrorRate,
		Severity:  performance.AlertCritical,
		Message:   "Error rate 50% above 10%",
		CreatedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Count:     1,
	}
}

func TestBroadcasterDeliversToEveryClient(t *testing.T) {
	t.Parallel()

	b := NewAlertBroadcaster(logging.NewNop())
	first := b.AddClient("a")
	second := b.AddClient("b")
	assert.Equal(t, 2, b.ClientCount())

	b.Publish(testAlert("01A"))

	for _, ch := range []chan []byte{first, second} {
		var event AlertEvent
		require.NoError(t, json.Unmarshal(<-ch, &event))
		assert.Equal(t, "alert_raised", event.Event)
		assert.Equal(t, "01A", event.Alert.ID)
	}

	resolved := testAlert("01A")
	resolved.Resolved = true
	b.Publish(resolved)
	var event AlertEvent
	require.NoError(t, json.Unmarshal(<-first, &event))
	assert.Equal(t, "alert_resolved", event.Event)
}

func TestBroadcasterDropsWhenClientIsFull(t *testing.T) {
	t.Parallel()

	b := NewAlertBroadcaster(logging.NewNop())
	ch := b.AddClient("slow")
	for i := 0; i < clientBuffer+5; i++ {
		b.Publish(testAlert("x"))
	}
	assert.Len(t, ch, clientBuffer)
}

func TestBroadcasterRemoveClosesChannel(t *testing.T) {
	t.Parallel()

	b := NewAlertBroadcaster(logging.NewNop())
	first := b.AddClient("a")
	second := b.AddClient("a")
	b.RemoveClient(first, "a")
	assert.Equal(t, 1, b.ClientCount())

	_, open := <-first
	assert.False(t, open)

	b.Publish(testAlert("01B"))
	assert.Len(t, second, 1)

	b.RemoveClient(second, "a")
	b.RemoveClient(second, "a")
	assert.Equal(t, 0, b.ClientCount())
}
