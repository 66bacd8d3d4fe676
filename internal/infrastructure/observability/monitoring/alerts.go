package monitoring

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/performance"
)

// AlertType identifies the threshold an alert was raised for. Alerts of the
// same type are coalesced while active.
type AlertType string

const (
	AlertCacheHitRate       AlertType = "cache_hit_rate"
	AlertCacheResponseTime  AlertType = "cache_response_time"
	AlertStorageUsage       AlertType = "storage_usage"
	AlertSyncTime           AlertType = "sync_time"
	AlertErrorRate          AlertType = "error_rate"
	AlertPredictionAccuracy AlertType = "prediction_accuracy"
)

// Alert represents a threshold breach.
type Alert struct {
	ID           string                    `json:"id"`
	Type         AlertType                 `json:"type"`
	Severity     performance.AlertSeverity `json:"severity"`
	Message      string                    `json:"message"`
	CurrentValue float64                   `json:"currentValue"`
	Threshold    float64                   `json:"threshold"`
	CreatedAt    time.Time                 `json:"createdAt"`
	LastSeen     time.Time                 `json:"lastSeen"`
	Count        int                       `json:"count"`
	Resolved     bool                      `json:"resolved"`
	ResolvedAt   *time.Time                `json:"resolvedAt,omitempty"`
}

// AlertListener receives newly raised and resolved alerts.
type AlertListener func(alert Alert)

// alertBook holds active alerts by type plus a bounded history of resolved ones.
type alertBook struct {
	active     map[AlertType]*Alert
	history    []Alert
	maxHistory int
}

func newAlertBook(maxHistory int) *alertBook {
	return &alertBook{
		active:     make(map[AlertType]*Alert),
		maxHistory: maxHistory,
	}
}

// raise creates an alert or coalesces into the active one of the same type.
// It reports whether a new alert was created.
func (b *alertBook) raise(now time.Time, typ AlertType, severity performance.AlertSeverity, message string, current, threshold float64) (Alert, bool) {
	if existing, ok := b.active[typ]; ok {
		existing.Count++
		existing.LastSeen = now
		existing.CurrentValue = current
		existing.Message = message
		return *existing, false
	}

	alert := &Alert{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Type:         typ,
		Severity:     severity,
		Message:      message,
		CurrentValue: current,
		Threshold:    threshold,
		CreatedAt:    now,
		LastSeen:     now,
		Count:        1,
	}
	b.active[typ] = alert
	return *alert, true
}

// resolveQuiet moves alerts not seen within quiet into history.
func (b *alertBook) resolveQuiet(now time.Time, quiet time.Duration) []Alert {
	var resolved []Alert
	for typ, alert := range b.active {
		if now.Sub(alert.LastSeen) <= quiet {
			continue
		}
		at := now
		alert.Resolved = true
		alert.ResolvedAt = &at
		resolved = append(resolved, *alert)
		delete(b.active, typ)
	}
	sortAlerts(resolved)

	b.history = append(b.history, resolved...)
	if over := len(b.history) - b.maxHistory; over > 0 {
		b.history = append([]Alert(nil), b.history[over:]...)
	}
	return resolved
}

func (b *alertBook) activeAlerts() []Alert {
	out := make([]Alert, 0, len(b.active))
	for _, alert := range b.active {
		out = append(out, *alert)
	}
	sortAlerts(out)
	return out
}

func (b *alertBook) historyAlerts() []Alert {
	return append([]Alert(nil), b.history...)
}
