// Package database provides database helper functions
package database

import (
	"strings"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
)

// SlowQueryThreshold is the duration above which storage calls are logged as slow.
var SlowQueryThreshold = 100 * time.Millisecond

// CheckAndLogSlowQuery logs a query on the storage channel if it exceeded the threshold.
func CheckAndLogSlowQuery(logger *logging.ChanneledLogger, query string, duration time.Duration) {
	threshold := SlowQueryThreshold
	if strings.HasPrefix(query, "BULK_") || strings.HasPrefix(query, "DATABASE_") {
		threshold *= 3
	}

	if duration > threshold {
		logger.Storage().Warn("Slow query detected",
			"query", sanitizeQuery(query),
			"duration", duration)
	}
}

func sanitizeQuery(query string) string {
	query = strings.ReplaceAll(query, "\n", " ")
	query = strings.ReplaceAll(query, "\t", " ")
	if len(query) > 500 {
		query = query[:500] + "..."
	}
	return query
}
