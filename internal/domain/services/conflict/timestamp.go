package conflict

import (
	"strings"
	"time"
)

var timestampFields = []string{"timestamp", "updatedAt", "lastModified", "modifiedAt", "_timestamp"}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02",
}

// extractTimestamp finds the newest timestamp carried by a normalized value.
// Top-level fields take precedence over _metadata.timestamp. Lists report the newest timestamp among their items.
func extractTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case map[string]any:
		for _, field := range timestampFields {
			if ts, ok := parseTimestamp(v[field]); ok {
				return ts, true
			}
		}
		if meta, ok := v["_metadata"].(map[string]any); ok {
			return parseTimestamp(meta["timestamp"])
		}
	case []any:
		var newest time.Time
		found := false
		for _, item := range v {
			if ts, ok := extractTimestamp(item); ok && (!found || ts.After(newest)) {
				newest, found = ts, true
			}
		}
		return newest, found
	}
	return time.Time{}, false
}

func parseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case float64:
		if v <= 0 {
			return time.Time{}, false
		}
		if v > 1e12 {
			return time.UnixMilli(int64(v)), true
		}
		return time.Unix(int64(v), 0), true
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
