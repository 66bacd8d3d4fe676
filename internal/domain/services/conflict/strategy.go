// Package conflict reconciles a locally cached value with a freshly fetched one.
package conflict

import (
	"fmt"
	"strings"
)

// Strategy selects how a cached and a fresh value are reconciled.
type Strategy int

const (
	// Auto picks a strategy from the key rules and the category table.
	Auto Strategy = iota
	NoConflict
	ClientWins
	ServerWins
	TimestampWins
	MergeDedup
	FieldLevelMerge
	// FallbackServer marks a failed resolution that returned the fresh value unmodified.
	FallbackServer
)

var strategyNames = map[Strategy]string{
	Auto:            "auto",
	NoConflict:      "no_conflict",
	ClientWins:      "client_wins",
	ServerWins:      "server_wins",
	TimestampWins:   "timestamp_wins",
	MergeDedup:      "merge_dedup",
	FieldLevelMerge: "field_level_merge",
	FallbackServer:  "fallback_server",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// MarshalText renders the strategy by name in JSON payloads.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by String.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStrategy maps a strategy name to its value. Dashes are accepted in place of underscores.
func ParseStrategy(name string) (Strategy, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	if normalized == "" {
		return Auto, nil
	}
	for strategy, candidate := range strategyNames {
		if candidate == normalized {
			return strategy, nil
		}
	}
	return Auto, fmt.Errorf("unknown conflict strategy %q", name)
}

// ConflictType classifies how the two values differ.
type ConflictType string

const (
	ConflictNone        ConflictType = "none"
	LengthMismatch      ConflictType = "length_mismatch"
	ContentDifference   ConflictType = "content_difference"
	StructureDifference ConflictType = "structure_difference"
	TimestampConflict   ConflictType = "timestamp_conflict"
	FieldDifference     ConflictType = "field_difference"
	ValueDifference     ConflictType = "value_difference"
)

// KeyRule overrides the category strategy for keys containing a marker.
type KeyRule struct {
	Contains string
	Strategy Strategy
}

// DefaultKeyRules route user-local keys to the client and feed keys to merge-dedup.
func DefaultKeyRules() []KeyRule {
	return []KeyRule{
		{Contains: "user:", Strategy: ClientWins},
		{Contains: "preferences:", Strategy: ClientWins},
		{Contains: "rss:", Strategy: MergeDedup},
		{Contains: "feed:", Strategy: MergeDedup},
	}
}

// DefaultCategoryStrategies is the per-category strategy table.
func DefaultCategoryStrategies() map[string]Strategy {
	return map[string]Strategy{
		"departments": ServerWins,
		"rssItems":    MergeDedup,
		"preferences": ClientWins,
		"userState":   TimestampWins,
		"default":     TimestampWins,
	}
}

// DefaultClientFields and DefaultServerFields drive field-level merges.
var (
	DefaultClientFields = []string{"preferences", "settings", "userState", "lastViewed"}
	DefaultServerFields = []string{"version", "updatedAt", "id", "createdAt"}
)
