package conflict

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// normalize converts a value into its generic JSON form. It returns the full
// form and a copy without top-level _metadata so envelopes do not register as
// conflicts.
func normalize(value any) (full, stripped any, err error) {
	if value == nil {
		return nil, nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	if err := json.Unmarshal(raw, &full); err != nil {
		return nil, nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	m, ok := full.(map[string]any)
	if !ok {
		return full, full, nil
	}
	if _, has := m["_metadata"]; !has {
		return full, full, nil
	}
	trimmed := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k != "_metadata" {
			trimmed[k] = v
		}
	}
	return full, trimmed, nil
}

func conflictTypeOf(cached, fresh any) ConflictType {
	switch c := cached.(type) {
	case []any:
		if f, ok := fresh.([]any); ok {
			if len(c) != len(f) {
				return LengthMismatch
			}
			return ContentDifference
		}
	case map[string]any:
		if f, ok := fresh.(map[string]any); ok {
			if len(c) != len(f) {
				return StructureDifference
			}
			ct, cok := c["timestamp"]
			ft, fok := f["timestamp"]
			if cok && fok && !reflect.DeepEqual(ct, ft) {
				return TimestampConflict
			}
			return FieldDifference
		}
	}
	return ValueDifference
}

// identityOf keys an item by its identity field, falling back to its JSON form.
func identityOf(item any, field string) string {
	if m, ok := item.(map[string]any); ok {
		if id, exists := m[field]; exists && id != nil && id != "" {
			return "id:" + fmt.Sprint(id)
		}
	}
	raw, _ := json.Marshal(item)
	return "json:" + string(raw)
}

// mergeLists unions two lists by identity. Cached order is kept, fresh items
// replace cached ones in place, and new fresh items are appended.
func mergeLists(cached, fresh []any, identityField, sortField string) []any {
	index := make(map[string]int, len(cached)+len(fresh))
	merged := make([]any, 0, len(cached)+len(fresh))

	add := func(item any) {
		id := identityOf(item, identityField)
		if pos, ok := index[id]; ok {
			merged[pos] = item
			return
		}
		index[id] = len(merged)
		merged = append(merged, item)
	}
	for _, item := range cached {
		add(item)
	}
	for _, item := range fresh {
		add(item)
	}

	if sortField != "" {
		sort.SliceStable(merged, func(i, j int) bool {
			return sortsBefore(fieldOf(merged[i], sortField), fieldOf(merged[j], sortField))
		})
	}
	return merged
}

func fieldOf(item any, field string) any {
	if m, ok := item.(map[string]any); ok {
		return m[field]
	}
	return nil
}

// sortsBefore orders newest or largest first. Missing values sink to the end.
func sortsBefore(a, b any) bool {
	if a == nil || b == nil {
		return a != nil && b == nil
	}
	if ta, ok := parseTimestamp(a); ok {
		if tb, ok := parseTimestamp(b); ok {
			return ta.After(tb)
		}
	}
	if fa, ok := a.(float64); ok {
		if fb, ok := b.(float64); ok {
			return fa > fb
		}
	}
	return fmt.Sprint(a) > fmt.Sprint(b)
}

func mergeObjects(cached, fresh map[string]any) map[string]any {
	merged := make(map[string]any, len(cached)+len(fresh))
	for k, v := range cached {
		merged[k] = v
	}
	for k, v := range fresh {
		merged[k] = v
	}
	return merged
}

// FieldConflict records one field that differed during a field-level merge.
type FieldConflict struct {
	Field    string `json:"field"`
	Cached   any    `json:"cached"`
	Fresh    any    `json:"fresh"`
	Resolved any    `json:"resolved"`
}

func (r *Resolver) mergeFields(cached, fresh map[string]any, fallback Strategy) (map[string]any, []FieldConflict) {
	keys := make([]string, 0, len(cached)+len(fresh))
	seen := make(map[string]struct{}, len(cached)+len(fresh))
	for _, source := range []map[string]any{cached, fresh} {
		for k := range source {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)

	merged := make(map[string]any, len(keys))
	var conflicts []FieldConflict
	for _, k := range keys {
		cv, inCached := cached[k]
		fv, inFresh := fresh[k]
		switch {
		case !inCached:
			merged[k] = fv
		case !inFresh:
			merged[k] = cv
		case reflect.DeepEqual(cv, fv):
			merged[k] = fv
		default:
			resolved := fv
			if r.fieldStrategy(k, fallback) == ClientWins {
				resolved = cv
			}
			merged[k] = resolved
			conflicts = append(conflicts, FieldConflict{Field: k, Cached: cv, Fresh: fv, Resolved: resolved})
		}
	}
	return merged, conflicts
}

func (r *Resolver) fieldStrategy(field string, fallback Strategy) Strategy {
	if _, ok := r.clientFields[field]; ok {
		return ClientWins
	}
	if _, ok := r.serverFields[field]; ok {
		return ServerWins
	}
	if fallback == ClientWins {
		return ClientWins
	}
	return ServerWins
}
