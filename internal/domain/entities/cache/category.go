package cache

import (
	"sort"
	"time"
)

// Well-known categories.
const (
	CategoryDepartments = "departments"
	CategoryRSSItems    = "rssItems"
	CategoryPreferences = "preferences"
	CategoryUserState   = "userState"
	CategoryDefault     = "default"
)

// Policy is the TTL and retention priority applied to one category.
type Policy struct {
	Category     string        `json:"category"`
	TTL          time.Duration `json:"ttl"`
	BasePriority int           `json:"basePriority"`
}

// PolicyTable resolves categories to policies. Unknown categories use the
// fallback policy.
type PolicyTable struct {
	policies map[string]Policy
	fallback Policy
}

// NewPolicyTable builds a table from a fallback and a set of category policies.
func NewPolicyTable(fallback Policy, policies ...Policy) *PolicyTable {
	t := &PolicyTable{
		policies: make(map[string]Policy, len(policies)),
		fallback: fallback,
	}
	for _, p := range policies {
		t.policies[p.Category] = p
	}
	return t
}

// DefaultPolicyTable returns the stock department feed policies.
func DefaultPolicyTable() *PolicyTable {
	return NewPolicyTable(
		Policy{Category: CategoryDefault, TTL: 5 * time.Minute, BasePriority: 5},
		Policy{Category: CategoryDepartments, TTL: 24 * time.Hour, BasePriority: 10},
		Policy{Category: CategoryRSSItems, TTL: 30 * time.Minute, BasePriority: 7},
		Policy{Category: CategoryPreferences, TTL: 7 * 24 * time.Hour, BasePriority: 9},
		Policy{Category: CategoryUserState, TTL: 2 * time.Hour, BasePriority: 8},
	)
}

// Lookup returns the policy for a category.
func (t *PolicyTable) Lookup(category string) Policy {
	if p, ok := t.policies[category]; ok {
		return p
	}
	return t.fallback
}

func (t *PolicyTable) TTL(category string) time.Duration { return t.Lookup(category).TTL }

func (t *PolicyTable) BasePriority(category string) int { return t.Lookup(category).BasePriority }

// Categories lists the explicitly configured categories, sorted.
func (t *PolicyTable) Categories() []string {
	out := make([]string, 0, len(t.policies))
	for c := range t.policies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
