// Package task defines the unit of synchronization work and its priorities.
package task

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority orders sync work. Higher values run first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Priorities lists every priority from highest to lowest.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Weight is the ordering weight used when reporting queue pressure.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 1000
	case PriorityHigh:
		return 100
	case PriorityMedium:
		return 10
	default:
		return 1
	}
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// ParsePriority parses the textual form of a priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", s)
	}
}

// FetchRequest is handed to a fetch capability on every attempt.
type FetchRequest struct {
	Key             string
	Attempt         int
	IfModifiedSince time.Time // zero when there is no conditional hint
}

// FetchFunc produces fresh data for a key. Returning faults.ErrNotModified
// answers a conditional fetch with "unchanged".
type FetchFunc func(ctx context.Context, req FetchRequest) (any, error)

// Source identifies who created a task.
type Source string

const (
	SourceConsumer   Source = "consumer"
	SourceRefresh    Source = "refresh"
	SourcePredictive Source = "predictive"
	SourceRetry      Source = "retry"
)

// Task is one unit of synchronization work.
type Task struct {
	Key          string    `json:"key"`
	Category     string    `json:"category"`
	Fetch        FetchFunc `json:"-"`
	Priority     Priority  `json:"priority"`
	Dependencies []string  `json:"dependencies,omitempty"`
	RetryCount   int       `json:"retryCount"`
	QueuedAt     time.Time `json:"queuedAt"`
	LastModified time.Time `json:"lastModified,omitempty"`
	Source       Source    `json:"source,omitempty"`
}

// DependsOn reports whether the task lists key as a dependency.
func (t *Task) DependsOn(key string) bool {
	for _, d := range t.Dependencies {
		if d == key {
			return true
		}
	}
	return false
}

// QueueOutcome describes what queueing a task did.
type QueueOutcome int

const (
	// Queued means the task was added to its priority queue.
	Queued QueueOutcome = iota
	// Promoted means an existing lower-priority task for the key was replaced.
	Promoted
	// Dropped means an equal or higher-priority task for the key was already queued.
	Dropped
	// Rejected means the key is currently executing.
	Rejected
	// Invalid means the task was malformed.
	Invalid
)

func (o QueueOutcome) String() string {
	switch o {
	case Queued:
		return "queued"
	case Promoted:
		return "promoted"
	case Dropped:
		return "dropped"
	case Rejected:
		return "rejected"
	default:
		return "invalid"
	}
}

// Accepted reports whether the task now has an entry in the queues.
func (o QueueOutcome) Accepted() bool {
	return o == Queued || o == Promoted
}

// Submitter accepts sync work. The scheduler implements it; producers such as
// the rehydration service and the predictor depend only on this.
type Submitter interface {
	QueueSync(t Task, priority Priority) QueueOutcome
}
