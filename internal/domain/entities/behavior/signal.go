// Package behavior defines interaction signals and the aggregates derived from them.
package behavior

import (
	"fmt"
	"time"
)

// PageView is one observed interaction.
type PageView struct {
	Subject   string        `json:"subject"`
	Route     string        `json:"route,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Dwell     time.Duration `json:"dwell,omitempty"`
}

// SubjectAccess aggregates every interaction with one subject.
type SubjectAccess struct {
	Count       int           `json:"count"`
	FirstSeen   time.Time     `json:"firstSeen"`
	LastSeen    time.Time     `json:"lastSeen"`
	TotalDwell  time.Duration `json:"totalDwell"`
	AccessTimes []time.Time   `json:"accessTimes"`
}

// AverageDwell returns the mean dwell per access.
func (s *SubjectAccess) AverageDwell() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDwell / time.Duration(s.Count)
}

// TemporalBucket counts accesses per subject inside one day-of-week x hour slot.
type TemporalBucket struct {
	Total    int            `json:"total"`
	Subjects map[string]int `json:"subjects"`
}

// Sequence is an ordered chain of subjects and how often it was observed.
type Sequence struct {
	Subjects  []string  `json:"subjects"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
}

// Snapshot is the persisted form of all behavior aggregates.
type Snapshot struct {
	PageViews       []PageView                 `json:"pageViews"`
	SubjectAccess   map[string]*SubjectAccess  `json:"subjectAccess"`
	TemporalBuckets map[string]*TemporalBucket `json:"temporalBuckets"`
	Sequences       []Sequence                 `json:"sequences"`
	SavedAt         time.Time                  `json:"savedAt"`
}

// NewSnapshot returns an empty snapshot with initialized maps.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		SubjectAccess:   make(map[string]*SubjectAccess),
		TemporalBuckets: make(map[string]*TemporalBucket),
	}
}

// BucketKey returns the day-of-week x hour slot for t.
func BucketKey(t time.Time) string {
	return SlotKey(t.Weekday(), t.Hour())
}

// SlotKey formats a slot key, wrapping the hour into [0, 24).
func SlotKey(day time.Weekday, hour int) string {
	hour = ((hour % 24) + 24) % 24
	return fmt.Sprintf("%d-%d", int(day), hour)
}

// Reason explains why a subject was predicted.
type Reason string

const (
	ReasonTemporal   Reason = "temporal"
	ReasonSequential Reason = "sequential"
	ReasonFrequency  Reason = "frequency"
)

// Prediction is a subject the user is likely to access next.
type Prediction struct {
	Subject    string    `json:"subject"`
	Confidence float64   `json:"confidence"`
	Reasons    []Reason  `json:"reasons"`
	CreatedAt  time.Time `json:"createdAt"`
}
