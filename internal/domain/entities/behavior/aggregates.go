package behavior

import (
	"sort"
	"time"
)

const (
	MaxPageViews   = 100
	MaxAccessTimes = 20
	MaxSequences   = 50
	// SequenceWindow is how many trailing subjects form one sequence.
	SequenceWindow = 5
	// dwellGap bounds the gap between two accesses that still counts as dwell
	// when the interaction did not report one.
	dwellGap = 30 * time.Minute
)

// Record folds one interaction into every aggregate.
func (s *Snapshot) Record(view PageView) {
	if s.SubjectAccess == nil {
		s.SubjectAccess = make(map[string]*SubjectAccess)
	}
	if s.TemporalBuckets == nil {
		s.TemporalBuckets = make(map[string]*TemporalBucket)
	}

	s.PageViews = append(s.PageViews, view)
	if overflow := len(s.PageViews) - MaxPageViews; overflow > 0 {
		s.PageViews = append([]PageView(nil), s.PageViews[overflow:]...)
	}

	s.recordAccess(view)
	s.recordBucket(view)
	s.recordSequence(view.Timestamp)
}

func (s *Snapshot) recordAccess(view PageView) {
	access, ok := s.SubjectAccess[view.Subject]
	if !ok {
		access = &SubjectAccess{FirstSeen: view.Timestamp, LastSeen: view.Timestamp}
		s.SubjectAccess[view.Subject] = access
	}

	dwell := view.Dwell
	if dwell <= 0 && ok {
		if gap := view.Timestamp.Sub(access.LastSeen); gap > 0 && gap < dwellGap {
			dwell = gap
		}
	}

	access.Count++
	access.TotalDwell += dwell
	if view.Timestamp.After(access.LastSeen) {
		access.LastSeen = view.Timestamp
	}
	access.AccessTimes = append(access.AccessTimes, view.Timestamp)
	if overflow := len(access.AccessTimes) - MaxAccessTimes; overflow > 0 {
		access.AccessTimes = append([]time.Time(nil), access.AccessTimes[overflow:]...)
	}
}

func (s *Snapshot) recordBucket(view PageView) {
	key := BucketKey(view.Timestamp)
	bucket, ok := s.TemporalBuckets[key]
	if !ok {
		bucket = &TemporalBucket{Subjects: make(map[string]int)}
		s.TemporalBuckets[key] = bucket
	}
	bucket.Total++
	bucket.Subjects[view.Subject]++
}

func (s *Snapshot) recordSequence(at time.Time) {
	recent := s.RecentSubjects(SequenceWindow)
	if len(recent) < 2 {
		return
	}

	found := false
	for i := range s.Sequences {
		if equalSubjects(s.Sequences[i].Subjects, recent) {
			s.Sequences[i].Count++
			s.Sequences[i].LastSeen = at
			found = true
			break
		}
	}
	if !found {
		s.Sequences = append(s.Sequences, Sequence{
			Subjects:  recent,
			Count:     1,
			FirstSeen: at,
			LastSeen:  at,
		})
	}

	sort.SliceStable(s.Sequences, func(i, j int) bool { return s.Sequences[i].Count > s.Sequences[j].Count })
	if len(s.Sequences) > MaxSequences {
		s.Sequences = s.Sequences[:MaxSequences]
	}
}

// RecentSubjects returns the subjects of the last n page views, oldest first.
func (s *Snapshot) RecentSubjects(n int) []string {
	start := len(s.PageViews) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(s.PageViews)-start)
	for _, view := range s.PageViews[start:] {
		out = append(out, view.Subject)
	}
	return out
}

// TotalAccess sums the access counts of every subject.
func (s *Snapshot) TotalAccess() int {
	total := 0
	for _, access := range s.SubjectAccess {
		total += access.Count
	}
	return total
}

func equalSubjects(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
