package behavior

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monday = time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC)

func TestRecordUpdatesEveryAggregate(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	s.Record(PageView{Subject: "cs", Timestamp: monday, Dwell: 2 * time.Minute})
	s.Record(PageView{Subject: "math", Timestamp: monday.Add(time.Minute)})
	s.Record(PageView{Subject: "cs", Timestamp: monday.Add(5 * time.Minute)})

	require.Len(t, s.PageViews, 3)
	cs := s.SubjectAccess["cs"]
	require.NotNil(t, cs)
	assert.Equal(t, 2, cs.Count)
	// second access had no dwell, so the 5 minute gap is used
	assert.Equal(t, 7*time.Minute, cs.TotalDwell)
	assert.Equal(t, monday.Add(5*time.Minute), cs.LastSeen)
	assert.Equal(t, 3, s.TotalAccess())

	bucket := s.TemporalBuckets[SlotKey(time.Monday, 10)]
	require.NotNil(t, bucket)
	assert.Equal(t, 3, bucket.Total)
	assert.Equal(t, 2, bucket.Subjects["cs"])

	require.Len(t, s.Sequences, 2)
	assert.Equal(t, []string{"cs", "math"}, s.Sequences[0].Subjects)
	assert.Equal(t, []string{"cs", "math", "cs"}, s.Sequences[1].Subjects)
}

func TestRecordCountsRepeatedSequences(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	for i, subject := range []string{"a", "b", "a", "b", "a", "b", "a"} {
		s.Record(PageView{Subject: subject, Timestamp: monday.Add(time.Duration(i) * time.Minute)})
	}

	require.NotEmpty(t, s.Sequences)
	top := s.Sequences[0]
	assert.Equal(t, []string{"a", "b", "a", "b", "a"}, top.Subjects)
	assert.Equal(t, 2, top.Count)
	assert.Equal(t, monday.Add(6*time.Minute), top.LastSeen)
	assert.Len(t, s.Sequences, 5)
}

func TestRecordBoundsHistory(t *testing.T) {
	t.Parallel()

	s := NewSnapshot()
	for i := 0; i < MaxPageViews+30; i++ {
		s.Record(PageView{Subject: "cs", Timestamp: monday.Add(time.Duration(i) * time.Hour)})
	}
	assert.Len(t, s.PageViews, MaxPageViews)
	assert.Len(t, s.SubjectAccess["cs"].AccessTimes, MaxAccessTimes)
	assert.LessOrEqual(t, len(s.Sequences), MaxSequences)
	assert.Equal(t, []string{"cs", "cs"}, s.RecentSubjects(2))
}

func TestSlotKeyWrapsHours(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1-23", SlotKey(time.Monday, -1))
	assert.Equal(t, "1-0", SlotKey(time.Monday, 24))
	assert.Equal(t, "1-10", BucketKey(monday))
}
