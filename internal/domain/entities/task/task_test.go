package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	assert.Greater(t, PriorityCritical, PriorityHigh)
	assert.Greater(t, PriorityHigh, PriorityMedium)
	assert.Greater(t, PriorityMedium, PriorityLow)
	assert.Equal(t, 1000, PriorityCritical.Weight())
	assert.Equal(t, 1, PriorityLow.Weight())
	assert.Equal(t, []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}, Priorities)
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	for _, p := range Priorities {
		parsed, err := ParsePriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePriority("urgent")
	assert.Error(t, err)
	assert.False(t, Priority(9).Valid())
}

func TestQueueOutcome(t *testing.T) {
	t.Parallel()

	assert.True(t, Queued.Accepted())
	assert.True(t, Promoted.Accepted())
	assert.False(t, Dropped.Accepted())
	assert.False(t, Rejected.Accepted())
	assert.Equal(t, "rejected", Rejected.String())
}
