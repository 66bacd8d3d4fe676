package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyTableLookup(t *testing.T) {
	t.Parallel()

	table := DefaultPolicyTable()
	assert.Equal(t, 24*time.Hour, table.TTL(CategoryDepartments))
	assert.Equal(t, 30*time.Minute, table.TTL(CategoryRSSItems))
	assert.Equal(t, 10, table.BasePriority(CategoryDepartments))
	assert.Equal(t, 5*time.Minute, table.TTL("somethingElse"))
	assert.Equal(t, 5, table.BasePriority("somethingElse"))
	assert.Contains(t, table.Categories(), CategoryPreferences)
}

func TestStoredVariants(t *testing.T) {
	t.Parallel()

	var s Stored = Raw{Data: []byte("abc")}
	assert.False(t, s.IsCompressed())
	assert.Equal(t, 3, s.OriginalSize())

	s = Compressed{Data: []byte("ab"), Original: 10}
	assert.True(t, s.IsCompressed())
	assert.Equal(t, 2, s.Size())
	assert.Equal(t, 10, s.OriginalSize())
}
