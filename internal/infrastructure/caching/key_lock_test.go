package caching

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLockIsExclusivePerKey(t *testing.T) {
	t.Parallel()

	l := NewKeyLock()
	assert.True(t, l.TryLock("a"))
	assert.False(t, l.TryLock("a"))
	assert.True(t, l.TryLock("b"))
	assert.Equal(t, []string{"a", "b"}, l.Keys())

	l.Unlock("a")
	assert.False(t, l.Held("a"))
	assert.True(t, l.TryLock("a"))
	assert.Equal(t, 2, l.Len())
}

func TestKeyLockConcurrentAcquire(t *testing.T) {
	t.Parallel()

	l := NewKeyLock()
	var acquired int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryLock("shared") {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, acquired)
}
