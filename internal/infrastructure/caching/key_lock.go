// Package caching provides application-wide caching and related utilities.
package caching

import (
	"sort"
	"sync"
)

// KeyLock provides per-key mutual exclusion so that only one execution for a
// given key runs at a time. Acquisition never blocks.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

// NewKeyLock creates a new instance of a KeyLock.
func NewKeyLock() *KeyLock {
	return &KeyLock{
		locks: make(map[string]struct{}),
	}
}

// TryLock attempts to acquire a lock for a given key.
// It returns true if the lock was acquired, and false if the lock is already held.
func (l *KeyLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.locks[key]; exists {
		return false
	}

	l.locks[key] = struct{}{}
	return true
}

// Unlock releases a lock for a given key.
func (l *KeyLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locks, key)
}

// Held reports whether key is currently locked.
func (l *KeyLock) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, exists := l.locks[key]
	return exists
}

// Keys returns the currently held keys, sorted.
func (l *KeyLock) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.locks))
	for k := range l.locks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of held locks.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
