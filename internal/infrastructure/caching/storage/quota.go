package storage

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Quota enforces a byte budget over another backend, the way a browser origin
// quota bounds local storage. Sizes are tracked in memory after an initial scan.
type Quota struct {
	Backend
	limit int64

	mu    sync.Mutex
	sizes map[string]int64
	total int64
}

// NewQuota wraps inner with a limit in bytes, accounting for what it already holds.
func NewQuota(inner Backend, limit int64) (*Quota, error) {
	q := &Quota{
		Backend: inner,
		limit:   limit,
		sizes:   make(map[string]int64),
	}

	keys, err := inner.Keys("")
	if err != nil {
		return nil, fmt.Errorf("failed to scan backend for quota accounting: %w", err)
	}
	for _, k := range keys {
		v, err := inner.Get(k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to read %q for quota accounting: %w", k, err)
		}
		size := RecordSize(k, v)
		q.sizes[k] = size
		q.total += size
	}
	return q, nil
}

// Limit returns the configured byte budget.
func (q *Quota) Limit() int64 { return q.limit }

// Used returns the bytes currently accounted for.
func (q *Quota) Used() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total
}

func (q *Quota) Put(key string, value []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	size := RecordSize(key, value)
	delta := size - q.sizes[key]
	if q.limit > 0 && q.total+delta > q.limit {
		return fmt.Errorf("put %q (%d bytes, %d/%d used): %w", key, size, q.total, q.limit, ErrQuotaExceeded)
	}
	if err := q.Backend.Put(key, value); err != nil {
		return err
	}
	q.sizes[key] = size
	q.total += delta
	return nil
}

func (q *Quota) Delete(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.Backend.Delete(key); err != nil {
		return err
	}
	q.total -= q.sizes[key]
	delete(q.sizes, key)
	return nil
}

func (q *Quota) Size(prefix string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if prefix == "" {
		return q.total, nil
	}
	var total int64
	for k, s := range q.sizes {
		if strings.HasPrefix(k, prefix) {
			total += s
		}
	}
	return total, nil
}
