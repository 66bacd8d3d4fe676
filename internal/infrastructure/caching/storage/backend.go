// Package storage provides the raw key/value primitives the cache store and the
// behavior predictor persist through.
package storage

import (
	"github.com/AtRiskMedia/feedcache-go/internal/domain/faults"
)

// Backend is one namespaced key/value table. Implementations must be safe for
// concurrent use. Get on a missing key returns faults.ErrNotFound; Put on a
// full backend returns an error wrapping faults.ErrQuotaExceeded.
type Backend interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
	// Size returns the bytes held under prefix, counting keys and values.
	Size(prefix string) (int64, error)
	Close() error
}

// RecordSize is how many bytes a key/value pair accounts for.
func RecordSize(key string, value []byte) int64 {
	return int64(len(key) + len(value))
}

var (
	ErrNotFound      = faults.ErrNotFound
	ErrQuotaExceeded = faults.ErrQuotaExceeded
)
