package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/persistence/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBackendContract(t *testing.T, b Backend) {
	t.Helper()

	_, err := b.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, b.Put("dept:cs", []byte("one")))
	require.NoError(t, b.Put("dept:math", []byte("two!")))
	require.NoError(t, b.Put("rss:cs", []byte("three")))

	v, err := b.Get("dept:cs")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	require.NoError(t, b.Put("dept:cs", []byte("uno")))
	v, err = b.Get("dept:cs")
	require.NoError(t, err)
	assert.Equal(t, []byte("uno"), v)

	keys, err := b.Keys("dept:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dept:cs", "dept:math"}, keys)

	size, err := b.Size("dept:")
	require.NoError(t, err)
	assert.Equal(t, RecordSize("dept:cs", []byte("uno"))+RecordSize("dept:math", []byte("two!")), size)

	require.NoError(t, b.Delete("dept:cs"))
	require.NoError(t, b.Delete("dept:cs"))
	_, err = b.Get("dept:cs")
	assert.True(t, errors.Is(err, ErrNotFound))

	all, err := b.Keys("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dept:math", "rss:cs"}, all)
}

func TestMemoryBackend(t *testing.T) {
	t.Parallel()
	runBackendContract(t, NewMemory())
}

func TestBadgerBackend(t *testing.T) {
	t.Parallel()

	db, err := OpenBadger("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runBackendContract(t, NewBadger(db, database.TableCacheEntries))

	// Namespaces sharing one DB do not see each other.
	other := NewBadger(db, database.TableBehaviorAggregates)
	keys, err := other.Keys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSQLBackend(t *testing.T) {
	t.Parallel()

	logger := logging.NewNop()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := database.Open(database.DriverSQLite, database.SQLiteDSN(path), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b, err := NewSQL(db, database.TableCacheEntries, logger)
	require.NoError(t, err)
	runBackendContract(t, b)

	_, err = NewSQL(db, "users; DROP TABLE x", logger)
	assert.Error(t, err)
}

func TestSQLBackendEscapesLikeWildcards(t *testing.T) {
	t.Parallel()

	logger := logging.NewNop()
	db, err := database.Open(database.DriverSQLite, database.SQLiteDSN(filepath.Join(t.TempDir(), "c.db")), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b, err := NewSQL(db, database.TableCacheEntries, logger)
	require.NoError(t, err)
	require.NoError(t, b.Put("a_b", []byte("1")))
	require.NoError(t, b.Put("axb", []byte("2")))

	keys, err := b.Keys("a_")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b"}, keys)
}

func TestQuotaRejectsOverflow(t *testing.T) {
	t.Parallel()

	inner := NewMemory()
	require.NoError(t, inner.Put("seed", []byte("12345")))

	q, err := NewQuota(inner, 30)
	require.NoError(t, err)
	assert.Equal(t, RecordSize("seed", []byte("12345")), q.Used())

	require.NoError(t, q.Put("k1", []byte("0123456789")))
	err = q.Put("k2", []byte("0123456789"))
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Overwriting with a smaller value only counts the delta.
	require.NoError(t, q.Put("k1", []byte("01")))
	require.NoError(t, q.Put("k2", []byte("0123")))

	require.NoError(t, q.Delete("k1"))
	size, err := q.Size("")
	require.NoError(t, err)
	assert.Equal(t, RecordSize("seed", []byte("12345"))+RecordSize("k2", []byte("0123")), size)

	prefixed, err := q.Size("k")
	require.NoError(t, err)
	assert.Equal(t, RecordSize("k2", []byte("0123")), prefixed)
}
