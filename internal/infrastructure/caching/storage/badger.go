package storage

import (
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// OpenBadger opens a badger database at path, or an in-memory one when path is empty.
func OpenBadger(path string) (*badgerdb.DB, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", path, err)
	}
	return db, nil
}

// Badger stores one namespace of a shared badger database. Keys are prefixed
// with the namespace so several backends can share one DB.
type Badger struct {
	db        *badgerdb.DB
	namespace []byte
}

func NewBadger(db *badgerdb.DB, namespace string) *Badger {
	return &Badger{db: db, namespace: []byte(namespace + "/")}
}

func (b *Badger) key(k string) []byte {
	out := make([]byte, 0, len(b.namespace)+len(k))
	out = append(out, b.namespace...)
	return append(out, k...)
}

func (b *Badger) Get(key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(b.key(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badgerdb.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, nil
}

func (b *Badger) Put(key string, value []byte) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(b.key(key), value)
	})
	if errors.Is(err, badgerdb.ErrTxnTooBig) {
		return fmt.Errorf("failed to write %q: %w", key, ErrQuotaExceeded)
	}
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (b *Badger) Delete(key string) error {
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Delete(b.key(key)); err != nil && err != badgerdb.ErrKeyNotFound {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (b *Badger) Keys(prefix string) ([]string, error) {
	var keys []string
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = b.key(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			keys = append(keys, string(k[len(b.namespace):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return keys, nil
}

func (b *Badger) Size(prefix string) (int64, error) {
	var total int64
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = b.key(prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			total += int64(len(item.Key())-len(b.namespace)) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sum sizes: %w", err)
	}
	return total, nil
}

// Close is a no-op; the shared DB is closed by its owner.
func (b *Badger) Close() error { return nil }
