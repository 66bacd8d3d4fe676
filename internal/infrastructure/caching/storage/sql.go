package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/persistence/database"
	"github.com/mattn/go-sqlite3"
)

// SQL stores one table of the schema in sqlite or libsql.
type SQL struct {
	db     *database.DB
	table  string
	logger *logging.ChanneledLogger
}

// NewSQL binds a backend to one of the schema tables. The connection is owned
// by the caller; Close does not close it.
func NewSQL(db *database.DB, table string, logger *logging.ChanneledLogger) (*SQL, error) {
	if !database.IsKnownTable(table) {
		return nil, fmt.Errorf("unknown storage table %q", table)
	}
	return &SQL{db: db, table: table, logger: logger}, nil
}

func (s *SQL) Get(key string) ([]byte, error) {
	start := time.Now()
	query := fmt.Sprintf("SELECT value FROM %s WHERE key = ?", s.table)

	var value []byte
	err := s.db.QueryRow(query, key).Scan(&value)
	database.CheckAndLogSlowQuery(s.logger, query, time.Since(start))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", key, err)
	}
	return value, nil
}

func (s *SQL) Put(key string, value []byte) error {
	start := time.Now()
	query := fmt.Sprintf(`INSERT INTO %s (key, value, size, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, size = excluded.size, updated_at = excluded.updated_at`, s.table)

	_, err := s.db.Exec(query, key, value, RecordSize(key, value), time.Now().UTC().UnixMilli())
	database.CheckAndLogSlowQuery(s.logger, query, time.Since(start))
	if err != nil {
		if isFull(err) {
			return fmt.Errorf("failed to write %q: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

func (s *SQL) Delete(key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", s.table)
	if _, err := s.db.Exec(query, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

func (s *SQL) Keys(prefix string) ([]string, error) {
	query := fmt.Sprintf(`SELECT key FROM %s WHERE key LIKE ? ESCAPE '\' ORDER BY key`, s.table)
	rows, err := s.db.Query(query, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *SQL) Size(prefix string) (int64, error) {
	query := fmt.Sprintf(`SELECT COALESCE(SUM(size), 0) FROM %s WHERE key LIKE ? ESCAPE '\'`, s.table)

	var total int64
	if err := s.db.QueryRow(query, likePrefix(prefix)).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum sizes: %w", err)
	}
	return total, nil
}

func (s *SQL) Close() error { return nil }

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func isFull(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrFull
	}
	return false
}
