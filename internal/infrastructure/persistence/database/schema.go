package database

import (
	"database/sql"
	"fmt"
)

// Table names used by the storage backends.
const (
	TableCacheEntries       = "cache_entries"
	TableBehaviorAggregates = "behavior_aggregates"
)

// Tables lists every key/value table the schema creates.
var Tables = []string{TableCacheEntries, TableBehaviorAggregates}

var tables = []string{
	`CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		size INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS behavior_aggregates (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		size INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_cache_entries_updated_at ON cache_entries(updated_at)`,
}

// TableCreator handles the creation of the storage schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
func (tc *TableCreator) CreateSchema(db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.Exec(tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

// IsKnownTable reports whether name is one of the schema's tables.
func IsKnownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}
