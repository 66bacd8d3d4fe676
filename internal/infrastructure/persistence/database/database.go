// Package database provides the core functionality for creating and managing
// database connections in a clean, isolated manner.
package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/feedcache-go/pkg/config"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
)

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
	Driver string
}

// NewConnectionWithLogger establishes a new database connection for the specified driver with logging.
func NewConnectionWithLogger(driverName, dataSourceName string, logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()
	logger.Storage().Debug("Creating new database connection", "driverName", driverName)

	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		logger.Storage().Error("Failed to open database connection", "error", err.Error(), "driverName", driverName)
		return nil, err
	}

	if err = db.Ping(); err != nil {
		logger.Storage().Error("Database ping failed", "error", err.Error(), "driverName", driverName)
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(config.DBConnMaxLifetimeMinutes) * time.Minute)

	logger.Storage().Info("Database connection established", "driverName", driverName, "duration", time.Since(start))
	CheckAndLogSlowQuery(logger, "DATABASE_CONNECTION", time.Since(start))

	return &DB{DB: db, Driver: driverName}, nil
}

// Open connects and makes sure the schema exists.
func Open(driverName, dataSourceName string, logger *logging.ChanneledLogger) (*DB, error) {
	db, err := NewConnectionWithLogger(driverName, dataSourceName, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driverName, err)
	}
	if err := NewTableCreator().CreateSchema(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteDSN builds a sqlite3 data source name for a file path, using WAL mode.
func SQLiteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
}
