// Package database opens the relational store behind the asset tracker and
// classifies driver errors into contention and constraint failures.
package database

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// DefaultSQLiteDSN is used when no DSN is configured for SQLite.
const DefaultSQLiteDSN = "isos.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

// Config selects and tunes the database connection.
type Config struct {
	Type         string `yaml:"type"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	LogQueries   bool   `yaml:"logQueries"`
}

// Open connects to the configured database. SQLite is limited to a single
// connection so that write transactions are serialized.
func Open(cfg Config, log *slog.Logger) (*gorm.DB, error) {
	if log == nil {
		log = slog.Default()
	}
	dbType := strings.ToLower(strings.TrimSpace(cfg.Type))
	if dbType == "" {
		dbType = TypeSQLite
	}

	var dialector gorm.Dialector
	switch dbType {
	case TypeSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = DefaultSQLiteDSN
		}
		dialector = sqlite.Open(dsn)
	case TypePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database DSN is required for %s", dbType)
		}
		dialector = postgres.Open(cfg.DSN)
	case TypeMySQL:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database DSN is required for %s", dbType)
		}
		// utf8mb4 index keys are limited to 767 bytes on older InnoDB row formats.
		dialector = mysql.New(mysql.Config{DSN: cfg.DSN, DefaultStringSize: 191})
	default:
		return nil, fmt.Errorf("unknown database type %q (expected sqlite, postgres or mysql)", cfg.Type)
	}

	logLevel := logger.Silent
	if cfg.LogQueries {
		logLevel = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", dbType, err)
	}

	if err := Configure(db, cfg.MaxOpenConns); err != nil {
		return nil, err
	}

	log.Info("database connected", "type", dbType)
	return db, nil
}

// Configure applies pool limits appropriate for the dialect of db.
func Configure(db *gorm.DB, maxOpenConns int) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if db.Dialector.Name() == TypeSQLite {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return nil
	}
	if maxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(maxOpenConns)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return nil
}

// SetLockTimeout bounds how long statements of tx wait for row locks. The
// context deadline still applies on top; SQLite relies on it alone.
func SetLockTimeout(tx *gorm.DB, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	switch tx.Dialector.Name() {
	case TypePostgres:
		ms := timeout.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		if err := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)).Error; err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	case TypeMySQL:
		secs := int(math.Ceil(timeout.Seconds()))
		if err := tx.Exec(fmt.Sprintf("SET SESSION innodb_lock_wait_timeout = %d", secs)).Error; err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}
	return nil
}
