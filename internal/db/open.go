package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL or SQLite depending on the DSN form.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         newLogger(),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	if IsSQLiteDSN(trimmed) {
		conn, errOpen := gorm.Open(sqlite.Open(trimmed), cfg)
		if errOpen != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", errOpen)
		}
		sqlDB, errDB := conn.DB()
		if errDB != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", errDB)
		}
		// SQLite has no row locks; a single connection serializes writers.
		sqlDB.SetMaxOpenConns(1)
		return conn, nil
	}

	conn, errOpen := gorm.Open(postgres.Open(trimmed), cfg)
	if errOpen != nil {
		return nil, fmt.Errorf("db: open postgres: %w", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return nil, fmt.Errorf("db: postgres handle: %w", errDB)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return conn, nil
}

// logrusWriter forwards gorm log lines to logrus at warn level.
type logrusWriter struct{}

func (logrusWriter) Printf(format string, args ...any) {
	log.Warnf(format, args...)
}

// newLogger reports slow queries and errors through logrus. Missing rows are
// an expected outcome of lookups and are not logged.
func newLogger() logger.Interface {
	return logger.New(logrusWriter{}, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// IsSQLiteDSN reports whether the DSN targets SQLite.
func IsSQLiteDSN(dsn string) bool {
	lowered := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") {
		return false
	}
	if strings.HasPrefix(lowered, "file:") || lowered == ":memory:" {
		return true
	}
	return strings.HasSuffix(lowered, ".db") || strings.HasSuffix(lowered, ".sqlite")
}
