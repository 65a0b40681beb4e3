package db

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"readersync/internal/config"
)

type DB struct {
	Gorm *gorm.DB
	SQL  *sql.DB
}

// Open connects to PostgreSQL. The configured timezone is sent as a startup
// parameter so it applies to every pooled connection.
func Open(cfg config.DBConfig, log *zap.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("db dsn is empty")
	}
	dsn, err := dsnWithTimezone(cfg.DSN, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	return OpenDialector(postgres.Open(dsn), cfg, log)
}

// OpenDialector opens any gorm dialector with the pool settings from cfg.
// Tests use it with an in-memory SQLite database.
func OpenDialector(dialector gorm.Dialector, cfg config.DBConfig, log *zap.Logger) (*DB, error) {
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log, slowQueryThreshold(cfg)),
	})
	if err != nil {
		return nil, err
	}

	sqldb, err := gdb.DB()
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{Gorm: gdb, SQL: sqldb}, nil
}

func Close(db *DB) error {
	if db == nil || db.SQL == nil {
		return nil
	}
	return db.SQL.Close()
}

func Ping(ctx context.Context, db *DB) error {
	if db == nil || db.SQL == nil {
		return errors.New("db is not open")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.SQL.PingContext(ctx)
}

// dsnWithTimezone adds a timezone parameter to URL or key=value DSNs that
// do not already carry one.
func dsnWithTimezone(dsn, tz string) (string, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" || strings.Contains(strings.ToLower(dsn), "timezone") {
		return dsn, nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		q := u.Query()
		q.Set("timezone", tz)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return strings.TrimSpace(dsn) + " TimeZone=" + tz, nil
}

// slowQueryThreshold is half the per-statement budget.
func slowQueryThreshold(cfg config.DBConfig) time.Duration {
	if cfg.StatementTimeout <= 0 {
		return time.Second
	}
	return cfg.StatementTimeout / 2
}
