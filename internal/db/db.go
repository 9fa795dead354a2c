package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"adherence/internal/config"
)

// Open opens the engine's state store. SQLite is the default; mysql is
// selected by DB_DRIVER with an explicit DSN. The pgx driver is registered
// for the archive sink, which builds driver-aware placeholders itself.
func Open(cfg config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		return OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	case "mysql":
		return openDSN(cfg.DBDriver, cfg.DBDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

func OpenSQLite(path string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	return openDSN("sqlite", dsn, maxOpen, maxIdle, maxLifetime)
}

func openDSN(driver, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	sqdb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	sqdb.SetMaxOpenConns(maxOpen)
	sqdb.SetMaxIdleConns(maxIdle)
	sqdb.SetConnMaxLifetime(maxLifetime)
	if err := sqdb.Ping(); err != nil {
		return nil, err
	}
	return sqdb, nil
}
