package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"qrattendance/internal/attendance"
)

// DB wraps sql.DB together with the SQL dialect it speaks.
type DB struct {
	Client  *sql.DB
	Dialect attendance.Dialect
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db, Dialect: attendance.Postgres}, db.PingContext(context.Background())
}

// NewSQLite opens (creating if needed) a SQLite database file in WAL mode.
func NewSQLite(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{Client: db, Dialect: attendance.SQLite}, nil
}

// Open picks the driver for backend ("postgres" or "sqlite").
func Open(backend, databaseURL, sqlitePath string) (*DB, error) {
	dialect, err := attendance.ParseDialect(backend)
	if err != nil {
		return nil, err
	}
	if dialect == attendance.SQLite {
		return NewSQLite(sqlitePath)
	}
	return NewDB(databaseURL)
}

// Migrate creates the attendance schema.
func (d *DB) Migrate(ctx context.Context) error {
	return attendance.Migrate(ctx, d.Client, d.Dialect)
}

// Repository returns the attendance backend over this connection.
func (d *DB) Repository() *attendance.Repository {
	return attendance.NewRepository(d.Client, d.Dialect)
}

// Healthy pings the database.
func (d *DB) Healthy(ctx context.Context) bool {
	if d == nil || d.Client == nil {
		return false
	}
	return d.Client.PingContext(ctx) == nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
