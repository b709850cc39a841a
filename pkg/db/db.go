// Package db stores the trade journal in SQLite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Database holds the journal connection. Every trade attempt and close is
// appended to trade_records through it.
type Database struct {
	DB *sql.DB
}

// New opens the journal at path, creating its directory on first use.
// ":memory:" gives a throwaway journal for tests.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("trade journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trade journal %s: %w", path, err)
	}
	// one connection: the journal writer is the only writer, and an
	// in-memory journal exists per connection
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(time.Hour)
	return &Database{DB: conn}, nil
}

// Close releases the journal connection.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
