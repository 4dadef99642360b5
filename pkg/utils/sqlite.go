package utils

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig controls the embedded single-node store.
type SQLiteConfig struct {
	// Path is a file path or ":memory:".
	Path        string
	BusyTimeout time.Duration
	PingTimeout time.Duration
}

func (c SQLiteConfig) withDefaults() SQLiteConfig {
	out := c
	if out.BusyTimeout <= 0 {
		out.BusyTimeout = 5 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// SQLiteDSN builds a modernc DSN: WAL journal, busy timeout, immediate write
// transactions and a sortable text time format.
func SQLiteDSN(cfg SQLiteConfig) string {
	cfg = cfg.withDefaults()
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if cfg.Path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	q.Set("_time_format", "sqlite")

	path := cfg.Path
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + q.Encode()
}

// OpenSQLite opens the pure-Go sqlite driver with a single connection.
// Writers are serialized by the pool, so read-check-write transactions never deadlock.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*sql.DB, error) {
	cfg = cfg.withDefaults()
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", SQLiteDSN(cfg))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := HealthCheck(ctx, db, cfg.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
