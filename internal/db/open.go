package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const defaultPath = "./data/qrpass.db"

type Config struct {
	Path string // e.g. "./data/qrpass.db"
	Env  string // "dev" | "prod"

	// BusyTimeout bounds how long sqlite waits on a locked database.
	BusyTimeout time.Duration
}

// Open opens (creating if needed) the sqlite database at cfg.Path and applies
// migrations.  The returned handle is owned by the caller; components only
// ever receive it through their constructors.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = defaultPath
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	return open(ctx, "file:"+cfg.Path+"?"+pragmas(cfg.BusyTimeout).Encode())
}

// OpenMemory returns a private in-memory database with the production schema.
// name must be unique per database; tests pass t.Name().
func OpenMemory(ctx context.Context, name string) (*sql.DB, error) {
	q := pragmas(0)
	q.Set("mode", "memory")
	q.Set("cache", "shared")
	return open(ctx, "file:mem_"+url.PathEscape(name)+"?"+q.Encode())
}

// pragmas builds the per-connection PRAGMAs for modernc.org/sqlite:
// foreign keys on, WAL, synchronous NORMAL and a busy timeout.
func pragmas(busy time.Duration) url.Values {
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	return q
}

func open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// Single connection; writes are additionally funnelled through Worker.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
