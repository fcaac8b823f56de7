package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// TxLockMode is the lock taken by BEGIN.
type TxLockMode string

const (
	// TxLockDeferred takes locks on first read or write (SQLite default).
	TxLockDeferred TxLockMode = "DEFERRED"
	// TxLockImmediate takes the RESERVED lock at once, avoiding SQLITE_BUSY on upgrade.
	TxLockImmediate TxLockMode = "IMMEDIATE"
)

// DBOptions configures a SQLite database handle.
type DBOptions struct {
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	PingTimeout     time.Duration
	WALMode         bool
	BusyTimeout     time.Duration
	TxLockMode      TxLockMode
	// EnableWriteQueue serializes WithinTx calls through one goroutine.
	EnableWriteQueue bool
	WriteQueueSize   int
}

// DefaultDBOptions returns settings for a single-process embedded database.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		ConnMaxLifetime:  time.Hour,
		ConnMaxIdleTime:  10 * time.Minute,
		MaxOpenConns:     4,
		MaxIdleConns:     1,
		PingTimeout:      5 * time.Second,
		WALMode:          true,
		BusyTimeout:      5 * time.Second,
		TxLockMode:       TxLockImmediate,
		EnableWriteQueue: true,
		WriteQueueSize:   100,
	}
}

// NewDB opens the database at dbPath with DefaultDBOptions, creating the
// parent directory if needed.
func NewDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	return NewDBWithOptions(ctx, dbPath, DefaultDBOptions())
}

// NewInMemoryDB opens a private in-memory database. The pool is limited to
// one connection, since every connection would otherwise see its own empty
// database.
func NewInMemoryDB(ctx context.Context) (*sql.DB, error) {
	opts := DefaultDBOptions()
	opts.WALMode = false
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	opts.ConnMaxLifetime = 0
	opts.ConnMaxIdleTime = 0
	opts.TxLockMode = TxLockDeferred
	return NewDBWithOptions(ctx, ":memory:", opts)
}

// NewDBWithOptions opens the database at dbPath with opts.
func NewDBWithOptions(ctx context.Context, dbPath string, opts DBOptions) (*sql.DB, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if err := applyPragmas(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB, opts DBOptions) error {
	pragmas := []string{"PRAGMA synchronous = NORMAL"}
	if opts.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}
