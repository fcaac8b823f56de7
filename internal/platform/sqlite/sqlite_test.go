package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMigrations = fstest.MapFS{
	"migrations/000001_items.up.sql":   {Data: []byte(`CREATE TABLE items (id TEXT PRIMARY KEY, n INTEGER NOT NULL);`)},
	"migrations/000001_items.down.sql": {Data: []byte(`DROP TABLE items;`)},
}

func newTestDB(t *testing.T) *TxRunner {
	t.Helper()
	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplyMigrations(db, testMigrations, "migrations"))

	opts := DefaultDBOptions()
	opts.TxLockMode = TxLockDeferred
	r := NewTxRunnerWithOptions(db, opts)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func count(t *testing.T, r *TxRunner) int {
	t.Helper()
	var n int
	require.NoError(t, r.DB.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	return n
}

func TestNewDB_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db, err := NewDB(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	db, err := NewInMemoryDB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, ApplyMigrations(db, testMigrations, "migrations"))
	require.NoError(t, ApplyMigrations(db, testMigrations, "migrations"))

	version, dirty, err := MigrationVersion(db, testMigrations, "migrations")
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestApplyMigrations_MissingDir(t *testing.T) {
	db, err := NewInMemoryDB(context.Background())
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, ApplyMigrations(db, testMigrations, "nope"))
}

func TestWithinTx_Commit(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()

	err := r.WithinTx(ctx, func(ctx context.Context) error {
		_, err := r.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO items (id, n) VALUES ('a', 1), ('b', 2)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, r))
}

func TestWithinTx_Rollback(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := r.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := r.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO items (id, n) VALUES ('a', 1)"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, count(t, r))
}

func TestWithinTx_Nested(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()

	err := r.WithinTx(ctx, func(ctx context.Context) error {
		return r.WithinTx(ctx, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrNestedTx)
}

func TestWithinTx_CanceledContext(t *testing.T) {
	r := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := r.WithinTx(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestWithinTx_WithoutQueue(t *testing.T) {
	ctx := context.Background()
	db, err := NewInMemoryDB(ctx)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, ApplyMigrations(db, testMigrations, "migrations"))

	opts := DefaultDBOptions()
	opts.EnableWriteQueue = false
	r := NewTxRunnerWithOptions(db, opts)
	defer r.Close()

	err = r.WithinTx(ctx, func(ctx context.Context) error {
		_, err := r.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO items (id, n) VALUES ('a', 1)")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, r))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, isBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isBusy(errors.New("database table is locked")))
	assert.False(t, isBusy(errors.New("no such table")))
	assert.False(t, isBusy(nil))
}
