// Package sqlitestore keeps pending jobs in an embedded SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"delayd/internal/persist"
	"delayd/internal/platform/sqlite"
	"delayd/internal/shared"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements persist.Store on SQLite.
type Store struct {
	db *sql.DB
	tx *sqlite.TxRunner
}

var _ persist.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.NewDB(ctx, path)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	return New(db)
}

// New migrates db and wraps it. The Store owns db from here on.
func New(db *sql.DB) (*Store, error) {
	if err := sqlite.ApplyMigrations(db, migrations, "migrations"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, tx: sqlite.NewTxRunner(db)}, nil
}

// Save implements persist.Store.
func (s *Store) Save(ctx context.Context, rec persist.Record) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, err := s.tx.GetQuerier(ctx).ExecContext(ctx,
			`INSERT INTO jobs (id, time, message) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET time = excluded.time, message = excluded.message`,
			rec.ID, rec.Time, string(rec.Message))
		if err != nil {
			return shared.Wrapf(err, "save job %s", rec.ID)
		}
		return nil
	})
}

// Delete implements persist.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.tx.GetQuerier(ctx).ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
			return shared.Wrapf(err, "delete job %s", id)
		}
		return nil
	})
}

// List implements persist.Store.
func (s *Store) List(ctx context.Context) ([]persist.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, time, message FROM jobs ORDER BY time, seq`)
	if err != nil {
		return nil, shared.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []persist.Record
	for rows.Next() {
		var (
			rec persist.Record
			msg string
		)
		if err := rows.Scan(&rec.ID, &rec.Time, &msg); err != nil {
			return nil, shared.Wrap(err, "scan job")
		}
		rec.Message = []byte(msg)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune implements persist.Store.
func (s *Store) Prune(ctx context.Context, keep map[string]struct{}) (int, error) {
	var pruned int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := s.tx.GetQuerier(ctx)
		ids, err := selectIDs(ctx, q)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, ok := keep[id]; ok {
				continue
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
				return fmt.Errorf("prune job %s: %w", id, err)
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return pruned, nil
}

// Close stops the write queue and closes the database.
func (s *Store) Close() error {
	_ = s.tx.Close()
	return s.db.Close()
}

func selectIDs(ctx context.Context, q sqlite.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM jobs`)
	if err != nil {
		return nil, fmt.Errorf("select job ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
