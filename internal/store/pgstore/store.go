// Package pgstore keeps pending jobs in PostgreSQL.
package pgstore

import (
	"context"
	"embed"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"delayd/internal/persist"
	"delayd/internal/platform/pg"
	"delayd/internal/shared"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements persist.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	tx   *pg.TxRunner
}

var _ persist.Store = (*Store)(nil)

// Open migrates the database at dsn and connects to it, waiting for the
// server while it boots.
func Open(ctx context.Context, dsn string, log *slog.Logger) (*Store, error) {
	opts := pg.DefaultWaitOptions()
	opts.Logger = log
	pool, err := pg.Open(ctx, dsn, opts)
	if err != nil {
		return nil, shared.MarkKind(err, shared.KindDependencyFailure)
	}
	info, err := pg.ApplyMigrations(dsn, migrations, "migrations")
	if err != nil {
		pool.Close()
		return nil, err
	}
	if log != nil && info.Applied {
		log.Info("postgres migrations applied", "from", info.CurrentVersion, "to", info.FinalVersion)
	}
	return New(pool), nil
}

// New wraps an already migrated pool. Close closes the pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tx: pg.NewTxRunner(pool)}
}

// Save implements persist.Store.
func (s *Store) Save(ctx context.Context, rec persist.Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO delayd_jobs (id, time, message) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET time = EXCLUDED.time, message = EXCLUDED.message`,
		rec.ID, rec.Time, string(rec.Message))
	if err != nil {
		return shared.Wrapf(err, "save job %s", rec.ID)
	}
	return nil
}

// Delete implements persist.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM delayd_jobs WHERE id = $1`, id); err != nil {
		return shared.Wrapf(err, "delete job %s", id)
	}
	return nil
}

// List implements persist.Store.
func (s *Store) List(ctx context.Context) ([]persist.Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, time, message::text FROM delayd_jobs ORDER BY time, seq`)
	if err != nil {
		return nil, shared.Wrap(err, "list jobs")
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (persist.Record, error) {
		var (
			rec persist.Record
			msg string
		)
		err := row.Scan(&rec.ID, &rec.Time, &msg)
		rec.Message = []byte(msg)
		return rec, err
	})
	if err != nil {
		return nil, shared.Wrap(err, "scan jobs")
	}
	return recs, nil
}

// Prune implements persist.Store.
func (s *Store) Prune(ctx context.Context, keep map[string]struct{}) (int, error) {
	ids := make([]string, 0, len(keep))
	for id := range keep {
		ids = append(ids, id)
	}

	var pruned int
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		tag, err := s.tx.GetQuerier(ctx).Exec(ctx, `DELETE FROM delayd_jobs WHERE NOT (id = ANY($1))`, ids)
		if err != nil {
			return err
		}
		pruned = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, shared.Wrap(err, "prune jobs")
	}
	return pruned, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping runs a health query.
func (s *Store) Ping(ctx context.Context) error {
	return pg.HealthCheck(ctx, s.pool)
}
