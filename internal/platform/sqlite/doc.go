// Package sqlite opens embedded SQLite databases (modernc.org/sqlite, no cgo)
// and runs transactions and migrations against them.
//
//	db, err := sqlite.NewDB(ctx, "data/delayd.db")
//	if err != nil {
//		return err
//	}
//	if err := sqlite.ApplyMigrations(db, migrations, "migrations"); err != nil {
//		return err
//	}
//
//	runner := sqlite.NewTxRunner(db)
//	err = runner.WithinTx(ctx, func(ctx context.Context) error {
//		_, err := runner.GetQuerier(ctx).ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
//		return err
//	})
//
// SQLite allows one writer at a time. WithinTx retries SQLITE_BUSY with
// backoff, and EnableWriteQueue funnels every write through one goroutine.
package sqlite
