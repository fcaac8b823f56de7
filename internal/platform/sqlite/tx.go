package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"delayd/pkg/retry"
)

type txKey struct{}

// Querier is implemented by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
	_ Querier = (*sql.Conn)(nil)
)

// ErrNestedTx is returned by WithinTx when ctx already carries a transaction.
var ErrNestedTx = errors.New("sqlite: nested transactions are not supported")

type writeRequest struct {
	ctx    context.Context
	fn     func(context.Context) error
	result chan error
}

// TxRunner runs callbacks inside transactions, committing on nil and rolling
// back otherwise. SQLITE_BUSY failures are retried with backoff.
type TxRunner struct {
	DB         *sql.DB
	LockMode   TxLockMode
	Retry      retry.Config
	queue      chan writeRequest
	queueDone  chan struct{}
	closeQueue func()
}

// NewTxRunner creates a TxRunner with DefaultDBOptions.
func NewTxRunner(db *sql.DB) *TxRunner {
	return NewTxRunnerWithOptions(db, DefaultDBOptions())
}

// NewTxRunnerWithOptions creates a TxRunner. With opts.EnableWriteQueue a
// goroutine is started; Close stops it.
func NewTxRunnerWithOptions(db *sql.DB, opts DBOptions) *TxRunner {
	r := &TxRunner{
		DB:       db,
		LockMode: opts.TxLockMode,
		Retry: retry.Config{
			MaxAttempts:    4,
			InitialDelay:   10 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
			JitterStrategy: retry.JitterDecorrelated,
		},
	}
	if opts.EnableWriteQueue {
		size := opts.WriteQueueSize
		if size <= 0 {
			size = 100
		}
		r.queue = make(chan writeRequest, size)
		r.queueDone = make(chan struct{})
		done := false
		r.closeQueue = func() {
			if !done {
				done = true
				close(r.queue)
				<-r.queueDone
			}
		}
		go r.runQueue()
	}
	return r
}

// Close stops the write queue, waiting for queued writes to finish.
func (r *TxRunner) Close() error {
	if r.closeQueue != nil {
		r.closeQueue()
	}
	return nil
}

// WithinTx runs fn in a transaction. The transaction is reachable inside fn
// through GetQuerier(ctx).
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Conn); ok {
		return ErrNestedTx
	}
	if r.queue == nil {
		return r.runWithRetry(ctx, fn)
	}

	req := writeRequest{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case r.queue <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetQuerier returns the transaction carried by ctx, or the database.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if conn, ok := ctx.Value(txKey{}).(*sql.Conn); ok {
		return conn
	}
	return r.DB
}

func (r *TxRunner) runQueue() {
	defer close(r.queueDone)
	for req := range r.queue {
		if err := req.ctx.Err(); err != nil {
			req.result <- err
			continue
		}
		req.result <- r.runWithRetry(req.ctx, req.fn)
	}
}

func (r *TxRunner) runWithRetry(ctx context.Context, fn func(context.Context) error) error {
	return retry.DoWithRetryable(ctx, r.Retry, func(ctx context.Context) error {
		return r.runTx(ctx, fn)
	}, isBusy)
}

// runTx pins one connection and issues BEGIN with the configured lock mode,
// which database/sql's BeginTx cannot express.
func (r *TxRunner) runTx(ctx context.Context, fn func(context.Context) error) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	mode := r.LockMode
	if mode == "" {
		mode = TxLockDeferred
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("BEGIN %s", mode)); err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, conn)); err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		return err
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
