// Package pq adapts github.com/lib/pq and database/sql to the
// adapter.ConnPool/Connector surface, for deployments already standing
// on database/sql rather than a native pgx pool. Listening uses
// pq.Listener directly since database/sql has no notification API of
// its own; pq.Listener already implements the reconnect-with-backoff
// behavior the other adapters hand-roll, so this one is the thinnest
// of the four.
package pq

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/cabbagequeue/cabbage/adapter"
)

// DB wraps a *sql.DB opened with the "postgres" driver.
type DB struct {
	db  *sql.DB
	dsn string
}

// New wraps an already-opened *sql.DB. dsn is required separately
// because pq.Listener dials its own connection rather than borrowing
// one from the *sql.DB pool.
func New(db *sql.DB, dsn string) *DB {
	return &DB{db: db, dsn: dsn}
}

// NewFromDSN opens a *sql.DB against dsn using the "postgres" driver.
func NewFromDSN(ctx context.Context, dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db, dsn: dsn}, nil
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (adapter.CommandTag, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return commandTag{res}, nil
}

func (d *DB) Query(ctx context.Context, query string, args ...any) (adapter.Rows, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return &rowsWrapper{rows: rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) adapter.Row {
	return &rowWrapper{row: d.db.QueryRowContext(ctx, query, args...)}
}

func (d *DB) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError(err)
	}
	return &txWrapper{tx: tx}, nil
}

func (d *DB) Close() { d.db.Close() }

// Listen starts a pq.Listener against d.dsn, subscribed to channel.
// pq.Listener owns reconnection internally (it is the library this
// adapter was written to lean on instead of reimplementing backoff),
// surfacing reconnect events on its own Notify channel as a nil
// *pq.Notification that this wrapper filters out.
func (d *DB) Listen(ctx context.Context, channel string) (adapter.Listener, error) {
	notify := make(chan struct{})
	minReconnect := 250 * time.Millisecond
	maxReconnect := 30 * time.Second

	l := pq.NewListener(d.dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventReconnected {
			select {
			case notify <- struct{}{}:
			default:
			}
		}
	})

	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, wrapError(err)
	}

	return &listener{pq: l}, nil
}

type commandTag struct{ res sql.Result }

func (t commandTag) RowsAffected() int64 {
	n, err := t.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

type rowWrapper struct{ row *sql.Row }

func (r *rowWrapper) Scan(dest ...any) error { return wrapError(r.row.Scan(dest...)) }

type rowsWrapper struct{ rows *sql.Rows }

func (r *rowsWrapper) Next() bool             { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...any) error { return wrapError(r.rows.Scan(dest...)) }
func (r *rowsWrapper) Err() error             { return wrapError(r.rows.Err()) }
func (r *rowsWrapper) Close()                 { r.rows.Close() }

type txWrapper struct{ tx *sql.Tx }

func (t *txWrapper) Exec(ctx context.Context, query string, args ...any) (adapter.CommandTag, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return commandTag{res}, nil
}

func (t *txWrapper) Query(ctx context.Context, query string, args ...any) (adapter.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return &rowsWrapper{rows: rows}, nil
}

func (t *txWrapper) QueryRow(ctx context.Context, query string, args ...any) adapter.Row {
	return &rowWrapper{row: t.tx.QueryRowContext(ctx, query, args...)}
}

func (t *txWrapper) Commit(ctx context.Context) error   { return wrapError(t.tx.Commit()) }
func (t *txWrapper) Rollback(ctx context.Context) error { return wrapError(t.tx.Rollback()) }

// listener wraps *pq.Listener. WaitForNotification blocks on the
// listener's Notify channel; a nil notification (pq's signal that it
// silently reconnected and re-issued every LISTEN) is treated the same
// as relayNotifications' transient-error path upstream: the caller
// just loops again.
type listener struct {
	pq *pq.Listener
}

func (l *listener) Listen(ctx context.Context, channel string) error {
	return wrapError(l.pq.Listen(channel))
}

func (l *listener) Unlisten(ctx context.Context, channel string) error {
	return wrapError(l.pq.Unlisten(channel))
}

func (l *listener) WaitForNotification(ctx context.Context) (*adapter.Notification, error) {
	select {
	case n, ok := <-l.pq.Notify:
		if !ok {
			return nil, errors.New("cabbage/pq: listener closed")
		}
		if n == nil {
			return nil, errors.New("cabbage/pq: reconnected listener, retry")
		}
		return &adapter.Notification{Channel: n.Channel, Payload: n.Extra}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Close(ctx context.Context) error {
	return wrapError(l.pq.Close())
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &adapter.PGError{
			SQLState:       string(pqErr.Code),
			ConstraintName: pqErr.Constraint,
			Message:        pqErr.Message,
			Cause:          err,
		}
	}

	return &adapter.PGError{Cause: err, Message: err.Error()}
}
