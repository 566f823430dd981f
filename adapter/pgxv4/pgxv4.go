// Package pgxv4 adapts github.com/jackc/pgx/v4's pgxpool to the
// adapter.ConnPool/Connector surface, for deployments pinned to pgx v4
// until they can move to v5. Its shape mirrors adapter/pgxv5 closely;
// the two differ only in which driver package's types cross the
// wrapper boundary.
package pgxv4

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/vgarvardt/backoff"

	"github.com/cabbagequeue/cabbage/adapter"
)

// Pool wraps a *pgxpool.Pool to satisfy adapter.ConnPool.
type Pool struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Pool { return &Pool{pool: pool} }

// NewFromDSN opens a pool from dsn, the v4 counterpart of pgxv5.NewFromDSN.
func NewFromDSN(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &Pool{pool: pool}, nil
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (adapter.CommandTag, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return commandTag(tag), nil
}

func (p *Pool) Query(ctx context.Context, sql string, args ...any) (adapter.Rows, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return &rowsWrapper{rows: rows}, nil
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) adapter.Row {
	return &rowWrapper{row: p.pool.QueryRow(ctx, sql, args...)}
}

func (p *Pool) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return &txWrapper{tx: tx}, nil
}

func (p *Pool) Close() { p.pool.Close() }

// Listen acquires a dedicated connection and issues LISTEN, same
// pattern as adapter/pgxv5.
func (p *Pool) Listen(ctx context.Context, channel string) (adapter.Listener, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, wrapError(err)
	}

	l := &listener{
		pool:   p.pool,
		conn:   conn,
		boff:   backoff.NewExponentialBackOff(),
		logger: adapter.NoOpLogger{},
	}
	l.boff.InitialInterval = 250 * time.Millisecond
	l.boff.MaxInterval = 30 * time.Second
	l.boff.MaxElapsedTime = 0

	if _, err := conn.Exec(ctx, `LISTEN `+pgx.Identifier{channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, wrapError(err)
	}
	l.channels = append(l.channels, channel)

	return l, nil
}

type commandTag pgconn.CommandTag

func (t commandTag) RowsAffected() int64 { return pgconn.CommandTag(t).RowsAffected() }

type rowWrapper struct{ row pgx.Row }

func (r *rowWrapper) Scan(dest ...any) error {
	if err := r.row.Scan(dest...); err != nil {
		return wrapError(err)
	}
	return nil
}

type rowsWrapper struct{ rows pgx.Rows }

func (r *rowsWrapper) Next() bool { return r.rows.Next() }
func (r *rowsWrapper) Scan(dest ...any) error {
	if err := r.rows.Scan(dest...); err != nil {
		return wrapError(err)
	}
	return nil
}
func (r *rowsWrapper) Err() error { return wrapError(r.rows.Err()) }
func (r *rowsWrapper) Close()     { r.rows.Close() }

type txWrapper struct{ tx pgx.Tx }

func (t *txWrapper) Exec(ctx context.Context, sql string, args ...any) (adapter.CommandTag, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return commandTag(tag), nil
}

func (t *txWrapper) Query(ctx context.Context, sql string, args ...any) (adapter.Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return &rowsWrapper{rows: rows}, nil
}

func (t *txWrapper) QueryRow(ctx context.Context, sql string, args ...any) adapter.Row {
	return &rowWrapper{row: t.tx.QueryRow(ctx, sql, args...)}
}

func (t *txWrapper) Commit(ctx context.Context) error   { return wrapError(t.tx.Commit(ctx)) }
func (t *txWrapper) Rollback(ctx context.Context) error { return wrapError(t.tx.Rollback(ctx)) }

type listener struct {
	pool     *pgxpool.Pool
	conn     *pgxpool.Conn
	channels []string
	boff     *backoff.ExponentialBackOff
	logger   adapter.Logger
}

func (l *listener) Listen(ctx context.Context, channel string) error {
	if _, err := l.conn.Exec(ctx, `LISTEN `+pgx.Identifier{channel}.Sanitize()); err != nil {
		return wrapError(err)
	}
	l.channels = append(l.channels, channel)
	return nil
}

func (l *listener) Unlisten(ctx context.Context, channel string) error {
	if _, err := l.conn.Exec(ctx, `UNLISTEN `+pgx.Identifier{channel}.Sanitize()); err != nil {
		return wrapError(err)
	}
	for i, c := range l.channels {
		if c == channel {
			l.channels = append(l.channels[:i], l.channels[i+1:]...)
			break
		}
	}
	return nil
}

func (l *listener) WaitForNotification(ctx context.Context) (*adapter.Notification, error) {
	n, err := l.conn.Conn().WaitForNotification(ctx)
	if err == nil {
		l.boff.Reset()
		return &adapter.Notification{Channel: n.Channel, Payload: n.Payload}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err := l.reconnect(ctx); err != nil {
		return nil, err
	}
	return nil, errors.New("cabbage/pgxv4: reconnected listener, retry")
}

func (l *listener) reconnect(ctx context.Context) error {
	l.conn.Release()

	wait := l.boff.NextBackOff()
	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return wrapError(err)
	}
	l.conn = conn

	for _, ch := range l.channels {
		if _, err := conn.Exec(ctx, `LISTEN `+pgx.Identifier{ch}.Sanitize()); err != nil {
			return wrapError(err)
		}
	}
	l.logger.Info("pgxv4 listener reconnected", adapter.F("channels", l.channels))
	return nil
}

func (l *listener) Close(ctx context.Context) error {
	l.conn.Release()
	return nil
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &adapter.PGError{
			SQLState:       pgErr.Code,
			ConstraintName: pgErr.ConstraintName,
			Message:        pgErr.Message,
			Cause:          err,
		}
	}

	return &adapter.PGError{Cause: err, Message: err.Error()}
}
