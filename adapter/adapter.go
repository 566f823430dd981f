// Package adapter defines the narrow surface JobManager needs from a
// Postgres driver: parameterized query execution, row scanning, and a
// notification listener. Concrete drivers live in adapter/pgxv5,
// adapter/pgxv4, adapter/pq and adapter/gopg; none of them is imported
// by the root package, so swapping drivers never touches job manager
// code.
package adapter

import "context"

// CommandTag reports how many rows a non-SELECT statement touched.
type CommandTag interface {
	RowsAffected() int64
}

// Row is a single result row, as returned by QueryRow.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a result set, as returned by Query.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Tx is an open transaction. JobManager operations and reporting
// queries are each a single statement and run without one; Migrate
// applies the schema and the procedures inside one of these.
type Tx interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// ConnPool is a pooled connection to Postgres. Implementations hide
// whatever connection lifecycle their driver imposes; callers never
// see individual connections except through Begin/Listen.
type ConnPool interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// Notification is one NOTIFY payload delivered on a LISTEN channel.
// The job manager only ever sends empty payloads; the field exists
// because the wire protocol carries one and adapters should not throw
// it away.
type Notification struct {
	Channel string
	Payload string
}

// Listener is a long-lived subscription to one or more NOTIFY
// channels. WaitForNotification blocks until a notification arrives
// or ctx is cancelled. Implementations are responsible for
// reconnecting and re-issuing LISTEN for every channel the caller
// registered; a reconnect may surface as one error from
// WaitForNotification, after which the caller simply calls it again.
type Listener interface {
	Listen(ctx context.Context, channel string) error
	Unlisten(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (*Notification, error)
	Close(ctx context.Context) error
}

// Field is one structured logging key/value pair.
type Field struct {
	Key   string
	Value any
}

// F is a short constructor for Field, mirroring how call sites read.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the structured logger JobManager and the worker harness
// write through. adapter/zapadapter wraps go.uber.org/zap; NoOpLogger
// below is the default when no logger is configured.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

// NoOpLogger discards everything. It is the zero-value default so
// JobManager and Worker never need a nil check before logging.
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...Field) {}
func (NoOpLogger) Info(string, ...Field)  {}
func (NoOpLogger) Error(string, ...Field) {}
func (l NoOpLogger) With(...Field) Logger { return l }

// PGError is the normalized shape every adapter's error mapper
// produces from its driver's native error type, so the root package's
// error classification logic (see errors.go) never imports a driver
// package directly.
type PGError struct {
	SQLState       string
	ConstraintName string
	Message        string
	Cause          error
}

func (e *PGError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Cause.Error()
}

func (e *PGError) Unwrap() error { return e.Cause }
