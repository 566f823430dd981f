// Package gopg adapts github.com/go-pg/pg/v10 to the
// adapter.ConnPool/Connector surface, for deployments already standing
// on go-pg's ORM-flavored pool elsewhere that would rather not add a
// second driver just for this package.
//
// go-pg is built around decoding rows straight into a typed Go model;
// it has no cursor-style Rows comparable to pgx or database/sql. This
// adapter bridges that gap with rawRowScanner, an orm.ColumnScanner
// that captures each column's raw wire bytes instead of decoding into
// a fixed struct, so Query can still hand back column values through
// the same Scan(dest ...any) shape every other adapter uses.
package gopg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/go-pg/pg/v10/types"

	"github.com/cabbagequeue/cabbage/adapter"
)

// DB wraps a *pg.DB.
type DB struct {
	db *pg.DB
}

// New wraps an already-connected *pg.DB.
func New(db *pg.DB) *DB { return &DB{db: db} }

// NewFromOptions connects with pg.Connect(opts) and pings it.
func NewFromOptions(ctx context.Context, opts *pg.Options) (*DB, error) {
	db := pg.Connect(opts)
	if _, err := db.ExecContext(ctx, "SELECT 1"); err != nil {
		db.Close()
		return nil, wrapError(err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Exec(ctx context.Context, query string, args ...any) (adapter.CommandTag, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return commandTag{res}, nil
}

// Query buffers every matching row up front: this package's callers
// (stalled-job batches, reporting lists) return small result sets, so
// the memory cost of materializing them immediately, rather than
// streaming, is immaterial.
func (d *DB) Query(ctx context.Context, query string, args ...any) (adapter.Rows, error) {
	rs := &rawRowScanner{}
	if _, err := d.db.QueryContext(ctx, rs, query, args...); err != nil {
		return nil, wrapError(err)
	}
	rs.flush()
	return &rowsWrapper{rows: rs.rows}, nil
}

func (d *DB) QueryRow(ctx context.Context, query string, args ...any) adapter.Row {
	return &rowWrapper{db: d.db, ctx: ctx, query: query, args: args}
}

func (d *DB) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := d.db.BeginContext(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return &txWrapper{tx: tx}, nil
}

func (d *DB) Close() { d.db.Close() }

// Listen opens a go-pg Listener on channel. go-pg owns reconnection
// internally the same way pq.Listener does; Receive's blocking call is
// relayed straight through to WaitForNotification.
func (d *DB) Listen(ctx context.Context, channel string) (adapter.Listener, error) {
	l := d.db.Listen(ctx, channel)
	return &listener{l: l}, nil
}

type commandTag struct{ res pg.Result }

func (t commandTag) RowsAffected() int64 { return int64(t.res.RowsAffected()) }

// rawRow holds one result row's columns as raw wire bytes (nil for
// SQL NULL), deferring type conversion to Scan time when the caller's
// real destination types are known.
type rawRow [][]byte

// rawRowScanner implements orm.ColumnScanner, capturing every row
// go-pg decodes into its raw bytes instead of a struct field.
type rawRowScanner struct {
	rows []rawRow
	cur  rawRow
}

// NewModel is called once per row before its columns are scanned;
// flushing the previous row here (rather than after its last column)
// is what turns go-pg's per-row callback shape into the row slice
// rowsWrapper iterates.
func (s *rawRowScanner) NewModel() (orm.ColumnScanner, error) {
	if s.cur != nil {
		s.rows = append(s.rows, s.cur)
	}
	s.cur = rawRow{}
	return s, nil
}

// flush appends the last row started by NewModel. QueryContext gives
// no explicit end-of-result callback, so the adapter calls this after
// the query returns.
func (s *rawRowScanner) flush() {
	if s.cur != nil {
		s.rows = append(s.rows, s.cur)
		s.cur = nil
	}
}

func (s *rawRowScanner) AddModel(orm.ColumnScanner) error { return nil }

func (s *rawRowScanner) AfterQuery(context.Context, orm.DB) error { return nil }

func (s *rawRowScanner) BeforeQuery(context.Context, orm.DB, *orm.QueryEvent) (context.Context, error) {
	return nil, nil
}
func (s *rawRowScanner) AfterSelect(context.Context) error { return nil }

// ScanColumn appends one column's raw wire bytes (or nil for SQL
// NULL, signalled by a negative length) to the row NewModel started.
func (s *rawRowScanner) ScanColumn(col types.ColumnInfo, rd types.Reader, n int) error {
	if n == -1 {
		s.cur = append(s.cur, nil)
		return nil
	}
	b, err := rd.ReadFullTemp()
	if err != nil {
		return err
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.cur = append(s.cur, cp)
	return nil
}

type rowsWrapper struct {
	rows []rawRow
	pos  int
}

func (r *rowsWrapper) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *rowsWrapper) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	if len(row) != len(dest) {
		return errors.New("cabbage/gopg: column count mismatch")
	}
	for i, d := range dest {
		if err := assignRaw(d, row[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *rowsWrapper) Err() error { return nil }
func (r *rowsWrapper) Close()     {}

// rowWrapper defers execution until Scan, matching every other
// adapter's QueryRow semantics. A fetch_job call that finds no job
// returns one all-NULL row, not zero rows (see manager.go's scanJob);
// a query that does return zero rows is reported as sql.ErrNoRows
// rather than silently swallowed.
type rowWrapper struct {
	db    *pg.DB
	ctx   context.Context
	query string
	args  []any
}

func (r *rowWrapper) Scan(dest ...any) error {
	rs := &rawRowScanner{}
	if _, err := r.db.QueryContext(r.ctx, rs, r.query, r.args...); err != nil {
		return wrapError(err)
	}
	rs.flush()
	if len(rs.rows) == 0 {
		return sql.ErrNoRows
	}
	return (&rowsWrapper{rows: rs.rows}).Scan(dest...)
}

type txWrapper struct{ tx *pg.Tx }

func (t *txWrapper) Exec(ctx context.Context, query string, args ...any) (adapter.CommandTag, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}
	return commandTag{res}, nil
}

func (t *txWrapper) Query(ctx context.Context, query string, args ...any) (adapter.Rows, error) {
	rs := &rawRowScanner{}
	if _, err := t.tx.QueryContext(ctx, rs, query, args...); err != nil {
		return nil, wrapError(err)
	}
	rs.flush()
	return &rowsWrapper{rows: rs.rows}, nil
}

func (t *txWrapper) QueryRow(ctx context.Context, query string, args ...any) adapter.Row {
	return &txRowWrapper{tx: t.tx, ctx: ctx, query: query, args: args}
}

func (t *txWrapper) Commit(ctx context.Context) error   { return wrapError(t.tx.Commit()) }
func (t *txWrapper) Rollback(ctx context.Context) error { return wrapError(t.tx.Rollback()) }

type txRowWrapper struct {
	tx    *pg.Tx
	ctx   context.Context
	query string
	args  []any
}

func (r *txRowWrapper) Scan(dest ...any) error {
	rs := &rawRowScanner{}
	if _, err := r.tx.QueryContext(r.ctx, rs, r.query, r.args...); err != nil {
		return wrapError(err)
	}
	rs.flush()
	if len(rs.rows) == 0 {
		return sql.ErrNoRows
	}
	return (&rowsWrapper{rows: rs.rows}).Scan(dest...)
}

type listener struct {
	l *pg.Listener
}

func (l *listener) Listen(ctx context.Context, channel string) error {
	return wrapError(l.l.Listen(ctx, channel))
}

func (l *listener) Unlisten(ctx context.Context, channel string) error {
	return wrapError(l.l.Unlisten(ctx, channel))
}

func (l *listener) WaitForNotification(ctx context.Context) (*adapter.Notification, error) {
	channel, payload, err := l.l.Receive(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	return &adapter.Notification{Channel: channel, Payload: payload}, nil
}

func (l *listener) Close(ctx context.Context) error {
	return wrapError(l.l.Close())
}

// assignRaw converts one column's raw wire bytes into dest, covering
// the scalar types manager.go's scan helpers actually use.
func assignRaw(dest any, raw []byte) error {
	switch d := dest.(type) {
	case *int64:
		if raw == nil {
			*d = 0
			return nil
		}
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return err
		}
		*d = n
	case *sql.NullInt64:
		if raw == nil {
			*d = sql.NullInt64{}
			return nil
		}
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return err
		}
		*d = sql.NullInt64{Int64: n, Valid: true}
	case *sql.NullString:
		if raw == nil {
			*d = sql.NullString{}
			return nil
		}
		*d = sql.NullString{String: string(raw), Valid: true}
	case *sql.NullTime:
		if raw == nil {
			*d = sql.NullTime{}
			return nil
		}
		t, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return err
		}
		*d = sql.NullTime{Time: t, Valid: true}
	case *[]byte:
		*d = raw
	case *string:
		*d = string(raw)
	default:
		return errors.New("cabbage/gopg: unsupported scan destination type")
	}
	return nil
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr pg.Error
	if errors.As(err, &pgErr) {
		return &adapter.PGError{
			SQLState:       pgErr.Field('C'),
			ConstraintName: pgErr.Field('n'),
			Message:        pgErr.Field('M'),
			Cause:          err,
		}
	}

	return &adapter.PGError{Cause: err, Message: err.Error()}
}
