package cabbage

import (
	"context"

	"github.com/cabbagequeue/cabbage/adapter"
)

// Connector is the thin client JobManager drives: parameterized SQL
// execution plus a notification stream. Implementations live under
// adapter/ (pgxv5, pgxv4, pq, gopg); JobManager holds only this
// interface and never imports a driver package, so the connection
// pool's lifecycle — and which driver backs it — is entirely owned by
// whoever constructs the Connector.
type Connector interface {
	adapter.ConnPool

	// Listen returns a Listener subscribed to channel. Implementations
	// reconnect transparently and re-issue LISTEN for every channel a
	// caller has active across a dropped connection.
	Listen(ctx context.Context, channel string) (adapter.Listener, error)
}

// Notify issues NOTIFY on the given channel with an empty payload, the
// shape every procedure in sql/procedures.sql uses for queue wakeups.
// It is exported so callers driving their own SQL (migrations,
// administrative scripts) can trigger the same wakeup a deferred job
// would.
func Notify(ctx context.Context, conn adapter.ConnPool, channel string) error {
	_, err := conn.Exec(ctx, `SELECT pg_notify($1, '')`, channel)
	return err
}

// queueChannel returns the LISTEN/NOTIFY channel name for a queue.
// Quoting is the caller's responsibility wherever the name is
// interpolated into raw SQL (see adapter implementations' Listen).
func queueChannel(queue string) string {
	return "queue#" + queue
}
