package cabbage

import (
	"context"
	"time"

	"github.com/cabbagequeue/cabbage/adapter"
)

// DefaultPollInterval is the belt-and-braces fallback period: even
// with a healthy LISTEN connection, Wakeups ticks on this interval so
// a notification lost during a reconnect window is never fatal —
// FetchJob is idempotent to call speculatively.
const DefaultPollInterval = 5 * time.Second

// Wakeups subscribes to the NOTIFY channel for every queue in queues
// (or the bare "queue#" channel when queues is empty) and returns a
// channel that receives a value whenever a job may have become
// available: on an actual notification, or every pollInterval as a
// fallback. The returned channel is closed when ctx is done. The
// procedures in sql/procedures.sql notify only "queue#<name>", so a
// Wakeups call with no queues is woken by the poll ticker alone.
//
// Sends are non-blocking; a caller that is mid-fetch when a second
// wakeup arrives simply misses it; catching it again on the next
// notification or the next tick is exactly the desired tolerance.
func Wakeups(ctx context.Context, connector Connector, queues []string, pollInterval time.Duration) <-chan struct{} {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	channels := queueChannels(queues)
	out := make(chan struct{}, 1)

	listener, err := connector.Listen(ctx, channels[0])
	if err != nil {
		// Degrade to poll-only: the worker still makes progress, just
		// without the low-latency wakeup LISTEN provides.
		go pollOnly(ctx, out, pollInterval)
		return out
	}
	for _, ch := range channels[1:] {
		_ = listener.Listen(ctx, ch)
	}

	go func() {
		defer close(out)
		defer func() { _ = listener.Close(context.Background()) }()

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		notifications := make(chan *adapter.Notification, 1)
		go relayNotifications(ctx, listener, notifications)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				trySend(out)
			case _, ok := <-notifications:
				if !ok {
					return
				}
				trySend(out)
			}
		}
	}()

	return out
}

func relayNotifications(ctx context.Context, listener adapter.Listener, out chan<- *adapter.Notification) {
	defer close(out)
	for {
		n, err := listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// The adapter owns reconnection; a transient error here
			// just means we try again on the next loop iteration.
			continue
		}
		select {
		case out <- n:
		case <-ctx.Done():
			return
		}
	}
}

func pollOnly(ctx context.Context, out chan<- struct{}, pollInterval time.Duration) {
	defer close(out)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			trySend(out)
		}
	}
}

func trySend(out chan<- struct{}) {
	select {
	case out <- struct{}{}:
	default:
	}
}

func queueChannels(queues []string) []string {
	if len(queues) == 0 {
		return []string{queueChannel("")}
	}
	channels := make([]string, len(queues))
	for i, q := range queues {
		channels[i] = queueChannel(q)
	}
	return channels
}
