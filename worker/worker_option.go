package worker

import (
	"time"

	"github.com/cabbagequeue/cabbage/adapter"
	"github.com/cabbagequeue/cabbage/metrics"
)

// WorkerOption configures a Worker at construction time.
type WorkerOption func(*Worker)

// WorkerPoolOption configures a WorkerPool at construction time.
type WorkerPoolOption func(*WorkerPool)

// WithWorkerPollInterval overrides the default poll interval, the
// belt-and-braces fallback period Wakeups ticks on between
// notifications.
func WithWorkerPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) { w.interval = d }
}

// WithWorkerQueues restricts the worker to the given queues. The
// default, an empty slice, fetches from any queue.
func WithWorkerQueues(queues ...string) WorkerOption {
	return func(w *Worker) { w.queues = queues }
}

// WithWorkerID sets the worker's ID for easier identification in logs
// and hooks. The default is a freshly generated ULID.
func WithWorkerID(id string) WorkerOption {
	return func(w *Worker) { w.id = id }
}

// WithWorkerLogger sets the structured logger the worker writes
// through.
func WithWorkerLogger(logger adapter.Logger) WorkerOption {
	return func(w *Worker) { w.logger = logger }
}

// WithWorkerBackoff overrides DefaultBackoff for computing retry delays.
func WithWorkerBackoff(b Backoff) WorkerOption {
	return func(w *Worker) { w.backoff = b }
}

// WithWorkerHooksJobLocked sets hooks called right after a fetch that
// either claimed a job or failed. err is set only if the fetch itself
// failed, and job is nil whenever err is set. A fetch that finds no
// eligible job does not call these hooks.
func WithWorkerHooksJobLocked(hooks ...HookFunc) WorkerOption {
	return func(w *Worker) { w.hooksJobLocked = hooks }
}

// WithWorkerHooksJobDone sets hooks called once a fetched job has been
// finished or scheduled for retry. err is set if the handler returned
// one or the job's task name had no registered handler.
func WithWorkerHooksJobDone(hooks ...HookFunc) WorkerOption {
	return func(w *Worker) { w.hooksJobDone = hooks }
}

// WithWorkerMetrics attaches a Metrics instance the worker increments
// as it fetches, finishes and retries jobs. The default is nil,
// meaning no metrics are recorded.
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithPoolPollInterval calls WithWorkerPollInterval for every worker
// in the pool.
func WithPoolPollInterval(d time.Duration) WorkerPoolOption {
	return func(p *WorkerPool) { p.interval = d }
}

// WithPoolQueues calls WithWorkerQueues for every worker in the pool.
func WithPoolQueues(queues ...string) WorkerPoolOption {
	return func(p *WorkerPool) { p.queues = queues }
}

// WithPoolID sets the pool's ID; each worker's own ID is derived from
// it ("<id>/<ULID>", with a fresh ULID per worker).
func WithPoolID(id string) WorkerPoolOption {
	return func(p *WorkerPool) { p.id = id }
}

// WithPoolLogger calls WithWorkerLogger for every worker in the pool.
func WithPoolLogger(logger adapter.Logger) WorkerPoolOption {
	return func(p *WorkerPool) { p.logger = logger }
}

// WithPoolBackoff calls WithWorkerBackoff for every worker in the pool.
func WithPoolBackoff(b Backoff) WorkerPoolOption {
	return func(p *WorkerPool) { p.backoff = b }
}

// WithPoolHooksJobLocked calls WithWorkerHooksJobLocked for every
// worker in the pool.
func WithPoolHooksJobLocked(hooks ...HookFunc) WorkerPoolOption {
	return func(p *WorkerPool) { p.hooksJobLocked = hooks }
}

// WithPoolHooksJobDone calls WithWorkerHooksJobDone for every worker
// in the pool.
func WithPoolHooksJobDone(hooks ...HookFunc) WorkerPoolOption {
	return func(p *WorkerPool) { p.hooksJobDone = hooks }
}

// WithPoolMetrics calls WithWorkerMetrics for every worker in the pool.
func WithPoolMetrics(m *metrics.Metrics) WorkerPoolOption {
	return func(p *WorkerPool) { p.metrics = m }
}
