// Package worker is a thin harness for running task handlers against
// a cabbage.JobManager: Worker polls one or more queues, dispatches
// each fetched job to the handler registered for its task name, and
// reports the outcome back through FinishJob or RetryJob. Nothing
// here is required to use cabbage; a caller that wants a different
// dispatch policy can call JobManager directly.
package worker

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cabbagequeue/cabbage"
	"github.com/cabbagequeue/cabbage/adapter"
	"github.com/cabbagequeue/cabbage/metrics"
)

const defaultPollInterval = cabbage.DefaultPollInterval

// WorkFunc runs one job. Returning a non-nil error retries the job
// through Backoff; returning nil finishes it as succeeded.
type WorkFunc func(ctx context.Context, job *cabbage.Job) error

// WorkMap maps a task name to the function that handles it. A fetched
// job whose TaskName has no entry fails immediately with
// *cabbage.TaskNotFound, without ever calling the handler lookup twice.
type WorkMap map[string]WorkFunc

// HookFunc observes worker lifecycle events: job locked (fetched,
// err set only if the fetch itself failed) and job done (handler ran,
// err set if it returned one or the job's task was unknown).
type HookFunc func(ctx context.Context, job *cabbage.Job, err error)

// Backoff computes the delay before retrying a job that failed on its
// attempts'th try (1 for the first failure).
type Backoff func(attempts int) time.Duration

// DefaultBackoff is a full-jitter exponential backoff bounded at five
// minutes, the same shape the reconnect logic in the adapter packages
// uses for LISTEN reconnection.
func DefaultBackoff(attempts int) time.Duration {
	const (
		base = time.Second
		max  = 5 * time.Minute
	)
	d := base * time.Duration(math.Pow(2, float64(attempts)))
	if d > max || d <= 0 {
		d = max
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Worker polls a JobManager for jobs and dispatches them to a WorkMap.
type Worker struct {
	manager *cabbage.JobManager
	wm      WorkMap

	id       string
	queues   []string
	interval time.Duration
	backoff  Backoff
	logger   adapter.Logger
	metrics  *metrics.Metrics

	hooksJobLocked []HookFunc
	hooksJobDone   []HookFunc
}

// NewWorker builds a Worker. manager may be nil only in tests that
// never call Run.
func NewWorker(manager *cabbage.JobManager, wm WorkMap, opts ...WorkerOption) *Worker {
	w := &Worker{
		manager:  manager,
		wm:       wm,
		id:       ulid.Make().String(),
		interval: defaultPollInterval,
		backoff:  DefaultBackoff,
		logger:   adapter.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, fetching and dispatching jobs until ctx is cancelled.
// It drains every eligible job on each wakeup before waiting for the
// next one, so a burst of deferred jobs is worked as fast as the
// handlers allow rather than one per poll interval.
func (w *Worker) Run(ctx context.Context) error {
	wakeups := cabbage.Wakeups(ctx, w.connector(), w.queues, w.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-wakeups:
			if !ok {
				return ctx.Err()
			}
			for {
				worked, err := w.workOne(ctx)
				if err != nil {
					w.logger.Error("fetch job failed", adapter.F("worker_id", w.id), adapter.F("error", err))
					break
				}
				if !worked {
					break
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
	}
}

// connector recovers the Connector backing manager purely to drive
// Wakeups; JobManager otherwise never exposes it.
func (w *Worker) connector() cabbage.Connector {
	return w.manager.Connector()
}

// workOne fetches and fully processes at most one job. It reports
// false when no job was available, so Run knows to stop draining.
func (w *Worker) workOne(ctx context.Context) (bool, error) {
	job, err := w.manager.FetchJob(ctx, w.queues)
	if err != nil {
		w.runHooks(ctx, w.hooksJobLocked, nil, err)
		return false, err
	}
	if job == nil {
		if w.metrics != nil {
			w.metrics.FetchEmpty.Inc()
		}
		return false, nil
	}

	w.runHooks(ctx, w.hooksJobLocked, job, nil)
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *cabbage.Job) {
	handler, ok := w.wm[job.TaskName]
	if !ok {
		taskErr := &cabbage.TaskNotFound{TaskName: job.TaskName}
		if err := w.manager.FinishJob(ctx, job, cabbage.StatusFailed, false); err != nil {
			w.logger.Error("finish unknown-task job failed", adapter.F("job_id", job.ID), adapter.F("error", err))
		}
		if w.metrics != nil {
			w.metrics.JobsFailed.WithLabelValues(job.Queue, job.TaskName).Inc()
		}
		w.runHooks(ctx, w.hooksJobDone, job, taskErr)
		return
	}

	started := time.Now()
	runErr := handler(ctx, job)
	if w.metrics != nil {
		w.metrics.ObserveDuration(job.Queue, job.TaskName, time.Since(started))
	}

	if runErr == nil {
		if err := w.manager.FinishJob(ctx, job, cabbage.StatusSucceeded, false); err != nil {
			w.logger.Error("finish succeeded job failed", adapter.F("job_id", job.ID), adapter.F("error", err))
		}
		if w.metrics != nil {
			w.metrics.JobsSucceeded.WithLabelValues(job.Queue, job.TaskName).Inc()
		}
		w.runHooks(ctx, w.hooksJobDone, job, nil)
		return
	}

	retryAt := time.Now().Add(w.backoff(job.Attempts + 1))
	if err := w.manager.RetryJob(ctx, job, retryAt); err != nil {
		if errors.As(err, new(*cabbage.ConnectorException)) {
			w.logger.Error("retry job failed", adapter.F("job_id", job.ID), adapter.F("error", err))
		}
	}
	if w.metrics != nil {
		w.metrics.JobsRetried.WithLabelValues(job.Queue, job.TaskName).Inc()
	}
	w.runHooks(ctx, w.hooksJobDone, job, runErr)
}

func (w *Worker) runHooks(ctx context.Context, hooks []HookFunc, job *cabbage.Job, err error) {
	for _, h := range hooks {
		h(ctx, job, err)
	}
}
