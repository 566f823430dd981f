package worker

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cabbagequeue/cabbage"
	"github.com/cabbagequeue/cabbage/adapter"
	"github.com/cabbagequeue/cabbage/metrics"
)

// WorkerPool runs a fixed number of Workers concurrently, all sharing
// one WorkMap and one JobManager. Each worker claims jobs
// independently through FetchJob's row-level locking, so the pool
// itself coordinates nothing beyond starting and stopping its workers
// together.
type WorkerPool struct {
	workers []*Worker

	id       string
	queues   []string
	interval time.Duration
	backoff  Backoff
	logger   adapter.Logger
	metrics  *metrics.Metrics

	hooksJobLocked []HookFunc
	hooksJobDone   []HookFunc
}

// NewWorkerPool builds a WorkerPool of size workers, each sharing wm
// and manager but with its own ID derived from the pool's.
func NewWorkerPool(manager *cabbage.JobManager, wm WorkMap, size int, opts ...WorkerPoolOption) *WorkerPool {
	p := &WorkerPool{
		id:       ulid.Make().String(),
		interval: defaultPollInterval,
		backoff:  DefaultBackoff,
		logger:   adapter.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.workers = make([]*Worker, size)
	for i := range p.workers {
		p.workers[i] = NewWorker(manager, wm,
			WithWorkerID(p.id+"/"+ulid.Make().String()),
			WithWorkerQueues(p.queues...),
			WithWorkerPollInterval(p.interval),
			WithWorkerBackoff(p.backoff),
			WithWorkerLogger(p.logger),
			WithWorkerMetrics(p.metrics),
			WithWorkerHooksJobLocked(p.hooksJobLocked...),
			WithWorkerHooksJobDone(p.hooksJobDone...),
		)
	}

	return p
}

// Run starts every worker in the pool and blocks until all of them
// return, which happens only when ctx is cancelled. The first worker
// to return a non-context error cancels the rest through the
// errgroup's shared context.
func (p *WorkerPool) Run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)

	for _, w := range p.workers {
		w := w
		group.Go(func() error { return w.Run(gctx) })
	}

	return group.Wait()
}
