package cabbage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cabbagequeue/cabbage/adapter"
	"github.com/cabbagequeue/cabbage/metrics"
)

// ManagerOption configures a JobManager at construction time.
type ManagerOption func(*JobManager)

// WithLogger sets the structured logger JobManager writes through.
// The default is adapter.NoOpLogger{}.
func WithLogger(logger adapter.Logger) ManagerOption {
	return func(m *JobManager) { m.logger = logger }
}

// WithMetrics attaches a Metrics instance the manager increments as it
// defers, cancels and scans for stalled jobs. The default is nil,
// meaning no metrics are recorded.
func WithMetrics(m *metrics.Metrics) ManagerOption {
	return func(mgr *JobManager) { mgr.metrics = m }
}

// JobManager is the public façade over the job state machine: it
// validates arguments, calls the stored procedures through a
// Connector, translates database errors into the typed hierarchy in
// errors.go, and marshals rows into Job values. It holds no durable
// state of its own — everything lives in Postgres.
type JobManager struct {
	connector Connector
	logger    adapter.Logger
	metrics   *metrics.Metrics
}

// NewJobManager builds a JobManager over an already-configured
// Connector. The caller owns the Connector's lifecycle; call Close to
// release it when done.
func NewJobManager(connector Connector, opts ...ManagerOption) *JobManager {
	m := &JobManager{connector: connector, logger: adapter.NoOpLogger{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DeferJobAsync enqueues a new job in "todo" status and returns its
// assigned ID. A non-empty QueueingLock that collides with another
// "todo" job returns *AlreadyEnqueued.
func (m *JobManager) DeferJobAsync(ctx context.Context, d JobToDefer) (int64, error) {
	args := d.Args
	if args == nil {
		args = json.RawMessage(`{}`)
	}

	row := m.connector.QueryRow(ctx,
		`SELECT defer_job($1, $2, $3, $4, $5, $6)`,
		d.Queue, d.TaskName, d.Lock, d.QueueingLock, []byte(args), d.ScheduledAt,
	)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, mapError(err)
	}

	m.logger.Info("deferred job",
		adapter.F("queue", d.Queue), adapter.F("task", d.TaskName), adapter.F("job_id", id))
	if m.metrics != nil {
		m.metrics.JobsDeferred.WithLabelValues(d.Queue, d.TaskName).Inc()
	}

	return id, nil
}

// FetchJob atomically claims and returns the oldest eligible "todo"
// job visible to queues (nil or empty means any queue), or nil if none
// is eligible right now. Eligibility, ordering and lock exclusion are
// entirely the stored procedure's responsibility; see
// sql/procedures.sql for the exact predicate.
func (m *JobManager) FetchJob(ctx context.Context, queues []string) (*Job, error) {
	row := m.connector.QueryRow(ctx, `SELECT * FROM fetch_job($1)`, queues)

	job, err := scanJob(row)
	if err != nil {
		return nil, mapError(err)
	}
	if job == nil {
		return nil, nil
	}

	m.logger.Debug("fetched job", adapter.F("job_id", job.ID), adapter.F("queue", job.Queue))
	return job, nil
}

// FinishJob transitions job to a terminal status (Succeeded or
// Failed). job must currently be Doing, or Todo if deleteJob is true
// and the job was never fetched. Calling FinishJob again on a job that
// is no longer in one of those statuses returns *ConnectorException
// wrapping the procedure's raised condition; so does any status other
// than Succeeded or Failed, which the procedure rejects.
func (m *JobManager) FinishJob(ctx context.Context, job *Job, status Status, deleteJob bool) error {
	_, err := m.connector.Exec(ctx, `SELECT finish_job($1, $2, $3)`, job.ID, string(status), deleteJob)
	if err != nil {
		return mapError(err)
	}

	m.logger.Info("finished job",
		adapter.F("job_id", job.ID), adapter.F("status", string(status)), adapter.F("deleted", deleteJob))
	return nil
}

// RetryJob moves job from Doing back to Todo, scheduled at retryAt,
// incrementing its attempts counter and notifying its queue's channel.
// job must currently be Doing.
func (m *JobManager) RetryJob(ctx context.Context, job *Job, retryAt time.Time) error {
	_, err := m.connector.Exec(ctx, `SELECT retry_job($1, $2)`, job.ID, retryAt)
	if err != nil {
		return mapError(err)
	}

	m.logger.Info("retrying job", adapter.F("job_id", job.ID), adapter.F("retry_at", retryAt))
	return nil
}

// CancelJob transitions a Todo job straight to Failed with a
// Cancelled event, without ever being fetched. It reports whether the
// job was actually cancelled: false means it was not in Todo status
// (already fetched, already terminal, or it does not exist).
func (m *JobManager) CancelJob(ctx context.Context, jobID int64) (bool, error) {
	row := m.connector.QueryRow(ctx, `SELECT cancel_job($1)`, jobID)

	var cancelled bool
	if err := row.Scan(&cancelled); err != nil {
		return false, mapError(err)
	}

	m.logger.Info("cancel job requested", adapter.F("job_id", jobID), adapter.F("cancelled", cancelled))
	if cancelled && m.metrics != nil {
		m.metrics.JobsCancelled.Inc()
	}
	return cancelled, nil
}

// GetStalledJobs returns every Doing job whose most recent "started"
// event is older than nbSeconds, optionally narrowed to one queue
// and/or one task name. This is detection only; deciding whether to
// retry or fail a stalled job is a supervising process's job, not
// this package's.
func (m *JobManager) GetStalledJobs(ctx context.Context, nbSeconds int, queue, taskName *string) ([]*Job, error) {
	rows, err := m.connector.Query(ctx, `SELECT * FROM get_stalled_jobs($1, $2, $3)`, nbSeconds, queue, taskName)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, mapError(err)
	}
	if m.metrics != nil {
		for _, j := range jobs {
			m.metrics.JobsStalled.WithLabelValues(j.Queue, j.TaskName).Inc()
		}
	}
	return jobs, nil
}

// DeleteOldJobsOptions narrows a DeleteOldJobs call.
type DeleteOldJobsOptions struct {
	NbHours      int
	Queue        *string
	IncludeError bool
}

// DeleteOldJobs deletes every Succeeded job (and Failed, when
// IncludeError is set) whose latest event is older than NbHours,
// optionally restricted to one queue. A job whose terminal event is
// recent is never deleted even if it ran a long time ago; the filter
// is keyed on the job's most recent event, not its started event.
func (m *JobManager) DeleteOldJobs(ctx context.Context, opts DeleteOldJobsOptions) error {
	_, err := m.connector.Exec(ctx, `SELECT delete_old_jobs($1, $2, $3)`, opts.NbHours, opts.Queue, opts.IncludeError)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// CheckConnection reports whether the underlying connector can reach
// the database right now.
func (m *JobManager) CheckConnection(ctx context.Context) (bool, error) {
	row := m.connector.QueryRow(ctx, `SELECT 1`)
	var one int
	if err := row.Scan(&one); err != nil {
		return false, mapError(err)
	}
	return one == 1, nil
}

// CheckStatusEnumSync compares the client-side Status values against
// the database's procrastinate_job_status enum labels and returns an
// error describing any mismatch. Call it once at process startup; a
// mismatch means a migration ran against the wrong client version.
func (m *JobManager) CheckStatusEnumSync(ctx context.Context) error {
	rows, err := m.connector.Query(ctx,
		`SELECT e.enumlabel FROM pg_enum e
		 JOIN pg_type t ON e.enumtypid = t.oid
		 WHERE t.typname = 'procrastinate_job_status'`)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	dbValues := map[string]bool{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return mapError(err)
		}
		dbValues[label] = true
	}
	if err := rows.Err(); err != nil {
		return mapError(err)
	}

	clientValues := map[string]bool{}
	for _, s := range AllStatuses() {
		clientValues[string(s)] = true
	}

	if len(dbValues) != len(clientValues) {
		return fmt.Errorf("cabbage: status enum mismatch: db has %v, client has %v", dbValues, clientValues)
	}
	for v := range clientValues {
		if !dbValues[v] {
			return fmt.Errorf("cabbage: status enum mismatch: db has %v, client has %v", dbValues, clientValues)
		}
	}
	return nil
}

// Close releases the manager's underlying connector.
func (m *JobManager) Close(ctx context.Context) error {
	m.connector.Close()
	return nil
}

// Connector returns the Connector this manager was built with, so
// collaborators like the worker package can drive Wakeups off the
// same connection without the manager exposing raw SQL methods.
func (m *JobManager) Connector() Connector {
	return m.connector
}

// scanJob reads one procrastinate_jobs row. Postgres returns an
// all-NULL composite when fetch_job finds nothing, which scans to a
// zero-valued Job with ID == 0; scanJob turns that into (nil, nil).
func scanJob(row adapter.Row) (*Job, error) {
	var (
		id                       sql.NullInt64
		queue, task              sql.NullString
		lock, queueingLock       sql.NullString
		args                     []byte
		status                   sql.NullString
		scheduledAt              sql.NullTime
		attempts                 sql.NullInt64
	)

	if err := row.Scan(&id, &queue, &task, &lock, &queueingLock, &args, &status, &scheduledAt, &attempts); err != nil {
		return nil, err
	}
	if !id.Valid {
		return nil, nil
	}

	return rowToJob(id, queue, task, lock, queueingLock, args, status, scheduledAt, attempts), nil
}

func scanJobs(rows adapter.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var (
			id                       sql.NullInt64
			queue, task              sql.NullString
			lock, queueingLock       sql.NullString
			args                     []byte
			status                   sql.NullString
			scheduledAt              sql.NullTime
			attempts                 sql.NullInt64
		)
		if err := rows.Scan(&id, &queue, &task, &lock, &queueingLock, &args, &status, &scheduledAt, &attempts); err != nil {
			return nil, err
		}
		if !id.Valid {
			continue
		}
		jobs = append(jobs, rowToJob(id, queue, task, lock, queueingLock, args, status, scheduledAt, attempts))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func rowToJob(
	id sql.NullInt64,
	queue, task, lock, queueingLock sql.NullString,
	args []byte,
	status sql.NullString,
	scheduledAt sql.NullTime,
	attempts sql.NullInt64,
) *Job {
	j := &Job{
		ID:       id.Int64,
		Queue:    queue.String,
		TaskName: task.String,
		args:     json.RawMessage(args),
		Status:   Status(status.String),
		Attempts: int(attempts.Int64),
	}
	if lock.Valid {
		j.Lock = strPtr(lock.String)
	}
	if queueingLock.Valid {
		j.QueueingLock = strPtr(queueingLock.String)
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time
		j.ScheduledAt = &t
	}
	return j
}
