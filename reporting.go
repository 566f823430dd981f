package cabbage

// Read-only reporting views over procrastinate_jobs, grouped by queue
// or by task. These back administrative tooling (cmd/cabbage-admin)
// and are not on any worker's hot path, so each runs as a single
// query with no stored procedure backing it.

import (
	"context"
)

// JobFilter narrows ListJobs. A nil field means "don't filter on
// this"; all non-nil fields combine with AND.
type JobFilter struct {
	ID           *int64
	Queue        *string
	Task         *string
	Status       *Status
	Lock         *string
	QueueingLock *string
}

// ListJobs returns every job matching filter, ordered by ID.
func (m *JobManager) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := m.connector.Query(ctx, `
		SELECT id, queue_name, task_name, lock, queueing_lock, args, status, scheduled_at, attempts
		FROM procrastinate_jobs
		WHERE ($1::bigint IS NULL OR id = $1)
		  AND ($2::text IS NULL OR queue_name = $2)
		  AND ($3::text IS NULL OR task_name = $3)
		  AND ($4::text IS NULL OR status::text = $4)
		  AND ($5::text IS NULL OR lock = $5)
		  AND ($6::text IS NULL OR queueing_lock = $6)
		ORDER BY id ASC`,
		filter.ID, filter.Queue, filter.Task, status, filter.Lock, filter.QueueingLock,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, mapError(err)
	}
	return jobs, nil
}

// QueueFilter narrows ListQueues. Status, Task and Lock filter on the
// underlying jobs contributing to each queue's counts, not on the
// queue itself; a queue with zero matching jobs after filtering is
// omitted from the result.
type QueueFilter struct {
	Queue  *string
	Task   *string
	Status *Status
	Lock   *string
}

// QueueSummary is one row of ListQueues: a queue name plus a count of
// its jobs broken out by status.
type QueueSummary struct {
	Name      string
	JobsCount int
	Todo      int
	Doing     int
	Succeeded int
	Failed    int
}

// ListQueues aggregates job counts per queue, ordered by name.
func (m *JobManager) ListQueues(ctx context.Context, filter QueueFilter) ([]QueueSummary, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := m.connector.Query(ctx, `
		SELECT
			queue_name,
			count(*),
			count(*) FILTER (WHERE status = 'todo'),
			count(*) FILTER (WHERE status = 'doing'),
			count(*) FILTER (WHERE status = 'succeeded'),
			count(*) FILTER (WHERE status = 'failed')
		FROM procrastinate_jobs
		WHERE ($1::text IS NULL OR queue_name = $1)
		  AND ($2::text IS NULL OR task_name = $2)
		  AND ($3::text IS NULL OR status::text = $3)
		  AND ($4::text IS NULL OR lock = $4)
		GROUP BY queue_name
		ORDER BY queue_name ASC`,
		filter.Queue, filter.Task, status, filter.Lock,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var summaries []QueueSummary
	for rows.Next() {
		var s QueueSummary
		if err := rows.Scan(&s.Name, &s.JobsCount, &s.Todo, &s.Doing, &s.Succeeded, &s.Failed); err != nil {
			return nil, mapError(err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return summaries, nil
}

// TaskFilter narrows ListTasks, mirroring QueueFilter but grouping by
// task name instead of queue.
type TaskFilter struct {
	Queue  *string
	Task   *string
	Status *Status
	Lock   *string
}

// TaskSummary is one row of ListTasks: a task name plus a count of its
// jobs broken out by status.
type TaskSummary struct {
	Name      string
	JobsCount int
	Todo      int
	Doing     int
	Succeeded int
	Failed    int
}

// ListTasks aggregates job counts per task name, ordered by name.
func (m *JobManager) ListTasks(ctx context.Context, filter TaskFilter) ([]TaskSummary, error) {
	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := m.connector.Query(ctx, `
		SELECT
			task_name,
			count(*),
			count(*) FILTER (WHERE status = 'todo'),
			count(*) FILTER (WHERE status = 'doing'),
			count(*) FILTER (WHERE status = 'succeeded'),
			count(*) FILTER (WHERE status = 'failed')
		FROM procrastinate_jobs
		WHERE ($1::text IS NULL OR queue_name = $1)
		  AND ($2::text IS NULL OR task_name = $2)
		  AND ($3::text IS NULL OR status::text = $3)
		  AND ($4::text IS NULL OR lock = $4)
		GROUP BY task_name
		ORDER BY task_name ASC`,
		filter.Queue, filter.Task, status, filter.Lock,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var summaries []TaskSummary
	for rows.Next() {
		var s TaskSummary
		if err := rows.Scan(&s.Name, &s.JobsCount, &s.Todo, &s.Doing, &s.Succeeded, &s.Failed); err != nil {
			return nil, mapError(err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return summaries, nil
}
