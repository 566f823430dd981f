package cabbage

import (
	"errors"
	"fmt"

	"github.com/cabbagequeue/cabbage/adapter"
)

// sqlStateUniqueViolation is the Postgres SQLSTATE for unique_violation.
const sqlStateUniqueViolation = "23505"

// queueingLockConstraint is the partial unique index that enforces
// the "at most one todo job per queueing_lock" invariant. Its name
// must match sql/schema.sql exactly; mapError keys off it by name
// because Postgres gives no other reliable signal for which
// constraint was violated beyond this string.
const queueingLockConstraint = "procrastinate_jobs_queueing_lock_idx"

// AlreadyEnqueued is returned by DeferJobAsync when the job's
// queueing_lock collides with another job still in "todo" status.
type AlreadyEnqueued struct {
	ConstraintName string
	Cause          error
}

func (e *AlreadyEnqueued) Error() string {
	return fmt.Sprintf("job already enqueued (constraint %q)", e.ConstraintName)
}

func (e *AlreadyEnqueued) Unwrap() error { return e.Cause }

// UniqueViolation wraps a unique-constraint violation that is not the
// queueing-lock dedup check.
type UniqueViolation struct {
	ConstraintName string
	Cause          error
}

func (e *UniqueViolation) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.ConstraintName)
}

func (e *UniqueViolation) Unwrap() error { return e.Cause }

// ConnectorException wraps any other database error, including the
// raised conditions procedures use to signal a transition that can't
// be performed (bad end status, job not in the expected status).
type ConnectorException struct {
	Cause error
}

func (e *ConnectorException) Error() string {
	return fmt.Sprintf("connector exception: %v", e.Cause)
}

func (e *ConnectorException) Unwrap() error { return e.Cause }

// QueueNotFound, StalledJobError, JobAborted and TaskNotFound round out
// the error hierarchy for the collaborators this package does not
// implement (task dispatch, stall-recovery policy). JobManager never
// constructs these itself; they are declared here so the hierarchy is
// complete and callers can errors.As against it regardless of which
// layer produced the error.

type QueueNotFound struct{ Queue string }

func (e *QueueNotFound) Error() string { return fmt.Sprintf("queue not found: %s", e.Queue) }

type StalledJobError struct{ Job *Job }

func (e *StalledJobError) Error() string { return fmt.Sprintf("job %d is stalled", e.Job.ID) }

type JobAborted struct{ JobID int64 }

func (e *JobAborted) Error() string { return fmt.Sprintf("job %d was aborted", e.JobID) }

type TaskNotFound struct{ TaskName string }

func (e *TaskNotFound) Error() string { return fmt.Sprintf("task not found: %s", e.TaskName) }

// mapError classifies a driver error into the typed hierarchy above.
// It inspects the normalized adapter.PGError that every adapter
// produces rather than any driver-specific type, so this function
// never imports pgx, pq or go-pg.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *adapter.PGError
	if errors.As(err, &pgErr) && pgErr.SQLState == sqlStateUniqueViolation {
		if pgErr.ConstraintName == queueingLockConstraint {
			return &AlreadyEnqueued{ConstraintName: pgErr.ConstraintName, Cause: err}
		}
		return &UniqueViolation{ConstraintName: pgErr.ConstraintName, Cause: err}
	}

	return &ConnectorException{Cause: err}
}
