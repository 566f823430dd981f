// Package cabbage is a durable, distributed task queue backed entirely
// by PostgreSQL. Producers call DeferJobAsync to enqueue named tasks
// onto named queues; a pool of worker processes call FetchJob to claim
// work and FinishJob/RetryJob to report the outcome. All coordination
// — mutual exclusion, deduplication, retries, stall detection, garbage
// collection — happens in SQL, inside procedures shipped alongside this
// package (see sql/schema.sql and sql/procedures.sql); JobManager is a
// thin, typed façade over calling them.
package cabbage

import (
	"encoding/json"
	"time"
)

// Status is a job's position in its lifecycle. It is backed by a
// string so its values print and marshal the same way the database
// enum's labels read.
type Status string

const (
	StatusTodo      Status = "todo"
	StatusDoing     Status = "doing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

func (s Status) valid() bool {
	switch s {
	case StatusTodo, StatusDoing, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

// AllStatuses lists every client-side status value. CheckStatusEnumSync
// compares this set against the database enum's labels at startup so
// the two never silently drift apart.
func AllStatuses() []Status {
	return []Status{StatusTodo, StatusDoing, StatusSucceeded, StatusFailed}
}

// EventType labels one row in the append-only event log.
// AbortRequested and Aborted are declared for a future cooperative-
// cancellation feature; no operation in this package emits them yet.
type EventType string

const (
	EventDeferred         EventType = "deferred"
	EventStarted          EventType = "started"
	EventDeferredForRetry EventType = "deferred_for_retry"
	EventFailed           EventType = "failed"
	EventSucceeded        EventType = "succeeded"
	EventCancelled        EventType = "cancelled"
	EventScheduled        EventType = "scheduled"
	EventAbortRequested   EventType = "abort_requested"
	EventAborted          EventType = "aborted"
)

// Event is one append-only audit row: a job transitioned, at a point
// in time, to or through a particular state.
type Event struct {
	ID    int64
	JobID int64
	Type  EventType
	At    time.Time
}

// Job is an immutable snapshot of one procrastinate_jobs row, as read
// at fetch (or defer) time. Workers pass the Job they got from
// FetchJob back into FinishJob or RetryJob; nothing in this package
// mutates a Job value in place, so it is safe to read from multiple
// goroutines once constructed. The task's arguments are reached
// through TaskKwargs rather than a field, since json.RawMessage is a
// []byte under the hood and an exported field would let a caller
// mutate it behind the Job's back.
type Job struct {
	ID           int64
	Queue        string
	TaskName     string
	Lock         *string
	QueueingLock *string
	Status       Status
	ScheduledAt  *time.Time
	Attempts     int

	args json.RawMessage
}

// TaskKwargs returns a copy of the task's arguments, safe for the
// caller to hold or mutate without affecting the Job.
func (j *Job) TaskKwargs() json.RawMessage {
	if j.args == nil {
		return nil
	}
	kwargs := make(json.RawMessage, len(j.args))
	copy(kwargs, j.args)
	return kwargs
}

// JobToDefer is the input to DeferJobAsync. It carries no ID, Status
// or Attempts: the database assigns those.
type JobToDefer struct {
	Queue        string
	TaskName     string
	Lock         *string
	QueueingLock *string
	Args         json.RawMessage
	ScheduledAt  *time.Time
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
