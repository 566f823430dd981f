package cabbage_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cabbagequeue/cabbage"
	"github.com/cabbagequeue/cabbage/adapter"
	"github.com/cabbagequeue/cabbage/adapter/pgxv5"
)

// testPool connects to the database named by DATABASE_URL (or
// CABBAGE_TEST_DSN), migrates it, and truncates the job tables before
// returning. Tests that need a live Postgres skip themselves when
// neither variable is set, instead of failing a build that has no
// database available.
func testPool(t *testing.T) adapter.ConnPool {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = os.Getenv("CABBAGE_TEST_DSN")
	}
	if dsn == "" {
		t.Skip("set DATABASE_URL or CABBAGE_TEST_DSN to run integration tests against a real Postgres")
	}

	ctx := context.Background()
	pool, err := pgxv5.NewFromDSN(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, cabbage.Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE procrastinate_jobs, procrastinate_events RESTART IDENTITY`)
	require.NoError(t, err)

	return pool
}

func testManager(t *testing.T) *cabbage.JobManager {
	t.Helper()
	return cabbage.NewJobManager(testPool(t))
}

func TestDeferAndFetchJob(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{
		Queue:    "queue_a",
		TaskName: "send_email",
		Args:     json.RawMessage(`{"to":"a@example.com"}`),
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	job, err := m.FetchJob(ctx, []string{"queue_a"})
	require.NoError(t, err)
	require.NotNil(t, job)

	require.Equal(t, id, job.ID)
	require.Equal(t, cabbage.StatusDoing, job.Status)
	require.Equal(t, "send_email", job.TaskName)
}

func TestFetchJobRespectsQueueFilter(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_b", TaskName: "t"})
	require.NoError(t, err)

	job, err := m.FetchJob(ctx, []string{"queue_a"})
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestFetchJobRespectsScheduledAt(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t", ScheduledAt: &future})
	require.NoError(t, err)

	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestFetchJobRespectsLockExclusion(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	lock := "shared-lock"
	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t1", Lock: &lock})
	require.NoError(t, err)
	_, err = m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t2", Lock: &lock})
	require.NoError(t, err)

	first, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "t1", first.TaskName)

	second, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, second, "the second job shares a lock held by a doing job and must stay todo")

	require.NoError(t, m.FinishJob(ctx, first, cabbage.StatusSucceeded, false))

	second, err = m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, second, "the lock frees once the first job finishes")
	require.Equal(t, "t2", second.TaskName)
}

func TestDeferJobQueueingLockDedup(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	lock := "dedup-key"
	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t1", QueueingLock: &lock})
	require.NoError(t, err)

	_, err = m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t2", QueueingLock: &lock})
	var already *cabbage.AlreadyEnqueued
	require.ErrorAs(t, err, &already)
}

func TestDeferJobQueueingLockFreesAfterTerminal(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	lock := "dedup-key"
	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t1", QueueingLock: &lock})
	require.NoError(t, err)

	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, m.FinishJob(ctx, job, cabbage.StatusSucceeded, false))

	_, err = m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t2", QueueingLock: &lock})
	require.NoError(t, err, "a terminal job's queueing_lock must be reusable")
}

func TestFinishJobBadEndStatus(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)
	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)

	err = m.FinishJob(ctx, job, cabbage.StatusTodo, false)
	require.Error(t, err)
}

func TestFinishJobWrongStatus(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)

	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, m.FinishJob(ctx, job, cabbage.StatusSucceeded, false))

	var ce *cabbage.ConnectorException
	require.ErrorAs(t, m.FinishJob(ctx, job, cabbage.StatusSucceeded, false), &ce)
}

func TestFinishJobDelete(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)
	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, m.FinishJob(ctx, job, cabbage.StatusSucceeded, true))

	jobs, err := m.ListJobs(ctx, cabbage.JobFilter{ID: &id})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestRetryJob(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)

	job1, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, m.RetryJob(ctx, job1, time.Now()))

	job2, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, job2)
	require.Equal(t, job1.ID, job2.ID)
	require.Equal(t, job1.Attempts+1, job2.Attempts)
}

func TestCancelJob(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)

	cancelled, err := m.CancelJob(ctx, id)
	require.NoError(t, err)
	require.True(t, cancelled)

	jobs, err := m.ListJobs(ctx, cabbage.JobFilter{ID: &id})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, cabbage.StatusFailed, jobs[0].Status)
	require.Equal(t, 0, jobs[0].Attempts, "cancel must not count as an attempt")
}

func TestCancelJobAlreadyFetchedReturnsFalse(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)
	_, err = m.FetchJob(ctx, nil)
	require.NoError(t, err)

	cancelled, err := m.CancelJob(ctx, id)
	require.NoError(t, err)
	require.False(t, cancelled)
}

func TestGetStalledJobs(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)
	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, job)

	stalled, err := m.GetStalledJobs(ctx, 0, nil, nil)
	require.NoError(t, err)
	require.Len(t, stalled, 1)
	require.Equal(t, job.ID, stalled[0].ID)

	notStalled, err := m.GetStalledJobs(ctx, 3600, nil, nil)
	require.NoError(t, err)
	require.Empty(t, notStalled)
}

func TestDeleteOldJobs(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)
	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, m.FinishJob(ctx, job, cabbage.StatusSucceeded, false))

	require.NoError(t, m.DeleteOldJobs(ctx, cabbage.DeleteOldJobsOptions{NbHours: 0}))

	jobs, err := m.ListJobs(ctx, cabbage.JobFilter{ID: &id})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

func TestDeleteOldJobsKeepsRecentFailuresUnlessIncludeError(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)
	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, m.FinishJob(ctx, job, cabbage.StatusFailed, false))

	require.NoError(t, m.DeleteOldJobs(ctx, cabbage.DeleteOldJobsOptions{NbHours: 0, IncludeError: false}))
	jobs, err := m.ListJobs(ctx, cabbage.JobFilter{ID: &id})
	require.NoError(t, err)
	require.Len(t, jobs, 1, "a failed job is only swept when IncludeError is set")

	require.NoError(t, m.DeleteOldJobs(ctx, cabbage.DeleteOldJobsOptions{NbHours: 0, IncludeError: true}))
	jobs, err = m.ListJobs(ctx, cabbage.JobFilter{ID: &id})
	require.NoError(t, err)
	require.Empty(t, jobs)
}

// TestDeleteOldJobsUsesMostRecentEventPerJob pins down delete_old_jobs'
// cutoff: it compares nb_hours against each job's *latest* event, not
// its earliest. A job whose only old event is the original "deferred"
// but whose "succeeded" event is recent must survive a sweep that would
// otherwise catch it if the cutoff were computed off the earliest row.
func TestDeleteOldJobsUsesMostRecentEventPerJob(t *testing.T) {
	pool := testPool(t)
	m := cabbage.NewJobManager(pool)
	ctx := context.Background()

	id, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "queue_a", TaskName: "t"})
	require.NoError(t, err)
	job, err := m.FetchJob(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, m.FinishJob(ctx, job, cabbage.StatusSucceeded, false))

	longAgo := time.Now().Add(-48 * time.Hour)
	_, err = pool.Exec(ctx,
		`UPDATE procrastinate_events SET at = $1 WHERE job_id = $2 AND type = 'deferred'`,
		longAgo, id,
	)
	require.NoError(t, err)

	require.NoError(t, m.DeleteOldJobs(ctx, cabbage.DeleteOldJobsOptions{NbHours: 1}))
	jobs, err := m.ListJobs(ctx, cabbage.JobFilter{ID: &id})
	require.NoError(t, err)
	require.Len(t, jobs, 1, "the job's most recent event (succeeded) is still fresh, so it must survive")

	_, err = pool.Exec(ctx,
		`UPDATE procrastinate_events SET at = $1 WHERE job_id = $2`,
		longAgo, id,
	)
	require.NoError(t, err)

	require.NoError(t, m.DeleteOldJobs(ctx, cabbage.DeleteOldJobsOptions{NbHours: 1}))
	jobs, err = m.ListJobs(ctx, cabbage.JobFilter{ID: &id})
	require.NoError(t, err)
	require.Empty(t, jobs, "once every event is old the job becomes eligible for deletion")
}

func TestListQueuesAndTasks(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	_, err := m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "q1", TaskName: "task_foo"})
	require.NoError(t, err)
	_, err = m.DeferJobAsync(ctx, cabbage.JobToDefer{Queue: "q2", TaskName: "task_bar"})
	require.NoError(t, err)

	queues, err := m.ListQueues(ctx, cabbage.QueueFilter{})
	require.NoError(t, err)
	require.Len(t, queues, 2)

	tasks, err := m.ListTasks(ctx, cabbage.TaskFilter{Queue: strPtr2("q1")})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "task_foo", tasks[0].Name)
}

func TestCheckConnectionAndStatusEnumSync(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	ok, err := m.CheckConnection(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, m.CheckStatusEnumSync(ctx))
}

func strPtr2(s string) *string { return &s }
