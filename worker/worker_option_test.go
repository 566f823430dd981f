package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cabbagequeue/cabbage"
	"github.com/cabbagequeue/cabbage/adapter"
)

type mockLogger struct {
	mock.Mock
}

func (m *mockLogger) Debug(msg string, fields ...adapter.Field) { m.Called(msg, fields) }
func (m *mockLogger) Info(msg string, fields ...adapter.Field)  { m.Called(msg, fields) }
func (m *mockLogger) Error(msg string, fields ...adapter.Field) { m.Called(msg, fields) }
func (m *mockLogger) With(fields ...adapter.Field) adapter.Logger {
	args := m.Called(fields)
	return args.Get(0).(adapter.Logger)
}

var dummyWM = WorkMap{
	"my_task": func(ctx context.Context, j *cabbage.Job) error { return nil },
}

func TestWithWorkerPollInterval(t *testing.T) {
	w := NewWorker(nil, dummyWM)
	assert.Equal(t, defaultPollInterval, w.interval)

	const customInterval = 17 * time.Second
	w = NewWorker(nil, dummyWM, WithWorkerPollInterval(customInterval))
	assert.Equal(t, customInterval, w.interval)
}

func TestWithWorkerQueues(t *testing.T) {
	w := NewWorker(nil, dummyWM)
	assert.Empty(t, w.queues)

	w = NewWorker(nil, dummyWM, WithWorkerQueues("a", "b"))
	assert.Equal(t, []string{"a", "b"}, w.queues)
}

func TestWithWorkerID(t *testing.T) {
	w := NewWorker(nil, dummyWM)
	assert.NotEmpty(t, w.id)

	const customID = "worker-1"
	w = NewWorker(nil, dummyWM, WithWorkerID(customID))
	assert.Equal(t, customID, w.id)
}

func TestWithWorkerLogger(t *testing.T) {
	w := NewWorker(nil, dummyWM)
	assert.IsType(t, adapter.NoOpLogger{}, w.logger)

	l := new(mockLogger)
	w = NewWorker(nil, dummyWM, WithWorkerLogger(l))
	assert.Same(t, l, w.logger)
}

func TestWithWorkerBackoff(t *testing.T) {
	w := NewWorker(nil, dummyWM)
	assert.NotNil(t, w.backoff)

	called := false
	custom := func(int) time.Duration { called = true; return time.Millisecond }
	w = NewWorker(nil, dummyWM, WithWorkerBackoff(custom))
	w.backoff(1)
	assert.True(t, called)
}

type dummyHook struct {
	counter int
}

func (h *dummyHook) handler(context.Context, *cabbage.Job, error) { h.counter++ }

func TestWithWorkerHooksJobLocked(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	w := NewWorker(nil, dummyWM)
	for _, h := range w.hooksJobLocked {
		h(ctx, nil, nil)
	}
	require.Equal(t, 0, hook.counter)

	w = NewWorker(nil, dummyWM, WithWorkerHooksJobLocked(hook.handler, hook.handler, hook.handler))
	for _, h := range w.hooksJobLocked {
		h(ctx, nil, nil)
	}
	require.Equal(t, 3, hook.counter)
}

func TestWithWorkerHooksJobDone(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	w := NewWorker(nil, dummyWM)
	for _, h := range w.hooksJobDone {
		h(ctx, nil, nil)
	}
	require.Equal(t, 0, hook.counter)

	w = NewWorker(nil, dummyWM, WithWorkerHooksJobDone(hook.handler, hook.handler, hook.handler))
	for _, h := range w.hooksJobDone {
		h(ctx, nil, nil)
	}
	require.Equal(t, 3, hook.counter)
}

func TestWithPoolPollInterval(t *testing.T) {
	p := NewWorkerPool(nil, dummyWM, 2)
	assert.Equal(t, defaultPollInterval, p.workers[0].interval)

	const customInterval = 17 * time.Second
	p = NewWorkerPool(nil, dummyWM, 2, WithPoolPollInterval(customInterval))
	for _, w := range p.workers {
		assert.Equal(t, customInterval, w.interval)
	}
}

func TestWithPoolID(t *testing.T) {
	p := NewWorkerPool(nil, dummyWM, 2, WithPoolID("pool-1"))
	for _, w := range p.workers {
		assert.Contains(t, w.id, "pool-1/")
	}
}

func TestWithPoolHooksJobLocked(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	p := NewWorkerPool(nil, dummyWM, 3)
	for _, w := range p.workers {
		for _, h := range w.hooksJobLocked {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 0, hook.counter)

	p = NewWorkerPool(nil, dummyWM, 3, WithPoolHooksJobLocked(hook.handler, hook.handler, hook.handler))
	for _, w := range p.workers {
		for _, h := range w.hooksJobLocked {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 9, hook.counter)
}

func TestWithPoolHooksJobDone(t *testing.T) {
	ctx := context.Background()
	hook := new(dummyHook)

	p := NewWorkerPool(nil, dummyWM, 3)
	for _, w := range p.workers {
		for _, h := range w.hooksJobDone {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 0, hook.counter)

	p = NewWorkerPool(nil, dummyWM, 3, WithPoolHooksJobDone(hook.handler, hook.handler, hook.handler))
	for _, w := range p.workers {
		for _, h := range w.hooksJobDone {
			h(ctx, nil, nil)
		}
	}
	require.Equal(t, 9, hook.counter)
}
