package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-identity/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueue(t *testing.T, q queue.Queue, topic, action string, data any, opts ...queue.Option) *queue.Job {
	t.Helper()
	job, err := q.Enqueue(context.Background(), topic, action, data, opts...)
	require.NoError(t, err)
	return job
}

func TestWorker_Drain(t *testing.T) {
	ctx := context.Background()

	t.Run("runs the handler and removes the job", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)

		var got []string
		worker := queue.NewWorker(store, "auth")
		worker.Handle("ping", queue.Bind(func(_ context.Context, data map[string]string) error {
			got = append(got, data["value"])
			return nil
		}))

		enqueue(t, q, "auth", "ping", map[string]string{"value": "one"})
		enqueue(t, q, "auth", "ping", map[string]string{"value": "two"})

		require.NoError(t, worker.Drain(ctx))
		assert.ElementsMatch(t, []string{"one", "two"}, got)

		jobs, err := store.Claim(ctx, "auth", 0, time.Now().UTC().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, jobs, "finished jobs leave no rows")
	})

	t.Run("only claims jobs for its own topic", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)

		var calls int
		worker := queue.NewWorker(store, "auth")
		worker.Handle("ping", func(context.Context, *queue.Job) error {
			calls++
			return nil
		})

		enqueue(t, q, "webhooks", "ping", nil)
		require.NoError(t, worker.Drain(ctx))
		assert.Zero(t, calls)
	})

	t.Run("unknown actions complete with a warning", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)
		worker := queue.NewWorker(store, "auth")

		enqueue(t, q, "auth", "no-such-action", nil)
		require.NoError(t, worker.Drain(ctx))

		failed, err := store.FindFailed(ctx, "auth")
		require.NoError(t, err)
		assert.Empty(t, failed)
	})
}

func TestWorker_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("retry delay doubles per attempt", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)

		worker := queue.NewWorker(store, "auth")
		worker.Handle("flaky", func(context.Context, *queue.Job) error {
			return errors.New("transient")
		})

		start := time.Now().UTC()
		enqueue(t, q, "auth", "flaky", nil, queue.WithBackoffBase(time.Minute))

		// First run fails; the retry is due one base delay out.
		require.NoError(t, worker.Drain(ctx))

		due, err := store.Claim(ctx, "auth", 0, start.Add(30*time.Second))
		require.NoError(t, err)
		assert.Empty(t, due, "retry not due before the backoff elapses")

		due, err = store.Claim(ctx, "auth", 0, start.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, 1, due[0].Attempts)

		// A second failure reschedules two base delays out.
		job := due[0]
		job.Attempts++
		require.NoError(t, store.Retry(ctx, job, start.Add(job.NextDelay()), "transient"))

		due, err = store.Claim(ctx, "auth", 0, start.Add(90*time.Second))
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = store.Claim(ctx, "auth", 0, start.Add(3*time.Minute))
		require.NoError(t, err)
		assert.Len(t, due, 1)
	})

	t.Run("attempts exhaust into the terminal failed state", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)

		var attempts int32
		worker := queue.NewWorker(store, "auth")
		worker.Handle("doomed", func(context.Context, *queue.Job) error {
			atomic.AddInt32(&attempts, 1)
			return errors.New("persistent failure")
		})

		enqueue(t, q, "auth", "doomed", nil,
			queue.WithMaxAttempts(3),
			queue.WithBackoffBase(time.Nanosecond))

		for i := 0; i < 5; i++ {
			require.NoError(t, worker.Drain(ctx))
			time.Sleep(time.Millisecond)
		}

		assert.EqualValues(t, 3, atomic.LoadInt32(&attempts), "no runs beyond max attempts")

		failed, err := store.FindFailed(ctx, "auth")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, queue.StatusFailed, failed[0].Status)
		assert.Equal(t, 3, failed[0].Attempts)
		assert.Contains(t, failed[0].LastError, "persistent failure")
	})

	t.Run("terminal errors park immediately", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)

		var attempts int
		worker := queue.NewWorker(store, "auth")
		worker.Handle("broken", func(context.Context, *queue.Job) error {
			attempts++
			return queue.Terminal(errors.New("payload beyond repair"))
		})

		enqueue(t, q, "auth", "broken", nil, queue.WithBackoffBase(time.Nanosecond))

		for i := 0; i < 3; i++ {
			require.NoError(t, worker.Drain(ctx))
		}

		assert.Equal(t, 1, attempts)
		failed, err := store.FindFailed(ctx, "auth")
		require.NoError(t, err)
		assert.Len(t, failed, 1)
	})

	t.Run("undecodable payloads are terminal", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)

		worker := queue.NewWorker(store, "auth")
		worker.Handle("typed", queue.Bind(func(_ context.Context, data struct {
			Count int `json:"count"`
		}) error {
			return nil
		}))

		enqueue(t, q, "auth", "typed", map[string]any{"count": "not-a-number"},
			queue.WithBackoffBase(time.Nanosecond))

		require.NoError(t, worker.Drain(ctx))

		failed, err := store.FindFailed(ctx, "auth")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, 1, failed[0].Attempts)
	})

	t.Run("handler panics count as failures", func(t *testing.T) {
		store := queue.NewMemoryStore()
		q := queue.New(store)

		worker := queue.NewWorker(store, "auth")
		worker.Handle("panicky", func(context.Context, *queue.Job) error {
			panic("boom")
		})

		enqueue(t, q, "auth", "panicky", nil,
			queue.WithMaxAttempts(1),
			queue.WithBackoffBase(time.Nanosecond))

		require.NoError(t, worker.Drain(ctx))

		failed, err := store.FindFailed(ctx, "auth")
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Contains(t, failed[0].LastError, "boom")
	})
}

func TestWorker_Start(t *testing.T) {
	store := queue.NewMemoryStore()
	q := queue.New(store)

	var processed int32
	worker := queue.NewWorker(store, "auth",
		queue.WithPollInterval(5*time.Millisecond),
		queue.WithConcurrency(2))
	worker.Handle("tick", func(context.Context, *queue.Job) error {
		atomic.AddInt32(&processed, 1)
		return nil
	})

	for i := 0; i < 6; i++ {
		enqueue(t, q, "auth", "tick", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&processed) == 6
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
}
