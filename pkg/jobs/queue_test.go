package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRetriesThenExhausts(t *testing.T) {
	var calls int32
	exhausted := make(chan Job, 1)

	mux := NewMux()
	mux.Handle("cleanup", func(ctx context.Context, job Job) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("still failing")
	})
	mux.OnExhausted("cleanup", func(job Job, err error) { exhausted <- job })

	q := NewQueue("test", mux.Process, QueueConfig{
		Workers:     1,
		MaxRetries:  5,
		RetryDelay:  time.Millisecond,
		OnExhausted: mux.Exhausted,
	})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "1", Type: "cleanup", MaxRetries: 2}))

	select {
	case job := <-exhausted:
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("job was never reported as exhausted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestInlineRunsSynchronously(t *testing.T) {
	mux := NewMux()
	attempts := 0
	mux.Handle("mail", func(ctx context.Context, job Job) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	runner := &Inline{Mux: mux, MaxRetries: 3}
	require.NoError(t, runner.Enqueue(Job{Type: "mail"}))
	assert.Equal(t, 2, attempts)

	err := runner.Enqueue(Job{Type: "unknown"})
	assert.ErrorIs(t, err, ErrExhausted)
}
