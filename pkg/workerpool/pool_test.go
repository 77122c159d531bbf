package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_PreservesOrderAndBoundsConcurrency(t *testing.T) {
	p := New(Config{Workers: 2, RetryDelay: time.Millisecond}, nil)

	var running, peak int64
	tasks := make([]Task, 8)
	for i := range tasks {
		id := string(rune('a' + i))
		tasks[i] = Task{ID: id, Do: func(ctx context.Context) error {
			n := atomic.AddInt64(&running, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return nil
		}}
	}

	results := p.Run(context.Background(), tasks)

	require.Len(t, results, len(tasks))
	for i, r := range results {
		assert.Equal(t, tasks[i].ID, r.TaskID)
		assert.NoError(t, r.Err)
		assert.Equal(t, 1, r.Attempts)
	}
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	assert.Equal(t, int64(8), p.Stats().TasksSucceeded)
}

func TestRun_RetriesTransientFailures(t *testing.T) {
	p := New(Config{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond}, nil)

	var calls int
	results := p.Run(context.Background(), []Task{{ID: "flaky", Do: func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	}}})

	require.NoError(t, results[0].Err)
	assert.Equal(t, 3, results[0].Attempts)
	assert.Equal(t, int64(2), p.Stats().TasksRetried)
}

func TestRun_PermanentErrorStopsRetries(t *testing.T) {
	p := New(Config{Workers: 1, MaxRetries: 5, RetryDelay: time.Millisecond}, nil)
	notFound := errors.New("not found")

	results := p.Run(context.Background(), []Task{{ID: "gone", Do: func(ctx context.Context) error {
		return Permanent(notFound)
	}}})

	assert.Equal(t, 1, results[0].Attempts)
	assert.ErrorIs(t, results[0].Err, notFound)
	assert.True(t, IsPermanent(results[0].Err))
	assert.Equal(t, int64(1), p.Stats().TasksFailed)
}

func TestRun_ExhaustedRetriesWrapError(t *testing.T) {
	p := New(Config{Workers: 1, MaxRetries: 1, RetryDelay: time.Millisecond}, nil)
	boom := errors.New("boom")

	results := p.Run(context.Background(), []Task{{ID: "t", Do: func(ctx context.Context) error { return boom }}})

	assert.Equal(t, 2, results[0].Attempts)
	assert.ErrorIs(t, results[0].Err, boom)
}

func TestRun_CancelledContext(t *testing.T) {
	p := New(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := p.Run(ctx, []Task{{ID: "t", Do: func(ctx context.Context) error { return nil }}})

	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Zero(t, results[0].Attempts)
}

func TestRun_EmptyBatch(t *testing.T) {
	assert.Empty(t, New(DefaultConfig(), nil).Run(context.Background(), nil))
}
