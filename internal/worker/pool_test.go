package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteTasks(t *testing.T) {
	pool := NewPool(4, time.Second)
	pool.Start()
	defer pool.Stop()

	var ran int64
	results := make([]int, 20)
	tasks := make([]Task, len(results))
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			results[i] = i * i
			if i == 7 {
				return errors.New("task 7 failed")
			}
			return nil
		}
	}

	errs := pool.ExecuteTasks(context.Background(), tasks)

	require.Len(t, errs, 20)
	assert.Equal(t, int64(20), atomic.LoadInt64(&ran))
	for i := range results {
		assert.Equal(t, i*i, results[i])
		if i == 7 {
			assert.EqualError(t, errs[i], "task 7 failed")
		} else {
			assert.NoError(t, errs[i])
		}
	}

	metrics := pool.GetMetrics()
	assert.Equal(t, int64(20), metrics.TotalTasks)
	assert.Equal(t, int64(19), metrics.CompletedTasks)
	assert.Equal(t, int64(1), metrics.FailedTasks)
	assert.LessOrEqual(t, metrics.PeakWorkers, int64(4))
}

func TestExecuteTasksEmpty(t *testing.T) {
	pool := NewPool(2, 0)
	pool.Start()
	defer pool.Stop()

	assert.Empty(t, pool.ExecuteTasks(context.Background(), nil))
}

func TestExecuteTasksCancelled(t *testing.T) {
	pool := NewPool(1, 0)
	pool.Start()
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}
	}

	errs := pool.ExecuteTasks(ctx, tasks)
	require.Len(t, errs, 10)
	for _, err := range errs {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Zero(t, atomic.LoadInt64(&ran))
	assert.Equal(t, int64(10), pool.GetMetrics().SkippedTasks)
}

func TestTaskTimeout(t *testing.T) {
	pool := NewPool(1, 20*time.Millisecond)
	pool.Start()
	defer pool.Stop()

	errs := pool.ExecuteTasks(context.Background(), []Task{
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
}

func TestNewPoolMinimumWorkers(t *testing.T) {
	assert.Equal(t, 1, NewPool(0, 0).Size())
	assert.Equal(t, 3, NewPool(3, 0).Size())
}

func TestSharedPool(t *testing.T) {
	ResetSharedPool()
	defer ResetSharedPool()

	assert.Error(t, InitSharedPool(0, time.Second))
	require.NoError(t, InitSharedPool(2, time.Second))
	// second initialisation is ignored
	require.NoError(t, InitSharedPool(8, time.Second))
	assert.Equal(t, 2, GetSharedPool().Size())
}
