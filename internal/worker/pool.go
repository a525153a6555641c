package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"capacityeval/internal/config"
)

// DefaultTaskTimeout bounds a single task when no timeout is configured
const DefaultTaskTimeout = 5 * time.Minute

// PoolMetrics provides metrics about the worker pool's performance
type PoolMetrics struct {
	TotalTasks         int64
	CompletedTasks     int64
	FailedTasks        int64
	SkippedTasks       int64
	CurrentWorkers     int64
	PeakWorkers        int64
	AverageExecutionMs int64
	TotalExecutionMs   int64
	mu                 sync.RWMutex
}

// Task represents a unit of work to be executed
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done func(error)
}

// Pool manages a fixed set of workers executing tasks concurrently
type Pool struct {
	maxWorkers    int
	taskTimeout   time.Duration
	jobs          chan job
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *PoolMetrics
	activeWorkers int64
	stopping      int32
}

// NewPool creates a worker pool. A zero taskTimeout disables the per-task deadline.
func NewPool(maxWorkers int, taskTimeout time.Duration) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		maxWorkers:  maxWorkers,
		taskTimeout: taskTimeout,
		jobs:        make(chan job, maxWorkers*2),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     &PoolMetrics{},
	}
}

// Start starts the worker pool
func (p *Pool) Start() {
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop stops the worker pool and waits for the workers to exit
func (p *Pool) Stop() {
	if !atomic.CompareAndSwapInt32(&p.stopping, 0, 1) {
		return
	}
	p.cancel()
	p.wg.Wait()
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.maxWorkers
}

// GetMetrics returns the current metrics for the pool
func (p *Pool) GetMetrics() PoolMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolMetrics{
		TotalTasks:         p.metrics.TotalTasks,
		CompletedTasks:     p.metrics.CompletedTasks,
		FailedTasks:        p.metrics.FailedTasks,
		SkippedTasks:       p.metrics.SkippedTasks,
		CurrentWorkers:     atomic.LoadInt64(&p.activeWorkers),
		PeakWorkers:        atomic.LoadInt64(&p.metrics.PeakWorkers),
		AverageExecutionMs: p.metrics.TotalExecutionMs / max(p.metrics.CompletedTasks+p.metrics.FailedTasks, 1),
		TotalExecutionMs:   p.metrics.TotalExecutionMs,
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	current := atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for {
		peak := atomic.LoadInt64(&p.metrics.PeakWorkers)
		if current <= peak || atomic.CompareAndSwapInt64(&p.metrics.PeakWorkers, peak, current) {
			break
		}
	}

	for {
		select {
		case j := <-p.jobs:
			j.done(p.run(j))
		case <-p.ctx.Done():
			// release anything still queued so callers are not left waiting
			for {
				select {
				case j := <-p.jobs:
					j.done(fmt.Errorf("worker pool stopped"))
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(j job) error {
	// tasks whose batch was cancelled before they started are abandoned
	if err := j.ctx.Err(); err != nil {
		p.metrics.mu.Lock()
		p.metrics.SkippedTasks++
		p.metrics.mu.Unlock()
		return err
	}

	ctx, cancel := j.ctx, context.CancelFunc(func() {})
	if p.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(j.ctx, p.taskTimeout)
	}
	start := time.Now()
	err := j.task(ctx)
	cancel()
	executionMs := time.Since(start).Milliseconds()

	p.metrics.mu.Lock()
	p.metrics.TotalExecutionMs += executionMs
	if err != nil {
		p.metrics.FailedTasks++
	} else {
		p.metrics.CompletedTasks++
	}
	p.metrics.mu.Unlock()
	return err
}

// ExecuteTasks runs tasks on the pool and blocks until every task has
// finished or been abandoned. The returned errors are indexed like tasks.
// Tasks that had not started when ctx was cancelled return ctx.Err().
func (p *Pool) ExecuteTasks(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	if len(tasks) == 0 {
		return errs
	}

	p.metrics.mu.Lock()
	p.metrics.TotalTasks += int64(len(tasks))
	p.metrics.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(tasks))

	for i, task := range tasks {
		j := job{
			ctx:  ctx,
			task: task,
			done: func(err error) {
				errs[i] = err
				wg.Done()
			},
		}

		select {
		case p.jobs <- j:
		case <-p.ctx.Done():
			j.done(fmt.Errorf("worker pool stopped"))
		case <-ctx.Done():
			p.metrics.mu.Lock()
			p.metrics.SkippedTasks++
			p.metrics.mu.Unlock()
			j.done(ctx.Err())
		}
	}

	wg.Wait()
	return errs
}

var (
	// singleton instance of the pool
	sharedPool *Pool
	// mutex for safe initialization of the shared pool
	poolMutex sync.Mutex
)

// GetSharedPool returns the shared worker pool instance.
// If the pool hasn't been initialized, it will be created using the MaxWorkers from global config.
func GetSharedPool() *Pool {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if sharedPool == nil {
		sharedPool = NewPool(config.Config.MaxWorkers, DefaultTaskTimeout)
		sharedPool.Start()
	}
	return sharedPool
}

// InitSharedPool initializes the shared worker pool with the specified number of workers.
// If the pool is already initialized, this call will be ignored.
func InitSharedPool(maxWorkers int, taskTimeout time.Duration) error {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if sharedPool != nil {
		return nil
	}

	if maxWorkers <= 0 {
		return fmt.Errorf("maxWorkers must be greater than 0, got %d", maxWorkers)
	}

	sharedPool = NewPool(maxWorkers, taskTimeout)
	sharedPool.Start()
	return nil
}

// ResetSharedPool stops and discards the shared pool
func ResetSharedPool() {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if sharedPool != nil {
		sharedPool.Stop()
		sharedPool = nil
	}
}
