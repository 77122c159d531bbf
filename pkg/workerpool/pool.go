// Package workerpool runs batches of fetch tasks on a bounded set of workers
// with per-task retries.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of work in a batch
type Task struct {
	ID string
	Do func(ctx context.Context) error
}

// Result is the outcome of one task
type Result struct {
	TaskID   string
	Attempts int
	Err      error
	Duration time.Duration
}

// Config holds worker pool configuration
type Config struct {
	// Workers bounds how many tasks run at once
	Workers int
	// MaxRetries is the number of extra attempts after the first failure
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between retries
	RetryDelay time.Duration
}

// DefaultConfig sizes the pool for the six record collections of one patient
func DefaultConfig() Config {
	return Config{
		Workers:    6,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Pool executes task batches
type Pool struct {
	config Config
	logger *zap.Logger

	tasksRun       int64
	tasksSucceeded int64
	tasksFailed    int64
	tasksRetried   int64
	active         int64
}

// New creates a new worker pool
func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Pool{config: cfg, logger: logger}
}

// Run executes tasks and blocks until all of them finish or ctx is done.
// Results are returned in the order of tasks.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))
	queue := make(chan int)

	workers := p.config.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range queue {
				results[i] = p.runTask(ctx, workerID, tasks[i])
			}
		}(w)
	}

	for i := range tasks {
		queue <- i
	}
	close(queue)
	wg.Wait()
	return results
}

func (p *Pool) runTask(ctx context.Context, workerID int, task Task) Result {
	atomic.AddInt64(&p.tasksRun, 1)
	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	started := time.Now()
	res := Result{TaskID: task.ID}

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		res.Attempts++
		res.Err = task.Do(ctx)
		if res.Err == nil || IsPermanent(res.Err) || attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(res.Err))

		timer := time.NewTimer(p.config.RetryDelay * time.Duration(attempt+1))
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Err = ctx.Err()
			attempt = p.config.MaxRetries
		case <-timer.C:
		}
	}
	res.Duration = time.Since(started)

	if res.Err != nil {
		atomic.AddInt64(&p.tasksFailed, 1)
		if res.Attempts > 1 && !IsPermanent(res.Err) {
			res.Err = fmt.Errorf("task %s failed after %d attempts: %w", task.ID, res.Attempts, res.Err)
		}
		p.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.Int("worker_id", workerID),
			zap.Error(res.Err))
		return res
	}
	atomic.AddInt64(&p.tasksSucceeded, 1)
	return res
}

// Stats is a point-in-time view of pool counters
type Stats struct {
	TasksRun       int64
	TasksSucceeded int64
	TasksFailed    int64
	TasksRetried   int64
	Active         int64
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksRun:       atomic.LoadInt64(&p.tasksRun),
		TasksSucceeded: atomic.LoadInt64(&p.tasksSucceeded),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		Active:         atomic.LoadInt64(&p.active),
		Workers:        p.config.Workers,
	}
}
