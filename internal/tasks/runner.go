// Package tasks runs fire-and-forget background work on a fixed worker pool.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Runner errors.
var (
	ErrQueueFull = errors.New("task queue is full")
	ErrStopped   = errors.New("task runner is stopped")
)

// Config contains runner configuration.
type Config struct {
	NumWorkers  int
	QueueSize   int
	TaskTimeout time.Duration
}

// DefaultConfig returns default runner configuration.
func DefaultConfig() Config {
	return Config{
		NumWorkers:  4,
		QueueSize:   256,
		TaskTimeout: 60 * time.Second,
	}
}

type task struct {
	name     string
	fn       func(ctx context.Context)
	queuedAt time.Time
}

// Runner executes submitted tasks on a pool of goroutines. Tasks get their
// own context, detached from the request that submitted them.
type Runner struct {
	config Config
	queue  chan task

	mu      sync.RWMutex
	stopped bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a new task runner. Zero config fields take their defaults.
func NewRunner(config Config) *Runner {
	def := DefaultConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = def.NumWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	return &Runner{
		config: config,
		queue:  make(chan task, config.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (r *Runner) Start() {
	slog.Info("starting task runner",
		"workers", r.config.NumWorkers,
		"queue_size", r.config.QueueSize,
		"task_timeout", r.config.TaskTimeout,
	)

	for i := 0; i < r.config.NumWorkers; i++ {
		r.wg.Add(1)
		go r.run(i)
	}
}

// Submit queues fn for execution. It never blocks: a full queue or a stopped
// runner returns an error and the task is dropped.
func (r *Runner) Submit(name string, fn func(ctx context.Context)) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		recordTask(name, "dropped")
		return ErrStopped
	}

	select {
	case r.queue <- task{name: name, fn: fn, queuedAt: time.Now()}:
		queueDepth.Set(float64(len(r.queue)))
		return nil
	default:
		recordTask(name, "dropped")
		return ErrQueueFull
	}
}

// Stop refuses new tasks, runs everything already queued and waits for the workers.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	slog.Info("task runner stopped")
}

func (r *Runner) run(workerID int) {
	defer r.wg.Done()

	for {
		select {
		case t := <-r.queue:
			r.execute(workerID, t)
		case <-r.stopCh:
			r.drain(workerID)
			return
		}
	}
}

func (r *Runner) drain(workerID int) {
	for {
		select {
		case t := <-r.queue:
			r.execute(workerID, t)
		default:
			return
		}
	}
}

func (r *Runner) execute(workerID int, t task) {
	queueDepth.Set(float64(len(r.queue)))
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.TaskTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("task panicked", "task", t.name, "worker", workerID, "panic", rec)
			recordTask(t.name, "panic")
		}
	}()

	t.fn(ctx)

	duration := time.Since(start)
	recordTask(t.name, "done")
	recordTaskDuration(t.name, duration)
	slog.Debug("task finished",
		"task", t.name,
		"worker", workerID,
		"waited", start.Sub(t.queuedAt),
		"duration", duration,
	)
}
