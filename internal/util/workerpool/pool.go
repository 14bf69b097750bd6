// Package workerpool runs tasks on a fixed set of goroutines. The node pool
// uses it to reassign the guilds of a failed node without spawning one
// goroutine per guild.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be executed
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int
	Logger     *zap.Logger
}

// WorkerPool manages a bounded pool of goroutines for executing tasks
type WorkerPool struct {
	name      string
	taskQueue chan Task
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}

	maxWorkers     int
	activeWorkers  int32
	completedTasks uint64
	failedTasks    uint64
	rejectedTasks  uint64
}

// New creates a worker pool and starts its workers
func New(cfg Config) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		name:       cfg.Name,
		taskQueue:  make(chan Task, cfg.QueueSize),
		logger:     cfg.Logger,
		ctx:        ctx,
		cancel:     cancel,
		stopChan:   make(chan struct{}),
		maxWorkers: cfg.MaxWorkers,
	}

	for i := 0; i < cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case task := <-p.taskQueue:
			p.execute(id, task)
		}
	}
}

func (p *WorkerPool) execute(workerID int, task Task) {
	atomic.AddInt32(&p.activeWorkers, 1)
	defer atomic.AddInt32(&p.activeWorkers, -1)

	start := time.Now()
	err := p.safeExecute(task)
	if err != nil {
		atomic.AddUint64(&p.failedTasks, 1)
		p.logger.Warn("Task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&p.completedTasks, 1)
}

// safeExecute executes a task with panic recovery
func (p *WorkerPool) safeExecute(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Fn(p.ctx)
}

// Submit queues a task, blocking until there is room, the pool stops or ctx
// is done.
func (p *WorkerPool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	default:
	}

	select {
	case <-p.stopChan:
		atomic.AddUint64(&p.rejectedTasks, 1)
		return fmt.Errorf("worker pool '%s' is stopped", p.name)
	case <-ctx.Done():
		atomic.AddUint64(&p.rejectedTasks, 1)
		return ctx.Err()
	case p.taskQueue <- task:
		return nil
	}
}

// Stop cancels the context passed to running tasks and waits for the
// workers to exit. Queued tasks that have not started are dropped.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stopChan)
		p.cancel()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("worker pool '%s' stop timeout after %v", p.name, timeout)
		}
	})
	return err
}

// Stats represents worker pool statistics
type Stats struct {
	Name           string `json:"name"`
	MaxWorkers     int    `json:"max_workers"`
	ActiveWorkers  int    `json:"active_workers"`
	QueuedTasks    int    `json:"queued_tasks"`
	CompletedTasks uint64 `json:"completed_tasks"`
	FailedTasks    uint64 `json:"failed_tasks"`
	RejectedTasks  uint64 `json:"rejected_tasks"`
}

// Stats returns current worker pool statistics
func (p *WorkerPool) Stats() Stats {
	return Stats{
		Name:           p.name,
		MaxWorkers:     p.maxWorkers,
		ActiveWorkers:  int(atomic.LoadInt32(&p.activeWorkers)),
		QueuedTasks:    len(p.taskQueue),
		CompletedTasks: atomic.LoadUint64(&p.completedTasks),
		FailedTasks:    atomic.LoadUint64(&p.failedTasks),
		RejectedTasks:  atomic.LoadUint64(&p.rejectedTasks),
	}
}
