package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned when a task cannot be queued within the pool's
	// submit timeout.
	ErrQueueFull = errors.New("queue full")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("pool closed")
)

// Pool runs tasks on a fixed set of goroutines fed by a bounded queue.
type Pool struct {
	name          string
	tasks         chan func()
	submitTimeout time.Duration
	group         errgroup.Group
	logger        *slog.Logger

	mu       sync.RWMutex
	closed   bool
	rejected atomic.Int64
	running  atomic.Int32
}

// NewPool starts workers goroutines. A submitTimeout of zero makes Submit
// reject immediately when the queue is full; otherwise Submit waits up to
// that long for space.
func NewPool(name string, workers, queue int, submitTimeout time.Duration) *Pool {
	workers = max(workers, 1)
	queue = max(queue, 0)
	p := &Pool{
		name:          name,
		tasks:         make(chan func(), queue),
		submitTimeout: submitTimeout,
		logger:        slog.Default(),
	}
	for range workers {
		p.group.Go(func() error {
			for task := range p.tasks {
				p.run(task)
			}
			return nil
		})
	}
	return p
}

func (p *Pool) run(task func()) {
	p.running.Add(1)
	defer p.running.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", "pool", p.name, "panic", r)
		}
	}()
	task()
}

// Submit queues task. It never blocks longer than the submit timeout; a
// rejected task is logged and reported with ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("%s pool: %w", p.name, ErrPoolClosed)
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}
	if p.submitTimeout <= 0 {
		return p.reject()
	}

	timer := time.NewTimer(p.submitTimeout)
	defer timer.Stop()
	select {
	case p.tasks <- task:
		return nil
	case <-timer.C:
		return p.reject()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) reject() error {
	n := p.rejected.Add(1)
	p.logger.Warn("task rejected, queue full",
		"pool", p.name,
		"queue_capacity", cap(p.tasks),
		"rejected_total", n,
	)
	return fmt.Errorf("%s pool: %w", p.name, ErrQueueFull)
}

// Rejected returns how many submissions have been rejected.
func (p *Pool) Rejected() int64 {
	return p.rejected.Load()
}

// Active returns the number of tasks currently executing.
func (p *Pool) Active() int {
	return int(p.running.Load())
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.tasks)
}

// Close stops accepting tasks and waits for queued and running ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.group.Wait()
}
