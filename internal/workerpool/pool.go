// Package workerpool runs background tasks on a fixed number of goroutines
// with a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/breeze-rmm/swtrack/internal/logging"
)

var log = logging.L("workerpool")

var (
	// ErrStopped is returned by Submit after Shutdown has begun.
	ErrStopped = errors.New("worker pool stopped")

	// ErrQueueFull is returned by Submit when no queue slot is free.
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of work. The context is cancelled when the pool shuts down.
type Task func(ctx context.Context)

// Pool is a bounded goroutine pool.
type Pool struct {
	name      string
	queue     chan Task
	wg        sync.WaitGroup
	mu        sync.RWMutex
	accepting bool
	pending   atomic.Int32
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New starts workers goroutines reading from a queue of queueSize tasks.
func New(name string, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.accepting = true

	for i := 0; i < workers; i++ {
		go p.worker()
	}

	log.Debug("worker pool started", "pool", name, "workers", workers, "queueSize", queueSize)
	return p
}

// Submit enqueues a task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.accepting {
		return ErrStopped
	}

	// Count before enqueue so Shutdown and Busy cannot miss the task.
	p.wg.Add(1)
	p.pending.Add(1)
	select {
	case p.queue <- task:
		return nil
	default:
		p.pending.Add(-1)
		p.wg.Done()
		log.Warn("worker pool queue full, task rejected", "pool", p.name)
		return ErrQueueFull
	}
}

// Busy reports whether a task is queued or running.
func (p *Pool) Busy() bool {
	return p.pending.Load() > 0
}

// Context is cancelled once Shutdown gives up waiting.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Shutdown stops accepting tasks and waits for queued and running ones to
// finish. When ctx expires first, running tasks see their context cancelled.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	p.accepting = false
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug("worker pool drained", "pool", p.name)
	case <-ctx.Done():
		log.Warn("worker pool shutdown timed out, cancelling tasks", "pool", p.name)
	}
	p.cancel()

	p.closeOnce.Do(func() {
		close(p.queue)
	})
}

func (p *Pool) worker() {
	for task := range p.queue {
		p.run(task)
	}
}

// run executes one task with panic recovery and balances the wg.Add in
// Submit.
func (p *Pool) run(task Task) {
	defer p.wg.Done()
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
