// Package workerpool runs the controller's background jobs (probing,
// resolution, transactions) on a fixed number of goroutines.
package workerpool

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/ro-control/ro-control/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of work. ctx is cancelled once the pool has drained or the
// drain deadline has passed.
type Task func(ctx context.Context)

type job struct {
	name string
	run  Task
}

// Pool is a fixed set of workers reading from a bounded queue. Submit never
// blocks: a full queue rejects the job.
type Pool struct {
	mu     sync.RWMutex
	closed bool
	queue  chan job

	workers sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New starts maxWorkers goroutines behind a queue of queueSize jobs. Both are
// raised to 1 when smaller.
func New(maxWorkers, queueSize int) *Pool {
	maxWorkers = max(maxWorkers, 1)
	queueSize = max(queueSize, 1)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		queue:  make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	p.workers.Add(maxWorkers)
	for range maxWorkers {
		go p.work()
	}
	log.Debug("worker pool started", "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Context is the context handed to every task.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit queues task under name. It returns false once the pool has stopped
// accepting work or when the queue is full.
func (p *Pool) Submit(name string, task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- job{name: name, run: task}:
		return true
	default:
		log.Warn("worker pool queue full, task rejected", "task", name)
		return false
	}
}

// StopAccepting rejects further submissions. Jobs already queued still run.
func (p *Pool) StopAccepting() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

// Drain stops accepting work and waits for queued and running jobs until ctx
// is done. The task context is cancelled when Drain returns, so jobs still
// running after a timeout see cancellation.
func (p *Pool) Drain(ctx context.Context) {
	p.StopAccepting()
	defer p.cancel()

	idle := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(idle)
	}()

	select {
	case <-idle:
		log.Debug("worker pool drained")
	case <-ctx.Done():
		log.Warn("worker pool drain timed out")
	}
}

// Shutdown is an alias for Drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.Drain(ctx)
}

func (p *Pool) work() {
	defer p.workers.Done()
	for j := range p.queue {
		p.run(j)
	}
}

func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "task", j.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	j.run(p.ctx)
}
