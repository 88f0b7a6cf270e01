// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool is a fixed set of worker goroutines draining one FIFO task queue under
// a mutex/condition-variable discipline.

package concurrency

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-http/api"
	"go.uber.org/zap"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int
	Queued    int
	Completed int64
	Panicked  int64
	Rejected  int64
}

// Pool runs submitted tasks on a fixed number of workers.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *queue.Queue
	shutdown bool

	workers int
	wg      sync.WaitGroup
	log     *zap.Logger

	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

var _ api.Executor = (*Pool)(nil)

// NewPool starts a pool with n workers. If n <= 0, defaults to runtime.NumCPU().
func NewPool(n int, log *zap.Logger) *Pool {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		tasks:   queue.New(),
		workers: n,
		log:     log,
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues a task and wakes one worker. After RequestStop the task is
// dropped, logged and ErrPoolStopped is returned.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return api.Errorf(api.KindInvalidArgument, "pool submit", "nil task")
	}
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.rejected.Add(1)
		p.log.Warn("task submitted after shutdown, dropped")
		return ErrPoolStopped
	}
	p.tasks.Add(TaskFunc(task))
	p.mu.Unlock()
	p.cond.Signal()
	return nil
}

// RequestStop flags shutdown. Already queued tasks still run; new ones are rejected.
func (p *Pool) RequestStop() {
	p.mu.Lock()
	p.shutdown = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// WaitForExit blocks until every worker has exited, which happens only after
// the queue has been drained following RequestStop.
func (p *Pool) WaitForExit() {
	p.wg.Wait()
}

// Stop is RequestStop followed by WaitForExit.
func (p *Pool) Stop() {
	p.RequestStop()
	p.WaitForExit()
}

// NumWorkers returns the fixed worker count.
func (p *Pool) NumWorkers() int {
	return p.workers
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Length()
}

// Stats returns basic pool metrics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    p.Queued(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for !p.shutdown && p.tasks.Length() == 0 {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			// shutdown with an empty queue
			p.mu.Unlock()
			return
		}
		task := p.tasks.Remove().(TaskFunc)
		p.mu.Unlock()

		p.safeExecute(id, task)
	}
}

// safeExecute runs the task, recovering from panics so the worker survives.
func (p *Pool) safeExecute(id int, task TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.log.Error("pool task panicked",
				zap.Int("worker", id),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"))
			return
		}
		p.completed.Add(1)
	}()
	task()
}
