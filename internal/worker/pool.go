package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/ppiankov/evidencegate/internal/logging"
)

// ErrTaskPanic marks an outcome whose task panicked
var ErrTaskPanic = errors.New("task panicked")

// Task is a unit of work yielding a value of type T
type Task[T any] func(ctx context.Context) (T, error)

// Outcome carries what a task returned. Seq is the task's submission order.
type Outcome[T any] struct {
	Seq   int
	Value T
	Err   error
}

type queued[T any] struct {
	seq  int
	task Task[T]
}

// Pool runs tasks on a fixed number of workers.
// A panicking task becomes an ErrTaskPanic outcome instead of taking the process down.
type Pool[T any] struct {
	workers    int
	queue      chan queued[T]
	results    chan Outcome[T]
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once

	mu   sync.Mutex
	next int
}

// NewPool creates a pool whose tasks run under ctx.
// Cancelling ctx stops workers the same way Shutdown does.
func NewPool[T any](ctx context.Context, workers int) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool[T]{
		workers:    workers,
		queue:      make(chan queued[T], workers*2),
		results:    make(chan Outcome[T], workers*2),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the workers
func (p *Pool[T]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case q, ok := <-p.queue:
			if !ok {
				return
			}
			out := p.run(q)
			select {
			case p.results <- out:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Pool[T]) run(q queued[T]) (out Outcome[T]) {
	out.Seq = q.seq
	defer func() {
		if r := recover(); r != nil {
			logging.New("worker").Error("task panicked", "seq", q.seq, "panic", r, "stack", string(debug.Stack()))
			var zero T
			out.Value = zero
			out.Err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	out.Value, out.Err = q.task(p.ctx)
	return out
}

// Submit queues a task. It returns false if the pool was shut down first.
// Sequence numbers are handed out in call order, so a single submitting
// goroutine gets Seq values matching its own loop index.
func (p *Pool[T]) Submit(task Task[T]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.queue <- queued[T]{seq: p.next, task: task}:
		p.next++
		return true
	}
}

// Results exposes the outcome channel so callers can drain while submitting.
// It is closed once Close has been called and all workers have exited.
func (p *Pool[T]) Results() <-chan Outcome[T] {
	return p.results
}

// Close signals that no more tasks will be submitted
func (p *Pool[T]) Close() {
	close(p.queue)
	go func() {
		p.wg.Wait()
		p.closeResults()
		p.cancelFunc()
	}()
}

// Wait closes the queue and collects every remaining outcome in submission order.
// Only use it when all tasks were submitted without concurrently draining Results.
func (p *Pool[T]) Wait() []Outcome[T] {
	p.Close()

	var outcomes []Outcome[T]
	for out := range p.results {
		outcomes = append(outcomes, out)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Seq < outcomes[j].Seq })

	return outcomes
}

// Shutdown stops the workers without waiting for queued tasks
func (p *Pool[T]) Shutdown() {
	p.cancelFunc()
	p.wg.Wait()
	p.closeResults()
}

func (p *Pool[T]) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
