package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Pool executes tasks in order of their deadlines, using a fixed number of goroutines.
// Tasks are added to the pool with a function that returns the next deadline.
// If a task is added while the pool is waiting for the next task, it will wake up
// the waiting goroutine to process the new task immediately. A task returning
// the zero time leaves the pool.
//
// The workers stop when the context passed to New is done; a task that is
// running at that point is allowed to finish.
type Pool struct {
	ctx   context.Context
	mu    sync.Mutex
	queue []*task
	reg   map[string]*task
	wait  chan struct{}
	wg    sync.WaitGroup
}

type task struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
	rerun    bool
}

func New(ctx context.Context, workers int) *Pool {
	pool := &Pool{ctx: ctx, reg: make(map[string]*task)}

	for range workers {
		pool.wg.Go(pool.work)
	}

	return pool
}

// Add schedules fn to run as soon as a worker is free.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&task{name: name, fn: fn, deadline: time.Now()})
}

// Wait blocks until all workers have stopped.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Len returns the number of registered tasks, queued or running.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.reg)
}

// work is the main loop for each worker goroutine.
func (p *Pool) work() {
	for {
		t, ok := p.dequeue()
		if !ok {
			return
		}
		p.enqueue(t.Execute(p.ctx))
	}
}

// Trigger runs the named task NOW, if it is in the queue, regardless of the
// previous deadline, by pulling it into the front of the queue. If the named
// task is not queued, it's running. In that case, we'll have it override its
// next deadline to NOW, causing an immediate re-run after the current run.
// Subsequent runs will use the deadline returned by the task's `fn`.
func (p *Pool) Trigger(n string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if i := slices.IndexFunc(p.queue, func(t *task) bool { return t.name == n }); i != -1 {
		p.queue[i].deadline = time.Now()
		p.sortAndWake()
		return nil
	}
	// if it's not in p.queue, it must be running at the moment
	if t, ok := p.reg[n]; ok {
		t.rerun = true
		return nil
	}

	return fmt.Errorf("no task with name %s", n)
}

// TriggerAll triggers every registered task.
func (p *Pool) TriggerAll() {
	p.mu.Lock()
	names := make([]string, 0, len(p.reg))
	for name := range p.reg {
		names = append(names, name)
	}
	p.mu.Unlock()

	for _, name := range names {
		_ = p.Trigger(name) // a task may have left the pool meanwhile
	}
}

// sortAndWake is used in multiple places, but always needs to be run
// within a p.mu lock!
func (p *Pool) sortAndWake() {
	// Maintain the tasks in deadline order.
	slices.SortFunc(p.queue, func(a, b *task) int {
		return a.deadline.Compare(b.deadline)
	})

	// Wake up any waiting goroutine.
	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
}

func (p *Pool) enqueue(t *task) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t.rerun {
		t.rerun = false
		t.deadline = time.Now()
	}

	if t.deadline.IsZero() {
		// Task requested removal from the pool.
		delete(p.reg, t.name)
		return
	}

	p.reg[t.name] = t
	p.queue = append(p.queue, t)
	p.sortAndWake()
}

// dequeue blocks until the first queued task is due. It returns false when
// the pool's context is done.
func (p *Pool) dequeue() (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		if p.ctx.Err() != nil {
			return nil, false
		}

		var t *task
		if len(p.queue) == 0 {
			t = &task{name: "dummy", deadline: time.Now().Add(time.Hour * 24 * 365)} // Default to a far future deadline
		} else {
			t = p.queue[0]
		}

		if t.deadline.After(time.Now()) {
			// Task is not ready yet, wait for it to be executed or another (potentially earlier) task to arrive.

			if p.wait == nil {
				p.wait = make(chan struct{})
			}

			wait := p.wait

			p.mu.Unlock()

			timer := time.NewTimer(time.Until(t.deadline))
			select {
			case <-timer.C:
			case <-wait:
			case <-p.ctx.Done():
			}
			timer.Stop()

			p.mu.Lock()
			continue
		}

		// The first queued task is ready to be executed, remove it from the queue.
		break
	}

	var t *task
	t, p.queue = p.queue[0], p.queue[1:]
	return t, true
}

// Execute runs the task and records its next deadline. A pending trigger
// is applied when the task is enqueued again.
func (t *task) Execute(ctx context.Context) *task {
	t.deadline = t.fn(ctx)
	return t
}
