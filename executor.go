package h2t

import "sync"

// serialExecutor runs submitted callbacks one at a time, in submission
// order, on a single dedicated goroutine — the "per-stream single-consumer
// work queue" the design notes call for in place of a monitor-reacquiring
// callback executor. Every Stream owns exactly one, so its Listener never
// sees two callbacks run concurrently and always sees them in wire order.
type serialExecutor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	stopped bool
}

func newSerialExecutor() *serialExecutor {
	e := &serialExecutor{}
	e.cond = sync.NewCond(&e.mu)
	go e.run()
	return e
}

// Submit enqueues fn. It never blocks the caller.
func (e *serialExecutor) Submit(fn func()) {
	e.mu.Lock()
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()
	e.cond.Signal()
}

// Stop enqueues a marker after which run exits once the queue drains. It is
// not safe to Submit after Stop.
func (e *serialExecutor) Stop() {
	e.Submit(func() {
		e.mu.Lock()
		e.stopped = true
		e.mu.Unlock()
	})
}

func (e *serialExecutor) run() {
	for {
		e.mu.Lock()
		for len(e.tasks) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if len(e.tasks) == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.tasks[0]
		e.tasks = e.tasks[1:]
		e.mu.Unlock()

		fn()
	}
}
