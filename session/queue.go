package session

import "sync"

// taskQueue runs posted functions one at a time, in order, on a single
// goroutine. Posting never blocks.
type taskQueue struct {
	wake   chan struct{}
	done   chan struct{}
	tasks  []func()
	mu     sync.Mutex
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post enqueues fn. It returns false once the queue is closed.
func (q *taskQueue) post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
	q.signal()
	return true
}

// do runs fn on the queue goroutine and waits for it. It must not be called
// from a task.
func (q *taskQueue) do(fn func()) bool {
	finished := make(chan struct{})
	if !q.post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	<-finished
	return true
}

// close stops accepting tasks. Already queued tasks still run.
func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *taskQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *taskQueue) run() {
	defer close(q.done)
	for {
		for {
			q.mu.Lock()
			if len(q.tasks) == 0 {
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			task := q.tasks[0]
			q.tasks[0] = nil
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			task()
		}
		<-q.wake
	}
}
