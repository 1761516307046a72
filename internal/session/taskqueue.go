package session

import "sync"

// taskQueue runs posted functions one at a time on a dedicated goroutine.
// Post never blocks, so it is safe to call from inside backend callbacks.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newTaskQueue() *taskQueue {
	return &taskQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// start launches the worker goroutine.
func (q *taskQueue) start() {
	go q.run()
}

// post enqueues fn and reports whether it was accepted.
func (q *taskQueue) post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// stop rejects further posts and drops queued tasks. A task already running is not interrupted.
func (q *taskQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.tasks = nil
	close(q.done)
}

func (q *taskQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}

		for {
			fn, ok := q.next()
			if !ok {
				break
			}
			fn()
		}
	}
}

func (q *taskQueue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, true
}
