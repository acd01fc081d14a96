package fetch

import (
	"fmt"
	"sync"

	"github.com/marmos91/urlimage/internal/logger"
)

// workQueue is an unbounded FIFO of closures drained by a single goroutine.
// Enqueue never blocks on the work itself, so code running on the queue can
// enqueue more work.
type workQueue struct {
	name string

	mu      sync.Mutex
	items   []func()
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func newWorkQueue(name string) *workQueue {
	q := &workQueue{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// enqueue schedules fn. It returns false once the queue was stopped.
func (q *workQueue) enqueue(fn func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// stop rejects new work, waits for queued work to drain and the loop to
// exit. It must not be called from the queue goroutine.
func (q *workQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *workQueue) loop() {
	defer close(q.done)

	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		stopped := q.stopped
		q.mu.Unlock()

		if len(items) == 0 {
			if stopped {
				return
			}
			<-q.wake
			continue
		}

		for i, fn := range items {
			q.exec(fn)
			items[i] = nil
		}
	}
}

func (q *workQueue) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in work queue", "queue", q.name, logger.KeyError, fmt.Sprint(r))
		}
	}()
	fn()
}
