package fetch

import "context"

// Dispatcher runs task callbacks. Every terminal callback of a Task is
// handed to its dispatcher, never run on the manager's work queue.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// GoDispatcher runs each callback on a new goroutine. Callbacks of
// different tasks may then run concurrently.
var GoDispatcher Dispatcher = DispatcherFunc(func(fn func()) { go fn() })

// SerialDispatcher runs callbacks one at a time in submission order on a
// dedicated goroutine.
type SerialDispatcher struct {
	q *workQueue
}

// NewSerialDispatcher starts a SerialDispatcher. Call Close to stop it.
func NewSerialDispatcher() *SerialDispatcher {
	return &SerialDispatcher{q: newWorkQueue("dispatcher")}
}

// Dispatch queues fn. After Close, fn runs on the calling goroutine so
// terminal callbacks such as ErrManagerClosed still arrive.
func (d *SerialDispatcher) Dispatch(fn func()) {
	if !d.q.enqueue(fn) {
		fn()
	}
}

// Flush waits until every callback dispatched before the call has run.
func (d *SerialDispatcher) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !d.q.enqueue(func() { close(done) }) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close runs the remaining callbacks and stops the goroutine. It must not
// be called from a callback.
func (d *SerialDispatcher) Close() {
	d.q.stop()
}
