package fetch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/urlimage/pkg/transport"
)

// State is the lifecycle position of a Task.
type State int

const (
	StateQueued State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Task is one fetch attempt. It is created by Manager.Task in StateQueued
// and reaches StateFinished exactly once, either by delivering a terminal
// callback, by Cancel, or by declining a promotion.
//
// Register callbacks before calling Start.
type Task struct {
	id         string
	key        RequestKey
	req        transport.Request
	m          *Manager
	dispatcher Dispatcher
	mustStore  bool

	// Owned by the manager's work queue.
	handle    transport.Handle
	inWaiting bool

	mu             sync.Mutex
	state          State
	finished       bool
	canceled       bool
	done           bool // transport reported a terminal event; buf is frozen
	buf            []byte
	resp           *transport.Response
	onComplete     func()
	onError        func(error)
	onShouldResume func() bool
}

// TaskOption configures a Task.
type TaskOption func(*Task)

// WithCallbackDispatcher runs this task's callbacks on d instead of the
// manager's dispatcher.
func WithCallbackDispatcher(d Dispatcher) TaskOption {
	return func(t *Task) {
		if d != nil {
			t.dispatcher = d
		}
	}
}

// WithMustStoreCache persists a successful body even when the response
// forbids storing it.
func WithMustStoreCache(must bool) TaskOption {
	return func(t *Task) { t.mustStore = must }
}

func (t *Task) ID() string { return t.id }

func (t *Task) Key() RequestKey { return t.key }

// Request returns a copy of the request this task fetches.
func (t *Task) Request() transport.Request { return t.req.Clone() }

// OnComplete sets the success callback. Data holds the full body when it runs.
func (t *Task) OnComplete(fn func()) {
	t.mu.Lock()
	t.onComplete = fn
	t.mu.Unlock()
}

// OnError sets the failure callback.
func (t *Task) OnError(fn func(error)) {
	t.mu.Lock()
	t.onError = fn
	t.mu.Unlock()
}

// OnShouldResume sets the promotion check. It runs on the manager's work
// queue when a slot for this task's key frees up; returning false finishes
// the task without any callback. It must not block on the manager.
func (t *Task) OnShouldResume(fn func() bool) {
	t.mu.Lock()
	t.onShouldResume = fn
	t.mu.Unlock()
}

// Start asks the manager to run the task. It never blocks on the network
// and is a no-op for a task that already started or finished.
func (t *Task) Start() {
	t.m.start(t)
}

// Cancel finishes the task without a callback and aborts its transport
// operation if it is running. It reports whether this call canceled the
// task; once it returns true no callback of the task will run.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return false
	}
	t.finished = true
	t.canceled = true
	t.state = StateFinished
	t.mu.Unlock()

	t.m.cancel(t)
	return true
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) IsFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

func (t *Task) IsCanceled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canceled
}

// Data returns a copy of the bytes received so far.
func (t *Task) Data() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.buf))
	copy(out, t.buf)
	return out
}

// Response returns the response metadata once the transport completed.
func (t *Task) Response() *transport.Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resp
}

func newTask(m *Manager, req transport.Request, key RequestKey, opts []TaskOption) *Task {
	t := &Task{
		id:         uuid.NewString(),
		key:        key,
		req:        req.Clone(),
		m:          m,
		dispatcher: m.dispatcher,
		state:      StateQueued,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Task) setRunning() {
	t.mu.Lock()
	if !t.finished {
		t.state = StateRunning
	}
	t.mu.Unlock()
}

// appendData adds a chunk unless the task finished or the body is frozen.
func (t *Task) appendData(chunk []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished || t.done {
		return false
	}
	t.buf = append(t.buf, chunk...)
	return true
}

// freeze marks the body complete and returns it. The returned slice is
// never written again.
func (t *Task) freeze(resp *transport.Response) (body []byte, canceled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	if resp != nil {
		t.resp = resp
	}
	return t.buf, t.canceled
}

func (t *Task) shouldResume() bool {
	t.mu.Lock()
	fn := t.onShouldResume
	t.mu.Unlock()
	if fn == nil {
		return true
	}
	return fn()
}

// decline finishes the task silently after a refused promotion.
func (t *Task) decline() {
	t.mu.Lock()
	if !t.finished {
		t.finished = true
		t.state = StateFinished
	}
	t.mu.Unlock()
}

// deliver hands the terminal callback to the dispatcher. The finish claim
// happens there, under the same lock Cancel uses, so a cancel that wins
// the claim suppresses the callback even if it was already dispatched.
func (t *Task) deliver(err error) {
	t.dispatcher.Dispatch(func() {
		t.mu.Lock()
		if t.finished {
			t.mu.Unlock()
			return
		}
		t.finished = true
		t.state = StateFinished
		onComplete, onError := t.onComplete, t.onError
		t.mu.Unlock()

		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onComplete != nil {
			onComplete()
		}
	})
}
