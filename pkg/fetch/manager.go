// Package fetch implements the request-coalescing task manager.
//
// A Manager deduplicates network fetches: for any RequestKey at most one
// transport operation runs at a time. Tasks whose key is already running
// wait in FIFO order and are offered the slot, one at a time, once it frees
// up. Each waiting task may decline (for instance because the finished
// fetch filled the cache) and is then finished without a callback.
//
// All manager state is owned by a single work queue goroutine. Task.Start,
// Task.Cancel and every transport event only enqueue work, so callers never
// block on the network and callbacks issued synchronously by a transport
// cannot deadlock the manager.
package fetch

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/pkg/transport"
)

// Persister is the write side of a cache store.
type Persister interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Stats is a snapshot of the scheduler.
type Stats struct {
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

// Manager schedules Tasks over a Transport.
type Manager struct {
	transport      transport.Transport
	keyFunc        KeyFunc
	dispatcher     Dispatcher
	ownDispatcher  *SerialDispatcher
	store          Persister
	persistTimeout time.Duration
	metrics        *Metrics

	ctx     context.Context
	stopCtx context.CancelFunc
	q       *workQueue
	closed  atomic.Bool

	persists sync.WaitGroup

	// Owned by q.
	running map[RequestKey]*Task
	waiting []*Task
	handles map[transport.Handle]*Task
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeyFunc replaces DefaultKey.
func WithKeyFunc(fn KeyFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.keyFunc = fn
		}
	}
}

// WithDispatcher sets the default callback dispatcher. Without it the
// manager runs callbacks on its own SerialDispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(m *Manager) { m.dispatcher = d }
}

// WithCacheStore persists successful cacheable bodies under key.String()
// before the running slot is released.
func WithCacheStore(p Persister) Option {
	return func(m *Manager) { m.store = p }
}

// WithPersistTimeout bounds each cache write. Default 10s.
func WithPersistTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.persistTimeout = d
		}
	}
}

// WithMetrics records scheduling metrics. A nil *Metrics disables them.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a Manager and starts its work queue.
func NewManager(tr transport.Transport, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		transport:      tr,
		keyFunc:        DefaultKey,
		persistTimeout: 10 * time.Second,
		ctx:            ctx,
		stopCtx:        cancel,
		running:        make(map[RequestKey]*Task),
		handles:        make(map[transport.Handle]*Task),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dispatcher == nil {
		m.ownDispatcher = NewSerialDispatcher()
		m.dispatcher = m.ownDispatcher
	}
	m.q = newWorkQueue("fetch")
	return m
}

// Key returns the RequestKey the manager uses for req.
func (m *Manager) Key(req transport.Request) RequestKey {
	return m.keyFunc(req)
}

// Dispatcher returns the default callback dispatcher.
func (m *Manager) Dispatcher() Dispatcher {
	return m.dispatcher
}

// Task allocates a queued task for req. No network activity happens until
// Task.Start.
func (m *Manager) Task(req transport.Request, opts ...TaskOption) *Task {
	return newTask(m, req, m.keyFunc(req), opts)
}

// Flush waits until all work enqueued before the call has been processed.
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !m.q.enqueue(func() { close(done) }) {
		return ErrManagerClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of running and waiting tasks.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	ch := make(chan Stats, 1)
	if !m.q.enqueue(func() {
		ch <- Stats{Running: len(m.running), Waiting: len(m.waiting)}
	}) {
		return Stats{}, ErrManagerClosed
	}
	select {
	case s := <-ch:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// Close aborts running operations, fails every pending task with
// ErrManagerClosed and stops the work queue. It waits for in-flight cache
// writes until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.q.enqueue(m.shutdown)
	m.q.stop()

	persisted := make(chan struct{})
	go func() {
		m.persists.Wait()
		close(persisted)
	}()

	var err error
	select {
	case <-persisted:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for cache writes: %w", ctx.Err())
	}
	m.stopCtx()

	if m.ownDispatcher != nil {
		m.ownDispatcher.Close()
	}
	return err
}

func (m *Manager) shutdown() {
	for key, t := range m.running {
		if t.handle != nil {
			t.handle.Abort()
			t.handle = nil
		}
		delete(m.running, key)
		t.deliver(ErrManagerClosed)
	}
	for _, t := range m.waiting {
		t.inWaiting = false
		t.deliver(ErrManagerClosed)
	}
	m.waiting = nil
	clear(m.handles)
	m.observe()
	logger.Debug("fetch manager closed")
}

func (m *Manager) start(t *Task) {
	if !m.q.enqueue(func() { m.doStart(t) }) {
		t.deliver(ErrManagerClosed)
	}
}

func (m *Manager) cancel(t *Task) {
	m.q.enqueue(func() { m.doCancel(t) })
}

func (m *Manager) doStart(t *Task) {
	if m.closed.Load() {
		t.deliver(ErrManagerClosed)
		return
	}
	if t.inWaiting || t.handle != nil || m.running[t.key] == t {
		return
	}
	if t.IsFinished() || t.State() != StateQueued {
		return
	}

	if _, busy := m.running[t.key]; busy {
		t.inWaiting = true
		m.waiting = append(m.waiting, t)
		m.metrics.RecordCoalesced()
		m.observe()
		logger.Debug("task waiting behind running fetch",
			logger.KeyTaskID, t.id,
			logger.KeyRequestKey, t.key.String(),
			logger.KeyWaiting, len(m.waiting),
		)
		return
	}

	if !m.run(t) {
		m.promote()
	}
	m.observe()
}

// run occupies the key's slot and opens the transport operation. It
// returns false if Open failed, in which case the slot is free again and
// the task received the error.
func (m *Manager) run(t *Task) bool {
	m.running[t.key] = t
	t.setRunning()

	h, err := m.transport.Open(m.ctx, t.req, delegate{m})
	if err != nil {
		delete(m.running, t.key)
		t.freeze(nil)
		m.metrics.RecordResult(resultError)
		logger.Debug("transport open failed",
			logger.KeyTaskID, t.id,
			logger.KeyRequestKey, t.key.String(),
			logger.KeyError, err.Error(),
		)
		t.deliver(err)
		return false
	}

	t.handle = h
	m.handles[h] = t
	m.metrics.RecordOpen()
	logger.Debug("task running",
		logger.KeyTaskID, t.id,
		logger.KeyRequestKey, t.key.String(),
	)
	return true
}

func (m *Manager) doCancel(t *Task) {
	if t.inWaiting {
		t.inWaiting = false
		m.waiting = slices.DeleteFunc(m.waiting, func(w *Task) bool { return w == t })
		m.metrics.RecordResult(resultCanceled)
		m.observe()
		return
	}

	if m.running[t.key] != t {
		return
	}
	delete(m.running, t.key)
	if t.handle != nil {
		delete(m.handles, t.handle)
		t.handle.Abort()
		t.handle = nil
	}
	m.metrics.RecordResult(resultCanceled)
	logger.Debug("running task canceled",
		logger.KeyTaskID, t.id,
		logger.KeyRequestKey, t.key.String(),
	)

	m.promote()
	m.observe()
}

// promote offers free slots to waiting tasks in FIFO order. Candidates
// whose key is still running stay queued; finished candidates are dropped;
// a candidate that declines is finished silently and the scan moves on to
// the next one, which may share its key.
func (m *Manager) promote() {
	i := 0
	for i < len(m.waiting) {
		t := m.waiting[i]
		if _, busy := m.running[t.key]; busy {
			i++
			continue
		}

		m.waiting = slices.Delete(m.waiting, i, i+1)
		t.inWaiting = false

		if t.IsFinished() {
			continue
		}
		if !t.shouldResume() {
			t.decline()
			m.metrics.RecordDeclined()
			logger.Debug("waiting task declined resume",
				logger.KeyTaskID, t.id,
				logger.KeyRequestKey, t.key.String(),
			)
			continue
		}
		m.run(t)
	}
}

func (m *Manager) onData(h transport.Handle, chunk []byte) {
	t, ok := m.handles[h]
	if !ok {
		return
	}
	if t.appendData(chunk) {
		m.metrics.ObserveChunk(len(chunk))
	}
}

func (m *Manager) onComplete(h transport.Handle, resp *transport.Response) {
	t, ok := m.handles[h]
	if !ok {
		return
	}
	delete(m.handles, h)
	t.handle = nil

	if !resp.OK() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		m.finishWithError(t, &transport.StatusError{StatusCode: status, URL: t.req.URL})
		return
	}

	body, canceled := t.freeze(resp)
	if m.store == nil || canceled || !(resp.Cacheable() || t.mustStore) {
		m.finalize(t)
		return
	}

	// Write the body before releasing the slot so that waiting duplicates
	// see the entry when asked whether to resume.
	m.persists.Add(1)
	go func() {
		defer m.persists.Done()

		ctx, cancel := context.WithTimeout(m.ctx, m.persistTimeout)
		err := m.store.Put(ctx, t.key.String(), body)
		cancel()
		if err != nil {
			m.metrics.RecordPersistError()
			logger.Warn("failed to persist response",
				logger.KeyTaskID, t.id,
				logger.KeyRequestKey, t.key.String(),
				logger.KeyError, err.Error(),
			)
		}

		m.q.enqueue(func() { m.finalize(t) })
	}()
}

func (m *Manager) finalize(t *Task) {
	if m.running[t.key] == t {
		delete(m.running, t.key)
	}
	m.metrics.RecordResult(resultSuccess)
	t.deliver(nil)
	m.promote()
	m.observe()
}

func (m *Manager) onError(h transport.Handle, err error) {
	t, ok := m.handles[h]
	if !ok {
		return
	}
	delete(m.handles, h)
	t.handle = nil
	m.finishWithError(t, err)
}

func (m *Manager) finishWithError(t *Task, err error) {
	t.freeze(nil)
	if m.running[t.key] == t {
		delete(m.running, t.key)
	}
	m.metrics.RecordResult(resultError)
	logger.Debug("task failed",
		logger.KeyTaskID, t.id,
		logger.KeyRequestKey, t.key.String(),
		logger.KeyError, err.Error(),
	)
	t.deliver(err)
	m.promote()
	m.observe()
}

func (m *Manager) observe() {
	m.metrics.SetQueue(len(m.running), len(m.waiting))
}

// delegate receives transport events and moves them onto the work queue.
type delegate struct{ m *Manager }

func (d delegate) OnData(h transport.Handle, chunk []byte) {
	d.m.q.enqueue(func() { d.m.onData(h, chunk) })
}

func (d delegate) OnComplete(h transport.Handle, resp *transport.Response) {
	d.m.q.enqueue(func() { d.m.onComplete(h, resp) })
}

func (d delegate) OnError(h transport.Handle, err error) {
	d.m.q.enqueue(func() { d.m.onError(h, err) })
}
