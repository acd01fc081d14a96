// Package fake provides a controllable in-memory transport.Transport.
//
// Operations stay open until the test drives them with Send, Complete or
// Fail. A Responder can be installed to answer every Open automatically.
package fake

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/marmos91/urlimage/pkg/transport"
)

// ErrUnreachable is returned by Open for URLs registered with Refuse.
var ErrUnreachable = errors.New("fake: host unreachable")

// Responder answers an operation. It runs on its own goroutine.
type Responder func(op *Op)

// Op is one operation opened on the fake transport.
type Op struct {
	Request transport.Request

	t        *Transport
	delegate transport.Delegate

	mu       sync.Mutex
	aborted  bool
	finished bool
}

// Abort implements transport.Handle.
func (op *Op) Abort() {
	op.mu.Lock()
	if op.aborted || op.finished {
		op.mu.Unlock()
		return
	}
	op.aborted = true
	op.mu.Unlock()
	op.t.release(op)
}

// Aborted reports whether Abort was called before the operation finished.
func (op *Op) Aborted() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.aborted
}

// Active reports whether the operation can still deliver events.
func (op *Op) Active() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return !op.aborted && !op.finished
}

// Send delivers a body chunk. Ignored once aborted or finished.
func (op *Op) Send(chunk []byte) {
	if !op.Active() {
		return
	}
	op.delegate.OnData(op, chunk)
}

// Complete finishes the operation with status 200.
func (op *Op) Complete() {
	op.CompleteWith(&transport.Response{StatusCode: http.StatusOK, Header: http.Header{}})
}

// CompleteWith finishes the operation with resp.
func (op *Op) CompleteWith(resp *transport.Response) {
	if !op.finish() {
		return
	}
	op.delegate.OnComplete(op, resp)
}

// Respond sends body as a single chunk and completes.
func (op *Op) Respond(body []byte) {
	op.Send(body)
	op.Complete()
}

// Fail finishes the operation with err.
func (op *Op) Fail(err error) {
	if !op.finish() {
		return
	}
	op.delegate.OnError(op, err)
}

func (op *Op) finish() bool {
	op.mu.Lock()
	if op.aborted || op.finished {
		op.mu.Unlock()
		return false
	}
	op.finished = true
	op.mu.Unlock()
	op.t.release(op)
	return true
}

// Transport is the fake. The zero value is not usable; call New.
type Transport struct {
	mu        sync.Mutex
	responder Responder
	refused   map[string]bool
	ops       []*Op
	opened    chan *Op
	active    map[string]int
	peak      map[string]int
	opens     map[string]int
}

// New creates a fake transport without a responder.
func New() *Transport {
	return &Transport{
		refused: make(map[string]bool),
		opened:  make(chan *Op, 1024),
		active:  make(map[string]int),
		peak:    make(map[string]int),
		opens:   make(map[string]int),
	}
}

// WithResponder installs r to answer every subsequent Open.
func (t *Transport) WithResponder(r Responder) *Transport {
	t.mu.Lock()
	t.responder = r
	t.mu.Unlock()
	return t
}

// Refuse makes Open return ErrUnreachable for url.
func (t *Transport) Refuse(url string) {
	t.mu.Lock()
	t.refused[url] = true
	t.mu.Unlock()
}

// Open implements transport.Transport.
func (t *Transport) Open(_ context.Context, req transport.Request, d transport.Delegate) (transport.Handle, error) {
	t.mu.Lock()
	if t.refused[req.URL] {
		t.mu.Unlock()
		return nil, ErrUnreachable
	}
	op := &Op{Request: req.Clone(), t: t, delegate: d}
	t.ops = append(t.ops, op)
	t.opens[req.URL]++
	t.active[req.URL]++
	if t.active[req.URL] > t.peak[req.URL] {
		t.peak[req.URL] = t.active[req.URL]
	}
	responder := t.responder
	t.mu.Unlock()

	select {
	case t.opened <- op:
	default:
	}

	if responder != nil {
		go responder(op)
	}
	return op, nil
}

func (t *Transport) release(op *Op) {
	t.mu.Lock()
	t.active[op.Request.URL]--
	t.mu.Unlock()
}

// Opened returns a channel receiving every opened operation.
func (t *Transport) Opened() <-chan *Op {
	return t.opened
}

// Ops returns all operations opened so far.
func (t *Transport) Ops() []*Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Op(nil), t.ops...)
}

// Opens returns how many operations were opened for url.
func (t *Transport) Opens(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens[url]
}

// Active returns how many operations for url are currently open.
func (t *Transport) Active(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[url]
}

// Peak returns the highest number of simultaneously open operations for url.
func (t *Transport) Peak(url string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak[url]
}

// Body returns a Responder that serves body with status 200.
func Body(body []byte) Responder {
	return func(op *Op) { op.Respond(body) }
}

// Bodies returns a Responder serving bodies by URL, 404 otherwise.
func Bodies(bodies map[string][]byte) Responder {
	return func(op *Op) {
		body, ok := bodies[op.Request.URL]
		if !ok {
			op.Fail(&transport.StatusError{StatusCode: http.StatusNotFound, URL: op.Request.URL})
			return
		}
		op.Respond(body)
	}
}
