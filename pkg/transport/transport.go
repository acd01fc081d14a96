// Package transport defines the boundary between the fetch scheduler and
// the network. A Transport issues one HTTP-like request per Open call and
// reports the body as a stream of chunks followed by exactly one terminal
// event (complete or error) on the Delegate it was opened with.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrAborted is reported by transports that surface an error after Abort.
// Callers that aborted an operation ignore it.
var ErrAborted = errors.New("transport: operation aborted")

// Request describes a single fetch.
type Request struct {
	Method string
	URL    string
	Header http.Header
}

// NewRequest returns a GET request for url.
func NewRequest(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	r.Header = r.Header.Clone()
	return r
}

// Response is the metadata of a completed request. The body was already
// delivered through Delegate.OnData.
type Response struct {
	StatusCode int
	Header     http.Header
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Cacheable reports whether the body may be written to a cache store:
// a 2xx response that does not carry Cache-Control: no-store.
func (r *Response) Cacheable() bool {
	if !r.OK() {
		return false
	}
	for _, v := range r.Header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-store") {
				return false
			}
		}
	}
	return true
}

// StatusError is reported for responses outside the 2xx range.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s returned %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// Handle identifies one open operation. Implementations must be comparable
// since handles are used as map keys.
type Handle interface {
	// Abort stops the operation. After Abort the delegate may still receive
	// events that were already in flight; it never receives new ones
	// originating from network progress.
	Abort()
}

// Delegate receives the events of an operation. Events for one handle are
// delivered sequentially: any number of OnData calls, then exactly one of
// OnComplete or OnError. They may be delivered synchronously from Open.
type Delegate interface {
	OnData(h Handle, chunk []byte)
	OnComplete(h Handle, resp *Response)
	OnError(h Handle, err error)
}

// Transport opens network operations.
type Transport interface {
	Open(ctx context.Context, req Request, d Delegate) (Handle, error)
}
