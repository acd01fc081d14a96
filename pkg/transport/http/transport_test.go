package httptransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/urlimage/pkg/transport"
)

// recorder collects delegate events and signals the terminal one.
type recorder struct {
	mu     sync.Mutex
	chunks [][]byte
	resp   *transport.Response
	err    error
	events int
	done   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) OnData(_ transport.Handle, chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
}

func (r *recorder) OnComplete(_ transport.Handle, resp *transport.Response) {
	r.mu.Lock()
	r.resp = resp
	r.events++
	r.mu.Unlock()
	close(r.done)
}

func (r *recorder) OnError(_ transport.Handle, err error) {
	r.mu.Lock()
	r.err = err
	r.events++
	r.mu.Unlock()
	close(r.done)
}

func (r *recorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sb strings.Builder
	for _, c := range r.chunks {
		sb.Write(c)
	}
	return sb.String()
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")
	}
}

func TestOpen(t *testing.T) {
	t.Run("StreamsBodyInChunks", func(t *testing.T) {
		payload := strings.Repeat("x", 100)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte(payload))
		}))
		defer srv.Close()

		tr := New(Config{ChunkSize: 16})
		rec := newRecorder()

		h, err := tr.Open(context.Background(), transport.NewRequest(srv.URL+"/a.png"), rec)
		require.NoError(t, err)
		require.NotNil(t, h)
		rec.wait(t)

		require.NoError(t, rec.err)
		require.NotNil(t, rec.resp)
		assert.Equal(t, http.StatusOK, rec.resp.StatusCode)
		assert.Equal(t, "image/png", rec.resp.Header.Get("Content-Type"))
		assert.Equal(t, payload, rec.body())
		for _, c := range rec.chunks {
			assert.LessOrEqual(t, len(c), 16)
		}
	})

	t.Run("ForwardsHeadersAndUserAgent", func(t *testing.T) {
		var gotAccept, gotUA, gotMethod string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAccept, gotUA, gotMethod = r.Header.Get("Accept"), r.Header.Get("User-Agent"), r.Method
		}))
		defer srv.Close()

		tr := New(Config{UserAgent: "urlimage-test"})
		rec := newRecorder()
		req := transport.Request{URL: srv.URL, Header: http.Header{"Accept": {"image/webp"}}}

		_, err := tr.Open(context.Background(), req, rec)
		require.NoError(t, err)
		rec.wait(t)

		assert.Equal(t, "image/webp", gotAccept)
		assert.Equal(t, "urlimage-test", gotUA)
		assert.Equal(t, http.MethodGet, gotMethod)
	})

	t.Run("NonSuccessStatusIsStatusError", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		rec := newRecorder()
		_, err := New(Config{}).Open(context.Background(), transport.NewRequest(srv.URL), rec)
		require.NoError(t, err)
		rec.wait(t)

		var se *transport.StatusError
		require.True(t, errors.As(rec.err, &se))
		assert.Equal(t, http.StatusNotFound, se.StatusCode)
		assert.Nil(t, rec.resp)
	})

	t.Run("ConnectionFailureIsReported", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		rec := newRecorder()
		_, err := New(Config{}).Open(context.Background(), transport.NewRequest(url), rec)
		require.NoError(t, err)
		rec.wait(t)

		assert.Error(t, rec.err)
	})

	t.Run("InvalidRequest", func(t *testing.T) {
		_, err := New(Config{}).Open(context.Background(), transport.Request{Method: "BAD METHOD", URL: "http://x"}, newRecorder())
		assert.Error(t, err)
	})

	t.Run("TimeoutIsReported", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		rec := newRecorder()
		_, err := New(Config{Timeout: 50 * time.Millisecond}).Open(context.Background(), transport.NewRequest(srv.URL), rec)
		require.NoError(t, err)
		rec.wait(t)

		assert.ErrorIs(t, rec.err, context.DeadlineExceeded)
	})
}

func TestAbortSuppressesEvents(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(entered)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rec := newRecorder()
	h, err := New(Config{}).Open(context.Background(), transport.NewRequest(srv.URL), rec)
	require.NoError(t, err)

	<-entered
	h.Abort()

	select {
	case <-rec.done:
		t.Fatal("terminal event delivered after Abort")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Zero(t, rec.events)
}
