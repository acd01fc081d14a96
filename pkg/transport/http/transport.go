// Package httptransport implements transport.Transport on top of net/http.
//
// Each Open spawns one goroutine that performs the request and streams the
// body to the delegate in chunks of Config.ChunkSize bytes. Abort cancels
// the request context; once aborted, no further events are delivered.
package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/internal/telemetry"
	"github.com/marmos91/urlimage/pkg/transport"
)

// Config controls the HTTP client.
type Config struct {
	// Timeout bounds a whole operation including the body. Zero disables it.
	Timeout time.Duration

	// ChunkSize is the read buffer size, i.e. the maximum OnData chunk.
	ChunkSize int

	// UserAgent is sent unless the request sets its own.
	UserAgent string

	// MaxIdleConnsPerHost sizes the keep-alive pool per origin.
	MaxIdleConnsPerHost int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Timeout:             60 * time.Second,
		ChunkSize:           32 * 1024,
		UserAgent:           "urlimage",
		MaxIdleConnsPerHost: 8,
	}
}

// Transport performs fetches with an instrumented http.Client.
type Transport struct {
	client *http.Client
	cfg    Config
}

// New creates a Transport. Zero fields of cfg take their DefaultConfig value.
func New(cfg Config) *Transport {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost

	return &Transport{
		client: &http.Client{Transport: otelhttp.NewTransport(base)},
		cfg:    cfg,
	}
}

// NewWithClient creates a Transport around an existing client.
func NewWithClient(client *http.Client, cfg Config) *Transport {
	t := New(cfg)
	t.client = client
	return t
}

type operation struct {
	cancel  context.CancelFunc
	aborted atomic.Bool
}

func (op *operation) Abort() {
	op.aborted.Store(true)
	op.cancel()
}

// Open starts req. The returned error covers only requests that could not
// be built; network failures are reported through d.OnError.
func (t *Transport) Open(ctx context.Context, req transport.Request, d transport.Delegate) (transport.Handle, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var cancel context.CancelFunc
	if t.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", t.cfg.UserAgent)
	}

	op := &operation{cancel: cancel}
	go t.run(op, httpReq, d)
	return op, nil
}

func (t *Transport) run(op *operation, req *http.Request, d transport.Delegate) {
	defer op.cancel()

	ctx, span := telemetry.StartTransportSpan(req.Context(), req.Method, req.URL.String())
	defer span.End()
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.fail(ctx, op, d, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(telemetry.StatusCode(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		t.fail(ctx, op, d, &transport.StatusError{StatusCode: resp.StatusCode, URL: req.URL.String()})
		return
	}

	var total, chunks int
	buf := make([]byte, t.cfg.ChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if op.aborted.Load() {
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			d.OnData(op, chunk)
			total += n
			chunks++
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			t.fail(ctx, op, d, fmt.Errorf("read body: %w", rerr))
			return
		}
	}

	if op.aborted.Load() {
		return
	}

	span.SetAttributes(telemetry.Bytes(total), telemetry.Chunks(chunks))
	logger.DebugCtx(ctx, "transport complete",
		logger.KeyURL, req.URL.String(),
		logger.KeyStatus, resp.StatusCode,
		logger.KeyBytes, total,
		logger.KeyChunks, chunks,
		logger.KeyDurationMs, logger.Duration(start),
	)

	d.OnComplete(op, &transport.Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone()})
}

func (t *Transport) fail(ctx context.Context, op *operation, d transport.Delegate, err error) {
	if op.aborted.Load() {
		return
	}
	telemetry.RecordError(ctx, err)
	logger.DebugCtx(ctx, "transport failed", logger.KeyError, err.Error())
	d.OnError(op, err)
}
