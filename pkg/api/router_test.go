package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/urlimage/pkg/api/handlers"
	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/cachestore/memory"
	"github.com/marmos91/urlimage/pkg/fetch"
	"github.com/marmos91/urlimage/pkg/metrics"
	"github.com/marmos91/urlimage/pkg/transport"
	"github.com/marmos91/urlimage/pkg/transport/fake"
)

func pngBody(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

type unhealthyStore struct{ cachestore.Store }

func (unhealthyStore) HealthCheck(context.Context) error { return errors.New("bucket unreachable") }

type testServer struct {
	handler http.Handler
	tr      *fake.Transport
	cache   cachestore.Store
	m       *fetch.Manager
}

func newTestServer(t *testing.T, cfg Config, responder fake.Responder, cache cachestore.Store) *testServer {
	t.Helper()

	tr := fake.New()
	if responder != nil {
		tr.WithResponder(responder)
	}
	if cache == nil {
		cache = memory.New(0)
	}
	m := fetch.NewManager(tr, fetch.WithCacheStore(cache))
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	h := NewRouter(cfg, Deps{Manager: m, Cache: cache, StoreType: "memory"})
	return &testServer{handler: h, tr: tr, cache: cache, m: m}
}

func (s *testServer) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) handlers.Response {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestImages_ServesImage(t *testing.T) {
	body := pngBody(t)
	s := newTestServer(t, Config{}, fake.Body(body), nil)

	rec := s.get("/images?url=https://cdn.example.com/cat.png")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, body, rec.Body.Bytes())

	// The second request is served from the cache.
	rec = s.get("/images?url=https://cdn.example.com/cat.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.tr.Opens("https://cdn.example.com/cat.png"))
}

func TestImages_RejectsBadInput(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)

	tests := []struct {
		name   string
		target string
		errMsg string
	}{
		{"missing", "/images", "missing url parameter"},
		{"relative", "/images?url=/cat.png", "url must be an absolute http or https URL"},
		{"scheme", "/images?url=ftp://example.com/cat.png", "url must be an absolute http or https URL"},
		{"loopback", "/images?url=http://127.0.0.1/cat.png", "url points to a private host"},
		{"localhost", "/images?url=http://localhost:8080/cat.png", "url points to a private host"},
		{"private", "/images?url=http://10.1.2.3/cat.png", "url points to a private host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.get(tt.target)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.errMsg, decode(t, rec).Error)
		})
	}
	assert.Empty(t, s.tr.Ops())
}

func TestImages_AllowPrivateHosts(t *testing.T) {
	s := newTestServer(t, Config{AllowPrivateHosts: true}, fake.Body(pngBody(t)), nil)

	rec := s.get("/images?url=http://127.0.0.1/cat.png")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestImages_UpstreamFailures(t *testing.T) {
	t.Run("TransportError", func(t *testing.T) {
		s := newTestServer(t, Config{}, func(op *fake.Op) { op.Fail(errors.New("dial tcp: refused")) }, nil)
		rec := s.get("/images?url=https://example.com/a.png")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "upstream fetch failed", decode(t, rec).Error)
	})

	t.Run("NotAnImage", func(t *testing.T) {
		s := newTestServer(t, Config{}, fake.Body([]byte("<html></html>")), nil)
		rec := s.get("/images?url=https://example.com/a.png")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "upstream did not return an image", decode(t, rec).Error)

		_, err := s.cache.Get(context.Background(), s.m.Key(transport.NewRequest("https://example.com/a.png")).String())
		assert.ErrorIs(t, err, cachestore.ErrNotFound)
	})
}

func TestImages_RequestDeadline(t *testing.T) {
	// No responder: the upstream never answers.
	s := newTestServer(t, Config{RequestTimeout: 50 * time.Millisecond}, nil, nil)

	rec := s.get("/images?url=https://example.com/slow.png")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	require.Eventually(t, func() bool { return s.tr.Active("https://example.com/slow.png") == 0 },
		5*time.Second, time.Millisecond, "canceled request must abort the fetch")
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)

	rec := s.get("/health")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, map[string]any{"service": "urlimage"}, resp.Data)

	rec = s.get("/health/ready")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec).Status)
}

func TestReadiness_UnhealthyStore(t *testing.T) {
	s := newTestServer(t, Config{}, nil, unhealthyStore{memory.New(0)})

	rec := s.get("/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, "unhealthy", resp.Status)
	data := resp.Data.(map[string]any)
	cache := data["cache"].(map[string]any)
	assert.Equal(t, "bucket unreachable", cache["error"])
}

func TestReadiness_NoManager(t *testing.T) {
	h := NewRouter(Config{}, Deps{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)

	rec := s.get("/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"running": 0.0, "waiting": 0.0}, resp.Data)
}

func TestRootRedirects(t *testing.T) {
	s := newTestServer(t, Config{}, nil, nil)
	rec := s.get("/")
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/health", rec.Header().Get("Location"))
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewRouter(Config{}, Deps{HTTPMetrics: metrics.NewHTTPMetrics(reg)})

	for _, path := range []string{"/health", "/health/ready"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	expected := `
# HELP urlimage_http_requests_total HTTP requests by route, method and status code
# TYPE urlimage_http_requests_total counter
urlimage_http_requests_total{code="200",method="GET",route="/health"} 1
urlimage_http_requests_total{code="503",method="GET",route="/health/ready"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, bytes.NewBufferString(expected), "urlimage_http_requests_total"))
}

func TestServer_StartStop(t *testing.T) {
	s := NewServer(Config{}, Deps{})
	s.server.Addr = "127.0.0.1:0"
	assert.Equal(t, 8080, s.Port())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "127.0.0.1:0" }, 5*time.Second, time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.NoError(t, s.Stop(context.Background()))
}
