// Package middleware holds the HTTP middlewares of the API server.
package middleware

import (
	"net"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/internal/telemetry"
)

// RequestLogger logs every request with the internal logger and attaches a
// LogContext so handlers log with the client address and trace IDs.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		lc := logger.NewLogContext(r.URL.Query().Get("url")).WithClient(ip)
		if traceID := telemetry.TraceID(r.Context()); traceID != "" {
			lc = lc.WithTrace(traceID, telemetry.SpanID(r.Context()))
		}
		ctx := logger.WithContext(r.Context(), lc)

		logger.DebugCtx(ctx, "API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
		)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.InfoCtx(ctx, "API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, logger.Duration(start),
		)
	})
}
