package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently so log lines can be aggregated and queried.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Requests
	// ========================================================================
	KeyURL        = "url"         // Target resource URL
	KeyMethod     = "method"      // Request method
	KeyRequestKey = "request_key" // Normalized dedup key
	KeyStatus     = "status"      // HTTP status code
	KeyBytes      = "bytes"       // Payload size in bytes
	KeyChunks     = "chunks"      // Number of body chunks received

	// ========================================================================
	// Tasks & Scheduling
	// ========================================================================
	KeyTaskID  = "task_id" // Task identifier
	KeyState   = "state"   // Task or loader state
	KeyRunning = "running" // Number of running tasks
	KeyWaiting = "waiting" // Number of queued duplicate tasks
	KeyReason  = "reason"  // Why a transition happened

	// ========================================================================
	// Cache Store
	// ========================================================================
	KeyCacheHit  = "cache_hit"  // Cache hit indicator
	KeyStoreType = "store_type" // Store type: memory, fs, badger, s3
	KeyBucket    = "bucket"     // S3 bucket name
	KeyKey       = "key"        // Object or cache key
	KeyPath      = "path"       // Filesystem path

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyClientIP   = "client_ip"   // Remote address of an API caller
)

// TraceID returns a slog.Attr for trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// URL returns a slog.Attr for the target URL
func URL(u string) slog.Attr {
	return slog.String(KeyURL, u)
}

// Method returns a slog.Attr for the request method
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// RequestKey returns a slog.Attr for a normalized request key
func RequestKey(k string) slog.Attr {
	return slog.String(KeyRequestKey, k)
}

// Status returns a slog.Attr for an HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// Bytes returns a slog.Attr for a byte count
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}

// TaskID returns a slog.Attr for a task identifier
func TaskID(id string) slog.Attr {
	return slog.String(KeyTaskID, id)
}

// State returns a slog.Attr for a state name
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// CacheHit returns a slog.Attr for cache hit indicator
func CacheHit(hit bool) slog.Attr {
	return slog.Bool(KeyCacheHit, hit)
}

// StoreType returns a slog.Attr for store type
func StoreType(t string) slog.Attr {
	return slog.String(KeyStoreType, t)
}

// Key returns a slog.Attr for a cache or object key
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error. A nil error yields an empty attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
