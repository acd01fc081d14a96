package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys. HTTP keys follow OpenTelemetry semantic conventions.
const (
	AttrClientIP = "client.address"

	AttrURL        = "url.full"
	AttrMethod     = "http.request.method"
	AttrStatusCode = "http.response.status_code"

	AttrRequestKey = "fetch.key"
	AttrTaskID     = "fetch.task_id"
	AttrCoalesced  = "fetch.coalesced"
	AttrBytes      = "fetch.bytes"
	AttrChunks     = "fetch.chunks"

	AttrCacheHit  = "cache.hit"
	AttrCacheSize = "cache.size"
	AttrStoreType = "store.type"

	AttrBucket = "storage.bucket"
	AttrKey    = "storage.key"
	AttrRegion = "storage.region"

	AttrLoaderState = "loader.state"
)

// Span names. Format: <component>.<operation>
const (
	SpanTransportFetch = "transport.fetch"

	SpanCacheGet   = "cache.get"
	SpanCachePut   = "cache.put"
	SpanCacheEvict = "cache.evict"

	SpanLoaderLoad = "loader.load"

	SpanAPIImage = "api.image"
)

// ClientIP returns an attribute for the caller address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// URL returns an attribute for a full request URL
func URL(u string) attribute.KeyValue {
	return attribute.String(AttrURL, u)
}

// Method returns an attribute for an HTTP method
func Method(m string) attribute.KeyValue {
	return attribute.String(AttrMethod, m)
}

// StatusCode returns an attribute for an HTTP response status
func StatusCode(code int) attribute.KeyValue {
	return attribute.Int(AttrStatusCode, code)
}

// RequestKey returns an attribute for the coalescing key of a fetch
func RequestKey(key string) attribute.KeyValue {
	return attribute.String(AttrRequestKey, key)
}

func TaskID(id string) attribute.KeyValue {
	return attribute.String(AttrTaskID, id)
}

// Coalesced marks a task that waited behind another with the same key
func Coalesced(c bool) attribute.KeyValue {
	return attribute.Bool(AttrCoalesced, c)
}

func Bytes(n int) attribute.KeyValue {
	return attribute.Int(AttrBytes, n)
}

func Chunks(n int) attribute.KeyValue {
	return attribute.Int(AttrChunks, n)
}

// CacheHit returns an attribute for cache hit indicator
func CacheHit(hit bool) attribute.KeyValue {
	return attribute.Bool(AttrCacheHit, hit)
}

func CacheSize(n int) attribute.KeyValue {
	return attribute.Int(AttrCacheSize, n)
}

// StoreType returns an attribute for the cache backend kind
func StoreType(t string) attribute.KeyValue {
	return attribute.String(AttrStoreType, t)
}

// Bucket returns an attribute for S3 bucket name
func Bucket(name string) attribute.KeyValue {
	return attribute.String(AttrBucket, name)
}

// StorageKey returns an attribute for an object key
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for cloud region
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

func LoaderState(s string) attribute.KeyValue {
	return attribute.String(AttrLoaderState, s)
}

// StartCacheSpan starts a span for a cache store operation.
func StartCacheSpan(ctx context.Context, operation, storeType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	all = append(all, StoreType(storeType))
	all = append(all, attrs...)
	return StartSpan(ctx, "cache."+operation, trace.WithAttributes(all...))
}

// StartTransportSpan starts a client span for a network fetch.
func StartTransportSpan(ctx context.Context, method, url string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanTransportFetch,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(Method(method), URL(url)),
	)
}
