package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/internal/telemetry"
)

type instrumented struct {
	inner     Store
	storeType string
	metrics   *Metrics
}

// Instrument wraps s so that every call records metrics on m, a trace span
// and a debug log line. m may be nil.
func Instrument(s Store, storeType string, m *Metrics) Store {
	return &instrumented{inner: s, storeType: storeType, metrics: m}
}

func (s *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := telemetry.StartCacheSpan(ctx, "get", s.storeType, telemetry.StorageKey(key))
	defer span.End()

	start := time.Now()
	data, err := s.inner.Get(ctx, key)

	status := "hit"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "miss"
	case err != nil:
		status = "error"
		telemetry.RecordError(ctx, err)
	}
	span.SetAttributes(telemetry.CacheHit(err == nil), telemetry.CacheSize(len(data)))
	s.metrics.observe(s.storeType, "get", status, len(data), time.Since(start))

	logger.DebugCtx(ctx, "cache get",
		logger.KeyStoreType, s.storeType,
		logger.KeyKey, key,
		logger.KeyCacheHit, err == nil,
		logger.KeyDurationMs, logger.Duration(start),
	)
	return data, err
}

func (s *instrumented) Put(ctx context.Context, key string, data []byte) error {
	ctx, span := telemetry.StartCacheSpan(ctx, "put", s.storeType, telemetry.StorageKey(key), telemetry.CacheSize(len(data)))
	defer span.End()

	start := time.Now()
	err := s.inner.Put(ctx, key, data)
	s.metrics.observe(s.storeType, "put", statusOf(err), len(data), time.Since(start))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}

	logger.DebugCtx(ctx, "cache put",
		logger.KeyStoreType, s.storeType,
		logger.KeyKey, key,
		logger.KeyBytes, len(data),
		logger.KeyDurationMs, logger.Duration(start),
	)
	return err
}

func (s *instrumented) Evict(ctx context.Context, key string) error {
	ctx, span := telemetry.StartCacheSpan(ctx, "evict", s.storeType, telemetry.StorageKey(key))
	defer span.End()

	start := time.Now()
	err := s.inner.Evict(ctx, key)
	s.metrics.observe(s.storeType, "evict", statusOf(err), 0, time.Since(start))
	if err != nil {
		telemetry.RecordError(ctx, err)
	}

	logger.DebugCtx(ctx, "cache evict", logger.KeyStoreType, s.storeType, logger.KeyKey, key)
	return err
}

func (s *instrumented) Close() error {
	return s.inner.Close()
}

// HealthCheck forwards to the wrapped store.
func (s *instrumented) HealthCheck(ctx context.Context) error {
	return HealthCheck(ctx, s.inner)
}

// Unwrap returns the wrapped store.
func (s *instrumented) Unwrap() Store {
	return s.inner
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
