// Package cachestore defines the key/value store that holds fetched image
// bodies, keyed by the string form of a fetch.RequestKey.
//
// Backends live in subpackages: memory, fs, badger and s3. The tiered
// subpackage puts an in-process hot layer in front of any backend, and
// Instrument wraps a Store with metrics and trace spans.
package cachestore

import (
	"context"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrNotFound is returned by Get when the key has no entry.
	ErrNotFound = errors.New("cachestore: entry not found")

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("cachestore: store closed")
)

// Store holds cached response bodies. Get, Put and Evict are atomic per key
// and safe for concurrent use.
type Store interface {
	// Get returns the body stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous entry.
	Put(ctx context.Context, key string, data []byte) error

	// Evict removes key. Evicting a missing key is not an error.
	Evict(ctx context.Context, key string) error

	Close() error
}

// HealthChecker is implemented by stores that can verify their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HashKey maps a cache key to a fixed-length hex name safe for file names
// and object keys.
func HashKey(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HealthCheck runs s's health check if it has one.
func HealthCheck(ctx context.Context, s Store) error {
	if hc, ok := s.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
