// Package tiered puts an in-process ristretto cache in front of another
// cachestore.Store.
//
// Reads try the hot layer first; misses go to the backend, with concurrent
// misses for the same key collapsed into one backend call. Writes and
// evictions go to the backend first and then update the hot layer.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/marmos91/urlimage/internal/bytesize"
	"github.com/marmos91/urlimage/pkg/cachestore"
)

// Config holds configuration for the hot layer.
type Config struct {
	// MaxSize bounds the total bytes held in memory.
	// Default: 64Mi
	MaxSize bytesize.ByteSize `mapstructure:"max_size"`

	// TTL expires hot entries. Zero keeps them until evicted by size.
	TTL time.Duration `mapstructure:"ttl"`
}

const stripes = 256

// Store is a two-layer cache store.
type Store struct {
	hot     *ristretto.Cache[string, []byte]
	backend cachestore.Store
	ttl     time.Duration
	group   singleflight.Group

	// gens are bumped by every Put and Evict on a key in the stripe. A
	// backend read only fills the hot layer if its stripe did not move.
	gens [stripes]atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// New wraps backend. Closing the returned store closes backend.
func New(backend cachestore.Store, cfg Config) (*Store, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 64 * bytesize.MiB
	}

	// Assume ~16KiB per image for counter sizing, with a floor.
	counters := max(cfg.MaxSize.Int64()/(16*1024)*10, 10_000)

	hot, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     cfg.MaxSize.Int64(),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create hot cache: %w", err)
	}

	return &Store{hot: hot, backend: backend, ttl: cfg.TTL}, nil
}

func (s *Store) stripe(key string) *atomic.Uint64 {
	return &s.gens[xxhash.Sum64String(key)%stripes]
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return cachestore.ErrStoreClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if data, ok := s.hot.Get(key); ok {
		return clone(data), nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		gen := s.stripe(key).Load()
		data, err := s.backend.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		s.fill(key, gen, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return clone(v.([]byte)), nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.stripe(key).Add(1)
	if err := s.backend.Put(ctx, key, data); err != nil {
		s.hot.Del(key)
		return err
	}
	s.hot.Del(key)
	s.set(key, clone(data))
	s.hot.Wait()
	return nil
}

func (s *Store) Evict(ctx context.Context, key string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	s.stripe(key).Add(1)
	s.group.Forget(key)
	err := s.backend.Evict(ctx, key)
	s.hot.Del(key)
	return err
}

// fill caches a backend read in the hot layer. The generation is checked
// once the entry is visible, so a Put or Evict that raced with the read
// cannot be undone by it.
func (s *Store) fill(key string, gen uint64, data []byte) {
	stripe := s.stripe(key)
	if stripe.Load() != gen {
		return
	}
	s.set(key, clone(data))
	s.hot.Wait()
	if stripe.Load() != gen {
		s.hot.Del(key)
	}
}

func (s *Store) set(key string, data []byte) {
	cost := max(int64(len(data)), 1)
	if s.ttl > 0 {
		s.hot.SetWithTTL(key, data, cost, s.ttl)
		return
	}
	s.hot.Set(key, data, cost)
}

// Close closes the hot layer and the backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.hot.Close()

	err := s.backend.Close()
	if errors.Is(err, cachestore.ErrStoreClosed) {
		return nil
	}
	return err
}

// HealthCheck checks the backend.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return cachestore.HealthCheck(ctx, s.backend)
}

// Backend returns the wrapped store.
func (s *Store) Backend() cachestore.Store {
	return s.backend
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ cachestore.Store = (*Store)(nil)
