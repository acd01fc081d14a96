package tiered

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/cachestore/memory"
	"github.com/marmos91/urlimage/pkg/cachestore/storetest"
)

// countingStore counts backend Gets and can hold them until released.
type countingStore struct {
	cachestore.Store
	gets    atomic.Int32
	release chan struct{}
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.Store.Get(ctx, key)
}

func newStore(t *testing.T, backend cachestore.Store) *Store {
	t.Helper()
	s, err := New(backend, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) cachestore.Store {
		return newStore(t, memory.New(0))
	})
}

func TestStore_ServesHotHitsWithoutBackend(t *testing.T) {
	ctx := context.Background()
	backend := &countingStore{Store: memory.New(0)}
	s := newStore(t, backend)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	// Ristretto may drop a Set under contention, so allow one backend read.
	for range 5 {
		data, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", string(data))
	}
	assert.LessOrEqual(t, backend.gets.Load(), int32(1))
}

func TestStore_CollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	inner := memory.New(0)
	require.NoError(t, inner.Put(ctx, "k", []byte("v")))

	backend := &countingStore{Store: inner, release: make(chan struct{})}
	s := newStore(t, backend)

	const readers = 8
	var wg sync.WaitGroup
	results := make(chan string, readers)
	for range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := s.Get(ctx, "k")
			if err == nil {
				results <- string(data)
			}
		}()
	}

	require.Eventually(t, func() bool { return backend.gets.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(backend.release)
	wg.Wait()
	close(results)

	n := 0
	for r := range results {
		assert.Equal(t, "v", r)
		n++
	}
	assert.Equal(t, readers, n)
	assert.LessOrEqual(t, backend.gets.Load(), int32(readers))
}

func TestStore_EvictRemovesFromBothLayers(t *testing.T) {
	ctx := context.Background()
	backend := memory.New(0)
	s := newStore(t, backend)

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Evict(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, cachestore.ErrNotFound)
	_, err = backend.Get(ctx, "k")
	assert.ErrorIs(t, err, cachestore.ErrNotFound)
}

// racingStore runs during once, after its first backend read.
type racingStore struct {
	cachestore.Store
	once   sync.Once
	during func()
}

func (r *racingStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.Store.Get(ctx, key)
	r.once.Do(r.during)
	return data, err
}

func TestStore_EvictDuringMissIsNotUndone(t *testing.T) {
	ctx := context.Background()
	inner := memory.New(0)
	require.NoError(t, inner.Put(ctx, "k", []byte("stale")))

	backend := &racingStore{Store: inner}
	s := newStore(t, backend)
	backend.during = func() { require.NoError(t, s.Evict(ctx, "k")) }

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, cachestore.ErrNotFound)
}

func TestStore_OverwriteIsVisible(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, memory.New(0))

	require.NoError(t, s.Put(ctx, "k", []byte("old")))
	_, _ = s.Get(ctx, "k")
	require.NoError(t, s.Put(ctx, "k", []byte("new")))

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestStore_CloseClosesBackend(t *testing.T) {
	backend := memory.New(0)
	s, err := New(backend, Config{})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = backend.Get(context.Background(), "k")
	assert.True(t, errors.Is(err, cachestore.ErrStoreClosed))
}
