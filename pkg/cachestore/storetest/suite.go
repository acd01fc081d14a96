// Package storetest is a conformance suite for cachestore.Store
// implementations.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/urlimage/pkg/cachestore"
)

// StoreFactory creates a fresh, empty Store for each test. It can use
// t.TempDir() and t.Cleanup().
type StoreFactory func(t *testing.T) cachestore.Store

// RunConformanceSuite runs every contract test against stores created by
// factory.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Helper()

	t.Run("PutThenGet", func(t *testing.T) { testPutThenGet(t, factory(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
	t.Run("Overwrite", func(t *testing.T) { testOverwrite(t, factory(t)) })
	t.Run("Evict", func(t *testing.T) { testEvict(t, factory(t)) })
	t.Run("EvictMissing", func(t *testing.T) { testEvictMissing(t, factory(t)) })
	t.Run("KeysAreIndependent", func(t *testing.T) { testKeysAreIndependent(t, factory(t)) })
	t.Run("ReturnedDataIsOwned", func(t *testing.T) { testReturnedDataIsOwned(t, factory(t)) })
	t.Run("EmptyValue", func(t *testing.T) { testEmptyValue(t, factory(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, factory(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, factory(t)) })
}

const key = "GET https://example.com/images/cat.png accept=image/png"

func mustPut(t *testing.T, s cachestore.Store, k string, data []byte) {
	t.Helper()
	if err := s.Put(context.Background(), k, data); err != nil {
		t.Fatalf("Put(%q) failed: %v", k, err)
	}
}

func mustGet(t *testing.T, s cachestore.Store, k string) []byte {
	t.Helper()
	data, err := s.Get(context.Background(), k)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", k, err)
	}
	return data
}

func expectMiss(t *testing.T, s cachestore.Store, k string) {
	t.Helper()
	_, err := s.Get(context.Background(), k)
	if !errors.Is(err, cachestore.ErrNotFound) {
		t.Fatalf("Get(%q) error = %v, want ErrNotFound", k, err)
	}
}

func testPutThenGet(t *testing.T, s cachestore.Store) {
	data := []byte("\x89PNG\r\n\x1a\nbody")
	mustPut(t, s, key, data)

	if got := mustGet(t, s, key); !bytes.Equal(got, data) {
		t.Errorf("Get returned %q, want %q", got, data)
	}
}

func testGetMissing(t *testing.T, s cachestore.Store) {
	expectMiss(t, s, key)
}

func testOverwrite(t *testing.T, s cachestore.Store) {
	mustPut(t, s, key, []byte("old"))
	mustPut(t, s, key, []byte("new"))

	if got := mustGet(t, s, key); string(got) != "new" {
		t.Errorf("Get after overwrite returned %q, want %q", got, "new")
	}
}

func testEvict(t *testing.T, s cachestore.Store) {
	mustPut(t, s, key, []byte("x"))
	if err := s.Evict(context.Background(), key); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	expectMiss(t, s, key)
}

func testEvictMissing(t *testing.T, s cachestore.Store) {
	if err := s.Evict(context.Background(), "GET https://example.com/none"); err != nil {
		t.Errorf("Evict of missing key returned %v", err)
	}
}

func testKeysAreIndependent(t *testing.T, s cachestore.Store) {
	mustPut(t, s, "GET https://example.com/a", []byte("a"))
	mustPut(t, s, "GET https://example.com/b", []byte("b"))

	if err := s.Evict(context.Background(), "GET https://example.com/a"); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	expectMiss(t, s, "GET https://example.com/a")
	if got := mustGet(t, s, "GET https://example.com/b"); string(got) != "b" {
		t.Errorf("Get(b) returned %q", got)
	}
}

func testReturnedDataIsOwned(t *testing.T, s cachestore.Store) {
	data := []byte("original")
	mustPut(t, s, key, data)
	data[0] = 'X'

	got := mustGet(t, s, key)
	if string(got) != "original" {
		t.Fatalf("store kept a reference to the caller's slice: %q", got)
	}
	got[0] = 'Y'
	if again := mustGet(t, s, key); string(again) != "original" {
		t.Errorf("store returned a shared slice: %q", again)
	}
}

func testEmptyValue(t *testing.T, s cachestore.Store) {
	mustPut(t, s, key, []byte{})
	if got := mustGet(t, s, key); len(got) != 0 {
		t.Errorf("Get returned %d bytes, want 0", len(got))
	}
}

func testConcurrent(t *testing.T, s cachestore.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 64)

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			k := fmt.Sprintf("GET https://example.com/%d", i%4)
			for j := 0; j < 20; j++ {
				if err := s.Put(ctx, k, []byte(k)); err != nil {
					errs <- err
					return
				}
				data, err := s.Get(ctx, k)
				if err != nil && !errors.Is(err, cachestore.ErrNotFound) {
					errs <- err
					return
				}
				if err == nil && string(data) != k {
					errs <- fmt.Errorf("Get(%q) returned %q", k, data)
					return
				}
				if j%5 == 0 {
					if err := s.Evict(ctx, k); err != nil {
						errs <- err
						return
					}
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}

func testClosed(t *testing.T, s cachestore.Store) {
	mustPut(t, s, key, []byte("x"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if _, err := s.Get(ctx, key); !errors.Is(err, cachestore.ErrStoreClosed) {
		t.Errorf("Get after Close returned %v, want ErrStoreClosed", err)
	}
	if err := s.Put(ctx, key, []byte("y")); !errors.Is(err, cachestore.ErrStoreClosed) {
		t.Errorf("Put after Close returned %v, want ErrStoreClosed", err)
	}
	if err := s.Evict(ctx, key); !errors.Is(err, cachestore.ErrStoreClosed) {
		t.Errorf("Evict after Close returned %v, want ErrStoreClosed", err)
	}
}
