package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/cachestore/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) cachestore.Store {
		s := New(0)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := New(10)

	for _, k := range []string{"a", "b"} {
		if err := s.Put(ctx, k, []byte("1234")); err != nil {
			t.Fatalf("Put(%q) failed: %v", k, err)
		}
	}

	// Touch a so that b becomes the eviction candidate.
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatalf("Get(a) failed: %v", err)
	}
	if err := s.Put(ctx, "c", []byte("1234")); err != nil {
		t.Fatalf("Put(c) failed: %v", err)
	}

	if _, err := s.Get(ctx, "b"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Errorf("Get(b) error = %v, want ErrNotFound", err)
	}
	if s.Len() != 2 || s.Size() != 8 {
		t.Errorf("Len=%d Size=%d, want 2 and 8", s.Len(), s.Size())
	}
}

func TestStore_OversizedValueNotStored(t *testing.T) {
	ctx := context.Background()
	s := New(4)

	if err := s.Put(ctx, "k", []byte("ok")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, "k", []byte("too large")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := s.Get(ctx, "k"); !errors.Is(err, cachestore.ErrNotFound) {
		t.Errorf("oversized overwrite should drop the entry, got %v", err)
	}
	if s.Size() != 0 {
		t.Errorf("Size = %d, want 0", s.Size())
	}
}

func TestStore_OverwriteAdjustsSize(t *testing.T) {
	ctx := context.Background()
	s := New(0)

	_ = s.Put(ctx, "k", []byte("12345"))
	_ = s.Put(ctx, "k", []byte("12"))

	if s.Size() != 2 {
		t.Errorf("Size = %d, want 2", s.Size())
	}
}
