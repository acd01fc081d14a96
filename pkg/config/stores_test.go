package config

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/cachestore/badger"
	"github.com/marmos91/urlimage/pkg/cachestore/fs"
	"github.com/marmos91/urlimage/pkg/cachestore/memory"
	"github.com/marmos91/urlimage/pkg/cachestore/tiered"
	"github.com/marmos91/urlimage/pkg/fetch"
	"github.com/marmos91/urlimage/pkg/transport"
)

type unwrapper interface{ Unwrap() cachestore.Store }

func backendOf(t *testing.T, s cachestore.Store) cachestore.Store {
	t.Helper()
	u, ok := s.(unwrapper)
	if !ok {
		t.Fatalf("Expected an instrumented store, got %T", s)
	}
	return u.Unwrap()
}

func TestCreateCacheStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		cfg   CacheConfig
		check func(t *testing.T, s cachestore.Store)
	}{
		{
			name: "Memory",
			cfg:  CacheConfig{Type: CacheTypeMemory, Size: 1024},
			check: func(t *testing.T, s cachestore.Store) {
				if _, ok := s.(*memory.Store); !ok {
					t.Errorf("Expected *memory.Store, got %T", s)
				}
			},
		},
		{
			name: "FS",
			cfg:  CacheConfig{Type: CacheTypeFS, Options: map[string]any{"path": t.TempDir(), "dir_mode": "0700"}},
			check: func(t *testing.T, s cachestore.Store) {
				if _, ok := s.(*fs.Store); !ok {
					t.Errorf("Expected *fs.Store, got %T", s)
				}
			},
		},
		{
			name: "Badger",
			cfg:  CacheConfig{Type: CacheTypeBadger, Options: map[string]any{"in_memory": true, "ttl": "1h"}},
			check: func(t *testing.T, s cachestore.Store) {
				if _, ok := s.(*badger.Store); !ok {
					t.Errorf("Expected *badger.Store, got %T", s)
				}
			},
		},
		{
			name: "TieredFS",
			cfg: CacheConfig{
				Type:    CacheTypeFS,
				Options: map[string]any{"path": filepath.Join(t.TempDir(), "cache")},
				Hot:     HotCacheConfig{Enabled: true, MaxSize: 1 << 20},
			},
			check: func(t *testing.T, s cachestore.Store) {
				hot, ok := s.(*tiered.Store)
				if !ok {
					t.Fatalf("Expected *tiered.Store, got %T", s)
				}
				if _, ok := hot.Backend().(*fs.Store); !ok {
					t.Errorf("Expected fs backend, got %T", hot.Backend())
				}
			},
		},
		{
			name: "HotIgnoredForMemory",
			cfg:  CacheConfig{Type: CacheTypeMemory, Hot: HotCacheConfig{Enabled: true}},
			check: func(t *testing.T, s cachestore.Store) {
				if _, ok := s.(*memory.Store); !ok {
					t.Errorf("Expected *memory.Store, got %T", s)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := CreateCacheStore(ctx, tt.cfg, nil)
			if err != nil {
				t.Fatalf("CreateCacheStore failed: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })

			tt.check(t, backendOf(t, store))

			if err := store.Put(ctx, "k", []byte("v")); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			got, err := store.Get(ctx, "k")
			if err != nil || string(got) != "v" {
				t.Errorf("Get = %q, %v", got, err)
			}
		})
	}
}

func TestCreateCacheStore_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  CacheConfig
	}{
		{"UnknownType", CacheConfig{Type: "redis"}},
		{"FSWithoutPath", CacheConfig{Type: CacheTypeFS}},
		{"BadgerWithoutPath", CacheConfig{Type: CacheTypeBadger}},
		{"S3WithoutBucket", CacheConfig{Type: CacheTypeS3, Options: map[string]any{"region": "us-east-1"}}},
		{"UnknownOption", CacheConfig{Type: CacheTypeFS, Options: map[string]any{"path": t.TempDir(), "colour": "red"}}},
		{"BadOptionType", CacheConfig{Type: CacheTypeBadger, Options: map[string]any{"in_memory": true, "ttl": "forever"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := CreateCacheStore(ctx, tt.cfg, nil)
			if err == nil {
				_ = store.Close()
				t.Fatal("Expected error")
			}
		})
	}
}

func TestKeyFunc(t *testing.T) {
	req := transport.NewRequest("https://Example.com/a.png")
	req.Header = http.Header{"Accept": []string{"image/webp"}}
	other := transport.NewRequest("https://example.com/a.png")
	other.Header = http.Header{"Accept": []string{"image/png"}}

	if KeyFunc(FetchConfig{Key: KeyDefault})(req) != fetch.DefaultKey(req) {
		t.Error("Expected default key")
	}
	if KeyFunc(FetchConfig{Key: KeyURL})(req) != fetch.URLKey(req) {
		t.Error("Expected URL key")
	}

	byHeader := KeyFunc(FetchConfig{Key: KeyHeader, KeyHeaders: []string{"Accept"}})
	if byHeader(req) == byHeader(other) {
		t.Error("Expected header key to distinguish Accept values")
	}
}

func TestLoaderOptions(t *testing.T) {
	opts := LoaderOptions(LoaderConfig{
		Timeout:        time.Second,
		CacheTimeout:   2 * time.Second,
		ResumeTimeout:  100 * time.Millisecond,
		MustStoreCache: true,
		Headers:        map[string]string{"accept": "image/webp"},
	}, nil)

	if opts.Timeout != time.Second || opts.CacheTimeout != 2*time.Second || !opts.MustStoreCache {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if opts.ResumeTimeout != 100*time.Millisecond {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if opts.Header.Get("Accept") != "image/webp" {
		t.Errorf("Expected canonical Accept header, got %v", opts.Header)
	}
}

func TestCreateManager(t *testing.T) {
	store := memory.New(0)
	m := CreateManager(fakeTransport{}, store, FetchConfig{Key: KeyURL}, nil)
	defer func() { _ = m.Close(context.Background()) }()

	req := transport.NewRequest("https://example.com/a.png")
	if m.Key(req) != fetch.URLKey(req) {
		t.Error("Expected manager to use the configured key strategy")
	}
}

type fakeTransport struct{}

func (fakeTransport) Open(context.Context, transport.Request, transport.Delegate) (transport.Handle, error) {
	return nil, errors.New("not used")
}
