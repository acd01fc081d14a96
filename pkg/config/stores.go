package config

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/cachestore/badger"
	"github.com/marmos91/urlimage/pkg/cachestore/fs"
	"github.com/marmos91/urlimage/pkg/cachestore/memory"
	"github.com/marmos91/urlimage/pkg/cachestore/s3"
	"github.com/marmos91/urlimage/pkg/cachestore/tiered"
	"github.com/marmos91/urlimage/pkg/fetch"
	"github.com/marmos91/urlimage/pkg/loader"
	"github.com/marmos91/urlimage/pkg/transport"
	httptransport "github.com/marmos91/urlimage/pkg/transport/http"
)

// Cache backend types.
const (
	CacheTypeMemory = "memory"
	CacheTypeFS     = "fs"
	CacheTypeBadger = "badger"
	CacheTypeS3     = "s3"
)

// Request key strategies.
const (
	KeyDefault = "default"
	KeyURL     = "url"
	KeyHeader  = "header"
)

// CreateCacheStore creates the configured cache backend, wraps it in a
// tiered store when cfg.Hot is enabled, and instruments the result. m may
// be nil.
func CreateCacheStore(ctx context.Context, cfg CacheConfig, m *cachestore.Metrics) (cachestore.Store, error) {
	var (
		store cachestore.Store
		err   error
	)

	switch cfg.Type {
	case CacheTypeMemory, "":
		store = memory.New(cfg.Size.Int64())
	case CacheTypeFS:
		store, err = createFSStore(cfg.Options)
	case CacheTypeBadger:
		store, err = createBadgerStore(cfg.Options)
	case CacheTypeS3:
		store, err = createS3Store(ctx, cfg.Options)
	default:
		return nil, fmt.Errorf("unknown cache type: %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	storeType := cfg.Type
	if cfg.Hot.Enabled && cfg.Type != CacheTypeMemory {
		hot, err := tiered.New(store, tiered.Config{MaxSize: cfg.Hot.MaxSize, TTL: cfg.Hot.TTL})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		store = hot
		storeType = "tiered-" + cfg.Type
	}

	return cachestore.Instrument(store, storeType, m), nil
}

func createFSStore(opts map[string]any) (cachestore.Store, error) {
	var fsCfg fs.Config
	if err := decodeOptions(opts, &fsCfg); err != nil {
		return nil, fmt.Errorf("invalid fs cache options: %w", err)
	}
	if fsCfg.BasePath == "" {
		return nil, fmt.Errorf("fs cache store requires path to be set")
	}
	return fs.New(fsCfg)
}

func createBadgerStore(opts map[string]any) (cachestore.Store, error) {
	var badgerCfg badger.Config
	if err := decodeOptions(opts, &badgerCfg); err != nil {
		return nil, fmt.Errorf("invalid badger cache options: %w", err)
	}
	store, err := badger.New(badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	return store, nil
}

func createS3Store(ctx context.Context, opts map[string]any) (cachestore.Store, error) {
	var s3Cfg s3.Config
	if err := decodeOptions(opts, &s3Cfg); err != nil {
		return nil, fmt.Errorf("invalid s3 cache options: %w", err)
	}
	if s3Cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 cache store requires bucket to be set")
	}
	return s3.NewFromConfig(ctx, s3Cfg)
}

// decodeOptions decodes a backend option map into out, accepting the same
// size and duration notations as the config file.
func decodeOptions(opts map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       configDecodeHooks(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(opts)
}

// CreateTransport creates the HTTP transport.
func CreateTransport(cfg TransportConfig) *httptransport.Transport {
	return httptransport.New(httptransport.Config{
		Timeout:             cfg.Timeout,
		ChunkSize:           cfg.ChunkSize.Int(),
		UserAgent:           cfg.UserAgent,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
	})
}

// KeyFunc returns the request key strategy named by cfg.
func KeyFunc(cfg FetchConfig) fetch.KeyFunc {
	switch cfg.Key {
	case KeyURL:
		return fetch.URLKey
	case KeyHeader:
		return fetch.HeaderKey(cfg.KeyHeaders...)
	default:
		return fetch.DefaultKey
	}
}

// CreateManager creates a fetch manager over tr persisting into store.
// store and m may be nil. Extra options are applied last.
func CreateManager(tr transport.Transport, store cachestore.Store, cfg FetchConfig, m *fetch.Metrics, extra ...fetch.Option) *fetch.Manager {
	opts := []fetch.Option{
		fetch.WithKeyFunc(KeyFunc(cfg)),
		fetch.WithPersistTimeout(cfg.PersistTimeout),
		fetch.WithMetrics(m),
	}
	if store != nil {
		opts = append(opts, fetch.WithCacheStore(store))
	}
	opts = append(opts, extra...)
	return fetch.NewManager(tr, opts...)
}

// LoaderOptions converts cfg to loader options. The caller sets Manager
// and Cache.
func LoaderOptions(cfg LoaderConfig, m *loader.Metrics) loader.Options {
	opts := loader.Options{
		MustStoreCache: cfg.MustStoreCache,
		Timeout:        cfg.Timeout,
		CacheTimeout:   cfg.CacheTimeout,
		ResumeTimeout:  cfg.ResumeTimeout,
		Metrics:        m,
	}
	if len(cfg.Headers) > 0 {
		opts.Header = make(http.Header, len(cfg.Headers))
		for k, v := range cfg.Headers {
			opts.Header.Set(k, v)
		}
	}
	return opts
}
