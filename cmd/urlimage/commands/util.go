package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/config"
	"github.com/marmos91/urlimage/pkg/fetch"
	"github.com/marmos91/urlimage/pkg/loader"
	"github.com/marmos91/urlimage/pkg/metrics"
	"github.com/marmos91/urlimage/pkg/transport"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	loggerCfg := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}
	if err := logger.Init(loggerCfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// loadConfig loads the --config file, the default file if one exists, or
// defaults plus environment overrides otherwise.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" || config.DefaultConfigExists() {
		return config.MustLoad(cfgFile)
	}
	return config.Load("")
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource() string {
	if path := configFilePath(); path != "" {
		return path
	}
	return "defaults"
}

func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return ""
}

// imageRuntime is the component graph shared by the fetch, serve and
// cache commands.
type imageRuntime struct {
	cache   cachestore.Store
	manager *fetch.Manager
	loader  loader.Options
}

// newRuntime creates the cache store, transport and fetch manager. Metrics
// are recorded when the registry was initialized beforehand.
func newRuntime(ctx context.Context, cfg *config.Config, extra ...fetch.Option) (*imageRuntime, error) {
	reg := metrics.Registerer()

	cache, err := config.CreateCacheStore(ctx, cfg.Cache, cachestore.NewMetrics(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}
	logger.Debug("Cache store created", logger.KeyStoreType, cfg.Cache.Type, "hot", cfg.Cache.Hot.Enabled)

	tr := config.CreateTransport(cfg.Transport)
	manager := config.CreateManager(tr, cache, cfg.Fetch, fetch.NewMetrics(reg), extra...)

	opts := config.LoaderOptions(cfg.Loader, loader.NewMetrics(reg))
	opts.Manager = manager
	opts.Cache = cache

	return &imageRuntime{cache: cache, manager: manager, loader: opts}, nil
}

// key returns the cache key a Loader uses for u.
func (r *imageRuntime) key(u string) string {
	req := transport.NewRequest(u)
	req.Header = r.loader.Header.Clone()
	return r.manager.Key(req).String()
}

// Close drains the manager and closes the cache store within timeout.
func (r *imageRuntime) Close(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return errors.Join(r.manager.Close(ctx), r.cache.Close())
}
