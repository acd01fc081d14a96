package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/urlimage/internal/logger"
	"github.com/marmos91/urlimage/internal/telemetry"
	"github.com/marmos91/urlimage/pkg/api"
	"github.com/marmos91/urlimage/pkg/config"
	"github.com/marmos91/urlimage/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the image HTTP server",
	Long: `Start the HTTP front end serving GET /images?url=<u>.

The server also exposes /health, /health/ready, /stats and, when metrics are
enabled, /metrics. Changes to the log level or format in the config file
are applied without a restart.

Examples:
  # Start with the default config location
  urlimage serve

  # Start with a custom config file
  urlimage serve --config /etc/urlimage/config.yaml

  # Override settings through the environment
  URLIMAGE_LOGGING_LEVEL=DEBUG URLIMAGE_CACHE_TYPE=badger \
    URLIMAGE_CACHE_OPTIONS_PATH=/var/lib/urlimage urlimage serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	if !cfg.Server.IsEnabled() {
		return errors.New("server is disabled (server.enabled: false)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.Tracing(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		// ctx is canceled by the time this runs.
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(
		cfg.Telemetry.Profiler(Version, map[string]string{"cache": cfg.Cache.Type}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource())
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// The registry must exist before the runtime registers its collectors.
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(cfg.ShutdownTimeout); err != nil {
			logger.Error("Runtime shutdown error", logger.KeyError, err)
		}
	}()
	logger.Info("Cache configured", logger.KeyStoreType, cfg.Cache.Type, "hot", cfg.Cache.Hot.Enabled)

	server := api.NewServer(cfg.Server, api.Deps{
		Manager:     rt.manager,
		Cache:       rt.cache,
		StoreType:   cfg.Cache.Type,
		Loader:      rt.loader,
		HTTPMetrics: metrics.NewHTTPMetrics(metrics.Registerer()),
	})

	if path := configFilePath(); path != "" {
		go func() {
			if err := config.Watch(ctx, path, applyReloadedConfig); err != nil {
				logger.Warn("Config watch disabled", "path", path, logger.KeyError, err)
			}
		}()
	}

	logger.Info("Server is running. Press Ctrl+C to stop.", "port", server.Port())
	if err := server.Start(ctx); err != nil {
		logger.Error("Server error", logger.KeyError, err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// applyReloadedConfig applies the settings that can change at runtime.
// Everything else needs a restart.
func applyReloadedConfig(cfg *config.Config) {
	if logger.GetLevel().String() != cfg.Logging.Level {
		logger.SetLevel(cfg.Logging.Level)
		logger.Info("Log level updated", "level", cfg.Logging.Level)
	}
	logger.SetFormat(cfg.Logging.Format)
}
