package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/urlimage/internal/bytesize"
	"github.com/marmos91/urlimage/internal/telemetry"
	"github.com/marmos91/urlimage/pkg/api"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "URLIMAGE"

// serviceName identifies the process to trace and profile backends.
const serviceName = "urlimage"

// Config represents the urlimage configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (URLIMAGE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Server configures the HTTP front end started by `urlimage serve`
	Server api.Config `mapstructure:"server" yaml:"server"`

	// Cache selects and configures the persistent image cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Transport configures the HTTP client used for fetching
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Fetch configures request coalescing
	Fetch FetchConfig `mapstructure:"fetch" yaml:"fetch"`

	// Loader configures per-image loading
	Loader LoaderConfig `mapstructure:"loader" yaml:"loader"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector
	// Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling ratio (0.0 to 1.0)
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// Tracing returns the tracer settings for the given binary version.
func (c TelemetryConfig) Tracing(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

// Profiler returns the profiling settings for the given binary version.
// tags are attached to every profile.
func (c TelemetryConfig) Profiler(version string, tags map[string]string) telemetry.ProfilingConfig {
	return telemetry.ProfilingConfig{
		Enabled:        c.Profiling.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Endpoint:       c.Profiling.Endpoint,
		ProfileTypes:   c.Profiling.ProfileTypes,
		Tags:           tags,
	}
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" validate:"dive,oneof=cpu alloc_objects alloc_space inuse_objects inuse_space goroutines mutex_count mutex_duration block_count block_duration" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics. When enabled, metrics are
// served on the API server's /metrics route.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// CacheConfig selects the persistent cache backend.
type CacheConfig struct {
	// Type is the backend: memory, fs, badger or s3
	// Default: memory
	Type string `mapstructure:"type" validate:"required,oneof=memory fs badger s3" yaml:"type"`

	// Size bounds the memory backend
	// Supports human-readable formats: "256Mi", "1GB"
	// Default: 256Mi
	Size bytesize.ByteSize `mapstructure:"size" yaml:"size,omitempty"`

	// Options are backend specific settings, decoded into the backend's
	// own Config (fs: path, dir_mode, file_mode; badger: path, in_memory,
	// ttl, gc_interval; s3: bucket, region, endpoint, key_prefix, ...)
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`

	// Hot puts an in-process layer in front of a remote or on-disk backend
	Hot HotCacheConfig `mapstructure:"hot" yaml:"hot"`
}

// HotCacheConfig configures the in-process layer of a tiered cache.
type HotCacheConfig struct {
	// Enabled wraps the backend in a tiered store. Ignored for memory.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxSize bounds the bytes held in the hot layer
	// Default: 64Mi
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size,omitempty"`

	// TTL expires hot entries. Zero keeps them until evicted by size.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl,omitempty"`
}

// TransportConfig configures the HTTP transport.
type TransportConfig struct {
	// Timeout bounds one fetch including the body
	// Default: 60s
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout"`

	// ChunkSize is the read buffer size
	// Default: 32Ki
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// UserAgent is sent unless a request sets its own
	// Default: "urlimage"
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent"`

	// MaxIdleConnsPerHost sizes the keep-alive pool per origin
	// Default: 8
	MaxIdleConnsPerHost int `mapstructure:"max_idle_conns_per_host" validate:"gte=0" yaml:"max_idle_conns_per_host"`
}

// FetchConfig configures the fetch manager.
type FetchConfig struct {
	// Key selects how requests are identified for coalescing and caching
	// Valid values: default (method and normalized URL), url, header
	// Default: default
	Key string `mapstructure:"key" validate:"required,oneof=default url header" yaml:"key"`

	// KeyHeaders are the request headers folded into the key when Key is
	// "header"
	KeyHeaders []string `mapstructure:"key_headers" validate:"required_if=Key header" yaml:"key_headers,omitempty"`

	// PersistTimeout bounds writing a completed body to the cache
	// Default: 10s
	PersistTimeout time.Duration `mapstructure:"persist_timeout" validate:"gte=0" yaml:"persist_timeout"`
}

// LoaderConfig configures image loaders.
type LoaderConfig struct {
	// Timeout fails a load that takes longer. Zero disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0" yaml:"timeout"`

	// CacheTimeout bounds the cache lookup done before fetching
	// Default: 5s
	CacheTimeout time.Duration `mapstructure:"cache_timeout" validate:"gte=0" yaml:"cache_timeout"`

	// ResumeTimeout bounds the cache check made before a queued duplicate
	// runs. It blocks fetch scheduling, so keep it short.
	// Default: min(cache_timeout, 1s)
	ResumeTimeout time.Duration `mapstructure:"resume_timeout" validate:"gte=0" yaml:"resume_timeout,omitempty"`

	// MustStoreCache keeps a fetch pending until its body is persisted
	// Default: false
	MustStoreCache bool `mapstructure:"must_store_cache" yaml:"must_store_cache"`

	// Headers are added to every image request
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// A missing config file is not an error: defaults and environment
// overrides still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration from an existing file and returns
// instructions for creating one if it is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  urlimage init\n\n"+
				"Or specify a custom config file:\n"+
				"  urlimage <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  urlimage init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return writeConfigFile(path, data)
}

func writeConfigFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// 0600: the file may hold S3 credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment overrides and the config file location.
// Example override: URLIMAGE_LOGGING_LEVEL=DEBUG
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(getConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

// bindEnvKeys registers every leaf key with viper. AutomaticEnv alone only
// applies to keys viper already knows, so without this an environment
// variable cannot set a key that is absent from the file.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := range t.NumField() {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("mapstructure"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + tag

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			bindEnvKeys(v, ft, key+".")
			continue
		}
		if ft.Kind() == reflect.Map {
			continue
		}
		_ = v.BindEnv(key)
	}
}

// readConfigFile reads the config file if it exists.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the decode hooks for custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings like "64Mi" and plain numbers to
// bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration. Raw
// numbers are nanoseconds.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/urlimage, ~/.config/urlimage, or
// "." when the home directory is unknown.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "urlimage")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "urlimage")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
