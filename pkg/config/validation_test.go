package config

import (
	"strings"
	"testing"
)

func TestValidate_DefaultConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		errPart string
	}{
		{"LogFormat", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"PortTooLarge", func(c *Config) { c.Server.Port = 70000 }, "max"},
		{"SampleRate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "lte"},
		{"ProfileType", func(c *Config) { c.Telemetry.Profiling.ProfileTypes = []string{"heap"} }, "oneof"},
		{"NegativeTimeout", func(c *Config) { c.Loader.Timeout = -1 }, "gte"},
		{"ZeroShutdown", func(c *Config) { c.ShutdownTimeout = 0 }, "required"},
		{"S3WithoutBucket", func(c *Config) { c.Cache.Type = CacheTypeS3 }, "bucket"},
		{"BadgerWithoutPath", func(c *Config) { c.Cache.Type = CacheTypeBadger }, "cache.options.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Expected error containing %q, got: %v", tt.errPart, err)
			}
		})
	}
}

func TestValidate_InMemoryBadgerNeedsNoPath(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Cache.Type = CacheTypeBadger
	cfg.Cache.Options = map[string]any{"in_memory": true}

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected in-memory badger to be valid, got: %v", err)
	}
}
