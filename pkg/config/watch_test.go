package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeFile(t, "logging:\n  level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(cfg *Config) { changes <- cfg }) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("logging:\n  level: not-a-level\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-changes:
		t.Fatalf("Invalid config must not be delivered, got level %q", cfg.Logging.Level)
	case <-time.After(500 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case cfg := <-changes:
		if cfg.Logging.Level != "DEBUG" {
			t.Errorf("Expected reloaded level DEBUG, got %q", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/dir/config.yaml", func(*Config) {})
	if err == nil {
		t.Fatal("Expected error for missing directory")
	}
}
