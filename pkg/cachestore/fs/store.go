// Package fs provides a filesystem-backed cache store.
//
// Each entry is one file named after the blake2b hash of its key, fanned
// out into 256 subdirectories by the first two hex digits:
//
//	<base>/3f/3fa1...e9
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/urlimage/pkg/cachestore"
)

// Config holds configuration for the filesystem cache store.
type Config struct {
	// BasePath is the root directory of the cache.
	BasePath string `mapstructure:"path" validate:"required"`

	// DirMode is the permission mode for created directories.
	// Default: 0755
	DirMode os.FileMode `mapstructure:"dir_mode"`

	// FileMode is the permission mode for entry files.
	// Default: 0644
	FileMode os.FileMode `mapstructure:"file_mode"`
}

// Store keeps entries as files. Writes go to a temporary file in the
// target directory and are renamed into place, so readers never observe a
// partial entry. Fan-out directories are never removed; Put relies on
// them staying in place between MkdirAll and CreateTemp.
type Store struct {
	mu       sync.RWMutex
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
	closed   bool
}

// New creates the base directory if needed and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("fs cache store: base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}

	if err := os.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	info, err := os.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fs cache store: %s is not a directory", cfg.BasePath)
	}

	return &Store{
		basePath: cfg.BasePath,
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
	}, nil
}

// NewWithPath creates a Store with default modes.
func NewWithPath(basePath string) (*Store, error) {
	return New(Config{BasePath: basePath})
}

func (s *Store) entryPath(key string) string {
	h := cachestore.HashKey(key)
	return filepath.Join(s.basePath, h[:2], h)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, cachestore.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cachestore.ErrNotFound
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return cachestore.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.entryPath(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Chmod(tmpPath, s.fileMode); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod cache entry: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

func (s *Store) Evict(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return cachestore.ErrStoreClosed
	}

	if err := os.Remove(s.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cache entry: %w", err)
	}
	return nil
}

// Close marks the store as closed. Files stay on disk.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// HealthCheck verifies the base directory is still reachable.
func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return cachestore.ErrStoreClosed
	}
	info, err := os.Stat(s.basePath)
	if err != nil {
		return fmt.Errorf("fs cache store health check failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fs cache store: %s is not a directory", s.basePath)
	}
	return nil
}

var _ cachestore.Store = (*Store)(nil)
