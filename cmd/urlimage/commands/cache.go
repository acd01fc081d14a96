package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/config"
)

var cacheGetOut string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and modify the image cache",
	Long: `Read or evict cached images using the configured cache backend.

Entries are addressed by URL; the key is derived the same way the loader
derives it, including the configured loader headers.`,
}

var cacheGetCmd = &cobra.Command{
	Use:   "get URL",
	Short: "Write a cached image to a file or stdout",
	Long: `Write the cached body for URL without touching the network.

Examples:
  urlimage cache get https://example.com/a.png -o a.png`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheGet,
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict URL...",
	Short: "Remove cached images",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCacheEvict,
}

func init() {
	cacheGetCmd.Flags().StringVarP(&cacheGetOut, "out", "o", "", "Output file (default: stdout)")

	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheEvictCmd)
}

func openCache(cmd *cobra.Command) (*imageRuntime, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := InitLogger(cfg); err != nil {
		return nil, nil, err
	}
	rt, err := newRuntime(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return rt, cfg, nil
}

func runCacheGet(cmd *cobra.Command, args []string) error {
	rt, cfg, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(cfg.ShutdownTimeout) }()

	data, err := rt.cache.Get(cmd.Context(), rt.key(args[0]))
	if errors.Is(err, cachestore.ErrNotFound) {
		return fmt.Errorf("%s is not cached", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	if cacheGetOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(cacheGetOut, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", cacheGetOut, err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d bytes to %s\n", len(data), cacheGetOut)
	return nil
}

func runCacheEvict(cmd *cobra.Command, args []string) error {
	rt, cfg, err := openCache(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(cfg.ShutdownTimeout) }()

	ctx := cmd.Context()
	var errs []error
	for _, u := range args {
		if err := rt.cache.Evict(ctx, rt.key(u)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Evicted %s\n", u)
	}
	return errors.Join(errs...)
}
