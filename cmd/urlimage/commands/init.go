package commands

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/urlimage/internal/cli/prompt"
	"github.com/marmos91/urlimage/pkg/config"
)

var (
	initForce       bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a configuration file",
	Long: `Initialize a urlimage configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/urlimage/config.yaml.
Use --config to specify a custom path and --interactive to choose the cache
backend and server settings through prompts.

Examples:
  # Initialize with default location
  urlimage init

  # Choose settings interactively
  urlimage init --interactive

  # Force overwrite existing config
  urlimage init --config /etc/urlimage/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "Prompt for settings")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.GetDefaultConfig()
	force := initForce

	if initInteractive {
		if _, err := os.Stat(configPath); err == nil && !force {
			overwrite, err := prompt.Confirm(fmt.Sprintf("%s exists. Overwrite", configPath), false)
			if err != nil {
				return err
			}
			if !overwrite {
				return errors.New("aborted")
			}
			force = true
		}
		if err := promptConfig(cfg); err != nil {
			return err
		}
		config.ApplyDefaults(cfg)
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	if err := config.WriteConfig(cfg, configPath, force); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	_, _ = fmt.Fprintln(out, "\nNext steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the configuration file to customize your setup")
	_, _ = fmt.Fprintln(out, "  2. Start the server with: urlimage serve")
	_, _ = fmt.Fprintf(out, "  3. Or specify custom config: urlimage serve --config %s\n", configPath)
	return nil
}

// promptConfig asks for the settings most installs change.
func promptConfig(cfg *config.Config) error {
	cacheType, err := prompt.Select("Cache backend", []prompt.Option{
		{Label: "memory", Value: config.CacheTypeMemory, Description: "In-process LRU, lost on restart"},
		{Label: "fs", Value: config.CacheTypeFS, Description: "One file per image under a directory"},
		{Label: "badger", Value: config.CacheTypeBadger, Description: "Embedded key-value store"},
		{Label: "s3", Value: config.CacheTypeS3, Description: "S3 or S3-compatible bucket"},
	})
	if err != nil {
		return err
	}
	cfg.Cache.Type = cacheType

	switch cacheType {
	case config.CacheTypeFS, config.CacheTypeBadger:
		path, err := prompt.InputWithValidation("Cache directory", "/var/cache/urlimage", required)
		if err != nil {
			return err
		}
		cfg.Cache.Options = map[string]any{"path": path}

	case config.CacheTypeS3:
		bucket, err := prompt.InputWithValidation("Bucket", "", required)
		if err != nil {
			return err
		}
		region, err := prompt.Input("Region", "us-east-1")
		if err != nil {
			return err
		}
		endpoint, err := prompt.InputWithValidation("Endpoint (empty for AWS)", "", optionalURL)
		if err != nil {
			return err
		}
		cfg.Cache.Options = map[string]any{"bucket": bucket, "region": region}
		if endpoint != "" {
			cfg.Cache.Options["endpoint"] = endpoint
			cfg.Cache.Options["force_path_style"] = true
		}
	}

	if cacheType != config.CacheTypeMemory {
		hot, err := prompt.Confirm("Keep recently used images in memory", true)
		if err != nil {
			return err
		}
		cfg.Cache.Hot.Enabled = hot
	}

	port, err := prompt.InputInt("Server port", cfg.Server.Port, 1, 65535)
	if err != nil {
		return err
	}
	cfg.Server.Port = port

	level, err := prompt.Select("Log level", []prompt.Option{
		{Label: "INFO", Value: "INFO"},
		{Label: "DEBUG", Value: "DEBUG"},
		{Label: "WARN", Value: "WARN"},
		{Label: "ERROR", Value: "ERROR"},
	})
	if err != nil {
		return err
	}
	cfg.Logging.Level = level

	metricsOn, err := prompt.Confirm("Enable Prometheus metrics", false)
	if err != nil {
		return err
	}
	cfg.Metrics.Enabled = metricsOn
	return nil
}

func required(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

func optionalURL(s string) error {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("enter an absolute URL")
	}
	return nil
}
