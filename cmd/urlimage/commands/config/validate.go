package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/urlimage/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the urlimage configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  urlimage config validate --config /etc/urlimage/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Cache.Type == config.CacheTypeMemory {
		warnings = append(warnings, "memory cache is lost on restart")
	}
	if cfg.Server.AllowPrivateHosts {
		warnings = append(warnings, "server.allow_private_hosts lets clients reach internal addresses")
	}
	if cfg.Loader.Timeout == 0 {
		warnings = append(warnings, "loader.timeout is 0; slow origins hold requests until the server deadline")
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	return nil
}
