package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/urlimage/internal/cli/output"
	"github.com/marmos91/urlimage/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and environment overrides.

Examples:
  # Show as YAML
  urlimage config show

  # Show as JSON
  urlimage config show --output json

  # Show what an override changes
  URLIMAGE_CACHE_TYPE=fs URLIMAGE_CACHE_OPTIONS_PATH=/tmp/c urlimage config show`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
