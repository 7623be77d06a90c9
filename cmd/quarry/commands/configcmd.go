package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meridian-data/quarry/config"
)

// ConfigCmd manages the quarry configuration file.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage quarry configuration",
	Long: `Config inspects and persists quarry configuration. The effective
configuration is the merge of built-in defaults, an existing
quarry.toml, and QUARRY_* environment variables.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to a quarry.toml file",
	Long: `Init writes the effective configuration out as TOML, so it can be
edited and picked up by later runs. An existing file at the target
path is kept as a .back backup.

Examples:
  quarry config init
  quarry config init --path ~/.quarry/quarry.toml`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().String("path", "quarry.toml", "Destination file")
	ConfigCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("path")
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	pterm.Success.Printfln("Wrote configuration to %s", path)
	return nil
}
