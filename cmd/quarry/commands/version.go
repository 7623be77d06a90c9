package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridian-data/quarry/version"
)

// VersionCmd shows build version information.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			raw, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(raw))
			return nil
		}
		fmt.Println(info.String())
		fmt.Printf("  go:       %s\n", info.GoVersion)
		fmt.Printf("  platform: %s\n", info.Platform)
		return nil
	},
}

func init() {
	VersionCmd.Flags().Bool("json", false, "Output version information as JSON")
}
