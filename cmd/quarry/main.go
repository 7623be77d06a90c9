package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meridian-data/quarry/cmd/quarry/commands"
	"github.com/meridian-data/quarry/config"
	"github.com/meridian-data/quarry/logger"
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "quarry - incremental content discovery and ingestion",
	Long: `quarry mirrors external sources into a git-backed content store,
one commit per logical version, idempotently.

Available commands:
  crawl   - Crawl a web page into a content store
  s3      - Crawl a versioned S3 bucket into a content store
  ls      - Show ledger versions and crawl checkpoints for a repository
  config  - Manage quarry configuration
  version - Show build version information

Examples:
  quarry crawl https://example.org/data/ --repo ./mirror
  quarry s3 my-bucket/releases --anonymous --repo ./mirror
  quarry ls --repo ./mirror`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return logger.Initialize(cfg.Log.JSON)
	},
}

func init() {
	rootCmd.AddCommand(commands.CrawlCmd)
	rootCmd.AddCommand(commands.S3Cmd)
	rootCmd.AddCommand(commands.LsCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
