package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meridian-data/quarry/bucket"
	"github.com/meridian-data/quarry/config"
	"github.com/meridian-data/quarry/ledger"
)

// LsCmd shows what a content store knows about its sources.
var LsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Show ledger versions and crawl checkpoints for a repository",
	Long: `Ls inspects a content store and prints its version ledgers (the
logical versions recorded per crawl context) and any persisted
bucket-crawl checkpoints.

Examples:
  quarry ls --repo ./mirror
  quarry ls --repo ./mirror --versions`,
	Args: cobra.NoArgs,
	RunE: runLs,
}

func init() {
	LsCmd.Flags().String("repo", "", "Repository path (default from config)")
	LsCmd.Flags().Bool("versions", false, "List every recorded version, not just the current one")
}

func runLs(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	repoPath, _ := cmd.Flags().GetString("repo")
	if repoPath == "" {
		repoPath = cfg.Repo.Path
	}
	allVersions, _ := cmd.Flags().GetBool("versions")

	repo, err := openStore(repoPath, false)
	if err != nil {
		return err
	}

	if err := printLedgers(repo.Path(), allVersions); err != nil {
		return err
	}
	return printCheckpoints(repo.StateDir())
}

func printLedgers(root string, allVersions bool) error {
	paths, err := filepath.Glob(filepath.Join(root, ledger.DirName, "versions-*.json"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		pterm.Info.Println("No version ledgers recorded")
		return nil
	}

	rows := pterm.TableData{{"Context", "Current", "Versions", "Files"}}
	for _, p := range paths {
		l, err := ledger.Load(p)
		if err != nil {
			return err
		}
		ctx := ledgerContext(p)
		versions := l.Versions()
		files := 0
		for _, v := range versions {
			files += len(l.Items(v))
		}
		current := l.Current()
		if current == "" {
			current = "-"
		}
		rows = append(rows, []string{ctx, current, strconv.Itoa(len(versions)), strconv.Itoa(files)})
	}

	pterm.DefaultSection.Println("Version ledgers")
	if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
		return err
	}

	if allVersions {
		for _, p := range paths {
			l, err := ledger.Load(p)
			if err != nil {
				return err
			}
			pterm.Println()
			pterm.Info.Printfln("%s:", ledgerContext(p))
			for _, v := range l.Versions() {
				marker := " "
				if v == l.Current() {
					marker = "*"
				}
				pterm.Printfln("  %s %s (%d files)", marker, v, len(l.Items(v)))
			}
		}
	}
	return nil
}

func printCheckpoints(stateDir string) error {
	paths, err := filepath.Glob(filepath.Join(stateDir, "checkpoint-*.json"))
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}

	rows := pterm.TableData{{"Context", "Key", "Version ID", "Last modified"}}
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		var c bucket.Checkpoint
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		ctx := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(p), "checkpoint-"), ".json")
		rows = append(rows, []string{ctx, c.Key, c.VersionID, c.LastModified.Format(time.RFC3339)})
	}

	pterm.Println()
	pterm.DefaultSection.Println("Crawl checkpoints")
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func ledgerContext(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(base, "versions-"), ".json")
}
