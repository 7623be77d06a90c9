package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meridian-data/quarry/annex"
	"github.com/meridian-data/quarry/archive"
	"github.com/meridian-data/quarry/config"
	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/fetch"
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/pipeline"
	"github.com/meridian-data/quarry/reconcile"
	"github.com/meridian-data/quarry/sources"
	"github.com/meridian-data/quarry/store"
)

// CrawlCmd crawls a web page into a content store.
var CrawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a web page into a content store",
	Long: `Crawl fetches a page, extracts its links, and ingests the linked
content into a git-backed content store. Re-running against an
unchanged source produces no new commits and no new fetches.

Content flows through the incoming / incoming-processed / master
branch scheme: raw fetches land on incoming, archive expansion runs
on incoming-processed, and the finalized result merges into master.

Examples:
  quarry crawl https://example.org/data/ --repo ./mirror
  quarry crawl https://example.org/data/ --include '\.csv$' --mode fast
  quarry crawl https://example.org/releases/ --version-regex '_(?P<version>[0-9.]+)'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd, args[0])
	},
}

func init() {
	CrawlCmd.Flags().String("repo", "", "Target repository path (default from config)")
	CrawlCmd.Flags().String("mode", "", "Ingestion mode: full, fast, or relaxed")
	CrawlCmd.Flags().String("include", "", "Only ingest links matching this pattern")
	CrawlCmd.Flags().String("exclude", "", "Skip links matching this pattern")
	CrawlCmd.Flags().String("version-regex", "", "Split staged files into one commit per extracted version")
	CrawlCmd.Flags().Bool("rename", false, "Rename versioned filenames to their canonical names when splitting")
	CrawlCmd.Flags().Bool("no-branches", false, "Ingest directly on the current branch, skipping the branch scheme")
	CrawlCmd.Flags().Bool("expand-archives", false, "Expand downloaded archives on the incoming-processed branch")
	CrawlCmd.Flags().Bool("skip-problematic", false, "Log and skip items that fail to fetch instead of aborting")
}

func runCrawl(cmd *cobra.Command, pageURL string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	repoPath, _ := cmd.Flags().GetString("repo")
	if repoPath == "" {
		repoPath = cfg.Repo.Path
	}
	mode, _ := cmd.Flags().GetString("mode")
	if mode == "" {
		mode = cfg.Ingest.Mode
	}
	include, _ := cmd.Flags().GetString("include")
	exclude, _ := cmd.Flags().GetString("exclude")
	versionExpr, _ := cmd.Flags().GetString("version-regex")
	rename, _ := cmd.Flags().GetBool("rename")
	noBranches, _ := cmd.Flags().GetBool("no-branches")
	expandArchives, _ := cmd.Flags().GetBool("expand-archives")
	skipProblematic, _ := cmd.Flags().GetBool("skip-problematic")

	var versionRe *regexp.Regexp
	if versionExpr != "" {
		versionRe, err = regexp.Compile(versionExpr)
		if err != nil {
			return errors.Wrap(err, "version-regex")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := openStore(repoPath, true)
	if err != nil {
		return err
	}

	client := fetch.NewClient(cfg.Fetch.Timeout(), fetch.ClientOptions{
		BlockPrivate: &cfg.Fetch.BlockPrivateIPs,
	})
	down := fetch.NewDownloader(client, fetch.DownloaderOptions{
		RequestsPerSecond: float64(cfg.Fetch.RequestsPerMinute) / 60,
		Attempts:          cfg.Fetch.MaxRetries,
	})

	engine, err := annex.New(repo, down, annex.Options{
		Mode:             store.IngestMode(mode),
		AutoFinalize:     cfg.Ingest.AutoFinalize,
		EmitSkipped:      cfg.Ingest.EmitSkipped,
		WarnOnFetchError: skipProblematic || cfg.Ingest.SkipProblematic,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if !noBranches {
		if err := engine.SwitchBranch(annex.BranchIncoming, ""); err != nil {
			return err
		}
	}

	pages, err := sources.NewPages(client, sources.PagesOptions{
		Include: include,
		Exclude: exclude,
		Stats:   engine.Stats,
	})
	if err != nil {
		return err
	}

	pterm.Info.Printfln("Crawling %s into %s (mode: %s)", pageURL, repoPath, mode)

	seed := pipeline.NewRecord()
	seed.Set("url", pageURL)
	pipe := pipeline.New(pipeline.Do(pages), pipeline.Do(engine))

	if err := drain(pipe.RunWith(ctx, seed)); err != nil {
		return err
	}

	if _, err := engine.RemoveObsolete(); err != nil {
		return err
	}

	if versionRe != nil {
		res, err := reconcile.SplitByVersions(repo, versionRe, reconcile.Options{
			RenameToCanonical: rename,
			Stats:             engine.Stats,
		})
		if err != nil {
			return err
		}
		if res.Current != "" {
			engine.SetVersionLabel(res.Current)
		}
	}
	if err := engine.Finalize(annex.FinalizeOptions{Message: "crawled " + pageURL}); err != nil {
		return err
	}

	if !noBranches {
		if err := promote(engine, cfg, expandArchives); err != nil {
			return err
		}
	}

	printSummary(engine)
	return nil
}

// promote moves the finished incoming pass through incoming-processed
// into the primary branch. Merges are staged without committing, so
// archive expansion folds into the same commit and each promotion
// lands as one merge commit keeping the source head as a parent.
func promote(engine *annex.Annexificator, cfg *config.Config, expandArchives bool) error {
	if err := engine.SwitchBranch(annex.BranchProcessed, ""); err != nil {
		return err
	}
	if err := engine.MergeBranch(annex.BranchIncoming, store.MergeOptions{NoCommit: true}); err != nil {
		return err
	}
	if expandArchives {
		if err := expandWorktreeArchives(engine); err != nil {
			return err
		}
	}
	if err := engine.Finalize(annex.FinalizeOptions{
		Message: "Merge branch '" + annex.BranchIncoming + "'",
	}); err != nil {
		return err
	}

	primary := cfg.Repo.PrimaryBranch
	if primary == "" {
		primary = annex.BranchPrimary
	}
	if err := engine.SwitchBranch(primary, ""); err != nil {
		return err
	}
	if err := engine.MergeBranch(annex.BranchProcessed, store.MergeOptions{NoCommit: true}); err != nil {
		return err
	}
	return engine.Finalize(annex.FinalizeOptions{
		Message: "Merge branch '" + annex.BranchProcessed + "'",
		Tag:     true,
		Cleanup: cfg.Repo.GCOnFinalize,
	})
}

// expandWorktreeArchives expands every archive file in the worktree in
// place, staging the extracted members next to it.
func expandWorktreeArchives(engine *annex.Annexificator) error {
	repo := engine.Repo()
	root := repo.Path()
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if archive.DetectFormat(info.Name()) == "" {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		added, err := archive.Expand(p, filepath.Dir(p), archive.Options{StripTopDir: true, Overwrite: true})
		if err != nil {
			logger.Warnw("Failed to expand archive", "path", rel, "error", err)
			return nil
		}
		dir := filepath.Dir(filepath.ToSlash(rel))
		for _, a := range added {
			staged := a
			if dir != "." {
				staged = dir + "/" + a
			}
			if err := repo.Add(staged); err != nil {
				return err
			}
		}
		logger.Infow("Expanded archive", "path", rel, "members", len(added))
		return nil
	})
}

// drain consumes a pipeline stream to exhaustion. Cancellation unwinds
// cleanly: work committed so far is retained.
func drain(s pipeline.Stream) error {
	defer s.Close()
	for {
		_, err := s.Next()
		if errors.Is(err, pipeline.ErrEnd) {
			return nil
		}
		if errors.Is(err, pipeline.ErrCancel) {
			pterm.Warning.Println("Crawl cancelled; committed work is retained")
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func printSummary(engine *annex.Annexificator) {
	pterm.Println()
	pterm.Success.Printfln("Run complete: %s", engine.Stats.Total().Summary())
	if errs := engine.RunErrors(); len(errs) > 0 {
		pterm.Warning.Printfln("%d items failed:", len(errs))
		for url, err := range errs {
			pterm.Warning.Printfln("  %s: %v", url, err)
		}
	}
}
