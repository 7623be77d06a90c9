package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/meridian-data/quarry/annex"
	"github.com/meridian-data/quarry/bucket"
	"github.com/meridian-data/quarry/config"
	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/fetch"
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/pipeline"
	"github.com/meridian-data/quarry/sources"
	"github.com/meridian-data/quarry/store"
)

// S3Cmd crawls a versioned S3 bucket into a content store.
var S3Cmd = &cobra.Command{
	Use:   "s3 <bucket>[/prefix]",
	Short: "Crawl a versioned S3 bucket into a content store",
	Long: `S3 lists every object version in a bucket, replays the version
history in order, and commits it into the content store. With the
commit-versions strategy each logical bucket generation becomes one
commit; delete markers become file removals.

A checkpoint is persisted after every committed batch, so an
interrupted crawl resumed with --resume continues where it left off.

Examples:
  quarry s3 my-bucket --anonymous --repo ./mirror
  quarry s3 my-bucket/releases/ --strategy naive
  quarry s3 my-bucket --max-commits 50 --resume`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runS3(cmd, args[0])
	},
}

func init() {
	S3Cmd.Flags().String("repo", "", "Target repository path (default from config)")
	S3Cmd.Flags().String("mode", "", "Ingestion mode: full, fast, or relaxed")
	S3Cmd.Flags().String("strategy", "", "Commit strategy: commit-versions or naive")
	S3Cmd.Flags().Int("max-commits", 0, "Stop after this many commits (0 = unbounded)")
	S3Cmd.Flags().Bool("resume", false, "Resume from the persisted checkpoint")
	S3Cmd.Flags().String("region", "", "Bucket region")
	S3Cmd.Flags().Bool("anonymous", false, "Use unsigned requests (public buckets)")
	S3Cmd.Flags().Bool("recursive", true, "Descend into key prefixes")
}

func runS3(cmd *cobra.Command, target string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bucketName, prefix := splitTarget(target)
	if bucketName == "" {
		return errors.New("empty bucket name")
	}

	repoPath, _ := cmd.Flags().GetString("repo")
	if repoPath == "" {
		repoPath = cfg.Repo.Path
	}
	mode, _ := cmd.Flags().GetString("mode")
	if mode == "" {
		mode = cfg.Ingest.Mode
	}
	strategyName, _ := cmd.Flags().GetString("strategy")
	if strategyName == "" {
		strategyName = cfg.S3.Strategy
	}
	strategy, err := bucket.ParseStrategy(strategyName)
	if err != nil {
		return err
	}
	maxCommits, _ := cmd.Flags().GetInt("max-commits")
	if maxCommits == 0 {
		maxCommits = cfg.S3.MaxCommits
	}
	resume, _ := cmd.Flags().GetBool("resume")
	region, _ := cmd.Flags().GetString("region")
	if region == "" {
		region = cfg.S3.Region
	}
	anonymous, _ := cmd.Flags().GetBool("anonymous")
	recursive, _ := cmd.Flags().GetBool("recursive")

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
		Mode:         store.IngestMode(mode),
		AutoFinalize: cfg.Ingest.AutoFinalize,
		// Bucket crawls are status-free: the version listing already
		// says exactly what changed.
		DisableStatus: true,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	lister, err := bucket.NewLister(ctx, bucketName, bucket.ListerOptions{
		Region:    region,
		Anonymous: anonymous || cfg.S3.Anonymous,
		Recursive: recursive,
	})
	if err != nil {
		return err
	}

	crawlContext := bucketName
	if prefix != "" {
		crawlContext = bucketName + "/" + prefix
	}

	var checkpoint bucket.Checkpoint
	if resume {
		checkpoint, err = bucket.LoadCheckpoint(repo.StateDir(), crawlContext)
		if err != nil {
			return err
		}
		if !checkpoint.IsZero() {
			logger.Infow("Resuming crawl from checkpoint",
				"key", checkpoint.Key, "version_id", checkpoint.VersionID,
				"last_modified", checkpoint.LastModified)
		}
	}

	reconciler := &bucket.Reconciler{
		Strategy:   strategy,
		MaxCommits: maxCommits,
	}

	listing := &sources.Listing{
		Lister:     lister,
		Reconciler: reconciler,
		Prefix:     prefix,
		Checkpoint: checkpoint,
	}

	pterm.Info.Printfln("Crawling s3://%s into %s (strategy: %s)", crawlContext, repoPath, strategy)

	persist := func(c bucket.Checkpoint) error {
		return c.Save(repo.StateDir(), crawlContext)
	}
	pipe := pipeline.New(
		pipeline.Do(listing),
		pipeline.Do(actionExecutor(engine, bucketName, persist)),
	)
	if err := drain(pipe.RunWith(ctx, pipeline.NewRecord())); err != nil {
		return err
	}

	printSummary(engine)
	return nil
}

// actionExecutor applies the planned bucket actions to the store. The
// plan arrives pre-ordered, so the executor only dispatches. The batch
// checkpoint carried by a commit record is persisted only after the
// commit lands, so an interrupted run never resumes past content that
// was planned but not ingested.
func actionExecutor(engine *annex.Annexificator, bucketName string, persist func(bucket.Checkpoint) error) pipeline.Node {
	return pipeline.NodeFunc(func(ctx context.Context, rec pipeline.Record) pipeline.Stream {
		switch rec.String("action") {
		case string(bucket.ActionAnnex):
			return engine.Run(ctx, rec)
		case string(bucket.ActionRemove):
			path := rec.String("path")
			if err := engine.Repo().Remove(path); err != nil {
				return pipeline.Fail(err)
			}
			engine.Stats.Current.Removed++
			return pipeline.Emit(rec)
		case string(bucket.ActionDirectory):
			logger.Debugw("Skipping key prefix", "path", rec.String("path"))
			return pipeline.Emit()
		case string(bucket.ActionCommit):
			if err := engine.Finalize(annex.FinalizeOptions{
				Message: "update from s3://" + bucketName,
			}); err != nil {
				return pipeline.Fail(err)
			}
			if v, ok := rec.Get("checkpoint"); ok && persist != nil {
				if cp, ok := v.(bucket.Checkpoint); ok && !cp.IsZero() {
					if err := persist(cp); err != nil {
						return pipeline.Fail(err)
					}
				}
			}
			return pipeline.Emit(rec)
		default:
			return pipeline.Fail(errors.Newf("unknown action %q", rec.String("action")))
		}
	})
}

// splitTarget separates "bucket/some/prefix" into bucket and prefix.
func splitTarget(target string) (string, string) {
	target = strings.TrimPrefix(target, "s3://")
	name, prefix, _ := strings.Cut(target, "/")
	return name, prefix
}
