// Package annex implements the ingestion engine: the decision procedure
// that turns candidate items into content-store updates, plus the branch
// lifecycle (incoming, incoming-processed, primary) those updates flow
// through.
package annex

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/fetch"
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/pipeline"
	"github.com/meridian-data/quarry/stats"
	"github.com/meridian-data/quarry/status"
	"github.com/meridian-data/quarry/store"
)

// Options configures an Annexificator.
type Options struct {
	// Mode selects how content enters the store: full, fast, or relaxed.
	Mode store.IngestMode
	// EmitSkipped re-emits the incoming record when an item is skipped as
	// unchanged; the default emits nothing.
	EmitSkipped bool
	// AutoFinalize commits pending changes when a target path is occupied
	// by a conflicting entry with uncommitted changes, instead of raising
	// a fatal conflict.
	AutoFinalize bool
	// WarnOnFetchError downgrades downloader failures to a logged skip.
	// The default surfaces them as fatal.
	WarnOnFetchError bool
	// DisableStatus turns off the per-branch status database, so every
	// item looks changed on every pass.
	DisableStatus bool
}

// Annexificator decides, for each candidate item, whether content must
// be fetched, referenced without fetching, or skipped, and places it
// into the content store. It also owns the branch lifecycle and the run
// statistics.
//
// It is a process-local, single-writer structure driven by one pipeline
// run at a time.
type Annexificator struct {
	repo *store.Repo
	down *fetch.Downloader
	opts Options

	Stats *stats.Accumulator

	// status is scoped to one branch; switching branches closes it and a
	// fresh one is opened lazily.
	status *status.DB

	versionLabel string
	runErrors    map[string]error
}

// New builds an ingestion engine over a content store and downloader.
func New(repo *store.Repo, down *fetch.Downloader, opts Options) (*Annexificator, error) {
	mode, err := store.ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	opts.Mode = mode
	return &Annexificator{
		repo:      repo,
		down:      down,
		opts:      opts,
		Stats:     stats.New(),
		runErrors: make(map[string]error),
	}, nil
}

// Repo returns the underlying content store.
func (a *Annexificator) Repo() *store.Repo {
	return a.repo
}

// RunErrors returns per-item fetch failures accumulated during the run,
// keyed by source URL.
func (a *Annexificator) RunErrors() map[string]error {
	return a.runErrors
}

// SetVersionLabel records the label Finalize uses when tagging.
func (a *Annexificator) SetVersionLabel(label string) {
	a.versionLabel = label
}

// Run implements pipeline.Node: process one candidate item.
func (a *Annexificator) Run(ctx context.Context, in pipeline.Record) pipeline.Stream {
	out, err := a.process(ctx, in)
	if err != nil {
		return pipeline.Fail(err)
	}
	return pipeline.Emit(out...)
}

// process applies the per-item decision procedure: resolve the path,
// probe remote status, skip unchanged items, fetch or reference content
// per mode, and record the new status.
func (a *Annexificator) process(ctx context.Context, in pipeline.Record) ([]pipeline.Record, error) {
	relPath, err := resolvePath(in)
	if err != nil {
		return nil, err
	}
	srcURL := in.String("url")

	remote := status.Record{Size: -1}
	if srcURL != "" {
		st, err := a.down.GetStatus(ctx, srcURL)
		if err != nil {
			return a.fetchFailure(srcURL, err)
		}
		remote = status.Record{Size: st.Size, MTime: st.MTime, Filename: st.Filename}
	}

	db, err := a.statusDB()
	if err != nil {
		return nil, err
	}

	abs := filepath.Join(a.repo.Path(), filepath.FromSlash(relPath))
	if _, statErr := os.Stat(abs); statErr == nil && db != nil && srcURL != "" {
		skip := a.opts.Mode == store.ModeRelaxed
		if !skip {
			changed, err := db.IsDifferent(relPath, remote, srcURL)
			if err != nil {
				return nil, err
			}
			skip = !changed
		}
		if skip {
			if err := db.Touch(relPath); err != nil {
				return nil, err
			}
			a.Stats.Current.Skipped++
			logger.Debugw("Skipping unchanged item", "path", relPath, "url", srcURL)
			if a.opts.EmitSkipped {
				return []pipeline.Record{in}, nil
			}
			return nil, nil
		}
	}

	if err := a.clearConflict(relPath); err != nil {
		return nil, err
	}

	switch {
	case srcURL == "":
		// Content is already materialized locally; stage it directly.
		if err := a.repo.Add(relPath); err != nil {
			return nil, err
		}
		a.Stats.Current.AddedToIndex++

	case a.opts.Mode == store.ModeFull:
		n, err := a.down.Download(ctx, srcURL, abs)
		if err != nil {
			return a.fetchFailure(srcURL, err)
		}
		a.Stats.Current.Fetched++
		a.Stats.Current.FetchedBytes += n
		if remote.Size < 0 {
			remote.Size = n
		}
		if !remote.MTime.IsZero() {
			// Propagate the remote modification time so re-listings with
			// unchanged mtime compare clean.
			if err := os.Chtimes(abs, remote.MTime, remote.MTime); err != nil {
				logger.Warnw("Failed to set modification time", "path", relPath, "error", err)
			}
		}
		if err := a.repo.Add(relPath); err != nil {
			return nil, err
		}
		a.Stats.Current.AddedToStore++

	default: // fast or relaxed: reference without downloading
		if err := a.repo.AddURL(relPath, srcURL, a.opts.Mode, remote.Size); err != nil {
			return nil, err
		}
		a.Stats.Current.AddedToStore++
	}

	if db != nil {
		if err := db.Set(relPath, remote, srcURL); err != nil {
			return nil, err
		}
	}

	out := in.Clone()
	out.Set("path", relPath)
	if remote.Filename != "" && !out.Has("filename") {
		out.Set("filename", remote.Filename)
	}
	return []pipeline.Record{out}, nil
}

// fetchFailure records a downloader error and either skips the item or
// surfaces it, per configuration. Fetch failures are never silently
// retried here; bounded retries happen inside the downloader.
func (a *Annexificator) fetchFailure(srcURL string, err error) ([]pipeline.Record, error) {
	a.runErrors[srcURL] = err
	if a.opts.WarnOnFetchError {
		logger.Warnw("Skipping item after fetch failure", "url", srcURL, "error", err)
		a.Stats.Current.Skipped++
		return nil, nil
	}
	return nil, errors.Wrapf(err, "fetch %s", srcURL)
}

// resolvePath derives the local relative path for a candidate item from
// its path or filename field, falling back to the URL's basename.
func resolvePath(in pipeline.Record) (string, error) {
	p := in.String("path")
	if p == "" {
		p = in.String("filename")
	}
	if p == "" {
		if raw := in.String("url"); raw != "" {
			if u, err := url.Parse(raw); err == nil {
				if base := path.Base(u.Path); base != "/" && base != "." {
					p = base
				}
			}
		}
	}
	if p == "" {
		return "", errors.New("candidate item carries neither path, filename, nor a usable url")
	}

	p = filepath.ToSlash(p)
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", errors.Wrapf(errors.ErrAbsolutePath, "%s", p)
	}
	clean := path.Clean(p)
	if clean == ".." || len(clean) >= 3 && clean[:3] == "../" {
		return "", errors.Newf("path %s escapes the repository", p)
	}
	return clean, nil
}

// clearConflict handles a target path occupied by an incompatible
// filesystem entry: a file where a directory is needed, or a directory
// where a file is needed. With uncommitted changes underneath, the
// engine either finalizes first (when configured) or refuses; a clean
// conflicting entry is replaced outright.
func (a *Annexificator) clearConflict(relPath string) error {
	conflict := ""

	if fi, err := os.Stat(filepath.Join(a.repo.Path(), filepath.FromSlash(relPath))); err == nil && fi.IsDir() {
		conflict = relPath
	} else {
		for dir := path.Dir(relPath); dir != "." && dir != "/"; dir = path.Dir(dir) {
			fi, err := os.Stat(filepath.Join(a.repo.Path(), filepath.FromSlash(dir)))
			if err == nil && !fi.IsDir() {
				conflict = dir
				break
			}
		}
	}
	if conflict == "" {
		return nil
	}

	dirty, err := a.repo.HasChangesUnder(conflict)
	if err != nil {
		return err
	}
	if dirty {
		if !a.opts.AutoFinalize {
			return errors.Wrapf(errors.ErrPathConflict,
				"%s is occupied by an incompatible entry with uncommitted changes", conflict)
		}
		logger.Infow("Finalizing before replacing conflicting entry", "path", conflict)
		if err := a.Finalize(FinalizeOptions{Message: "changes before resolving path conflict"}); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(filepath.Join(a.repo.Path(), filepath.FromSlash(conflict))); err != nil {
		return errors.Wrapf(err, "replace conflicting entry %s", conflict)
	}
	a.Stats.Current.Overwritten++
	return nil
}

// statusDB returns the status database for the current branch, opening
// it lazily and replacing an instance left over from another branch.
func (a *Annexificator) statusDB() (*status.DB, error) {
	if a.opts.DisableStatus {
		return nil, nil
	}
	branch, err := a.repo.CurrentBranch()
	if err != nil {
		return nil, err
	}
	if a.status != nil {
		if a.status.Branch() == branch {
			return a.status, nil
		}
		if err := a.status.Close(); err != nil {
			logger.Warnw("Failed to close status database", "branch", a.status.Branch(), "error", err)
		}
		a.status = nil
	}
	db, err := status.Open(a.repo.StateDir(), branch, nil)
	if err != nil {
		return nil, err
	}
	a.status = db
	return db, nil
}

// RemoveObsolete drops items recorded in the status database but not
// seen in the current pass: they disappeared from the source. Returns
// the removed paths.
func (a *Annexificator) RemoveObsolete() ([]string, error) {
	db, err := a.statusDB()
	if err != nil || db == nil {
		return nil, err
	}
	obsolete, err := db.Obsolete()
	if err != nil {
		return nil, err
	}
	for _, p := range obsolete {
		if err := a.repo.Remove(p); err != nil {
			return nil, err
		}
		if err := db.Remove(p); err != nil {
			return nil, err
		}
		a.Stats.Current.Removed++
		logger.Infow("Removed item no longer present at source", "path", p)
	}
	return obsolete, nil
}

// Close releases the engine's resources.
func (a *Annexificator) Close() error {
	if a.status == nil {
		return nil
	}
	err := a.status.Close()
	a.status = nil
	return err
}
