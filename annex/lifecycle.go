package annex

import (
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/store"
)

// Branch names of the ingestion state machine. Raw fetched content lands
// on BranchIncoming; BranchProcessed receives it via a theirs merge and
// holds archive expansion and file massaging; the primary branch
// receives the processed result.
const (
	BranchIncoming  = "incoming"
	BranchProcessed = "incoming-processed"
	BranchPrimary   = "master"
)

// SwitchBranch finalizes any dirty state on the current branch, then
// checks out the named branch, creating it (orphan, or from parent when
// given) if needed. The branch-scoped status database is released so
// the next item lookup opens the right one.
func (a *Annexificator) SwitchBranch(name, parent string) error {
	dirty, err := a.repo.IsDirty()
	if err != nil {
		return err
	}
	if dirty {
		if err := a.Finalize(FinalizeOptions{Message: "changes before switching branch"}); err != nil {
			return err
		}
	}

	if a.status != nil {
		if err := a.status.Close(); err != nil {
			logger.Warnw("Failed to close status database", "branch", a.status.Branch(), "error", err)
		}
		a.status = nil
	}

	return a.repo.EnsureBranch(name, parent)
}

// MergeBranch merges src into the current branch with the theirs
// strategy. An empty message gets a default naming the source branch.
func (a *Annexificator) MergeBranch(src string, opts store.MergeOptions) error {
	if opts.Message == "" {
		opts.Message = "Merge branch '" + src + "'"
	}
	if err := a.repo.MergeTheirs(src, opts); err != nil {
		return err
	}
	a.Stats.Current.Merges++
	return nil
}

// FinalizeOptions controls Finalize.
type FinalizeOptions struct {
	// Message overrides the default commit subject. The statistics
	// summary for the slice is appended either way.
	Message string
	// Tag tags the result with the last-known version label.
	Tag bool
	// Cleanup runs store housekeeping when the finalize committed
	// something.
	Cleanup bool
}

// Finalize commits any pending changes on the active branch, folds the
// per-commit statistics slice into the run total, and optionally tags
// and runs housekeeping. A finalize with nothing pending is a no-op
// apart from the statistics fold.
func (a *Annexificator) Finalize(opts FinalizeOptions) error {
	msg := opts.Message
	if msg == "" {
		msg = "finalized ingestion pass"
	}
	if s := a.Stats.Current; !s.Zero() {
		msg += "\n\n" + s.Summary()
	}

	hash, err := a.repo.CommitAll(msg)
	if err != nil {
		return err
	}
	a.Stats.Reset()

	if opts.Tag && a.versionLabel != "" {
		name, err := a.repo.Tag(a.versionLabel)
		if err != nil {
			return err
		}
		logger.Infow("Tagged", "tag", name)
	}

	if opts.Cleanup && hash != "" {
		if err := a.repo.GC(); err != nil {
			logger.Warnw("Store housekeeping failed", "error", err)
		}
	}

	if a.status != nil {
		if err := a.status.Save(); err != nil {
			logger.Warnw("Failed to checkpoint status database", "error", err)
		}
	}
	return nil
}
