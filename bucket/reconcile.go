package bucket

import (
	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/logger"
)

// ActionType classifies an ingestion action.
type ActionType string

const (
	// ActionAnnex ingests one object version.
	ActionAnnex ActionType = "annex"
	// ActionRemove drops an object deleted at the source.
	ActionRemove ActionType = "remove"
	// ActionDirectory reports a pseudo-directory prefix (non-recursive
	// listings only).
	ActionDirectory ActionType = "directory"
	// ActionCommit closes the current batch of staged changes.
	ActionCommit ActionType = "commit"
)

// Action is one step of the ingestion plan derived from a listing.
// Commit actions carry the checkpoint covering everything processed up
// to and including the batch they close; the executor persists it only
// once the commit has actually been applied to the store, so a crash
// mid-batch resumes from the last batch that really landed.
type Action struct {
	Type       ActionType
	Entry      Entry
	Checkpoint Checkpoint
}

// Strategy selects how the plan batches commits.
type Strategy string

const (
	// StrategyCommitVersions closes a batch whenever an already-staged
	// key reappears, approximating one commit per bucket-wide version.
	StrategyCommitVersions Strategy = "commit-versions"
	// StrategyNaive defers to a single commit at the end of the run.
	StrategyNaive Strategy = "naive"
)

// ParseStrategy validates a strategy string; empty selects
// commit-versions.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyCommitVersions, StrategyNaive:
		return Strategy(s), nil
	case "":
		return StrategyCommitVersions, nil
	}
	return "", errors.Newf("unknown commit strategy %q (want commit-versions or naive)", s)
}

// Reconciler converts an ordered listing into ingestion actions.
type Reconciler struct {
	Strategy Strategy
	// MaxCommits halts the crawl after this many closed batches; 0 is
	// unbounded. Remaining entries are left for a subsequent run.
	MaxCommits int
}

// Plan orders the listing, drops the portion covered by the checkpoint,
// and walks the remainder emitting annex/remove/directory/commit
// actions. It returns the actions and the checkpoint after the last
// closed batch.
func (r *Reconciler) Plan(entries []Entry, resume Checkpoint) ([]Action, Checkpoint, error) {
	strategy, err := ParseStrategy(string(r.Strategy))
	if err != nil {
		return nil, resume, err
	}

	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	Sort(ordered)
	ordered = Resume(ordered, resume)

	var (
		out        []Action
		staged     = make(map[string]bool)
		dirty      bool
		commits    int
		checkpoint = resume
		last       Entry
		haveLast   bool
	)

	closeBatch := func() {
		if !dirty {
			return
		}
		if haveLast {
			checkpoint = FromEntry(last)
		}
		out = append(out, Action{Type: ActionCommit, Checkpoint: checkpoint})
		staged = make(map[string]bool)
		dirty = false
		commits++
	}

	for _, e := range ordered {
		switch {
		case e.IsPrefix:
			out = append(out, Action{Type: ActionDirectory, Entry: e})

		case e.IsDeleteMarker:
			// Markers for pseudo-directories carry no content to remove.
			if e.Key != "" && e.Key[len(e.Key)-1] != '/' {
				out = append(out, Action{Type: ActionRemove, Entry: e})
				dirty = true
			}

		default:
			if staged[e.Key] && strategy == StrategyCommitVersions {
				closeBatch()
				if r.MaxCommits > 0 && commits >= r.MaxCommits {
					logger.Infow("Commit bound reached, leaving remaining entries for a later run",
						"commits", commits)
					return out, checkpoint, nil
				}
			}
			staged[e.Key] = true
			out = append(out, Action{Type: ActionAnnex, Entry: e})
			dirty = true
		}
		last = e
		haveLast = true
	}

	closeBatch()
	return out, checkpoint, nil
}
