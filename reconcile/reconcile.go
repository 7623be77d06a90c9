// Package reconcile splits a staged change-set into one commit per
// previously-unseen logical version, in ascending version order, keeping
// the version ledger as the authoritative record of what was processed.
package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/ledger"
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/stats"
	"github.com/meridian-data/quarry/store"
)

// Options controls a split.
type Options struct {
	// Context selects the ledger file; defaults to "incoming".
	Context string
	// RenameToCanonical strips the matched version token when re-staging,
	// so "f_1.0.csv" commits as "f.csv" and versions supersede each other
	// at one logical path.
	RenameToCanonical bool
	// Stats, when set, receives renamed/version counters.
	Stats *stats.Accumulator
}

// Result reports what a split did.
type Result struct {
	// NewVersions lists previously-unseen versions in ascending order.
	NewVersions []string
	// Commits holds the hash of each per-version commit created; empty
	// when everything folded into the caller's ongoing commit.
	Commits []string
	// Current is the ledger's current version after the split.
	Current string
}

// SplitByVersions partitions the currently staged paths by the version
// token extracted by re and, when more than one previously-unseen
// version is present, turns them into one commit per version. With at
// most one new version everything stays staged for the caller's ongoing
// commit. A new version not strictly greater than the ledger's current
// version is a fatal regression.
func SplitByVersions(repo *store.Repo, re *regexp.Regexp, opts Options) (*Result, error) {
	staged, err := repo.StagedPaths()
	if err != nil {
		return nil, err
	}

	byVersion, unversioned := partition(staged, re)
	_ = unversioned // stays staged; it rides along with the next commit

	led, err := ledger.Load(ledger.FilePath(repo.Path(), opts.Context))
	if err != nil {
		return nil, err
	}
	prior := led.Current()

	var newVersions []string
	for v := range byVersion {
		if led.Has(v) {
			continue
		}
		if prior != "" && ledger.Compare(v, prior) <= 0 {
			return nil, errors.Wrapf(errors.ErrVersionRegression,
				"observed version %q is not greater than current %q", v, prior)
		}
		newVersions = append(newVersions, v)
	}
	sort.Slice(newVersions, func(i, j int) bool {
		return ledger.Compare(newVersions[i], newVersions[j]) < 0
	})

	// Record the full per-version mapping unconditionally; the append is
	// idempotent, so re-running over the same paths changes nothing.
	for v, paths := range byVersion {
		for _, p := range paths {
			if err := led.Record(v, canonicalName(p, re), p, p); err != nil {
				return nil, err
			}
		}
	}
	if opts.Stats != nil {
		opts.Stats.Current.VersionsSeen += len(newVersions)
	}

	res := &Result{NewVersions: newVersions}

	if len(newVersions) <= 1 {
		// Nothing to split; fold all staged changes into the ongoing
		// commit.
		if len(newVersions) == 1 {
			if err := led.SetCurrent(newVersions[0]); err != nil {
				return nil, err
			}
		}
		if err := saveAndStage(repo, led, opts.Context); err != nil {
			return nil, err
		}
		res.Current = led.Current()
		return res, nil
	}

	// Take all versioned paths out of the index, then re-stage and commit
	// them one version at a time, ascending.
	var versioned []string
	for _, v := range newVersions {
		versioned = append(versioned, byVersion[v]...)
	}
	if err := repo.Unstage(versioned); err != nil {
		return nil, err
	}

	remaining := len(versioned)
	for _, v := range newVersions {
		for _, p := range byVersion[v] {
			target := p
			if opts.RenameToCanonical {
				target = canonicalName(p, re)
				if target != p {
					if err := renameWorktree(repo, p, target); err != nil {
						return nil, err
					}
					if opts.Stats != nil {
						opts.Stats.Current.Renamed++
					}
				}
			}
			if err := repo.Add(target); err != nil {
				return nil, err
			}
		}
		remaining -= len(byVersion[v])

		if err := led.SetCurrent(v); err != nil {
			return nil, err
		}
		if err := saveAndStage(repo, led, opts.Context); err != nil {
			return nil, err
		}

		hash, err := repo.Commit(commitMessage(v, remaining))
		if err != nil {
			return nil, err
		}
		if hash != "" {
			res.Commits = append(res.Commits, hash)
		}
		logger.Infow("Committed version slice",
			"version", v, "files", len(byVersion[v]), "remaining", remaining)
	}
	if remaining != 0 {
		return nil, errors.AssertionFailedf("version split left %d files unstaged", remaining)
	}

	res.Current = led.Current()
	return res, nil
}

func commitMessage(version string, remaining int) string {
	noun := "files"
	if remaining == 1 {
		noun = "file"
	}
	return fmt.Sprintf("version %s (%d %s left unstaged)", version, remaining, noun)
}

// partition groups staged paths by extracted version token. Paths where
// the expression does not match form the unversioned group.
func partition(paths []string, re *regexp.Regexp) (map[string][]string, []string) {
	byVersion := make(map[string][]string)
	var unversioned []string
	for _, p := range paths {
		v, ok := extractVersion(p, re)
		if !ok {
			unversioned = append(unversioned, p)
			continue
		}
		byVersion[v] = append(byVersion[v], p)
	}
	for _, ps := range byVersion {
		sort.Strings(ps)
	}
	return byVersion, unversioned
}

// extractVersion pulls the version token out of a path: the "version"
// named group when the expression has one, else the first capture
// group, else the whole match.
func extractVersion(p string, re *regexp.Regexp) (string, bool) {
	m := re.FindStringSubmatch(p)
	if m == nil {
		return "", false
	}
	for i, name := range re.SubexpNames() {
		if name == "version" && m[i] != "" {
			return m[i], true
		}
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], true
	}
	return m[0], true
}

// canonicalName removes the whole version match from a path, yielding
// the unversioned logical name.
func canonicalName(p string, re *regexp.Regexp) string {
	loc := re.FindStringIndex(p)
	if loc == nil {
		return p
	}
	return p[:loc[0]] + p[loc[1]:]
}

// renameWorktree moves a worktree file and drops the old name from the
// index if it was ever staged.
func renameWorktree(repo *store.Repo, from, to string) error {
	absFrom := filepath.Join(repo.Path(), filepath.FromSlash(from))
	absTo := filepath.Join(repo.Path(), filepath.FromSlash(to))
	if err := os.MkdirAll(filepath.Dir(absTo), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", to)
	}
	if err := os.Rename(absFrom, absTo); err != nil {
		return errors.Wrapf(err, "rename %s to %s", from, to)
	}
	return nil
}

// saveAndStage writes the ledger file and stages it, so the record
// travels with the commit it describes.
func saveAndStage(repo *store.Repo, led *ledger.Ledger, context string) error {
	full := ledger.FilePath(repo.Path(), context)
	if err := led.Save(full); err != nil {
		return err
	}
	rel, err := filepath.Rel(repo.Path(), full)
	if err != nil {
		return errors.Wrap(err, "resolve ledger path")
	}
	return repo.Add(filepath.ToSlash(rel))
}
