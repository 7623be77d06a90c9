// Package store implements the content store on top of a git repository.
//
// The store provides the branch, index, commit, merge, and tag primitives
// the ingestion engine drives: orphan or parented branch creation, staged
// path inspection, a "theirs" merge built from plumbing objects, tag
// collision handling, and annex-style pointer files for reference-only
// ingestion modes.
package store

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/meridian-data/quarry/errors"
)

// Default committer identity for store operations.
const (
	AuthorName  = "quarry"
	AuthorEmail = "quarry@localhost"
)

// Repo is an open content store.
type Repo struct {
	path   string
	repo   *git.Repository
	wt     *git.Worktree
	logger *zap.SugaredLogger

	authorName  string
	authorEmail string

	// mergeParent is set by a no-commit merge; the next commit records it
	// as a second parent so the merged branch stays linked in history.
	mergeParent plumbing.Hash
}

// Open opens an existing repository at path.
func Open(path string, logger *zap.SugaredLogger) (*Repo, error) {
	r, err := git.PlainOpen(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open repository %s", path)
	}
	return wrap(path, r, logger)
}

// Init creates a repository at path, or opens it when one already exists.
func Init(path string, logger *zap.SugaredLogger) (*Repo, error) {
	r, err := git.PlainInit(path, false)
	if errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return Open(path, logger)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "init repository %s", path)
	}
	return wrap(path, r, logger)
}

func wrap(path string, r *git.Repository, logger *zap.SugaredLogger) (*Repo, error) {
	wt, err := r.Worktree()
	if err != nil {
		return nil, errors.Wrap(err, "get worktree")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve repository path")
	}
	return &Repo{
		path:        abs,
		repo:        r,
		wt:          wt,
		logger:      logger,
		authorName:  AuthorName,
		authorEmail: AuthorEmail,
	}, nil
}

// SetAuthor overrides the committer identity.
func (r *Repo) SetAuthor(name, email string) {
	r.authorName = name
	r.authorEmail = email
}

// Path returns the worktree root.
func (r *Repo) Path() string {
	return r.path
}

// StateDir returns the directory for quarry-private state (status
// databases, crawl checkpoints) inside .git, outside the tracked tree.
func (r *Repo) StateDir() string {
	return filepath.Join(r.path, ".git", "quarry")
}

// StillValid reports whether the underlying repository still exists on
// disk. Registry consumers check this instead of relying on handle
// invalidation.
func (r *Repo) StillValid() bool {
	info, err := os.Stat(filepath.Join(r.path, ".git"))
	return err == nil && info.IsDir()
}

func (r *Repo) signature() object.Signature {
	return object.Signature{
		Name:  r.authorName,
		Email: r.authorEmail,
		When:  time.Now(),
	}
}

// CurrentBranch returns the short name of the checked-out branch. It
// works on unborn branches (fresh repositories with no commits).
func (r *Repo) CurrentBranch() (string, error) {
	ref, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", errors.Wrap(err, "read HEAD")
	}
	if ref.Type() != plumbing.SymbolicReference {
		return "", errors.New("HEAD is detached")
	}
	return ref.Target().Short(), nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// headCommit returns the current HEAD commit, or ok=false on an unborn
// branch.
func (r *Repo) headCommit() (*object.Commit, bool, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "resolve HEAD")
	}
	c, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, false, errors.Wrap(err, "read HEAD commit")
	}
	return c, true, nil
}

// Checkout switches to an existing branch. Pending changes must be dealt
// with by the caller first; the ingestion engine always finalizes before
// switching.
func (r *Repo) Checkout(name string) error {
	err := r.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
	})
	return errors.Wrapf(err, "checkout %s", name)
}

// EnsureBranch checks out the named branch, creating it first when it
// does not exist: from parent when one is given, otherwise as an orphan
// (unborn) branch with an empty tree.
func (r *Repo) EnsureBranch(name, parent string) error {
	refName := plumbing.NewBranchReferenceName(name)

	if r.BranchExists(name) {
		return r.Checkout(name)
	}

	if parent != "" {
		parentRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(parent), true)
		if err != nil {
			return errors.Wrapf(err, "resolve parent branch %s", parent)
		}
		if err := r.repo.Storer.SetReference(plumbing.NewHashReference(refName, parentRef.Hash())); err != nil {
			return errors.Wrapf(err, "create branch %s from %s", name, parent)
		}
		return r.Checkout(name)
	}

	// Orphan branch: point HEAD at the unborn ref. The first commit on it
	// becomes a root commit. go-git has no orphan checkout porcelain, so
	// set the symbolic reference directly.
	if err := r.repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, refName)); err != nil {
		return errors.Wrapf(err, "create orphan branch %s", name)
	}
	if r.logger != nil {
		r.logger.Debugw("Created orphan branch", "branch", name)
	}
	return nil
}

// IsDirty reports whether the worktree or index differ from HEAD.
func (r *Repo) IsDirty() (bool, error) {
	st, err := r.wt.Status()
	if err != nil {
		return false, errors.Wrap(err, "worktree status")
	}
	return !st.IsClean(), nil
}

// Add stages a file or directory (relative to the worktree root).
func (r *Repo) Add(path string) error {
	_, err := r.wt.Add(path)
	return errors.Wrapf(err, "add %s", path)
}

// Remove removes a path from the worktree and index.
func (r *Repo) Remove(path string) error {
	_, err := r.wt.Remove(path)
	return errors.Wrapf(err, "remove %s", path)
}

// StagedPaths returns paths with staged (index) changes, sorted.
func (r *Repo) StagedPaths() ([]string, error) {
	st, err := r.wt.Status()
	if err != nil {
		return nil, errors.Wrap(err, "worktree status")
	}
	var out []string
	for path, fs := range st {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

// HasChangesUnder reports whether any uncommitted change (staged or not)
// exists at or under the given path prefix.
func (r *Repo) HasChangesUnder(prefix string) (bool, error) {
	st, err := r.wt.Status()
	if err != nil {
		return false, errors.Wrap(err, "worktree status")
	}
	prefix = filepath.ToSlash(prefix)
	for path, fs := range st {
		if fs.Staging == git.Unmodified && fs.Worktree == git.Unmodified {
			continue
		}
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true, nil
		}
	}
	return false, nil
}

// Unstage removes the given paths from the index, restoring the HEAD
// version of the entry (or dropping it for files not yet committed).
// The worktree copy is left alone. Works on unborn branches, where the
// first versioned split happens before any commit exists.
func (r *Repo) Unstage(paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	idx, err := r.repo.Storer.Index()
	if err != nil {
		return errors.Wrap(err, "read index")
	}

	var headTree *object.Tree
	if head, born, err := r.headCommit(); err != nil {
		return err
	} else if born {
		headTree, err = head.Tree()
		if err != nil {
			return errors.Wrap(err, "read HEAD tree")
		}
	}

	for _, p := range paths {
		p = filepath.ToSlash(p)
		if headTree != nil {
			if entry, err := headTree.FindEntry(p); err == nil {
				ie, err := idx.Entry(p)
				if err == nil {
					ie.Hash = entry.Hash
					continue
				}
			}
		}
		if _, err := idx.Remove(p); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
			return errors.Wrapf(err, "unstage %s", p)
		}
	}

	return errors.Wrap(r.repo.Storer.SetIndex(idx), "write index")
}

// Commit commits staged changes. With nothing staged it is a no-op
// returning an empty hash: a processing pass that changed nothing must
// not leave an empty commit behind.
func (r *Repo) Commit(msg string) (string, error) {
	st, err := r.wt.Status()
	if err != nil {
		return "", errors.Wrap(err, "worktree status")
	}
	staged := false
	for _, fs := range st {
		if fs.Staging != git.Unmodified && fs.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		// A pending merge parent with nothing to commit means the merge
		// brought no changes; drop it.
		r.mergeParent = plumbing.ZeroHash
		return "", nil
	}

	sig := r.signature()
	opts := &git.CommitOptions{Author: &sig, Committer: &sig}
	if r.mergeParent != plumbing.ZeroHash {
		if head, born, err := r.headCommit(); err != nil {
			return "", err
		} else if born {
			opts.Parents = []plumbing.Hash{head.Hash, r.mergeParent}
		} else {
			opts.Parents = []plumbing.Hash{r.mergeParent}
		}
	}
	hash, err := r.wt.Commit(msg, opts)
	if err != nil {
		return "", errors.Wrap(err, "commit")
	}
	r.mergeParent = plumbing.ZeroHash
	if r.logger != nil {
		r.logger.Debugw("Committed", "hash", hash.String()[:7], "message", firstLine(msg))
	}
	return hash.String(), nil
}

// CommitAll stages all worktree changes and commits them.
func (r *Repo) CommitAll(msg string) (string, error) {
	st, err := r.wt.Status()
	if err != nil {
		return "", errors.Wrap(err, "worktree status")
	}
	for path, fs := range st {
		if fs.Worktree == git.Deleted {
			if _, err := r.wt.Remove(path); err != nil {
				return "", errors.Wrapf(err, "stage deletion of %s", path)
			}
			continue
		}
		if fs.Worktree != git.Unmodified || fs.Staging == git.Untracked {
			if _, err := r.wt.Add(path); err != nil {
				return "", errors.Wrapf(err, "stage %s", path)
			}
		}
	}
	return r.Commit(msg)
}

// Tag creates a lightweight tag at HEAD. On a name collision a numeric
// suffix is appended (label.1, label.2, ...) until a free name is found.
func (r *Repo) Tag(label string) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", errors.Wrap(err, "resolve HEAD for tag")
	}

	name := label
	for i := 1; ; i++ {
		_, err := r.repo.CreateTag(name, head.Hash(), nil)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, git.ErrTagExists) {
			return "", errors.Wrapf(err, "create tag %s", name)
		}
		name = label + "." + strconv.Itoa(i)
	}
}

// GC runs best-effort store housekeeping. go-git exposes no gc
// porcelain; object repacking is the cheap part worth doing.
func (r *Repo) GC() error {
	err := r.repo.RepackObjects(&git.RepackConfig{})
	if err != nil {
		if r.logger != nil {
			r.logger.Debugw("Repack skipped", "error", err)
		}
		return nil
	}
	return nil
}

// Log returns the commit messages reachable from HEAD, newest first.
func (r *Repo) Log(limit int) ([]string, error) {
	head, ok, err := r.headCommit()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	iter := object.NewCommitPreorderIter(head, nil, nil)
	defer iter.Close()

	var out []string
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, firstLine(c.Message))
		if limit > 0 && len(out) >= limit {
			return errStopIter
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIter) {
		return nil, errors.Wrap(err, "walk history")
	}
	return out, nil
}

var errStopIter = errors.New("stop iteration")

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
