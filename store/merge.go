package store

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/meridian-data/quarry/errors"
)

// MergeOptions controls MergeTheirs.
type MergeOptions struct {
	// Message overrides the default merge commit message.
	Message string
	// NoCommit stages the source branch content into the worktree and
	// index without committing. The source head is remembered as a merge
	// parent, so the next commit on the branch becomes the merge commit
	// and can fold in further changes staged after the merge.
	NoCommit bool
	// OneCommitAtATime materializes one merge commit per source commit
	// instead of a single squashing merge.
	OneCommitAtATime bool
}

// MergeTheirs merges the source branch into the current branch with the
// "theirs" strategy: the merged tree is the current tree overlaid with
// the source tree, source winning every conflict. Merging into an unborn
// branch adopts the source history (fast-forward). A source that is
// already an ancestor is a no-op.
func (r *Repo) MergeTheirs(src string, opts MergeOptions) error {
	srcRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(src), true)
	if err != nil {
		return errors.Wrapf(err, "resolve branch %s", src)
	}
	srcCommit, err := r.repo.CommitObject(srcRef.Hash())
	if err != nil {
		return errors.Wrapf(err, "read head of %s", src)
	}

	head, born, err := r.headCommit()
	if err != nil {
		return err
	}

	if opts.NoCommit {
		if born {
			if head.Hash == srcCommit.Hash {
				return nil
			}
			if ok, err := srcCommit.IsAncestor(head); err == nil && ok {
				return nil
			}
		}
		if err := r.stageTreeOf(srcCommit); err != nil {
			return err
		}
		r.mergeParent = srcCommit.Hash
		return nil
	}

	if !born {
		branch, err := r.CurrentBranch()
		if err != nil {
			return err
		}
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), srcCommit.Hash)
		if err := r.repo.Storer.SetReference(ref); err != nil {
			return errors.Wrapf(err, "fast-forward unborn %s to %s", branch, src)
		}
		return r.resetHard(srcCommit.Hash)
	}

	if opts.OneCommitAtATime {
		chain, err := commitsSince(srcCommit, head)
		if err != nil {
			return err
		}
		for _, c := range chain {
			msg := "Merge commit '" + c.Hash.String()[:7] + "' from " + src
			head, err = r.mergeOne(head, c, msg)
			if err != nil {
				return err
			}
		}
		return nil
	}

	msg := opts.Message
	if msg == "" {
		msg = "Merge branch '" + src + "'"
	}
	_, err = r.mergeOne(head, srcCommit, msg)
	return err
}

// mergeOne merges theirs into base and advances the current branch,
// returning the new head.
func (r *Repo) mergeOne(base, theirs *object.Commit, msg string) (*object.Commit, error) {
	if base.Hash == theirs.Hash {
		return base, nil
	}
	if ok, err := theirs.IsAncestor(base); err == nil && ok {
		return base, nil
	}

	baseTree, err := base.Tree()
	if err != nil {
		return nil, errors.Wrap(err, "read base tree")
	}
	theirsTree, err := theirs.Tree()
	if err != nil {
		return nil, errors.Wrap(err, "read source tree")
	}

	mergedTree, err := r.mergeTrees(baseTree, theirsTree)
	if err != nil {
		return nil, err
	}

	sig := r.signature()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     mergedTree,
		ParentHashes: []plumbing.Hash{base.Hash, theirs.Hash},
	}
	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return nil, errors.Wrap(err, "encode merge commit")
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return nil, errors.Wrap(err, "store merge commit")
	}

	branch, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return nil, errors.Wrapf(err, "advance %s", branch)
	}
	if err := r.resetHard(hash); err != nil {
		return nil, err
	}
	return r.repo.CommitObject(hash)
}

// mergeTrees builds the union tree with theirs winning conflicts.
// Same-name directories merge recursively; a dir/file type clash takes
// the source entry wholesale.
func (r *Repo) mergeTrees(base, theirs *object.Tree) (plumbing.Hash, error) {
	merged := make(map[string]object.TreeEntry, len(base.Entries)+len(theirs.Entries))
	for _, e := range base.Entries {
		merged[e.Name] = e
	}
	for _, e := range theirs.Entries {
		if b, ok := merged[e.Name]; ok &&
			b.Mode == filemode.Dir && e.Mode == filemode.Dir && b.Hash != e.Hash {
			bt, err := object.GetTree(r.repo.Storer, b.Hash)
			if err != nil {
				return plumbing.ZeroHash, errors.Wrapf(err, "read subtree %s", e.Name)
			}
			tt, err := object.GetTree(r.repo.Storer, e.Hash)
			if err != nil {
				return plumbing.ZeroHash, errors.Wrapf(err, "read subtree %s", e.Name)
			}
			sub, err := r.mergeTrees(bt, tt)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			e.Hash = sub
		}
		merged[e.Name] = e
	}

	entries := make([]object.TreeEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return treeEntryName(entries[i]) < treeEntryName(entries[j])
	})

	tree := &object.Tree{Entries: entries}
	obj := r.repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, errors.Wrap(err, "encode merged tree")
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	return hash, errors.Wrap(err, "store merged tree")
}

// treeEntryName yields the byte string git sorts tree entries by:
// directories compare as if their name ended in "/".
func treeEntryName(e object.TreeEntry) string {
	if e.Mode == filemode.Dir {
		return e.Name + "/"
	}
	return e.Name
}

// commitsSince returns the first-parent chain of src commits not yet in
// base's ancestry, oldest first.
func commitsSince(src, base *object.Commit) ([]*object.Commit, error) {
	var chain []*object.Commit
	c := src
	for {
		if ok, err := c.IsAncestor(base); err == nil && ok {
			break
		}
		chain = append(chain, c)
		if c.NumParents() == 0 {
			break
		}
		parent, err := c.Parent(0)
		if err != nil {
			return nil, errors.Wrap(err, "walk source history")
		}
		c = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// stageTreeOf copies the source commit's files into the worktree and
// stages them, without committing.
func (r *Repo) stageTreeOf(src *object.Commit) error {
	tree, err := src.Tree()
	if err != nil {
		return errors.Wrap(err, "read source tree")
	}

	return tree.Files().ForEach(func(f *object.File) error {
		dst := filepath.Join(r.path, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errors.Wrapf(err, "create directory for %s", f.Name)
		}
		rd, err := f.Reader()
		if err != nil {
			return errors.Wrapf(err, "open blob %s", f.Name)
		}
		defer rd.Close()

		out, err := os.Create(dst)
		if err != nil {
			return errors.Wrapf(err, "write %s", f.Name)
		}
		if _, err := io.Copy(out, rd); err != nil {
			out.Close()
			return errors.Wrapf(err, "copy %s", f.Name)
		}
		if err := out.Close(); err != nil {
			return errors.Wrapf(err, "close %s", f.Name)
		}
		if _, err := r.wt.Add(f.Name); err != nil {
			return errors.Wrapf(err, "stage %s", f.Name)
		}
		return nil
	})
}

// resetHard moves worktree and index to the given commit.
func (r *Repo) resetHard(hash plumbing.Hash) error {
	err := r.wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: hash})
	return errors.Wrap(err, "hard reset")
}
