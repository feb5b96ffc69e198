package dataset

import (
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"
)

// Change is a single path that differs between two dataset states.
type Change struct {
	Path string

	From plumbing.Hash
	To   plumbing.Hash

	FromMode filemode.FileMode
	ToMode   filemode.FileMode
}

// Added reports whether the path did not exist in the old state.
func (c Change) Added() bool {
	return c.From.IsZero()
}

// Removed reports whether the path no longer exists in the new state.
func (c Change) Removed() bool {
	return c.To.IsZero()
}

// Subdataset reports whether the new state records the path as a gitlink.
func (c Change) Subdataset() bool {
	return c.ToMode == filemode.Submodule
}

// DiffSince lists changes between an old commit and HEAD. A zero old hash
// yields the full HEAD tree as additions.
func (d *Dataset) DiffSince(old plumbing.Hash) ([]Change, error) {
	head, err := d.Head()
	if err != nil {
		return nil, err
	}

	return DiffCommits(d.repo, old, head)
}

// DiffCommits lists changes between two commits of a repository. Either
// hash may be zero to represent an empty state.
func DiffCommits(repo *git.Repository, from, to plumbing.Hash) ([]Change, error) {
	oldTree, err := treeOf(repo, from)
	if err != nil {
		return nil, err
	}

	newTree, err := treeOf(repo, to)
	if err != nil {
		return nil, err
	}

	if oldTree == nil {
		return fullTree(newTree)
	}

	if newTree == nil {
		return nil, errors.New("diff target commit has no tree")
	}

	treeChanges, err := object.DiffTree(oldTree, newTree)
	if err != nil {
		return nil, errors.Wrap(err, "diffing dataset trees")
	}

	var changes []Change

	for _, tc := range treeChanges {
		ch := Change{}

		if tc.From.Name != "" {
			ch.Path = tc.From.Name
			ch.From = tc.From.TreeEntry.Hash
			ch.FromMode = tc.From.TreeEntry.Mode
		}

		if tc.To.Name != "" {
			ch.Path = tc.To.Name
			ch.To = tc.To.TreeEntry.Hash
			ch.ToMode = tc.To.TreeEntry.Mode
		}

		changes = append(changes, ch)
	}

	return changes, nil
}

func treeOf(repo *git.Repository, hash plumbing.Hash) (*object.Tree, error) {
	if hash.IsZero() {
		return nil, nil
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving commit %s", hash)
	}

	return commit.Tree()
}

func fullTree(tree *object.Tree) ([]Change, error) {
	if tree == nil {
		return nil, nil
	}

	var changes []Change

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if entry.Mode == filemode.Dir {
			continue
		}

		changes = append(changes, Change{
			Path:   name,
			To:     entry.Hash,
			ToMode: entry.Mode,
		})
	}

	return changes, nil
}
