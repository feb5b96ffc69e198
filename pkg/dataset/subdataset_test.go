package dataset

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headTree(t *testing.T, ds *Dataset) *object.Tree {
	t.Helper()

	head, err := ds.Head()
	require.NoError(t, err)

	commit, err := ds.Repo().CommitObject(head)
	require.NoError(t, err)

	tree, err := commit.Tree()
	require.NoError(t, err)

	return tree
}

func TestSubdatasets(t *testing.T) {
	t.Run("registers a nested dataset as a gitlink", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dist")

		ds, err := Init(dir, Descriptor{Kind: KindDistribution, Name: "bookworm"})
		require.NoError(t, err)

		child, err := Init(filepath.Join(dir, "packages", "hello"),
			Descriptor{Kind: KindPackage, Name: "hello"})
		require.NoError(t, err)

		childHead, err := child.Head()
		require.NoError(t, err)

		err = ds.AddSubdataset("packages/hello", "", "register hello")
		require.NoError(t, err)

		subs, err := ds.Subdatasets()
		require.NoError(t, err)

		require.Equal(t, 1, len(subs))

		assert.Equal(t, "packages/hello", subs[0].Path)
		assert.Equal(t, "./packages/hello", subs[0].URL)
		assert.Equal(t, childHead, subs[0].Hash)
	})

	t.Run("the parent tree records the child head, not its files", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dist")

		ds, err := Init(dir, Descriptor{Kind: KindDistribution, Name: "bookworm"})
		require.NoError(t, err)

		child, err := Init(filepath.Join(dir, "builder"), Descriptor{Kind: KindBuilder})
		require.NoError(t, err)

		childHead, err := child.Head()
		require.NoError(t, err)

		err = ds.AddSubdataset("builder", "", "register builder")
		require.NoError(t, err)

		tree := headTree(t, ds)

		entry, err := tree.FindEntry("builder")
		require.NoError(t, err)

		assert.Equal(t, filemode.Submodule, entry.Mode)
		assert.Equal(t, childHead, entry.Hash)

		// the child worktree must not leak into the parent tree
		_, err = tree.FindEntry("builder/.debfab/dataset.json")
		require.Error(t, err)

		_, err = tree.FindEntry(".gitmodules")
		require.NoError(t, err)
	})

	t.Run("rejects registering the same path twice", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dist")

		ds, err := Init(dir, Descriptor{Kind: KindDistribution})
		require.NoError(t, err)

		_, err = Init(filepath.Join(dir, "builder"), Descriptor{Kind: KindBuilder})
		require.NoError(t, err)

		require.NoError(t, ds.AddSubdataset("builder", "", "register builder"))

		err = ds.AddSubdataset("builder", "", "register builder again")
		require.Error(t, err)
	})

	t.Run("rejects a path that is not a dataset", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dist")

		ds, err := Init(dir, Descriptor{Kind: KindDistribution})
		require.NoError(t, err)

		require.NoError(t, os.MkdirAll(filepath.Join(dir, "junk"), 0755))

		err = ds.AddSubdataset("junk", "", "register junk")
		require.Error(t, err)
	})

	t.Run("gitlink follows the child head across saves", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "dist")

		ds, err := Init(dir, Descriptor{Kind: KindDistribution})
		require.NoError(t, err)

		child, err := Init(filepath.Join(dir, "packages", "hello"),
			Descriptor{Kind: KindPackage, Name: "hello"})
		require.NoError(t, err)

		require.NoError(t, ds.AddSubdataset("packages/hello", "", "register hello"))

		writeFile(t, child.Path(), "source/debian/changelog", "hello (1.0-1) unstable\n")
		require.NoError(t, child.SaveAll("import source"))

		newHead, err := child.Head()
		require.NoError(t, err)

		require.NoError(t, ds.SaveAll("bump hello"))

		sub, err := ds.SubdatasetAt("packages/hello")
		require.NoError(t, err)
		require.NotNil(t, sub)

		assert.Equal(t, newHead, sub.Hash)
	})
}

func TestCloneSubdataset(t *testing.T) {
	origin := filepath.Join(t.TempDir(), "origin")

	src, err := Init(origin, Descriptor{Kind: KindDistribution, Name: "trixie"})
	require.NoError(t, err)

	srcHead, err := src.Head()
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "archive")

	ds, err := Init(dir, Descriptor{Kind: KindArchive, Name: "apt"})
	require.NoError(t, err)

	err = ds.CloneSubdataset(origin, "distributions/trixie", "add trixie")
	require.NoError(t, err)

	sub, err := ds.SubdatasetAt("distributions/trixie")
	require.NoError(t, err)
	require.NotNil(t, sub)

	assert.Equal(t, origin, sub.URL)
	assert.Equal(t, srcHead, sub.Hash)

	clone, err := Open(filepath.Join(dir, "distributions", "trixie"))
	require.NoError(t, err)

	assert.Equal(t, "trixie", clone.Descriptor().Name)
}

func TestEnsureRepo(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "dist")

	ds, err := Init(parent, Descriptor{Kind: KindDistribution, Name: "bookworm"})
	require.NoError(t, err)

	child, err := Init(filepath.Join(parent, "packages", "hello"),
		Descriptor{Kind: KindPackage, Name: "hello"})
	require.NoError(t, err)

	childHead, err := child.Head()
	require.NoError(t, err)

	require.NoError(t, ds.AddSubdataset("packages/hello", "", "register hello"))

	t.Run("opens a present worktree", func(t *testing.T) {
		repo, err := EnsureRepo(parent, "packages/hello")
		require.NoError(t, err)

		head, err := repo.Head()
		require.NoError(t, err)

		assert.Equal(t, childHead, head.Hash())
	})

	t.Run("materializes a missing worktree from the registration", func(t *testing.T) {
		mirror := filepath.Join(t.TempDir(), "mirror")

		_, err := git.PlainClone(mirror, false, &git.CloneOptions{URL: parent})
		require.NoError(t, err)

		// the clone has the gitlink but not the child worktree
		_, err = git.PlainOpen(filepath.Join(mirror, "packages", "hello"))
		require.Error(t, err)

		repo, err := EnsureRepo(mirror, "packages/hello")
		require.NoError(t, err)

		head, err := repo.Head()
		require.NoError(t, err)

		assert.Equal(t, childHead, head.Hash())
	})

	t.Run("rejects an unregistered path", func(t *testing.T) {
		_, err := EnsureRepo(parent, "packages/nope")
		require.Error(t, err)
	})
}
