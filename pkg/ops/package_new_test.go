package ops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"debfab.dev/debfab/pkg/dataset"
)

func TestPackageNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookworm")

	ds := newTestDistribution(t, path, "bookworm")

	op := &PackageNew{Maintainer: "Test <test@example.com>"}

	t.Run("scaffolds and registers the package", func(t *testing.T) {
		pds, err := op.Create(context.Background(), path, "hello")
		require.NoError(t, err)

		assert.Equal(t, dataset.KindPackage, pds.Descriptor().Kind)
		assert.Equal(t, "hello", pds.Descriptor().Name)

		assert.FileExists(t, filepath.Join(path, PackagesDir, "hello", "source", ".gitkeep"))

		head, err := pds.Head()
		require.NoError(t, err)

		sub, err := ds.SubdatasetAt("packages/hello")
		require.NoError(t, err)
		require.NotNil(t, sub)

		assert.Equal(t, head, sub.Hash)
	})

	t.Run("rejects a second package of the same name", func(t *testing.T) {
		_, err := op.Create(context.Background(), path, "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("rejects invalid source package names", func(t *testing.T) {
		for _, name := range []string{"", "x", "Hello", "hello world", "-dash"} {
			_, err := op.Create(context.Background(), path, name)
			require.Error(t, err, "name %q", name)
		}
	})

	t.Run("requires a distribution dataset", func(t *testing.T) {
		_, err := op.Create(context.Background(), t.TempDir(), "hello")
		require.Error(t, err)
	})
}
