package ops

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"debfab.dev/debfab/pkg/builder"
	"debfab.dev/debfab/pkg/dataset"
)

func TestBuilderBootstrap(t *testing.T) {
	t.Run("host builders stamp after a tool check", func(t *testing.T) {
		tools := toolDir(t)
		fakeTool(t, tools, "dpkg-buildpackage", "exit 0")
		fakeTool(t, tools, "dpkg-source", "exit 0")

		path := filepath.Join(t.TempDir(), "bookworm")
		newTestDistribution(t, path, "bookworm")

		op := &BuilderBootstrap{Maintainer: "Test <test@example.com>"}

		require.NoError(t, op.Bootstrap(context.Background(), path))

		builderPath := filepath.Join(path, BuilderDir)

		stamp, err := builder.LoadStamp(builderPath, "amd64")
		require.NoError(t, err)
		require.NotNil(t, stamp)

		assert.Equal(t, "host", stamp.Method)
		assert.Equal(t, "bookworm", stamp.Suite)

		// the stamp commit carries a run record
		bds, err := dataset.Require(builderPath, dataset.KindBuilder)
		require.NoError(t, err)

		head, err := bds.Head()
		require.NoError(t, err)

		commit, err := bds.Repo().CommitObject(head)
		require.NoError(t, err)

		rec, err := dataset.ParseRunMessage(commit.Message)
		require.NoError(t, err)
		require.NotNil(t, rec)

		assert.Equal(t, "bootstrap-builder", rec.Action)
	})

	t.Run("fails when a required tool is missing", func(t *testing.T) {
		t.Setenv("PATH", t.TempDir())

		path := filepath.Join(t.TempDir(), "bookworm")
		newTestDistribution(t, path, "bookworm")

		op := &BuilderBootstrap{}

		err := op.Bootstrap(context.Background(), path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found on PATH")
	})
}
