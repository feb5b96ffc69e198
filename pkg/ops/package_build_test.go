package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"debfab.dev/debfab/pkg/dataset"
)

func TestPackageBuild(t *testing.T) {
	t.Run("runs the builder and collects artifacts", func(t *testing.T) {
		tools := toolDir(t)
		fakeTool(t, tools, "dpkg-source", "exit 0")
		fakeTool(t, tools, "dpkg-buildpackage",
			"touch ../hello_1.0-1_amd64.changes\ntouch ../hello_1.0-1.dsc")

		path := filepath.Join(t.TempDir(), "bookworm")
		newTestDistribution(t, path, "bookworm")

		newPkg := &PackageNew{Maintainer: "Test <test@example.com>"}

		pds, err := newPkg.Create(context.Background(), path, "hello")
		require.NoError(t, err)

		changelog := filepath.Join(pds.Path(), "source", "debian", "changelog")
		require.NoError(t, os.MkdirAll(filepath.Dir(changelog), 0755))
		require.NoError(t, os.WriteFile(changelog,
			[]byte("hello (1.0-1) unstable; urgency=medium\n"), 0644))
		require.NoError(t, pds.SaveAll("import source"))

		boot := &BuilderBootstrap{}
		require.NoError(t, boot.Bootstrap(context.Background(), path))

		op := &PackageBuild{Maintainer: "Test <test@example.com>"}

		artifacts, err := op.Build(context.Background(), path, "hello")
		require.NoError(t, err)

		require.Equal(t, 2, len(artifacts))

		names := []string{
			filepath.Base(artifacts[0].Path),
			filepath.Base(artifacts[1].Path),
		}

		assert.Contains(t, names, "hello_1.0-1_amd64.changes")
		assert.Contains(t, names, "hello_1.0-1.dsc")

		// the build is a recorded run in the package history
		head, err := pds.Head()
		require.NoError(t, err)

		commit, err := pds.Repo().CommitObject(head)
		require.NoError(t, err)

		rec, err := dataset.ParseRunMessage(commit.Message)
		require.NoError(t, err)
		require.NotNil(t, rec)

		assert.Equal(t, "build-package hello [amd64]", rec.Action)
		assert.NotEmpty(t, rec.InputSum)
	})

	t.Run("finds artifacts next to an unpacked source tree", func(t *testing.T) {
		tools := toolDir(t)
		fakeTool(t, tools, "dpkg-buildpackage",
			"touch ../hello_1.0-1_amd64.changes\ntouch ../hello_1.0-1.dsc")

		path := filepath.Join(t.TempDir(), "bookworm")
		newTestDistribution(t, path, "bookworm")

		newPkg := &PackageNew{}

		pds, err := newPkg.Create(context.Background(), path, "hello")
		require.NoError(t, err)

		// the layout dpkg-source -x leaves behind: the tree sits below
		// source/, so the artifacts land in source/ itself
		changelog := filepath.Join(pds.Path(), "source", "hello-1.0", "debian", "changelog")
		require.NoError(t, os.MkdirAll(filepath.Dir(changelog), 0755))
		require.NoError(t, os.WriteFile(changelog,
			[]byte("hello (1.0-1) unstable; urgency=medium\n"), 0644))
		require.NoError(t, pds.SaveAll("import source"))

		boot := &BuilderBootstrap{}
		require.NoError(t, boot.Bootstrap(context.Background(), path))

		op := &PackageBuild{}

		artifacts, err := op.Build(context.Background(), path, "hello")
		require.NoError(t, err)

		require.Equal(t, 2, len(artifacts))

		for _, art := range artifacts {
			assert.Equal(t, filepath.Join(pds.Path(), "source"), filepath.Dir(art.Path))
		}
	})

	t.Run("refuses to build before bootstrap", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bookworm")
		newTestDistribution(t, path, "bookworm")

		newPkg := &PackageNew{}

		pds, err := newPkg.Create(context.Background(), path, "hello")
		require.NoError(t, err)

		changelog := filepath.Join(pds.Path(), "source", "debian", "changelog")
		require.NoError(t, os.MkdirAll(filepath.Dir(changelog), 0755))
		require.NoError(t, os.WriteFile(changelog, []byte("hello (1.0-1)\n"), 0644))
		require.NoError(t, pds.SaveAll("import source"))

		op := &PackageBuild{}

		_, err = op.Build(context.Background(), path, "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not bootstrapped")
	})

	t.Run("needs a debian source tree", func(t *testing.T) {
		tools := toolDir(t)
		fakeTool(t, tools, "dpkg-source", "exit 0")
		fakeTool(t, tools, "dpkg-buildpackage", "exit 0")

		path := filepath.Join(t.TempDir(), "bookworm")
		newTestDistribution(t, path, "bookworm")

		newPkg := &PackageNew{}

		_, err := newPkg.Create(context.Background(), path, "hello")
		require.NoError(t, err)

		op := &PackageBuild{}

		_, err = op.Build(context.Background(), path, "hello")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no debian source tree")
	})
}

func TestUpstreamVersion(t *testing.T) {
	cases := map[string]string{
		"1.0-1":        "1.0",
		"2:1.0-1":      "1.0",
		"1.0":          "1.0",
		"1.0-1+deb12u": "1.0",
		"2:4.1.2":      "4.1.2",
	}

	for in, want := range cases {
		assert.Equal(t, want, upstreamVersion(in), "version %s", in)
	}
}
