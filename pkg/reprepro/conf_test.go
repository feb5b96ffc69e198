package reprepro

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func archiveRoot(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, ConfDir), 0755))

	return base
}

func TestDistributionStanza(t *testing.T) {
	dist := Distribution{
		Codename:      "bookworm",
		Suite:         "stable",
		Origin:        "apt.example.com",
		Architectures: []string{"source", "amd64", "arm64"},
		Components:    []string{"main"},
		SignWith:      "ABCDEF0123456789",
	}

	t.Run("round trips through render and parse", func(t *testing.T) {
		var buf bytes.Buffer

		require.NoError(t, RenderDistributions(&buf, []Distribution{dist}))

		back, err := ParseDistributions(&buf)
		require.NoError(t, err)

		require.Equal(t, 1, len(back))
		assert.Equal(t, dist, back[0])
	})

	t.Run("omits empty fields", func(t *testing.T) {
		out := dist.Paragraph().String()

		assert.NotContains(t, out, "Label:")
		assert.NotContains(t, out, "Description:")
		assert.Contains(t, out, "Architectures: source amd64 arm64\n")
	})

	t.Run("validation catches incomplete stanzas", func(t *testing.T) {
		bad := dist
		bad.Codename = ""
		require.Error(t, bad.Validate())

		bad = dist
		bad.Architectures = nil
		require.Error(t, bad.Validate())

		bad = dist
		bad.Components = nil
		require.Error(t, bad.Validate())
	})
}

func TestAddDistribution(t *testing.T) {
	dist := Distribution{
		Codename:      "bookworm",
		Architectures: []string{"source", "amd64"},
		Components:    []string{"main"},
	}

	t.Run("appends stanzas to the configuration", func(t *testing.T) {
		base := archiveRoot(t)

		require.NoError(t, AddDistribution(base, dist))

		second := dist
		second.Codename = "trixie"
		require.NoError(t, AddDistribution(base, second))

		dists, err := LoadDistributions(base)
		require.NoError(t, err)

		require.Equal(t, 2, len(dists))
		assert.Equal(t, "bookworm", dists[0].Codename)
		assert.Equal(t, "trixie", dists[1].Codename)
	})

	t.Run("rejects a duplicate codename", func(t *testing.T) {
		base := archiveRoot(t)

		require.NoError(t, AddDistribution(base, dist))

		err := AddDistribution(base, dist)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already configured")
	})

	t.Run("an absent file is an empty archive", func(t *testing.T) {
		dists, err := LoadDistributions(archiveRoot(t))
		require.NoError(t, err)

		assert.Nil(t, dists)
	})
}

func TestWriteOptions(t *testing.T) {
	base := archiveRoot(t)

	require.NoError(t, WriteOptions(base))

	data, err := os.ReadFile(filepath.Join(base, ConfDir, "options"))
	require.NoError(t, err)

	assert.Equal(t, "outdir +b/www\ndbdir +b/db\nverbose\n", string(data))
}

func TestInvoker(t *testing.T) {
	inv := &Invoker{BaseDir: "."}

	assert.Equal(t,
		[]string{"reprepro", "--basedir", ".", "include", "bookworm", "up.changes"},
		inv.Include("bookworm", "up.changes"))

	assert.Equal(t,
		[]string{"reprepro", "--basedir", ".", "includedsc", "bookworm", "src.dsc"},
		inv.IncludeDsc("bookworm", "src.dsc"))

	assert.Equal(t,
		[]string{"reprepro", "--basedir", ".", "includedeb", "bookworm", "bin.deb"},
		inv.IncludeDeb("bookworm", "bin.deb"))

	empty := &Invoker{}
	cmd := empty.Export()

	assert.True(t, strings.HasPrefix(strings.Join(cmd, " "), "reprepro --basedir . "))
}
