package ops

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/stretchr/testify/require"
	"debfab.dev/debfab/pkg/builder"
	"debfab.dev/debfab/pkg/dataset"
)

// fakeTool drops an executable shell script on a PATH prepended for the
// test, standing in for external binaries like reprepro or
// dpkg-buildpackage.
func fakeTool(t *testing.T, dir, name, script string) {
	t.Helper()

	body := "#!/bin/sh\n" + script + "\n"

	err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0755)
	require.NoError(t, err)
}

func toolDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	return dir
}

func hostSpec() *builder.Spec {
	return &builder.Spec{
		Type:          builder.TypeHost,
		Suite:         "bookworm",
		Architectures: []string{"amd64"},
		Components:    []string{"main"},
	}
}

func newTestDistribution(t *testing.T, path, codename string) *dataset.Dataset {
	t.Helper()

	op := &DistributionNew{Maintainer: "Test <test@example.com>", Spec: hostSpec()}

	ds, err := op.Create(context.Background(), path, codename)
	require.NoError(t, err)

	return ds
}

// writeTestDeb fabricates a minimal binary package: an ar archive with a
// gzip compressed control member.
func writeTestDeb(t *testing.T, path, pkg, version, arch string) {
	t.Helper()

	control := "Package: " + pkg + "\nVersion: " + version +
		"\nArchitecture: " + arch + "\nDescription: test package\n"

	var tarBuf bytes.Buffer

	tw := tar.NewWriter(&tarBuf)

	err := tw.WriteHeader(&tar.Header{
		Name:    "./control",
		Mode:    0644,
		Size:    int64(len(control)),
		ModTime: time.Now(),
	})
	require.NoError(t, err)

	_, err = tw.Write([]byte(control))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer

	zw := gzip.NewWriter(&gzBuf)
	_, err = zw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f, err := os.Create(path)
	require.NoError(t, err)

	defer f.Close()

	arW := ar.NewWriter(f)
	require.NoError(t, arW.WriteGlobalHeader())

	members := []struct {
		name string
		body []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar.gz", gzBuf.Bytes()},
		{"data.tar.gz", gzBuf.Bytes()},
	}

	for _, m := range members {
		err = arW.WriteHeader(&ar.Header{
			Name:    m.name,
			Mode:    0644,
			Size:    int64(len(m.body)),
			ModTime: time.Now(),
		})
		require.NoError(t, err)

		_, err = arW.Write(m.body)
		require.NoError(t, err)
	}
}
